// Package wire defines the JSON frames and payloads exchanged over the
// persistent monitoring connection.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Inbound event names.
const (
	EventConnect                 = "connect"
	EventOnlineCheck             = "onlineCheck"
	EventMessages                = "messages"
	EventUserLocation            = "user_location"
	EventNotificationDeleted     = "notification_deleted"
	EventAllNotificationsDeleted = "all_notifications_deleted"
	EventDisconnect              = "disconnect"
)

// Outbound event names.
const (
	EventDeleteNotification     = "delete_notification"
	EventDeleteAllNotifications = "delete_all_notifications"
	EventEmployeeLoggedOut      = "employee_logged_out"
)

// Disconnect reasons that mean the session was ended on purpose, as opposed
// to a network-layer drop.
const (
	ReasonServerClose = "io server disconnect"
	ReasonClientClose = "io client disconnect"
)

// DeliberateClose reports whether a disconnect reason indicates an
// intentional session termination rather than a transient network failure.
func DeliberateClose(reason string) bool {
	return reason == ReasonServerClose || reason == ReasonClientClose
}

// Frame is one named event on the wire.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame encodes payload and wraps it in a Frame.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Payload: data}, nil
}

// Hello is the first frame the client sends after the websocket opens,
// carrying auxiliary auth metadata. The session token itself travels as a
// credential header during the handshake, never in the message body.
type Hello struct {
	PushToken string `json:"push_token,omitempty"`
}

// Member is one entry of a presence snapshot.
type Member struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Department  string `json:"department"`
	Role        string `json:"role"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Notification is one manager-directed message pushed by the server.
type Notification struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

// Location is a position report. Timestamp is either an integer epoch in
// milliseconds or a date string, depending on which side produced it, so it
// is carried as-is and interpreted at the point of use.
type Location struct {
	Latitude  Float64 `json:"latitude"`
	Longitude Float64 `json:"longitude"`
	Address   string  `json:"address"`
	Timestamp any     `json:"timestamp"`
}

// WorkerLocation is the inbound per-worker position event.
type WorkerLocation struct {
	User     string   `json:"user"`
	Location Location `json:"location"`
}

// DeleteNotificationRequest asks the server to remove one notification.
type DeleteNotificationRequest struct {
	NotificationID string `json:"notificationId"`
}

// Float64 is a float that also accepts quoted numeric strings, which some
// device clients emit for coordinates.
type Float64 float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float64) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse coordinate %q: %w", s, err)
		}
		*f = Float64(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float64(v)
	return nil
}
