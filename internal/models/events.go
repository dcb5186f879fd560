package models

import "encoding/json"

// Socket event names. Inbound and outbound traffic shares one envelope shape:
// {"event": "<name>", "data": {...}}.
const (
	// inbound
	EventJoinMeet    = "joinMeet"
	EventSendMessage = "sendMessage"
	EventLeaveMeet   = "leaveMeet"

	// outbound
	EventUsersOnline = "usersOnline"
	EventNewMessage  = "newMessage"
	EventMeetFull    = "meetFull"
	EventError       = "socketServerError"
)

type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	MeetID string `json:"meetId"`
	UserID string `json:"userId,omitempty"`
}

type ChatPayload struct {
	MeetID    string `json:"meetId,omitempty"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// UsersOnlinePayload carries the full roster after a membership change plus
// the participant that caused it. Exactly one of Joining/Leaving is set; the
// other is null on the wire.
type UsersOnlinePayload struct {
	Users   []Participant `json:"users"`
	Joining *Participant  `json:"joining"`
	Leaving *Participant  `json:"leaving"`
}

// ErrorPayload is scoped to the requesting connection. Origin names the step
// that failed (a backend operation or the inbound event name).
type ErrorPayload struct {
	Origin  string `json:"origin"`
	Message string `json:"message"`
}
