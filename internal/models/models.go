package models

// Participant is one user's membership record inside a meeting. The profile
// fields are owned by the backend and passed through untouched; only userId
// and socketId are ever written by the relay.
type Participant struct {
	UserID    string  `json:"userId"`
	SocketID  string  `json:"socketId"`
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Age       *int    `json:"age,omitempty"`
	PhotoURL  *string `json:"photoUrl,omitempty"`
	CreatedAt *string `json:"createdAt,omitempty"`
	UpdatedAt *string `json:"updatedAt,omitempty"`
}

// Meeting is the backend's view of a meeting room.
type Meeting struct {
	MeetID string        `json:"meetId"`
	Name   string        `json:"name,omitempty"`
	Users  []Participant `json:"users"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
