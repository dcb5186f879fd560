package session

import "sync"

// Session is the explicit per-connection record: identity, raw bearer token,
// and the meeting the connection is bound to. It exists for exactly the
// connection's lifetime. The event loop (readPump) is the only writer; the
// mutex covers reads from broadcast and teardown paths.
type Session struct {
	ConnID string
	Token  string

	mu     sync.RWMutex
	userID string
	email  string
	meetID string
	closed bool
}

func New(connID, token string) *Session {
	return &Session{ConnID: connID, Token: token}
}

// BindIdentity attaches the user identity, either decoded from the handshake
// token or supplied inline by the first join when auth is disabled.
func (s *Session) BindIdentity(userID, email string) {
	s.mu.Lock()
	s.userID = userID
	s.email = email
	s.mu.Unlock()
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

// BindMeet subscribes the session to a meeting. A session is bound to at
// most one meeting at a time; rebinding requires an explicit leave first.
func (s *Session) BindMeet(meetID string) {
	s.mu.Lock()
	s.meetID = meetID
	s.mu.Unlock()
}

func (s *Session) ClearMeet() {
	s.mu.Lock()
	s.meetID = ""
	s.mu.Unlock()
}

func (s *Session) MeetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meetID
}

// Close marks the session dead. Backend responses that arrive after Close
// must be dropped instead of binding or broadcasting (late-arrival guard).
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
