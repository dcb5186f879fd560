// Package registry owns the in-memory mapping from meeting id to room state:
// the ordered participant roster plus the connections subscribed to the
// room's broadcasts. It is the relay's only shared mutable state.
package registry

import (
	"sync"

	"github.com/NickCoder1309/nexMeet-chat/internal/models"
)

// Subscriber receives room broadcasts. Deliver must not block; returning
// false means the subscriber could not accept the payload and is dropped
// from the room.
type Subscriber interface {
	ConnID() string
	Deliver(payload []byte) bool
}

type room struct {
	participants []models.Participant
	subs         map[string]Subscriber // keyed by connection id
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Upsert adds or refreshes the participant entry for p.UserID in meetID and
// subscribes sub to the room's broadcasts, creating the room if needed. A
// later join for the same user id overwrites the earlier entry in place, so
// the roster never holds two entries for one user; the superseded connection
// stays subscribed until it disconnects on its own. Returns a copy of the
// updated roster.
func (r *Registry) Upsert(meetID string, p models.Participant, sub Subscriber) []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[meetID]
	if rm == nil {
		rm = &room{subs: make(map[string]Subscriber)}
		r.rooms[meetID] = rm
	}

	replaced := false
	for i := range rm.participants {
		if rm.participants[i].UserID == p.UserID {
			rm.participants[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		rm.participants = append(rm.participants, p)
	}
	if sub != nil {
		rm.subs[sub.ConnID()] = sub
	}

	return snapshotLocked(rm)
}

// Leave unsubscribes connID from meetID and removes the participant entry
// that this connection owns. A superseded connection (its user rejoined from
// elsewhere) only unsubscribes; the fresh entry survives. The room is
// deleted once its roster is empty. Returns the removed participant, a copy
// of the remaining roster, and whether an entry was actually removed.
func (r *Registry) Leave(meetID, connID string) (*models.Participant, []models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[meetID]
	if rm == nil {
		return nil, nil, false
	}

	delete(rm.subs, connID)

	for i := range rm.participants {
		if rm.participants[i].SocketID != connID {
			continue
		}
		removed := rm.participants[i]
		rm.participants = append(rm.participants[:i], rm.participants[i+1:]...)
		if len(rm.participants) == 0 {
			delete(r.rooms, meetID)
			return &removed, nil, true
		}
		return &removed, snapshotLocked(rm), true
	}

	if len(rm.participants) == 0 && len(rm.subs) == 0 {
		delete(r.rooms, meetID)
	}
	return nil, snapshotLocked(rm), false
}

// Snapshot returns a copy of the current roster, nil for an unknown room.
func (r *Registry) Snapshot(meetID string) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm := r.rooms[meetID]
	if rm == nil {
		return nil
	}
	return snapshotLocked(rm)
}

func (r *Registry) Occupancy(meetID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm := r.rooms[meetID]
	if rm == nil {
		return 0
	}
	return len(rm.participants)
}

// Contains reports whether userID already has a roster entry in meetID.
func (r *Registry) Contains(meetID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm := r.rooms[meetID]
	if rm == nil {
		return false
	}
	for i := range rm.participants {
		if rm.participants[i].UserID == userID {
			return true
		}
	}
	return false
}

// Broadcast fans payload out to every subscriber of meetID. The registry
// lock is held across the fan-out, so broadcasts on one room are delivered
// in a single total order. Subscribers that cannot accept the payload are
// dropped from the room.
func (r *Registry) Broadcast(meetID string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[meetID]
	if rm == nil {
		return
	}
	for connID, sub := range rm.subs {
		if !sub.Deliver(payload) {
			delete(rm.subs, connID)
		}
	}
}

// Rooms reports the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func snapshotLocked(rm *room) []models.Participant {
	out := make([]models.Participant, len(rm.participants))
	copy(out, rm.participants)
	return out
}
