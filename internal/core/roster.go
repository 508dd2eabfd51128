package core

import (
	"slices"
	"sync"
)

// Registration pairs a user with the connection currently representing it.
type Registration struct {
	UserID string `json:"userId"`
	ConnID string `json:"socketId"`
}

// Roster maps connected users to their connection. A user has at most one registration,
// and a connection represents at most one user.
type Roster struct {
	mu      sync.RWMutex
	entries []Registration
}

func NewRoster() *Roster {
	return &Roster{}
}

// Register replaces any existing registration for userID with (userID, connID). A different
// user previously registered on connID is displaced and returned so the caller can mark it offline.
func (r *Roster) Register(userID, connID string) (displaced string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = slices.DeleteFunc(r.entries, func(e Registration) bool {
		if e.ConnID == connID && e.UserID != userID {
			displaced, ok = e.UserID, true
			return true
		}
		return e.UserID == userID
	})
	r.entries = append(r.entries, Registration{UserID: userID, ConnID: connID})
	return displaced, ok
}

// Unregister removes the registration held by connID and returns its user.
// A connection that was already replaced by a newer one for the same user is not found.
func (r *Roster) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.ConnID == connID {
			r.entries = slices.Delete(r.entries, i, i+1)
			return e.UserID, true
		}
	}
	return "", false
}

func (r *Roster) Find(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.UserID == userID {
			return e.ConnID, true
		}
	}
	return "", false
}

// UserFor returns the user registered on connID.
func (r *Roster) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.ConnID == connID {
			return e.UserID, true
		}
	}
	return "", false
}

// List returns a copy of the registrations in registration order.
func (r *Roster) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
