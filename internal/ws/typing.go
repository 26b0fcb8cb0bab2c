package ws

import (
	"sort"
	"sync"
)

// TypingUser is one entry in a typing snapshot.
type TypingUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// TypingSet tracks which users are currently composing a message. It is
// live-only state, independent of message storage, and entries must be
// cleared when the owning connection disconnects.
type TypingSet struct {
	mu    sync.Mutex
	users map[string]TypingUser
}

// NewTypingSet creates an empty typing set.
func NewTypingSet() *TypingSet {
	return &TypingSet{users: make(map[string]TypingUser)}
}

// Set marks the user as typing and returns the resulting snapshot.
// Setting an already-typing user changes nothing.
func (t *TypingSet) Set(userID, username string) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[userID] = TypingUser{UserID: userID, Username: username, IsTyping: true}
	return t.snapshotLocked()
}

// Clear removes the user's typing flag and returns the resulting
// snapshot. Clearing a non-typing user is a no-op.
func (t *TypingSet) Clear(userID string) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
	return t.snapshotLocked()
}

// Snapshot returns the current set of typing users.
func (t *TypingSet) Snapshot() []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// snapshotLocked sorts by username so consumers see a stable order.
func (t *TypingSet) snapshotLocked() []TypingUser {
	result := make([]TypingUser, 0, len(t.users))
	for _, u := range t.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}
