package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcallahan/palaver/internal/chat"
)

// MemoryStore keeps users and messages in process memory. All state is
// lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*chat.User
	messages map[string]*chat.Message

	// now is swapped out in tests to control creation timestamps.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*chat.User),
		messages: make(map[string]*chat.Message),
		now:      time.Now,
	}
}

// CreateUser persists a new identity, enforcing case-sensitive
// username uniqueness.
func (s *MemoryStore) CreateUser(username, avatarColor string) (*chat.User, error) {
	if avatarColor == "" {
		avatarColor = chat.DefaultAvatarColor
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrDuplicateUsername
		}
	}

	now := s.now()
	u := &chat.User{
		ID:          uuid.NewString(),
		Username:    username,
		AvatarColor: avatarColor,
		LastSeen:    now,
		CreatedAt:   now,
	}
	s.users[u.ID] = u
	return copyUser(u), nil
}

// GetUser returns the user with the given ID.
func (s *MemoryStore) GetUser(id string) (*chat.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	return copyUser(u), true
}

// GetUserByUsername returns the user with the exact username.
func (s *MemoryStore) GetUserByUsername(username string) (*chat.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), true
		}
	}
	return nil, false
}

// SetOnlineStatus flips the online flag and refreshes last-seen.
// Unknown IDs are ignored.
func (s *MemoryStore) SetOnlineStatus(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.IsOnline = online
		u.LastSeen = s.now()
	}
}

// OnlineUsers returns all users flagged online, in map order.
func (s *MemoryStore) OnlineUsers() []*chat.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*chat.User, 0)
	for _, u := range s.users {
		if u.IsOnline {
			result = append(result, copyUser(u))
		}
	}
	return result
}

// CreateMessage persists a message carrying the sender snapshot.
func (s *MemoryStore) CreateMessage(content, userID, username, avatarColor string) *chat.Message {
	if avatarColor == "" {
		avatarColor = chat.DefaultAvatarColor
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := &chat.Message{
		ID:          uuid.NewString(),
		Content:     content,
		UserID:      userID,
		Username:    username,
		AvatarColor: avatarColor,
		Timestamp:   now,
		CreatedAt:   now,
	}
	s.messages[m.ID] = m
	return copyMessage(m)
}

// RecentMessages returns the newest messages in ascending creation order.
func (s *MemoryStore) RecentMessages(limit int) []*chat.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*chat.Message, 0, len(s.messages))
	for _, m := range s.messages {
		all = append(all, copyMessage(m))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// DeleteLastMessage removes and returns the message with the latest
// creation time.
func (s *MemoryStore) DeleteLastMessage() (*chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *chat.Message
	for _, m := range s.messages {
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, false
	}
	delete(s.messages, last.ID)
	return copyMessage(last), true
}

// ClearMessages drops all stored messages.
func (s *MemoryStore) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]*chat.Message)
}

// Copies prevent callers from mutating store-owned records.

func copyUser(u *chat.User) *chat.User {
	c := *u
	return &c
}

func copyMessage(m *chat.Message) *chat.Message {
	c := *m
	return &c
}
