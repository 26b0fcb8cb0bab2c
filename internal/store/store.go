package store

import (
	"errors"

	"github.com/jcallahan/palaver/internal/chat"
)

// DefaultHistoryLimit is the number of recent messages returned when a
// caller does not specify a limit.
const DefaultHistoryLimit = 50

// ErrDuplicateUsername is returned when creating a user whose username
// is already taken (case-sensitive exact match).
var ErrDuplicateUsername = errors.New("username already taken")

// Store is the identity and message persistence contract. Every
// operation is atomic with respect to the others; implementations must
// be safe for concurrent use.
type Store interface {
	// CreateUser persists a new identity. The online flag starts false;
	// the join flow flips it. Fails with ErrDuplicateUsername.
	CreateUser(username, avatarColor string) (*chat.User, error)

	// GetUser returns the user with the given ID, or false if absent.
	GetUser(id string) (*chat.User, bool)

	// GetUserByUsername returns the user with the exact username, or
	// false if absent.
	GetUserByUsername(username string) (*chat.User, bool)

	// SetOnlineStatus updates the online flag and last-seen timestamp.
	// A miss is a no-op, not an error.
	SetOnlineStatus(id string, online bool)

	// OnlineUsers returns all users currently flagged online. Order is
	// unspecified.
	OnlineUsers() []*chat.User

	// CreateMessage persists a message with the given sender snapshot.
	CreateMessage(content, userID, username, avatarColor string) *chat.Message

	// RecentMessages returns up to limit messages in ascending creation
	// order, keeping the newest. A limit <= 0 means DefaultHistoryLimit.
	RecentMessages(limit int) []*chat.Message

	// DeleteLastMessage removes and returns the message with the latest
	// creation time across the whole store, or false if the store is
	// empty. Ties on creation time are broken arbitrarily.
	DeleteLastMessage() (*chat.Message, bool)

	// ClearMessages removes all stored messages.
	ClearMessages()
}
