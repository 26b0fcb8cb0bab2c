package ws

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/jcallahan/palaver/internal/chat"
	"github.com/jcallahan/palaver/internal/store"
)

// ErrUnauthenticated is returned for actions that require a bound
// session on a connection that never joined.
var ErrUnauthenticated = errors.New("not authenticated")

// Hub is the broadcast coordinator. It owns the session registry, the
// typing set, and the set of live connections, and it is the only
// component that mutates shared chat state in response to connection
// events. Fan-out iterates a snapshot of the client set taken under the
// hub lock, so a racing join or leave can land on either side of a
// broadcast but never panics or hits a freed connection.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}

	registry *Registry
	typing   *TypingSet
	conns    *ConnManager
	store    store.Store
	history  int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHistoryLimit sets how many recent messages new joiners receive.
func WithHistoryLimit(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.history = n
		}
	}
}

// WithConnManager substitutes a configured connection manager.
func WithConnManager(cm *ConnManager) HubOption {
	return func(h *Hub) {
		h.conns = cm
	}
}

// NewHub creates a Hub over the given store.
func NewHub(st store.Store, opts ...HubOption) *Hub {
	h := &Hub{
		clients:  make(map[*Client]struct{}),
		registry: NewRegistry(),
		typing:   NewTypingSet(),
		store:    st,
		history:  store.DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.conns == nil {
		h.conns = NewConnManager()
	}
	return h
}

// ConnMgr returns the hub's connection manager.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// OnlineUsers is the presence projection: the store's view of who is
// online, recomputed on every call.
func (h *Hub) OnlineUsers() []*chat.User {
	return h.store.OnlineUsers()
}

// AddClient registers a connection with the hub and its connection
// manager. The returned context is cancelled when the connection is
// torn down.
func (h *Hub) AddClient(c *Client) context.Context {
	ctx := h.conns.Add(c)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	return ctx
}

// Join binds the connection to a user identity and announces it. The
// avatar color snapshot is taken from the store record at bind time;
// messages sent on this connection carry that snapshot even if the
// record changes later. Rejoining on an already-bound connection
// overwrites the binding. The joining connection receives the presence
// snapshot and message history only after its own join has been
// applied, so it always sees itself online.
func (h *Hub) Join(c *Client, userID, username string) {
	avatarColor := chat.DefaultAvatarColor
	user, ok := h.store.GetUser(userID)
	if ok {
		avatarColor = user.AvatarColor
	}

	h.store.SetOnlineStatus(userID, true)
	h.registry.Bind(c.id, userID, username, avatarColor)

	// Re-read so the announced record carries the online flag.
	joined, ok := h.store.GetUser(userID)
	if !ok {
		// Identity was never registered over HTTP; announce what the
		// join frame claimed.
		joined = &chat.User{ID: userID, Username: username, AvatarColor: avatarColor, IsOnline: true}
	}

	if data, err := marshalUserJoined(joined); err == nil {
		h.broadcast(data, c)
	} else {
		log.Printf("ws: failed to marshal user_joined: %v", err)
	}

	if data, err := marshalOnlineUsers(h.store.OnlineUsers()); err == nil {
		h.conns.Send(c, data)
	} else {
		log.Printf("ws: failed to marshal online_users: %v", err)
	}
	if data, err := marshalMessageHistory(h.store.RecentMessages(h.history)); err == nil {
		h.conns.Send(c, data)
	} else {
		log.Printf("ws: failed to marshal message_history: %v", err)
	}
}

// SendMessage validates and persists a message from the connection,
// then broadcasts it to every connection including the sender, who
// needs the authoritative stored copy with its ID and timestamp.
// Returns ErrUnauthenticated for unbound connections and a validation
// error for bad content; neither produces a broadcast.
func (h *Hub) SendMessage(c *Client, content string) (*chat.Message, error) {
	sess, ok := h.registry.Get(c.id)
	if !ok {
		return nil, ErrUnauthenticated
	}

	trimmed, err := chat.ValidateContent(content)
	if err != nil {
		return nil, err
	}

	msg := h.store.CreateMessage(trimmed, sess.UserID, sess.Username, sess.AvatarColor)

	if data, err := marshalNewMessage(msg); err == nil {
		h.broadcast(data, nil)
	} else {
		log.Printf("ws: failed to marshal new_message: %v", err)
	}
	return msg, nil
}

// TypingStart flags the connection's user as typing and pushes the
// snapshot to every other connection. Unbound connections are ignored.
func (h *Hub) TypingStart(c *Client) {
	sess, ok := h.registry.Get(c.id)
	if !ok {
		return
	}
	snapshot := h.typing.Set(sess.UserID, sess.Username)
	h.broadcastTyping(snapshot, c)
}

// TypingStop clears the typing flag and pushes the snapshot to every
// other connection. Unbound connections are ignored.
func (h *Hub) TypingStop(c *Client) {
	sess, ok := h.registry.Get(c.id)
	if !ok {
		return
	}
	snapshot := h.typing.Clear(sess.UserID)
	h.broadcastTyping(snapshot, c)
}

// Disconnect tears down a connection: it leaves the fan-out set, its
// session (if any) is unbound, the user goes offline, any typing flag
// is cleared, and the remaining connections learn the user left. A
// connection that never joined disappears silently.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	h.conns.Remove(c)

	sess, ok := h.registry.Unbind(c.id)
	if !ok {
		return
	}

	h.store.SetOnlineStatus(sess.UserID, false)
	h.typing.Clear(sess.UserID)

	if data, err := marshalUserLeft(sess.UserID, sess.Username); err == nil {
		h.broadcast(data, nil)
	} else {
		log.Printf("ws: failed to marshal user_left: %v", err)
	}
}

// broadcastTyping sends a typing_update to every connection except the
// origin, which already knows its own state.
func (h *Hub) broadcastTyping(snapshot []TypingUser, exclude *Client) {
	data, err := marshalTypingUpdate(snapshot)
	if err != nil {
		log.Printf("ws: failed to marshal typing_update: %v", err)
		return
	}
	h.broadcast(data, exclude)
}

// broadcast queues data for every live connection except exclude. The
// target list is snapshotted under the hub lock; actual delivery goes
// through per-client buffers and never blocks on a slow peer.
func (h *Hub) broadcast(data []byte, exclude *Client) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.conns.Send(c, data)
	}
}

// ClientCount returns the number of connections in the fan-out set.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
