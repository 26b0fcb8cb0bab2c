package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/jcallahan/palaver/internal/chat"
	"github.com/jcallahan/palaver/internal/store"
)

// newChatServer starts the real handler over a fresh in-memory store.
func newChatServer(t *testing.T) (*store.MemoryStore, *Hub, *httptest.Server) {
	t.Helper()
	st := store.NewMemoryStore()
	hub := NewHub(st)
	ts := httptest.NewServer(NewHandler(hub))
	t.Cleanup(ts.Close)
	return st, hub, ts
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

// testFrame decodes any outbound frame. Message stays raw because
// new_message carries an object under "message" while error frames
// carry a string.
type testFrame struct {
	Type        string          `json:"type"`
	User        *chat.User      `json:"user"`
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	Users       []*chat.User    `json:"users"`
	Messages    []*chat.Message `json:"messages"`
	Message     json.RawMessage `json:"message"`
	TypingUsers []TypingUser    `json:"typingUsers"`
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f testFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return f
}

// expectNoFrame fails if anything arrives within the window.
func expectNoFrame(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	if _, data, err := conn.Read(ctx); err == nil {
		t.Fatalf("expected silence, got frame %q", data)
	}
}

// join registers a user in the store, performs the join handshake, and
// drains the online_users + message_history unicasts.
func join(t *testing.T, st *store.MemoryStore, conn *websocket.Conn, username, color string) *chat.User {
	t.Helper()
	u, err := st.CreateUser(username, color)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	sendFrame(t, conn, map[string]any{"type": "user_join", "userId": u.ID, "username": u.Username})

	f := readFrame(t, conn)
	if f.Type != "online_users" {
		t.Fatalf("expected online_users first, got %q", f.Type)
	}
	f = readFrame(t, conn)
	if f.Type != "message_history" {
		t.Fatalf("expected message_history second, got %q", f.Type)
	}
	return u
}

func TestJoinHandshake(t *testing.T) {
	st, _, ts := newChatServer(t)
	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	alice, err := st.CreateUser("alice", "primary")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sendFrame(t, conn, map[string]any{"type": "user_join", "userId": alice.ID, "username": "alice"})

	// The joiner must observe itself in the presence snapshot.
	f := readFrame(t, conn)
	if f.Type != "online_users" {
		t.Fatalf("expected online_users, got %q", f.Type)
	}
	if len(f.Users) != 1 || f.Users[0].Username != "alice" || !f.Users[0].IsOnline {
		t.Fatalf("expected [alice] online, got %+v", f.Users)
	}

	f = readFrame(t, conn)
	if f.Type != "message_history" {
		t.Fatalf("expected message_history, got %q", f.Type)
	}
	if len(f.Messages) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(f.Messages))
	}
}

func TestSecondJoinerSeesBoth(t *testing.T) {
	st, _, ts := newChatServer(t)

	connA := dialWS(t, ts.URL)
	defer connA.Close(websocket.StatusNormalClosure, "")
	join(t, st, connA, "alice", "primary")

	connB := dialWS(t, ts.URL)
	defer connB.Close(websocket.StatusNormalClosure, "")
	bob, err := st.CreateUser("bob", "green")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sendFrame(t, connB, map[string]any{"type": "user_join", "userId": bob.ID, "username": "bob"})

	// A is told about bob; B never sees its own user_joined.
	f := readFrame(t, connA)
	if f.Type != "user_joined" {
		t.Fatalf("expected user_joined on A, got %q", f.Type)
	}
	if f.User == nil || f.User.Username != "bob" {
		t.Fatalf("expected bob in user_joined, got %+v", f.User)
	}

	f = readFrame(t, connB)
	if f.Type != "online_users" {
		t.Fatalf("B's first frame should be online_users, got %q", f.Type)
	}
	if len(f.Users) != 2 {
		t.Fatalf("expected 2 online users, got %d", len(f.Users))
	}
	if f = readFrame(t, connB); f.Type != "message_history" {
		t.Fatalf("expected message_history, got %q", f.Type)
	}
}

func TestSendMessageReachesEveryoneIncludingSender(t *testing.T) {
	st, _, ts := newChatServer(t)

	connA := dialWS(t, ts.URL)
	defer connA.Close(websocket.StatusNormalClosure, "")
	alice := join(t, st, connA, "alice", "purple")

	connB := dialWS(t, ts.URL)
	defer connB.Close(websocket.StatusNormalClosure, "")
	join(t, st, connB, "bob", "green")
	readFrame(t, connA) // drain bob's user_joined on A

	sendFrame(t, connA, map[string]any{"type": "send_message", "content": "hi"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		f := readFrame(t, conn)
		if f.Type != "new_message" {
			t.Fatalf("expected new_message, got %q", f.Type)
		}
		var msg chat.Message
		if err := json.Unmarshal(f.Message, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Content != "hi" || msg.Username != "alice" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.UserID != alice.ID {
			t.Errorf("expected sender id %s, got %s", alice.ID, msg.UserID)
		}
		if msg.AvatarColor != "purple" {
			t.Errorf("expected bind-time avatar snapshot 'purple', got %q", msg.AvatarColor)
		}
		if msg.ID == "" || msg.CreatedAt.IsZero() {
			t.Error("expected stored copy with id and timestamp")
		}
	}
}

func TestSendMessageUnauthenticated(t *testing.T) {
	st, _, ts := newChatServer(t)

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendFrame(t, conn, map[string]any{"type": "send_message", "content": "sneaky"})

	f := readFrame(t, conn)
	if f.Type != "error" {
		t.Fatalf("expected error frame, got %q", f.Type)
	}
	var reason string
	if err := json.Unmarshal(f.Message, &reason); err != nil || reason != "Not authenticated" {
		t.Fatalf("expected 'Not authenticated', got %q (%v)", f.Message, err)
	}
	if got := len(st.RecentMessages(0)); got != 0 {
		t.Fatalf("no message should be stored, got %d", got)
	}
}

func TestSendMessageValidation(t *testing.T) {
	st, _, ts := newChatServer(t)

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")
	join(t, st, conn, "alice", "primary")

	sendFrame(t, conn, map[string]any{"type": "send_message", "content": "   "})
	if f := readFrame(t, conn); f.Type != "error" {
		t.Fatalf("expected error for blank content, got %q", f.Type)
	}

	sendFrame(t, conn, map[string]any{"type": "send_message", "content": strings.Repeat("x", 501)})
	if f := readFrame(t, conn); f.Type != "error" {
		t.Fatalf("expected error for oversized content, got %q", f.Type)
	}

	// Exactly 500 characters is accepted.
	sendFrame(t, conn, map[string]any{"type": "send_message", "content": strings.Repeat("x", 500)})
	if f := readFrame(t, conn); f.Type != "new_message" {
		t.Fatalf("expected new_message for 500-char content, got %q", f.Type)
	}
}

func TestTypingUpdatesExcludeOrigin(t *testing.T) {
	st, _, ts := newChatServer(t)

	connA := dialWS(t, ts.URL)
	defer connA.Close(websocket.StatusNormalClosure, "")
	join(t, st, connA, "alice", "primary")

	connB := dialWS(t, ts.URL)
	defer connB.Close(websocket.StatusNormalClosure, "")
	join(t, st, connB, "bob", "green")
	readFrame(t, connA) // drain bob's user_joined

	sendFrame(t, connA, map[string]any{"type": "typing_start"})
	f := readFrame(t, connB)
	if f.Type != "typing_update" {
		t.Fatalf("expected typing_update on B, got %q", f.Type)
	}
	if len(f.TypingUsers) != 1 || f.TypingUsers[0].Username != "alice" || !f.TypingUsers[0].IsTyping {
		t.Fatalf("expected [alice typing], got %+v", f.TypingUsers)
	}

	sendFrame(t, connA, map[string]any{"type": "typing_stop"})
	f = readFrame(t, connB)
	if f.Type != "typing_update" || len(f.TypingUsers) != 0 {
		t.Fatalf("expected empty typing_update, got %+v", f)
	}

	// The origin never hears about its own typing.
	expectNoFrame(t, connA, 300*time.Millisecond)
}

func TestTypingIgnoredWhenUnbound(t *testing.T) {
	st, _, ts := newChatServer(t)

	connA := dialWS(t, ts.URL)
	defer connA.Close(websocket.StatusNormalClosure, "")
	join(t, st, connA, "alice", "primary")

	connB := dialWS(t, ts.URL)
	defer connB.Close(websocket.StatusNormalClosure, "")
	sendFrame(t, connB, map[string]any{"type": "typing_start"})

	expectNoFrame(t, connA, 300*time.Millisecond)
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	st, _, ts := newChatServer(t)

	connA := dialWS(t, ts.URL)
	defer connA.Close(websocket.StatusNormalClosure, "")
	join(t, st, connA, "alice", "primary")

	connB := dialWS(t, ts.URL)
	bob := join(t, st, connB, "bob", "green")
	readFrame(t, connA) // drain bob's user_joined

	connB.Close(websocket.StatusNormalClosure, "")

	f := readFrame(t, connA)
	if f.Type != "user_left" {
		t.Fatalf("expected user_left, got %q", f.Type)
	}
	if f.UserID != bob.ID || f.Username != "bob" {
		t.Fatalf("unexpected user_left payload: %+v", f)
	}

	// Presence converges to alice alone.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		online := st.OnlineUsers()
		if len(online) == 1 && online[0].Username == "alice" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("presence never converged: %+v", st.OnlineUsers())
}

func TestDisconnectClearsTyping(t *testing.T) {
	st, hub, ts := newChatServer(t)

	connA := dialWS(t, ts.URL)
	defer connA.Close(websocket.StatusNormalClosure, "")
	join(t, st, connA, "alice", "primary")

	connB := dialWS(t, ts.URL)
	join(t, st, connB, "bob", "green")
	readFrame(t, connA) // user_joined

	sendFrame(t, connB, map[string]any{"type": "typing_start"})
	if f := readFrame(t, connA); f.Type != "typing_update" || len(f.TypingUsers) != 1 {
		t.Fatalf("expected bob typing, got %+v", f)
	}

	// Closing without typing_stop still clears the flag.
	connB.Close(websocket.StatusNormalClosure, "")
	if f := readFrame(t, connA); f.Type != "user_left" {
		t.Fatalf("expected user_left, got %q", f.Type)
	}
	if snap := hub.typing.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected typing set cleared on disconnect, got %+v", snap)
	}
}

func TestDisconnectWithoutJoinIsSilent(t *testing.T) {
	st, hub, ts := newChatServer(t)

	connA := dialWS(t, ts.URL)
	defer connA.Close(websocket.StatusNormalClosure, "")
	join(t, st, connA, "alice", "primary")

	connC := dialWS(t, ts.URL)
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	connC.Close(websocket.StatusNormalClosure, "")

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 remaining client, got %d", hub.ClientCount())
	}

	// No user_left or presence change ever reaches A.
	expectNoFrame(t, connA, 300*time.Millisecond)
}

func TestMalformedFrame(t *testing.T) {
	st, _, ts := newChatServer(t)

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != "error" {
		t.Fatalf("expected error frame, got %q", f.Type)
	}

	// The connection survives and can still join.
	join(t, st, conn, "alice", "primary")
}
