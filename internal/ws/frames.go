package ws

import (
	"encoding/json"

	"github.com/jcallahan/palaver/internal/chat"
)

// Inbound frame types.
const (
	frameUserJoin    = "user_join"
	frameSendMessage = "send_message"
	frameTypingStart = "typing_start"
	frameTypingStop  = "typing_stop"
)

// inboundFrame is the flat JSON structure clients send. Fields beyond
// Type are populated depending on the frame type.
type inboundFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content,omitempty"`

	// AvatarColor is accepted on send_message frames for compatibility
	// but the bound session's snapshot is authoritative.
	AvatarColor string `json:"avatarColor,omitempty"`
}

// Outbound frames mirror the inbound shape: a type tag plus flat fields.

type userJoinedFrame struct {
	Type string     `json:"type"`
	User *chat.User `json:"user"`
}

type userLeftFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type onlineUsersFrame struct {
	Type  string       `json:"type"`
	Users []*chat.User `json:"users"`
}

type messageHistoryFrame struct {
	Type     string          `json:"type"`
	Messages []*chat.Message `json:"messages"`
}

type newMessageFrame struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message"`
}

type typingUpdateFrame struct {
	Type        string       `json:"type"`
	TypingUsers []TypingUser `json:"typingUsers"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func marshalUserJoined(u *chat.User) ([]byte, error) {
	return json.Marshal(userJoinedFrame{Type: "user_joined", User: u})
}

func marshalUserLeft(userID, username string) ([]byte, error) {
	return json.Marshal(userLeftFrame{Type: "user_left", UserID: userID, Username: username})
}

func marshalOnlineUsers(users []*chat.User) ([]byte, error) {
	if users == nil {
		users = []*chat.User{}
	}
	return json.Marshal(onlineUsersFrame{Type: "online_users", Users: users})
}

func marshalMessageHistory(msgs []*chat.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	return json.Marshal(messageHistoryFrame{Type: "message_history", Messages: msgs})
}

func marshalNewMessage(m *chat.Message) ([]byte, error) {
	return json.Marshal(newMessageFrame{Type: "new_message", Message: m})
}

func marshalTypingUpdate(users []TypingUser) ([]byte, error) {
	if users == nil {
		users = []TypingUser{}
	}
	return json.Marshal(typingUpdateFrame{Type: "typing_update", TypingUsers: users})
}

func marshalError(msg string) ([]byte, error) {
	return json.Marshal(errorFrame{Type: "error", Message: msg})
}
