package chat

import "time"

// Message is a stored chat message. Username and AvatarColor are a
// snapshot of the sender at send time and are never rewritten if the
// user later changes them, so the transcript stays historically accurate.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	AvatarColor string    `json:"avatarColor"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"createdAt"`
}
