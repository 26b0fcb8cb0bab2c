package chat

import "time"

// DefaultAvatarColor is assigned when registration omits a color.
const DefaultAvatarColor = "primary"

// AvatarColors is the fixed palette clients may choose from.
var AvatarColors = []string{"primary", "green", "red", "yellow", "purple", "pink"}

// ValidAvatarColor reports whether color is part of the palette.
func ValidAvatarColor(color string) bool {
	for _, c := range AvatarColors {
		if c == color {
			return true
		}
	}
	return false
}

// User is a registered chat identity. Usernames are unique
// (case-sensitive) at creation time; the online flag and last-seen
// timestamp are flipped by the join/disconnect flow, not by registration.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	AvatarColor string    `json:"avatarColor"`
	IsOnline    bool      `json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
	CreatedAt   time.Time `json:"createdAt"`
}
