package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jcallahan/palaver/internal/chat"
)

// opTimeout bounds every Redis call so a slow backend never stalls the
// coordinator.
const opTimeout = 2 * time.Second

const (
	userKeyPrefix     = "chat:user:"
	usernameKeyPrefix = "chat:username:"
	usersSetKey       = "chat:users"
	messagesKey       = "chat:messages"
)

// RedisStore implements the Store contract on Redis. Users are JSON
// blobs keyed by ID with a username index; messages live in one sorted
// set scored by creation time, which makes "delete the most recent"
// a ZPOPMAX.
type RedisStore struct {
	client redis.Cmdable

	now func() time.Time
}

// NewRedisStore creates a RedisStore on the given client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// CreateUser persists a new identity. The username index key doubles as
// the uniqueness guard: SETNX losing means the name is taken.
func (s *RedisStore) CreateUser(username, avatarColor string) (*chat.User, error) {
	if avatarColor == "" {
		avatarColor = chat.DefaultAvatarColor
	}

	ctx, cancel := opContext()
	defer cancel()

	now := s.now()
	u := &chat.User{
		ID:          uuid.NewString(),
		Username:    username,
		AvatarColor: avatarColor,
		LastSeen:    now,
		CreatedAt:   now,
	}

	claimed, err := s.client.SetNX(ctx, usernameKeyPrefix+username, u.ID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: claim username: %w", err)
	}
	if !claimed {
		return nil, ErrDuplicateUsername
	}

	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("redis: marshal user: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, userKeyPrefix+u.ID, data, 0)
	pipe.SAdd(ctx, usersSetKey, u.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: store user: %w", err)
	}
	return u, nil
}

// GetUser returns the user with the given ID.
func (s *RedisStore) GetUser(id string) (*chat.User, bool) {
	ctx, cancel := opContext()
	defer cancel()
	return s.getUser(ctx, id)
}

func (s *RedisStore) getUser(ctx context.Context, id string) (*chat.User, bool) {
	data, err := s.client.Get(ctx, userKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Printf("redis: failed to read user %s: %v", id, err)
		return nil, false
	}
	var u chat.User
	if err := json.Unmarshal(data, &u); err != nil {
		log.Printf("redis: failed to decode user %s: %v", id, err)
		return nil, false
	}
	return &u, true
}

// GetUserByUsername resolves the username index, then the user record.
func (s *RedisStore) GetUserByUsername(username string) (*chat.User, bool) {
	ctx, cancel := opContext()
	defer cancel()

	id, err := s.client.Get(ctx, usernameKeyPrefix+username).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Printf("redis: failed to resolve username %q: %v", username, err)
		return nil, false
	}
	return s.getUser(ctx, id)
}

// SetOnlineStatus rewrites the user record with the new flag and a
// fresh last-seen timestamp. Unknown IDs are ignored.
func (s *RedisStore) SetOnlineStatus(id string, online bool) {
	ctx, cancel := opContext()
	defer cancel()

	u, ok := s.getUser(ctx, id)
	if !ok {
		return
	}
	u.IsOnline = online
	u.LastSeen = s.now()

	data, err := json.Marshal(u)
	if err != nil {
		log.Printf("redis: failed to marshal user %s: %v", id, err)
		return
	}
	if err := s.client.Set(ctx, userKeyPrefix+id, data, 0).Err(); err != nil {
		log.Printf("redis: failed to update user %s: %v", id, err)
	}
}

// OnlineUsers scans the user set and keeps the records flagged online.
func (s *RedisStore) OnlineUsers() []*chat.User {
	ctx, cancel := opContext()
	defer cancel()

	ids, err := s.client.SMembers(ctx, usersSetKey).Result()
	if err != nil {
		log.Printf("redis: failed to list users: %v", err)
		return nil
	}

	result := make([]*chat.User, 0)
	for _, id := range ids {
		if u, ok := s.getUser(ctx, id); ok && u.IsOnline {
			result = append(result, u)
		}
	}
	return result
}

// CreateMessage appends a message to the sorted set, scored by its
// creation time.
func (s *RedisStore) CreateMessage(content, userID, username, avatarColor string) *chat.Message {
	if avatarColor == "" {
		avatarColor = chat.DefaultAvatarColor
	}

	ctx, cancel := opContext()
	defer cancel()

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

	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("redis: failed to marshal message: %v", err)
		return m
	}
	err = s.client.ZAdd(ctx, messagesKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: string(data),
	}).Err()
	if err != nil {
		log.Printf("redis: failed to append message: %v", err)
	}
	return m
}

// RecentMessages returns the newest messages in ascending score order.
func (s *RedisStore) RecentMessages(limit int) []*chat.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	ctx, cancel := opContext()
	defer cancel()

	vals, err := s.client.ZRange(ctx, messagesKey, int64(-limit), -1).Result()
	if err != nil {
		log.Printf("redis: failed to read messages: %v", err)
		return nil
	}

	msgs := make([]*chat.Message, 0, len(vals))
	for _, v := range vals {
		var m chat.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs
}

// DeleteLastMessage pops the highest-scored message.
func (s *RedisStore) DeleteLastMessage() (*chat.Message, bool) {
	ctx, cancel := opContext()
	defer cancel()

	popped, err := s.client.ZPopMax(ctx, messagesKey, 1).Result()
	if err != nil {
		log.Printf("redis: failed to pop last message: %v", err)
		return nil, false
	}
	if len(popped) == 0 {
		return nil, false
	}

	raw, ok := popped[0].Member.(string)
	if !ok {
		return nil, false
	}
	var m chat.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		log.Printf("redis: failed to decode popped message: %v", err)
		return nil, false
	}
	return &m, true
}

// ClearMessages drops the whole message set.
func (s *RedisStore) ClearMessages() {
	ctx, cancel := opContext()
	defer cancel()

	if err := s.client.Del(ctx, messagesKey).Err(); err != nil {
		log.Printf("redis: failed to clear messages: %v", err)
	}
}
