// Package session tracks authenticated WebSocket sessions in Redis. A session
// records which account is connected, the room its connection follows, and
// which gateway instance holds the socket, so presence survives instance
// restarts and is visible across the fleet.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. Heartbeats
	// refresh it; a session that outlives its socket expires on its own.
	SessionTTL = 1 * time.Hour
)

// Session represents one authenticated connection's state stored in Redis.
type Session struct {
	AccountID  string `redis:"account_id"`
	Name       string `redis:"name"`
	RoomID     string `redis:"room_id"`
	Server     string `redis:"server"`      // which gateway instance holds the socket
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a session for a freshly authenticated connection with 1h TTL.
func (s *Store) Create(ctx context.Context, accountID, name, roomID string) error {
	key := SessionPrefix + accountID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"account_id":  accountID,
		"name":        name,
		"room_id":     roomID,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, accountID string) (*Session, error) {
	key := SessionPrefix + accountID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.AccountID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// SetRoomID repoints the session at a different room.
func (s *Store) SetRoomID(ctx context.Context, accountID, roomID string) error {
	key := SessionPrefix + accountID
	return s.client.HSet(ctx, key, "room_id", roomID, "last_active", time.Now().Unix()).Err()
}

// Touch updates the activity timestamp and refreshes the TTL. Called on every
// heartbeat and handled client message.
func (s *Store) Touch(ctx context.Context, accountID string) error {
	key := SessionPrefix + accountID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, accountID string) error {
	key := SessionPrefix + accountID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
