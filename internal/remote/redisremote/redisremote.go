// Package redisremote implements the ephemeral-signal surface of the remote
// store on Redis. Redis has no disconnect-triggered write primitive, so the
// adapter approximates it with TTL'd keys plus a client-side heartbeat: a
// crashed client stops refreshing and its signals expire on their own.
package redisremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thiagokf/chatd/internal/remote"
	"go.uber.org/zap"
)

const (
	typingTTL    = 5 * time.Second
	presenceTTL  = 30 * time.Second
	pollInterval = 500 * time.Millisecond
)

// Store is a remote.SignalStore backed by a single Redis instance.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu         sync.Mutex
	heartbeats map[string]context.CancelFunc
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int, logger *zap.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{
		rdb:        rdb,
		logger:     logger,
		heartbeats: make(map[string]context.CancelFunc),
	}, nil
}

// Close stops heartbeats and releases the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, cancel := range s.heartbeats {
		cancel()
	}
	s.heartbeats = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	return s.rdb.Close()
}

func typingKey(conversationID, userID string) string {
	return "chatd:typing:" + conversationID + ":" + userID
}

func typingPattern(conversationID string) string {
	return "chatd:typing:" + conversationID + ":*"
}

func presenceKey(userID string) string {
	return "chatd:presence:" + userID
}

// classify folds transport failures into the shared taxonomy.
func classify(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
}

// SetTyping writes the typing marker with its TTL. Repeated calls refresh
// the TTL, which is the heartbeat.
func (s *Store) SetTyping(ctx context.Context, conversationID, userID string) error {
	return classify(s.rdb.Set(ctx, typingKey(conversationID, userID), "1", typingTTL).Err())
}

// ClearTyping removes the typing marker immediately.
func (s *Store) ClearTyping(ctx context.Context, conversationID, userID string) error {
	return classify(s.rdb.Del(ctx, typingKey(conversationID, userID)).Err())
}

// TypingUsers scans the typing keys for a conversation.
func (s *Store) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	prefix := "chatd:typing:" + conversationID + ":"
	var users []string
	iter := s.rdb.Scan(ctx, 0, typingPattern(conversationID), 100).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	sort.Strings(users)
	return users, nil
}

// WatchTyping polls the typing set and emits a snapshot whenever it changes.
func (s *Store) WatchTyping(conversationID string, buf int) (<-chan []string, func()) {
	ch := make(chan []string, buf)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		var last string
		for {
			select {
			case <-ticker.C:
				users, err := s.TypingUsers(ctx, conversationID)
				if err != nil {
					continue
				}
				key := strings.Join(users, ",")
				if key == last {
					continue
				}
				last = key
				select {
				case ch <- users:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, cancel
}

// SetPresence writes userPresence for a user. Online records carry a TTL and
// a refresher goroutine; offline records persist so lastSeen survives.
func (s *Store) SetPresence(ctx context.Context, rec remote.PresenceRecord) error {
	if rec.UserID == "" {
		return remote.ErrInvalidArgument
	}
	if rec.LastSeen == 0 {
		rec.LastSeen = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrInvalidArgument, err)
	}

	if !rec.Online {
		s.stopHeartbeat(rec.UserID)
		return classify(s.rdb.Set(ctx, presenceKey(rec.UserID), payload, 0).Err())
	}

	if err := s.rdb.Set(ctx, presenceKey(rec.UserID), payload, presenceTTL).Err(); err != nil {
		return classify(err)
	}
	s.startHeartbeat(rec.UserID)
	return nil
}

// Presence reads userPresence for a user. An expired or missing key reads as
// nil; callers treat that as offline.
func (s *Store) Presence(ctx context.Context, userID string) (*remote.PresenceRecord, error) {
	val, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	var rec remote.PresenceRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	return &rec, nil
}

// WatchPresence polls a user's presence and emits on change.
func (s *Store) WatchPresence(userID string, buf int) (<-chan remote.PresenceRecord, func()) {
	ch := make(chan remote.PresenceRecord, buf)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		var last *remote.PresenceRecord
		for {
			select {
			case <-ticker.C:
				rec, err := s.Presence(ctx, userID)
				if err != nil {
					continue
				}
				cur := rec
				if cur == nil {
					// Expired key: synthesize the offline record the TTL
					// approximation promised.
					cur = &remote.PresenceRecord{UserID: userID, Online: false}
				}
				if last != nil && last.Online == cur.Online && last.CurrentConversationID == cur.CurrentConversationID {
					continue
				}
				last = cur
				select {
				case ch <- *cur:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, cancel
}

// OnDisconnectClearTyping is a no-op: the typing TTL already guarantees
// removal when the client stops refreshing.
func (s *Store) OnDisconnectClearTyping(conversationID, userID string) error {
	return nil
}

// OnDisconnectSetPresence is a no-op: presence TTL expiry is the disconnect
// write, and readers synthesize the offline record from the missing key.
func (s *Store) OnDisconnectSetPresence(rec remote.PresenceRecord) error {
	return nil
}

// CancelDisconnectHooks stops the presence heartbeat for a user.
func (s *Store) CancelDisconnectHooks(userID string) error {
	s.stopHeartbeat(userID)
	return nil
}

func (s *Store) startHeartbeat(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.heartbeats[userID]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.heartbeats[userID] = cancel

	go func() {
		ticker := time.NewTicker(presenceTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.rdb.Expire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil && s.logger != nil {
					s.logger.Warn("presence heartbeat failed", zap.String("user_id", userID), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Store) stopHeartbeat(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.heartbeats[userID]; ok {
		cancel()
		delete(s.heartbeats, userID)
	}
}
