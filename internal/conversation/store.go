package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deskline/support-bot/internal/domain"
)

// Store keeps at most one session per party.
type Store interface {
	// Get returns nil without error when the party has no session.
	Get(ctx context.Context, party domain.PartyID) (*Session, error)
	Put(ctx context.Context, session *Session) error
	Delete(ctx context.Context, party domain.PartyID) error
}

// MemoryStore keeps encoded sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[domain.PartyID]memoryEntry
}

type memoryEntry struct {
	raw     []byte
	expires time.Time
}

// NewMemoryStore creates a store whose sessions expire after ttl of
// inactivity; ttl <= 0 keeps them until deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, sessions: make(map[domain.PartyID]memoryEntry)}
}

func (m *MemoryStore) Get(_ context.Context, party domain.PartyID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[party]
	if !ok {
		return nil, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(m.sessions, party)
		return nil, nil
	}
	var session Session
	if err := json.Unmarshal(entry.raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (m *MemoryStore) Put(_ context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{raw: raw}
	if m.ttl > 0 {
		entry.expires = time.Now().Add(m.ttl)
	}
	m.sessions[session.Party] = entry
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, party domain.PartyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, party)
	return nil
}

// RedisStore keeps sessions as JSON values with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "support-bot:session:", ttl: ttl}
}

func (r *RedisStore) key(party domain.PartyID) string {
	return r.prefix + strconv.FormatInt(int64(party), 10)
}

func (r *RedisStore) Get(ctx context.Context, party domain.PartyID) (*Session, error) {
	raw, err := r.client.Get(ctx, r.key(party)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (r *RedisStore) Put(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(session.Party), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, party domain.PartyID) error {
	if err := r.client.Del(ctx, r.key(party)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
