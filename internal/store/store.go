// Package store persists the result of the last busy-calendar refresh so a
// restarted process can answer availability queries before its first fetch
// completes, and so several API replicas can share one refresher.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookcal/internal/model"
)

// DefaultKey is the Redis key used when none is configured.
const DefaultKey = "bookcal:busy:snapshot"

// Record is the persisted form of a refresh.
type Record struct {
	Providers []model.ProviderBusy `json:"providers"`
	From      time.Time            `json:"from"`
	To        time.Time            `json:"to"`
	FetchedAt time.Time            `json:"fetched_at"`
	Errors    map[string]string    `json:"errors,omitempty"`
}

// SnapshotStore saves and loads the latest Record.
type SnapshotStore interface {
	Save(ctx context.Context, rec Record) error
	// Load returns ok=false when nothing has been saved yet.
	Load(ctx context.Context) (rec Record, ok bool, err error)
}

// Memory keeps the record in process.
type Memory struct {
	mu  sync.RWMutex
	rec *Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.rec = &rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return Record{}, false, nil
	}
	return *m.rec, true, nil
}

// Redis stores the record as one JSON value.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store. A zero ttl keeps the value forever.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (Record, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("store: load snapshot: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return rec, true, nil
}
