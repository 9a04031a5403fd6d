// Package store keeps session snapshots in Redis so a restarted or
// horizontally scaled server can rehydrate live games. Lease makes sure only
// one instance serves a given session at a time.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-chess-server/internal/session"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "chess:session:"
	watchRetries  = 3
)

// Connect parses a redis:// or rediss:// URL and pings the server.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// SessionStore implements session.Store on top of Redis string keys.
type SessionStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SessionStore{rdb: rdb, ttl: ttl, prefix: defaultPrefix}
}

func (s *SessionStore) key(id string) string { return s.prefix + strings.TrimSpace(id) }

// Save writes rec unless the stored version is the same or newer. Concurrent
// writers are resolved with WATCH; of two writes at one version the first
// wins.
func (s *SessionStore) Save(ctx context.Context, rec session.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.ID, err)
	}
	key := s.key(rec.ID)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored session.Record
			if jerr := json.Unmarshal(cur, &stored); jerr == nil && stored.Version >= rec.Version {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < watchRetries; attempt++ {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("save session %s: %w", rec.ID, err)
}

func (s *SessionStore) Load(ctx context.Context, id string) (session.Record, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Record{}, session.ErrRecordNotFound
	}
	if err != nil {
		return session.Record{}, err
	}
	var rec session.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return session.Record{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}
