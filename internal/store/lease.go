package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLeasePrefix = "chess:owner:"

// Lease implements session.Leaser with SET NX keys holding the owner id.
// Only the holder can renew or release a key.
type Lease struct {
	rdb    *redis.Client
	prefix string
}

func NewLease(rdb *redis.Client) *Lease {
	return &Lease{rdb: rdb, prefix: defaultLeasePrefix}
}

func (l *Lease) key(id string) string { return l.prefix + strings.TrimSpace(id) }

// Acquire takes a free lease or extends one owner already holds.
func (l *Lease) Acquire(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	key := l.key(id)
	ok, err := l.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil || ok {
		return ok, err
	}

	var held bool
	txf := func(tx *redis.Tx) error {
		held = false
		cur, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// expired since SETNX
		case err != nil:
			return err
		case cur != owner:
			return nil
		}
		// 소유자 동일: TTL 연장
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, owner, ttl)
			return nil
		})
		held = err == nil
		return err
	}
	for attempt := 0; attempt < watchRetries; attempt++ {
		err = l.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return held, err
		}
	}
	return false, fmt.Errorf("acquire lease %s: %w", id, err)
}

// Release drops the lease if owner still holds it.
func (l *Lease) Release(ctx context.Context, id, owner string) error {
	key := l.key(id)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		// 다른 서버가 가져간 키는 건드리지 않음
		if cur != owner {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}
	var err error
	for attempt := 0; attempt < watchRetries; attempt++ {
		err = l.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("release lease %s: %w", id, err)
}
