package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/instance"
)

// A crashed worker blocks its job for at most this long.
const defaultLockTTL = time.Hour

// Lock coordinates exclusive runs of one job across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// RedisLock is a SET NX lease whose value names the holding worker.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	held  string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("lock store is required")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

// NewRedisLockFactory hands each job run a fresh lock under keyFor(job).
func NewRedisLockFactory(store lockStore, keyFor func(job string) string, ttl time.Duration) LockFactory {
	return func(job string) (Lock, error) {
		if keyFor == nil {
			return nil, errors.New("lock key builder is required")
		}
		return NewRedisLock(store, keyFor(job), ttl)
	}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := fmt.Sprintf("%s:%s", instance.ID(), uuid.NewString())
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.held = token
	}
	return won, nil
}

// Release is a no-op unless this lock still holds the lease. An expired
// lease that another worker has since taken is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.held == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.held); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.held = ""
	return nil
}
