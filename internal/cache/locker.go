// Package cache holds the Redis-backed coordination primitives.
package cache

import (
	"context"
	"time"
)

// Locker grants short-lived, cross-process mutual exclusion by key.
type Locker interface {
	// TryLock returns a release func when the lock was acquired.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, func(), error)
}

// NoopLocker always grants the lock. Used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string, time.Duration) (bool, func(), error) {
	return true, func() {}, nil
}
