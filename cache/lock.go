package cache

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// ErrLockNotAcquired is returned when a lock is still held by someone else
// after the retry budget is spent.
var ErrLockNotAcquired = errors.New("cache: lock not acquired")

// Locker hands out short-lived named locks on top of Cache.SetNX. Every lock
// expires after ttl, so a crashed holder never blocks others for longer.
type Locker struct {
	c       Cache
	ttl     time.Duration
	maxWait time.Duration
}

// NewLocker creates a Locker. maxWait bounds how long Acquire keeps retrying.
func NewLocker(c Cache, ttl, maxWait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	return &Locker{c: c, ttl: ttl, maxWait: maxWait}
}

// TryAcquire makes a single attempt. The returned release func is nil when
// ok is false.
func (l *Locker) TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.c.SetNX(ctx, key, token, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return l.releaser(ctx, key, token), true, nil
}

// Acquire retries with exponential backoff until the lock is taken, maxWait
// elapses (ErrLockNotAcquired) or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := l.c.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, ErrLockNotAcquired
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(l.maxWait))
	if err != nil {
		return nil, err
	}
	return l.releaser(ctx, key, token), nil
}

func (l *Locker) releaser(ctx context.Context, key, token string) func() {
	ctx = context.WithoutCancel(ctx)
	return func() {
		_, _ = l.c.DelIfEquals(ctx, key, token)
	}
}
