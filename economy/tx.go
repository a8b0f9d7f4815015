package economy

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Tx is one ledger transaction. Work that must only happen once the
// transaction is durable (cache invalidation, notifications, archiving) is
// queued with AfterCommit.
type Tx struct {
	DB  *gorm.DB
	Ctx context.Context
	Now time.Time

	afterCommit []func()
}

// AfterCommit queues fn to run after a successful commit, in order.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

// Emit queues ev on sink for after commit.
func (tx *Tx) Emit(sink Sink, ev Event) {
	if sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = tx.Now
	}
	ctx := tx.Ctx
	tx.AfterCommit(func() { sink.Emit(ctx, ev) })
}

// Clock returns the current time. Components hold one so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// RunTx runs fn inside a database transaction and, if it commits, runs the
// queued after-commit hooks. Any error from fn rolls everything back.
func RunTx(ctx context.Context, db *gorm.DB, now time.Time, fn func(tx *Tx) error) error {
	var done *Tx
	err := db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		tx := &Tx{DB: gtx, Ctx: ctx, Now: now}
		if err := fn(tx); err != nil {
			return err
		}
		done = tx
		return nil
	})
	if err != nil {
		return err
	}
	for _, fn := range done.afterCommit {
		fn()
	}
	return nil
}
