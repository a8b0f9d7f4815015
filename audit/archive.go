package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one archived audit record.
type Entry struct {
	Kind   string      `json:"kind"`
	At     time.Time   `json:"at"`
	Record interface{} `json:"record"`
}

// BatchWriter persists a batch of entries.
type BatchWriter interface {
	WriteBatch(entries []Entry) error
	Close() error
}

type ArchiveConfig struct {
	FlushInterval time.Duration
	BatchSize     int
	QueueSize     int
}

// Archive hands committed records to a BatchWriter asynchronously in batches.
type Archive struct {
	w      BatchWriter
	cfg    ArchiveConfig
	ch     chan Entry
	stopCh chan struct{}

	mu      sync.RWMutex
	stopped bool
	once    sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewArchive creates an Archive and starts its background worker.
func NewArchive(w BatchWriter, cfg ArchiveConfig, logger *zap.Logger) *Archive {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	a := &Archive{
		w:      w,
		cfg:    cfg,
		ch:     make(chan Entry, cfg.QueueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

// Enqueue queues e for the next batch and reports whether it was accepted.
// It never blocks; entries arriving after Stop or while the queue is full
// are dropped with a warning. The database rows stay the source of truth.
func (a *Archive) Enqueue(e Entry) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		a.logger.Warn("audit archive stopped, dropping entry", zap.String("kind", e.Kind))
		return false
	}
	select {
	case a.ch <- e:
		return true
	default:
		a.logger.Warn("audit archive queue full, dropping entry", zap.String("kind", e.Kind))
		return false
	}
}

// Stop flushes remaining entries, closes the writer and waits for the worker.
// Every entry Enqueue accepted is handed to the writer.
func (a *Archive) Stop(_ context.Context) {
	a.once.Do(func() {
		a.mu.Lock()
		a.stopped = true
		close(a.stopCh)
		a.mu.Unlock()

		a.wg.Wait()
		if err := a.w.Close(); err != nil {
			a.logger.Error("audit archive close failed", zap.Error(err))
		}
	})
}

func (a *Archive) worker() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, a.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.w.WriteBatch(batch); err != nil {
			a.logger.Error("audit archive batch write failed",
				zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= a.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stopCh:
			// Drain remaining entries.
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}
