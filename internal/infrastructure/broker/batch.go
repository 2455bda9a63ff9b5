package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BatchConfig controls when buffered positions are flushed into a message.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

var errBufferClosed = errors.New("batch buffer is closed")

// batchBuffer collects items and hands them to flushFn once Size items are
// buffered or Timeout has passed since the first buffered item.
type batchBuffer[T any] struct {
	cfg     BatchConfig
	flushFn func(context.Context, []T) error
	logger  *logrus.Entry

	mu       sync.Mutex
	ctx      context.Context
	items    []T
	timer    *time.Timer
	closed   bool
	timerErr error
}

func newBatchBuffer[T any](ctx context.Context, cfg BatchConfig, flushFn func(context.Context, []T) error, logger *logrus.Entry) *batchBuffer[T] {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	return &batchBuffer[T]{cfg: cfg, flushFn: flushFn, logger: logger, ctx: ctx}
}

func (bb *batchBuffer[T]) enqueue(item T) error {
	bb.mu.Lock()
	if bb.closed {
		bb.mu.Unlock()
		return errBufferClosed
	}
	if err := bb.ctx.Err(); err != nil {
		bb.mu.Unlock()
		return err
	}
	bb.items = append(bb.items, item)
	var batch []T
	if len(bb.items) >= bb.cfg.Size {
		batch = bb.takeLocked()
	} else if bb.timer == nil && bb.cfg.Timeout > 0 {
		bb.timer = time.AfterFunc(bb.cfg.Timeout, bb.flushOnTimer)
	}
	bb.mu.Unlock()

	return bb.flush(batch)
}

func (bb *batchBuffer[T]) flushOnTimer() {
	bb.mu.Lock()
	bb.timer = nil
	batch := bb.takeLocked()
	bb.mu.Unlock()

	if err := bb.flush(batch); err != nil {
		bb.mu.Lock()
		bb.timerErr = errors.Join(bb.timerErr, err)
		bb.mu.Unlock()
		if bb.logger != nil {
			bb.logger.WithError(err).Warn("timed batch flush failed")
		}
	}
}

func (bb *batchBuffer[T]) takeLocked() []T {
	if bb.timer != nil {
		bb.timer.Stop()
		bb.timer = nil
	}
	if len(bb.items) == 0 {
		return nil
	}
	batch := make([]T, len(bb.items))
	copy(batch, bb.items)
	bb.items = bb.items[:0]
	return batch
}

func (bb *batchBuffer[T]) flush(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	if err := bb.flushFn(bb.ctx, batch); err != nil {
		return err
	}
	if bb.logger != nil {
		bb.logger.WithFields(logrus.Fields{
			"size":    len(batch),
			"took_ms": time.Since(start).Milliseconds(),
		}).Debug("flushed batch")
	}
	return nil
}

// close flushes what is left and reports any failed timed flush.
func (bb *batchBuffer[T]) close() error {
	bb.mu.Lock()
	bb.closed = true
	batch := bb.takeLocked()
	timerErr := bb.timerErr
	bb.mu.Unlock()

	return errors.Join(timerErr, bb.flush(batch))
}
