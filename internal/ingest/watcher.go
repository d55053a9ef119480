// Package ingest subscribes to the pending-transaction stream and runs one
// bounded, independent unit of work per announced hash.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/metrics"
)

const (
	DefaultMaxInFlight         = 256
	DefaultUnitTimeout         = 2 * time.Minute
	DefaultBufferSize          = 1024
	DefaultResubscribeDelay    = time.Second
	DefaultMaxResubscribeDelay = 30 * time.Second
)

// Handler processes one resolved transaction.
type Handler interface {
	Handle(ctx context.Context, tx domain.PendingTx) executor.Result
}

// Config tunes the watcher. Zero values take the defaults above.
type Config struct {
	MaxInFlight         int64
	UnitTimeout         time.Duration
	BufferSize          int
	ResubscribeDelay    time.Duration
	MaxResubscribeDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = DefaultUnitTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = DefaultResubscribeDelay
	}
	if c.MaxResubscribeDelay < c.ResubscribeDelay {
		c.MaxResubscribeDelay = max(DefaultMaxResubscribeDelay, c.ResubscribeDelay)
	}
	return c
}

// Watcher owns the pending-transaction subscription. At most MaxInFlight
// units run at once; when the limit is reached the watcher stops reading
// from the subscription until a unit finishes.
type Watcher struct {
	source  domain.PendingSource
	lookup  domain.TxLookup
	handler Handler
	metrics *metrics.Metrics
	cfg     Config
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewWatcher creates a Watcher. m may be nil.
func NewWatcher(source domain.PendingSource, lookup domain.TxLookup, handler Handler, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Watcher {
	cfg = cfg.withDefaults()
	return &Watcher{
		source:  source,
		lookup:  lookup,
		handler: handler,
		metrics: m,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		logger:  logger.With(slog.String("component", "watcher")),
	}
}

// Run streams pending hashes until ctx is cancelled, resubscribing with
// capped exponential backoff whenever the subscription drops. On
// cancellation it stops accepting hashes and waits for in-flight units to
// finish before returning nil.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher starting",
		slog.Int64("max_inflight", w.cfg.MaxInFlight),
		slog.Duration("unit_timeout", w.cfg.UnitTimeout),
	)
	defer w.wait()

	delay := w.cfg.ResubscribeDelay
	for {
		delivered, err := w.stream(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			delay = w.cfg.ResubscribeDelay
		}
		w.logger.Warn("pending subscription lost, resubscribing",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, w.cfg.MaxResubscribeDelay)
	}
}

func (w *Watcher) wait() {
	w.wg.Wait()
	w.logger.Info("watcher stopped, all units finished")
}

// stream runs a single subscription. delivered reports whether at least one
// hash arrived before it ended.
func (w *Watcher) stream(ctx context.Context) (delivered bool, err error) {
	ch := make(chan common.Hash, w.cfg.BufferSize)
	sub, err := w.source.Subscribe(ctx, ch)
	if err != nil {
		return false, fmt.Errorf("ingest: subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	w.logger.Info("subscribed to pending transactions")

	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err := <-sub.Err():
			// Hashes already buffered are still worth processing.
			n, derr := w.drain(ctx, ch)
			if n > 0 {
				delivered = true
			}
			if derr != nil {
				return delivered, derr
			}
			if err == nil {
				err = domain.ErrSubscription
			}
			return delivered, fmt.Errorf("ingest: %w", err)
		case h := <-ch:
			delivered = true
			if err := w.spawn(ctx, h); err != nil {
				return delivered, err
			}
		}
	}
}

func (w *Watcher) drain(ctx context.Context, ch <-chan common.Hash) (int, error) {
	n := 0
	for {
		select {
		case h := <-ch:
			if err := w.spawn(ctx, h); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

// spawn blocks until a slot is free and starts a unit for h.
func (w *Watcher) spawn(ctx context.Context, h common.Hash) error {
	w.metrics.PendingSeen()
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.unit(ctx, h)
	return nil
}

// unit resolves and handles one hash. It runs detached from ctx's
// cancellation so that a started call sequence is allowed to complete.
// UnitTimeout bounds lookup through dedup; the dispatcher bounds the calls.
func (w *Watcher) unit(ctx context.Context, h common.Hash) {
	defer w.wg.Done()
	defer w.sem.Release(1)
	w.metrics.UnitStarted()
	defer w.metrics.UnitDone()

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.UnitTimeout)
	defer cancel()

	tx, err := w.lookup.PendingTx(uctx, h)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.metrics.LookupMiss()
			w.logger.Debug("pending transaction vanished", slog.String("tx_hash", h.Hex()))
			return
		}
		w.logger.Warn("pending transaction lookup failed",
			slog.String("tx_hash", h.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	w.handler.Handle(uctx, tx)
}
