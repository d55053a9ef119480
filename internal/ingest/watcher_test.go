package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hashN(i int) common.Hash { return common.BigToHash(big.NewInt(int64(i + 1))) }

type fakeSub struct {
	errc  chan error
	unsub chan struct{}
	once  sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{errc: make(chan error, 1), unsub: make(chan struct{})}
}

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.unsub) }) }
func (s *fakeSub) Err() <-chan error { return s.errc }

// scriptedSource serves one batch per subscription. Every subscription
// except the last terminates with an error once its batch is delivered.
// subscribeErrs are returned by the first Subscribe calls before any batch.
type scriptedSource struct {
	mu            sync.Mutex
	batches       [][]common.Hash
	subscribeErrs []error
	calls         int
}

func (s *scriptedSource) Subscribe(_ context.Context, ch chan<- common.Hash) (domain.Subscription, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i < len(s.subscribeErrs) {
		return nil, s.subscribeErrs[i]
	}
	i -= len(s.subscribeErrs)

	sub := newFakeSub()
	var batch []common.Hash
	if i < len(s.batches) {
		batch = s.batches[i]
	}
	last := i >= len(s.batches)-1
	go func() {
		for _, h := range batch {
			select {
			case ch <- h:
			case <-sub.unsub:
				return
			}
		}
		if !last {
			sub.errc <- errors.New("connection reset")
		}
	}()
	return sub, nil
}

func (s *scriptedSource) subscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeLookup resolves every hash except those listed as missing.
type fakeLookup struct {
	missing map[common.Hash]bool
}

func (l fakeLookup) PendingTx(_ context.Context, h common.Hash) (domain.PendingTx, error) {
	if l.missing[h] {
		return domain.PendingTx{}, domain.ErrNotFound
	}
	return domain.PendingTx{Hash: h}, nil
}

type recordingHandler struct {
	gate    chan struct{}
	mu      sync.Mutex
	handled []common.Hash
	ctxErrs []error
	cur     atomic.Int64
	peak    atomic.Int64
	started atomic.Int64
}

func (h *recordingHandler) Handle(ctx context.Context, tx domain.PendingTx) executor.Result {
	h.started.Add(1)
	n := h.cur.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if h.gate != nil {
		<-h.gate
	}
	h.cur.Add(-1)

	h.mu.Lock()
	h.handled = append(h.handled, tx.Hash)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	h.mu.Unlock()
	return executor.Result{Outcome: executor.OutcomeFiltered}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func fastConfig() Config {
	return Config{
		MaxInFlight:         4,
		UnitTimeout:         5 * time.Second,
		BufferSize:          64,
		ResubscribeDelay:    time.Millisecond,
		MaxResubscribeDelay: 5 * time.Millisecond,
	}
}

func runWatcher(t *testing.T, w *Watcher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return cancel, done
}

func TestWatcherHandlesEveryHash(t *testing.T) {
	hashes := make([]common.Hash, 10)
	for i := range hashes {
		hashes[i] = hashN(i)
	}
	src := &scriptedSource{batches: [][]common.Hash{hashes}}
	lookup := fakeLookup{missing: map[common.Hash]bool{hashes[3]: true, hashes[7]: true}}
	handler := &recordingHandler{}
	m := metrics.New("test")

	w := NewWatcher(src, lookup, handler, m, fastConfig(), discardLogger())
	cancel, done := runWatcher(t, w)

	require.Eventually(t, func() bool { return handler.count() == 8 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	snap := m.Snapshot()
	assert.Equal(t, int64(10), snap.PendingSeen)
	assert.Equal(t, int64(2), snap.LookupMisses)
	assert.Equal(t, int64(0), snap.InFlight)
	assert.ElementsMatch(t, []common.Hash{
		hashes[0], hashes[1], hashes[2], hashes[4], hashes[5], hashes[6], hashes[8], hashes[9],
	}, handler.handled)
}

func TestWatcherBoundsConcurrency(t *testing.T) {
	hashes := make([]common.Hash, 20)
	for i := range hashes {
		hashes[i] = hashN(i)
	}
	src := &scriptedSource{batches: [][]common.Hash{hashes}}
	handler := &recordingHandler{gate: make(chan struct{})}
	cfg := fastConfig()
	cfg.MaxInFlight = 3

	w := NewWatcher(src, fakeLookup{}, handler, nil, cfg, discardLogger())
	cancel, done := runWatcher(t, w)

	require.Eventually(t, func() bool { return handler.started.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(3), handler.started.Load(), "no unit starts while the limit is reached")

	close(handler.gate)
	require.Eventually(t, func() bool { return handler.count() == 20 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.LessOrEqual(t, handler.peak.Load(), int64(3))
}

func TestWatcherResubscribes(t *testing.T) {
	src := &scriptedSource{
		subscribeErrs: []error{errors.New("dial failed")},
		batches: [][]common.Hash{
			{hashN(0), hashN(1)},
			{hashN(2)},
			{hashN(3)},
		},
	}
	handler := &recordingHandler{}

	w := NewWatcher(src, fakeLookup{}, handler, nil, fastConfig(), discardLogger())
	cancel, done := runWatcher(t, w)

	require.Eventually(t, func() bool { return handler.count() == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 4, src.subscribeCalls())
}

func TestWatcherShutdownWaitsForInFlightUnits(t *testing.T) {
	src := &scriptedSource{batches: [][]common.Hash{{hashN(0)}}}
	handler := &recordingHandler{gate: make(chan struct{})}

	w := NewWatcher(src, fakeLookup{}, handler, nil, fastConfig(), discardLogger())
	cancel, done := runWatcher(t, w)

	require.Eventually(t, func() bool { return handler.started.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a unit was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(handler.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the unit finished")
	}

	require.Equal(t, 1, handler.count())
	assert.NoError(t, handler.ctxErrs[0], "unit context survives shutdown")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, int64(DefaultMaxInFlight), cfg.MaxInFlight)
	assert.Equal(t, DefaultUnitTimeout, cfg.UnitTimeout)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, DefaultResubscribeDelay, cfg.ResubscribeDelay)
	assert.Equal(t, DefaultMaxResubscribeDelay, cfg.MaxResubscribeDelay)
}
