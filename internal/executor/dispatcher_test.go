package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/filter"
	"github.com/alanyoungcy/cascadebot/internal/metrics"
	"github.com/alanyoungcy/cascadebot/internal/royalty"
	"github.com/alanyoungcy/cascadebot/internal/signal"
	"github.com/alanyoungcy/cascadebot/internal/units"
)

var (
	pool1    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	pool2    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger = common.HexToAddress("0x3333333333333333333333333333333333333333")
	sender   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	gasPrice = big.NewInt(100_000_000)
)

type call struct {
	method   string
	gasPrice *big.Int
	args     []any
}

// fakeSubmission confirms after delay unless ctx ends first.
type fakeSubmission struct {
	hash  common.Hash
	err   error
	delay time.Duration
}

func (s fakeSubmission) TxHash() common.Hash { return s.hash }

func (s fakeSubmission) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return s.err
	}
}

// fakeContract records calls. submitErr and waitErr are keyed by method.
type fakeContract struct {
	mu        sync.Mutex
	calls     []call
	submitErr map[string]error
	waitErr   map[string]error
	mineDelay time.Duration
}

func (c *fakeContract) Invoke(ctx context.Context, method string, gp *big.Int, args ...any) (domain.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.calls = append(c.calls, call{method: method, gasPrice: gp, args: args})
	if err := c.submitErr[method]; err != nil {
		return nil, err
	}
	return fakeSubmission{
		hash:  common.BigToHash(big.NewInt(int64(len(c.calls)))),
		err:   c.waitErr[method],
		delay: c.mineDelay,
	}, nil
}

func (c *fakeContract) methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.calls))
	for _, cl := range c.calls {
		out = append(out, cl.method)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.DispatchEvent
}

func (s *recordingSink) Emit(_ context.Context, ev domain.DispatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type harness struct {
	d        *Dispatcher
	contract *fakeContract
	seen     *MemorySeenSet
	sink     *recordingSink
	metrics  *metrics.Metrics
}

func ether(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := units.ParseEther(s)
	require.NoError(t, err)
	return v
}

// newHarness mirrors the defaults: minimum 5 ether, royalty threshold
// 1000 ether, default tier 10 bps, large tier 7 bps.
func newHarness(t *testing.T) *harness {
	t.Helper()
	rules, err := filter.NewRules(pool1, pool2, ether(t, "5"), []string{"a9059cbb", "23b872dd"})
	require.NoError(t, err)
	policy, err := royalty.NewPolicy(true, ether(t, "1000"), 10, 7)
	require.NoError(t, err)

	h := &harness{
		contract: &fakeContract{submitErr: map[string]error{}, waitErr: map[string]error{}},
		seen:     NewMemorySeenSet(),
		sink:     &recordingSink{},
		metrics:  metrics.New("test"),
	}
	h.d = NewDispatcher(Config{
		Rules:    rules,
		Codec:    signal.NewCodec(pool2, signal.FieldsCore),
		Seen:     h.seen,
		Royalty:  policy,
		Contract: h.contract,
		GasPrice: gasPrice,
		Events:   h.sink,
		Metrics:  h.metrics,
	}, discardLogger())
	return h
}

func transferTx(to common.Address, value *big.Int) domain.PendingTx {
	return domain.PendingTx{
		Hash:  common.HexToHash("0x9999"),
		To:    &to,
		From:  &sender,
		Input: common.FromHex("0xa9059cbb0000000000000000000000005555555555555555555555555555555555555555"),
		Value: value,
	}
}

func TestDispatchAcceptedTransaction(t *testing.T) {
	h := newHarness(t)
	res := h.d.Handle(context.Background(), transferTx(pool1, ether(t, "10")))

	require.Equal(t, OutcomeClaimed, res.Outcome)
	require.NoError(t, res.Err)
	assert.Equal(t, royalty.Tier{Name: royalty.TierDefault, Bps: 10}, res.Tier)
	assert.Equal(t, []string{MethodEmitCascade, MethodClaimYield}, h.contract.methods())

	cascade := h.contract.calls[0]
	assert.Equal(t, gasPrice, cascade.gasPrice)
	require.Len(t, cascade.args, 2)
	assert.Equal(t, res.Signal.Text, cascade.args[0])
	assert.Equal(t, big.NewInt(10), cascade.args[1])

	claim := h.contract.calls[1]
	assert.Equal(t, gasPrice, claim.gasPrice)
	assert.Equal(t, []any{res.Signal.Text}, claim.args)

	assert.Equal(t, []domain.EventKind{
		domain.EventSignalNovel,
		domain.EventCascadeEmitted,
		domain.EventYieldClaimed,
	}, h.sink.kinds())
	assert.Equal(t, pool1, h.sink.events[0].Pool)
	assert.Equal(t, int64(1), h.metrics.Snapshot().Claimed)
}

func TestDispatchOutlivesCallerDeadline(t *testing.T) {
	h := newHarness(t)
	h.contract.mineDelay = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := h.d.Handle(ctx, transferTx(pool1, ether(t, "10")))

	require.Equal(t, OutcomeClaimed, res.Outcome, "a slow cascade still gets its claim")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{MethodEmitCascade, MethodClaimYield}, h.contract.methods())
}

func TestDispatchCallTimeout(t *testing.T) {
	h := newHarness(t)
	h.contract.mineDelay = time.Hour
	h.d.timeout = 20 * time.Millisecond

	res := h.d.Handle(context.Background(), transferTx(pool1, ether(t, "10")))

	assert.Equal(t, OutcomeCascadeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, []string{MethodEmitCascade}, h.contract.methods())
}

func TestDispatchReplayIsDuplicate(t *testing.T) {
	h := newHarness(t)
	tx := transferTx(pool1, ether(t, "10"))

	first := h.d.Handle(context.Background(), tx)
	require.Equal(t, OutcomeClaimed, first.Outcome)

	second := h.d.Handle(context.Background(), tx)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.Signal.Hash, second.Signal.Hash)
	assert.Len(t, h.contract.methods(), 2, "no calls for the replay")
	assert.Len(t, h.sink.kinds(), 3, "no events for the replay")
	assert.Equal(t, int64(1), h.metrics.Snapshot().Duplicates)
}

func TestDispatchUnknownPool(t *testing.T) {
	h := newHarness(t)
	res := h.d.Handle(context.Background(), transferTx(stranger, ether(t, "10000")))

	assert.Equal(t, OutcomeFiltered, res.Outcome)
	assert.Equal(t, filter.ReasonUnknownPool, res.Reason)
	assert.Empty(t, h.contract.methods())
	assert.Equal(t, 0, h.seen.Len(), "filtered transactions never reach the seen-set")
}

func TestDispatchBelowMinimum(t *testing.T) {
	h := newHarness(t)
	res := h.d.Handle(context.Background(), transferTx(pool1, ether(t, "0.1")))

	assert.Equal(t, OutcomeFiltered, res.Outcome)
	assert.Equal(t, filter.ReasonBelowMinValue, res.Reason)
	assert.Empty(t, h.contract.methods())
	assert.Empty(t, h.sink.kinds())
}

func TestDispatchLargeTier(t *testing.T) {
	h := newHarness(t)
	res := h.d.Handle(context.Background(), transferTx(pool2, ether(t, "5000")))

	require.Equal(t, OutcomeClaimed, res.Outcome)
	assert.Equal(t, royalty.TierLarge, res.Tier.Name)
	assert.Equal(t, big.NewInt(7), h.contract.calls[0].args[1])
	assert.Equal(t, uint64(7), h.sink.events[0].RoyaltyBps)
}

func TestDispatchCascadeFailure(t *testing.T) {
	for _, tc := range []struct {
		name   string
		submit error
		wait   error
	}{
		{"submit error", errors.New("dial tcp: connection refused"), nil},
		{"reverted", nil, domain.ErrCallReverted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.submit != nil {
				h.contract.submitErr[MethodEmitCascade] = tc.submit
			}
			if tc.wait != nil {
				h.contract.waitErr[MethodEmitCascade] = tc.wait
			}
			tx := transferTx(pool1, ether(t, "10"))

			res := h.d.Handle(context.Background(), tx)
			assert.Equal(t, OutcomeCascadeFailed, res.Outcome)
			assert.Error(t, res.Err)
			assert.Equal(t, []string{MethodEmitCascade}, h.contract.methods(), "claimYield never attempted")
			assert.Equal(t, []domain.EventKind{domain.EventSignalNovel, domain.EventCallFailed}, h.sink.kinds())

			// The signal stays seen: a replay is a duplicate, not a retry.
			again := h.d.Handle(context.Background(), tx)
			assert.Equal(t, OutcomeDuplicate, again.Outcome)
			assert.Equal(t, []string{MethodEmitCascade}, h.contract.methods())
		})
	}
}

func TestDispatchClaimFailure(t *testing.T) {
	h := newHarness(t)
	h.contract.waitErr[MethodClaimYield] = errors.New("insufficient funds")

	res := h.d.Handle(context.Background(), transferTx(pool1, ether(t, "10")))
	assert.Equal(t, OutcomeClaimFailed, res.Outcome)
	assert.Equal(t, []string{MethodEmitCascade, MethodClaimYield}, h.contract.methods())

	kinds := h.sink.kinds()
	require.Len(t, kinds, 3)
	assert.Equal(t, domain.EventCallFailed, kinds[2])
	assert.Equal(t, MethodClaimYield, h.sink.events[2].Method)
	assert.NotNil(t, h.sink.events[2].CallTx)
}

func TestDispatchSeenSetError(t *testing.T) {
	h := newHarness(t)
	h.d.seen = &stubShared{err: errors.New("redis down")}

	res := h.d.Handle(context.Background(), transferTx(pool1, ether(t, "10")))
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Error(t, res.Err)
	assert.Empty(t, h.contract.methods())
}

func TestDispatchConcurrentDeliveries(t *testing.T) {
	h := newHarness(t)
	tx := transferTx(pool1, ether(t, "10"))

	const n = 64
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.d.Handle(context.Background(), tx)
		}(i)
	}
	wg.Wait()

	claimed := 0
	for _, r := range results {
		switch r.Outcome {
		case OutcomeClaimed:
			claimed++
		case OutcomeDuplicate:
		default:
			t.Fatalf("unexpected outcome %s", r.Outcome)
		}
	}
	assert.Equal(t, 1, claimed)
	assert.Equal(t, []string{MethodEmitCascade, MethodClaimYield}, h.contract.methods())
}

func TestClaimNeverPrecedesCascade(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		tx := transferTx(pool1, ether(t, "10"))
		tx.Hash = common.BigToHash(big.NewInt(int64(i)))
		if i%3 == 0 {
			h.contract.mu.Lock()
			h.contract.waitErr[MethodEmitCascade] = errors.New("boom")
			h.contract.mu.Unlock()
		} else {
			h.contract.mu.Lock()
			delete(h.contract.waitErr, MethodEmitCascade)
			h.contract.mu.Unlock()
		}
		h.d.Handle(context.Background(), tx)
	}

	// Every claim is immediately preceded by a cascade for the same signal.
	h.contract.mu.Lock()
	defer h.contract.mu.Unlock()
	for i, c := range h.contract.calls {
		if c.method != MethodClaimYield {
			continue
		}
		require.Greater(t, i, 0)
		prev := h.contract.calls[i-1]
		assert.Equal(t, MethodEmitCascade, prev.method)
		assert.Equal(t, prev.args[0], c.args[0])
	}
}
