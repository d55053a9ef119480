// Package executor turns qualifying pending transactions into the on-chain
// emitCascade / claimYield call sequence, at most once per unique signal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/filter"
	"github.com/alanyoungcy/cascadebot/internal/metrics"
	"github.com/alanyoungcy/cascadebot/internal/royalty"
	"github.com/alanyoungcy/cascadebot/internal/signal"
)

// Contract method names.
const (
	MethodEmitCascade = "emitCascade"
	MethodClaimYield  = "claimYield"
)

// DefaultCallTimeout bounds the emitCascade / claimYield sequence of one
// signal, receipts included.
const DefaultCallTimeout = 10 * time.Minute

// Outcome is the terminal state of one transaction's trip through the
// dispatcher.
type Outcome string

const (
	OutcomeFiltered      Outcome = "filtered"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeCascadeFailed Outcome = "cascade_failed"
	OutcomeClaimFailed   Outcome = "claim_failed"
	OutcomeClaimed       Outcome = "claimed"
)

// Result describes what happened to a transaction.
type Result struct {
	Outcome Outcome
	Reason  filter.Reason
	Signal  domain.Signal
	Tier    royalty.Tier
	Err     error
}

// EventSink receives dispatch events. Implementations must not block for
// long and must handle their own failures.
type EventSink interface {
	Emit(ctx context.Context, ev domain.DispatchEvent)
}

// Config bundles the dispatcher collaborators.
type Config struct {
	Rules    filter.Rules
	Codec    *signal.Codec
	Seen     domain.SeenSet
	Royalty  royalty.Policy
	Contract domain.ContractInvoker
	GasPrice *big.Int
	Events   EventSink
	Metrics  *metrics.Metrics
	// CallTimeout bounds the call sequence once a signal is novel. It is
	// independent of the caller's deadline. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration
}

// Dispatcher is stateless apart from the shared seen-set and is safe to call
// from any number of goroutines.
type Dispatcher struct {
	rules    filter.Rules
	codec    *signal.Codec
	seen     domain.SeenSet
	royalty  royalty.Policy
	contract domain.ContractInvoker
	gasPrice *big.Int
	events   EventSink
	metrics  *metrics.Metrics
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. Events and Metrics may be nil.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	gasPrice := cfg.GasPrice
	if gasPrice != nil {
		gasPrice = new(big.Int).Set(gasPrice)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Dispatcher{
		rules:    cfg.Rules,
		codec:    cfg.Codec,
		seen:     cfg.Seen,
		royalty:  cfg.Royalty,
		contract: cfg.Contract,
		gasPrice: gasPrice,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Handle runs tx through filter, signal, dedup, royalty and the two-step
// call sequence. Failures are logged and reported in the Result; they never
// roll back the seen-set.
func (d *Dispatcher) Handle(ctx context.Context, tx domain.PendingTx) Result {
	log := d.logger.With(slog.String("tx_hash", tx.Hash.Hex()))

	// 1. Filter.
	if reason := d.rules.Check(tx); reason != filter.Accepted {
		d.metrics.Filtered(string(reason))
		log.DebugContext(ctx, "transaction skipped", slog.String("reason", string(reason)))
		return Result{Outcome: OutcomeFiltered, Reason: reason}
	}

	// 2. Signal.
	sig := d.codec.Build(tx)
	log = log.With(slog.String("signal_hash", sig.Hash.Hex()))

	// 3. Dedup. Insertion is the only gate for dispatch.
	novel, err := d.seen.InsertIfAbsent(ctx, sig.Hash)
	if !novel {
		d.metrics.Duplicate()
		if err != nil {
			log.WarnContext(ctx, "seen-set error, signal not dispatched", slog.String("error", err.Error()))
		} else {
			log.DebugContext(ctx, "duplicate signal, skipping")
		}
		return Result{Outcome: OutcomeDuplicate, Signal: sig, Err: err}
	}

	// 4. Royalty.
	tier := d.royalty.TierFor(tx.Value)
	log.InfoContext(ctx, "signal emitted",
		slog.String("signal", sig.Text),
		slog.String("tier", string(tier.Name)),
		slog.Uint64("royalty_bps", tier.Bps),
	)

	base := domain.DispatchEvent{
		SignalHash: sig.Hash,
		Signal:     sig.Text,
		TxHash:     tx.Hash,
		RoyaltyBps: tier.Bps,
	}
	if tx.To != nil {
		base.Pool = *tx.To
	}
	d.emit(ctx, base, domain.EventSignalNovel, "", nil, nil)

	start := time.Now()
	defer func() { d.metrics.ObserveDispatch(time.Since(start)) }()

	// The signal is now recorded as seen, so the sequence must not be cut
	// short by the caller's deadline: a cascade mined late still gets its
	// claim. CallTimeout is the only bound from here on.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	// 5. emitCascade(signal, royaltyBps).
	cascadeTx, err := d.call(ctx, MethodEmitCascade, sig.Text, new(big.Int).SetUint64(tier.Bps))
	d.metrics.Call("cascade", err == nil)
	if err != nil {
		log.ErrorContext(ctx, "emitCascade failed", slog.String("error", err.Error()))
		d.emit(ctx, base, domain.EventCallFailed, MethodEmitCascade, cascadeTx, err)
		return Result{Outcome: OutcomeCascadeFailed, Signal: sig, Tier: tier, Err: err}
	}
	log.InfoContext(ctx, "cascade emitted", slog.String("call_tx", cascadeTx.Hex()))
	d.emit(ctx, base, domain.EventCascadeEmitted, MethodEmitCascade, cascadeTx, nil)

	// 6. claimYield(signal), only after a successful cascade.
	claimTx, err := d.call(ctx, MethodClaimYield, sig.Text)
	d.metrics.Call("claim", err == nil)
	if err != nil {
		log.ErrorContext(ctx, "claimYield failed", slog.String("error", err.Error()))
		d.emit(ctx, base, domain.EventCallFailed, MethodClaimYield, claimTx, err)
		return Result{Outcome: OutcomeClaimFailed, Signal: sig, Tier: tier, Err: err}
	}
	log.InfoContext(ctx, "yield claimed",
		slog.String("signal", sig.Text),
		slog.String("call_tx", claimTx.Hex()),
	)
	d.emit(ctx, base, domain.EventYieldClaimed, MethodClaimYield, claimTx, nil)

	return Result{Outcome: OutcomeClaimed, Signal: sig, Tier: tier}
}

// call submits one contract call at the fixed gas price and waits for it.
// The returned hash is nil when nothing was submitted.
func (d *Dispatcher) call(ctx context.Context, method string, args ...any) (*common.Hash, error) {
	sub, err := d.contract.Invoke(ctx, method, d.gasPrice, args...)
	if err != nil {
		return nil, fmt.Errorf("executor: submit %s: %w", method, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("executor: submit %s: %w", method, errors.New("no submission returned"))
	}
	h := sub.TxHash()
	if err := sub.Wait(ctx); err != nil {
		return &h, fmt.Errorf("executor: wait %s: %w", method, err)
	}
	return &h, nil
}

func (d *Dispatcher) emit(ctx context.Context, base domain.DispatchEvent, kind domain.EventKind, method string, callTx *common.Hash, err error) {
	if d.events == nil {
		return
	}
	ev := base
	ev.ID = uuid.New().String()
	ev.Kind = kind
	ev.Method = method
	ev.CallTx = callTx
	ev.At = time.Now().UTC()
	if err != nil {
		ev.Error = err.Error()
	}
	d.events.Emit(ctx, ev)
}
