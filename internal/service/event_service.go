// Package service fans dispatch events out to the persistence, messaging,
// and notification backends.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
)

// EventAuditor records a dispatch event in the audit log.
type EventAuditor interface {
	LogEvent(ctx context.Context, ev domain.DispatchEvent) error
}

// EventExporter forwards events to an external stream such as Kafka.
type EventExporter interface {
	Emit(ctx context.Context, ev domain.DispatchEvent) error
}

// EventNotifier delivers events to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.DispatchEvent) error
}

// Sinks lists the event backends. Any field may be nil.
type Sinks struct {
	Signals  domain.SignalStore
	Audit    EventAuditor
	Bus      domain.SignalBus
	Channel  string
	Log      domain.EventLog
	Exporter EventExporter
	Notifier EventNotifier
}

const (
	// SinkTimeout bounds each in-line sink call, so Emit blocks the
	// dispatcher for at most four of these.
	SinkTimeout = 5 * time.Second

	// DefaultQueueSize is the number of events that may wait for the
	// exporter and notifier before new ones are dropped.
	DefaultQueueSize = 1024

	drainTimeout = 10 * time.Second
)

// EventService implements executor.EventSink. The ledger, audit, bus and
// event log are written in line, each under SinkTimeout. The exporter and
// notifier run on a background queue drained by Run, in emit order.
// Backend failures are logged and never reach the dispatcher.
type EventService struct {
	sinks  Sinks
	queue  chan domain.DispatchEvent
	logger *slog.Logger
}

var _ executor.EventSink = (*EventService)(nil)

// NewEventService creates an EventService over the given sinks. A
// queueSize of zero or less uses DefaultQueueSize.
func NewEventService(sinks Sinks, queueSize int, logger *slog.Logger) *EventService {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &EventService{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "event_service")),
	}
	if sinks.Exporter != nil || sinks.Notifier != nil {
		s.queue = make(chan domain.DispatchEvent, queueSize)
	}
	return s
}

// Emit writes ev to the in-line sinks in order (ledger, audit, bus, event
// log) and queues it for the exporter and notifier. A full queue drops the
// event for those two sinks only.
func (s *EventService) Emit(ctx context.Context, ev domain.DispatchEvent) {
	if s.sinks.Signals != nil {
		s.warn(ctx, ev, "ledger", s.bounded(ctx, func(ctx context.Context) error {
			return s.record(ctx, ev)
		}))
	}
	if s.sinks.Audit != nil {
		s.warn(ctx, ev, "audit", s.bounded(ctx, func(ctx context.Context) error {
			return s.sinks.Audit.LogEvent(ctx, ev)
		}))
	}

	if s.sinks.Bus != nil || s.sinks.Log != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.warn(ctx, ev, "marshal", err)
		} else {
			if s.sinks.Bus != nil {
				s.warn(ctx, ev, "bus", s.bounded(ctx, func(ctx context.Context) error {
					return s.sinks.Bus.Publish(ctx, s.sinks.Channel, payload)
				}))
			}
			if s.sinks.Log != nil {
				s.warn(ctx, ev, "event_log", s.bounded(ctx, func(ctx context.Context) error {
					return s.sinks.Log.Append(ctx, payload)
				}))
			}
		}
	}

	if s.queue == nil {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.logger.WarnContext(ctx, "event queue full, dropping export and notification",
			slog.String("kind", string(ev.Kind)),
			slog.String("signal_hash", ev.SignalHash.Hex()),
		)
	}
}

// Run delivers queued events to the exporter and notifier until ctx is
// cancelled, then flushes what is still queued under a short deadline.
func (s *EventService) Run(ctx context.Context) error {
	if s.queue == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			s.drain(ctx)
			return nil
		case ev := <-s.queue:
			s.deliver(ctx, ev)
		}
	}
}

func (s *EventService) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-s.queue:
			s.deliver(dctx, ev)
		default:
			return
		}
	}
}

func (s *EventService) deliver(ctx context.Context, ev domain.DispatchEvent) {
	if s.sinks.Exporter != nil {
		s.warn(ctx, ev, "exporter", s.sinks.Exporter.Emit(ctx, ev))
	}
	if s.sinks.Notifier != nil {
		s.warn(ctx, ev, "notifier", s.sinks.Notifier.NotifyEvent(ctx, ev))
	}
}

func (s *EventService) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, SinkTimeout)
	defer cancel()
	return fn(ctx)
}

// record applies the ledger transition for ev:
// novel inserts, cascade and claim advance the status, a failed call marks
// the row failed along with the hash of the call that failed.
func (s *EventService) record(ctx context.Context, ev domain.DispatchEvent) error {
	switch ev.Kind {
	case domain.EventSignalNovel:
		return s.sinks.Signals.Insert(ctx, domain.SignalRecord{
			Hash:       ev.SignalHash,
			Signal:     ev.Signal,
			TxHash:     ev.TxHash,
			Pool:       ev.Pool,
			RoyaltyBps: ev.RoyaltyBps,
			Status:     domain.SignalStatusNovel,
			CreatedAt:  ev.At,
		})
	case domain.EventCascadeEmitted:
		return s.sinks.Signals.Update(ctx, ev.SignalHash, domain.SignalUpdate{
			Status:    domain.SignalStatusCascaded,
			CascadeTx: ev.CallTx,
		})
	case domain.EventYieldClaimed:
		return s.sinks.Signals.Update(ctx, ev.SignalHash, domain.SignalUpdate{
			Status:  domain.SignalStatusClaimed,
			ClaimTx: ev.CallTx,
		})
	case domain.EventCallFailed:
		upd := domain.SignalUpdate{Status: domain.SignalStatusFailed, Error: ev.Error}
		if ev.Method == executor.MethodClaimYield {
			upd.ClaimTx = ev.CallTx
		} else {
			upd.CascadeTx = ev.CallTx
		}
		return s.sinks.Signals.Update(ctx, ev.SignalHash, upd)
	}
	return nil
}

func (s *EventService) warn(ctx context.Context, ev domain.DispatchEvent, sink string, err error) {
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "event sink failed",
		slog.String("sink", sink),
		slog.String("kind", string(ev.Kind)),
		slog.String("signal_hash", ev.SignalHash.Hex()),
		slog.String("error", err.Error()),
	)
}
