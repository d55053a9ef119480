// Package notify delivers dispatch events to operator channels. Every
// registered sender receives each event whose kind is in the allowed set.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// Message is one notification. Event is nil for free-form notices.
type Message struct {
	Title string
	Body  string
	Event *domain.DispatchEvent
}

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name identifies the channel in logs ("telegram", "discord").
	Name() string
}

// Notifier dispatches messages to one or more Senders. NotifyEvent forwards
// only events whose kind is allowed, NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every kind.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		allowed[domain.EventKind(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent formats ev and sends it if its kind is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.DispatchEvent) error {
	if len(n.events) > 0 && !n.events[ev.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Kind)))
		return nil
	}
	msg := FormatEvent(ev)
	return n.dispatch(ctx, msg)
}

// NotifyAll sends a free-form message regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, body string) error {
	return n.dispatch(ctx, Message{Title: title, Body: body})
}

// dispatch sends to every sender. One sender failing does not stop delivery
// to the rest; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// FormatEvent renders ev as a human-readable message.
func FormatEvent(ev domain.DispatchEvent) Message {
	var title string
	switch ev.Kind {
	case domain.EventSignalNovel:
		title = "New signal"
	case domain.EventCascadeEmitted:
		title = "Cascade emitted"
	case domain.EventYieldClaimed:
		title = "Yield claimed"
	case domain.EventCallFailed:
		title = "Contract call failed"
	default:
		title = string(ev.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "signal: %s\n", ev.SignalHash.Hex())
	fmt.Fprintf(&b, "tx: %s\n", ev.TxHash.Hex())
	fmt.Fprintf(&b, "pool: %s\n", ev.Pool.Hex())
	fmt.Fprintf(&b, "royalty: %d bps", ev.RoyaltyBps)
	if ev.Method != "" {
		fmt.Fprintf(&b, "\nmethod: %s", ev.Method)
	}
	if ev.CallTx != nil {
		fmt.Fprintf(&b, "\ncall tx: %s", ev.CallTx.Hex())
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", ev.Error)
	}

	return Message{Title: title, Body: b.String(), Event: &ev}
}
