// Package events defines the domain events emitted by ledger and deal
// operations, and the Notifier contract used to deliver them.
//
// Events are produced inside a unit of work but only handed to a Notifier
// after it commits. Delivery is fire-and-forget: a Notifier never reports
// failure back to the operation that produced the event.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/dealdesk/internal/idgen"
	"github.com/mbd888/dealdesk/internal/metrics"
)

// Type names an event.
type Type string

const (
	DealCreated          Type = "deal.created"
	ItemSent             Type = "deal.item_sent"
	DealCompleted        Type = "deal.completed"
	DisputeOpened        Type = "dispute.opened"
	DisputeMessagePosted Type = "dispute.message_posted"
	DisputeResolved      Type = "dispute.resolved"
	BalanceAdjusted      Type = "balance.adjusted"
	WithdrawalRequested  Type = "balance.withdrawal_requested"
	AccountBanned        Type = "account.banned"
)

// Event is a fact about a committed state change.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	DealID     string         `json:"dealId,omitempty"`
	AccountID  string         `json:"accountId,omitempty"`
	Recipients []string       `json:"recipients"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// New builds an event addressed to recipients. Empty and duplicate
// recipients are dropped.
func New(t Type, at time.Time, recipients ...string) Event {
	return Event{
		ID:         idgen.New(),
		Type:       t,
		Recipients: dedupe(recipients),
		Data:       map[string]any{},
		OccurredAt: at,
	}
}

// IsFor reports whether accountID is one of the event's recipients.
func (e Event) IsFor(accountID string) bool {
	for _, r := range e.Recipients {
		if r == accountID {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Notifier receives committed events.
type Notifier interface {
	Notify(ctx context.Context, evs []Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evs []Event)

func (f NotifierFunc) Notify(ctx context.Context, evs []Event) { f(ctx, evs) }

// Fanout delivers to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, evs []Event) {
	for _, n := range f {
		Publish(ctx, n, evs)
	}
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, []Event) {})

// LogNotifier writes each event to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs events at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, evs []Event) {
	for _, ev := range evs {
		l.logger.InfoContext(ctx, "domain event",
			"event_id", ev.ID,
			"type", string(ev.Type),
			"deal_id", ev.DealID,
			"account_id", ev.AccountID,
			"recipients", ev.Recipients,
		)
	}
	metrics.EventsPublishedTotal.WithLabelValues("log", "ok").Add(float64(len(evs)))
}

// Publish hands evs to n. A nil notifier or empty batch is a no-op, and a
// panicking notifier is contained so it cannot fail the caller.
func Publish(ctx context.Context, n Notifier, evs []Event) {
	if n == nil || len(evs) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Default().ErrorContext(ctx, "panic in event notifier", "panic", fmt.Sprint(r))
			metrics.EventsPublishedTotal.WithLabelValues("notifier", "panic").Inc()
		}
	}()
	n.Notify(ctx, evs)
}
