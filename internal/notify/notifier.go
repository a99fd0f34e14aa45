// Package notify forwards auction lifecycle events to operator channels
// (Telegram, Discord). Events are filtered by type so operators receive only
// the alerts they care about, typically graduations and withdrawals.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/superpull/auctiond/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier renders auction events into human-readable alerts and dispatches
// them to one or more Senders. It maintains a set of allowed event types;
// HandleEvent drops events whose type is not in the set.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in the events slice are forwarded; an empty slice allows
// all types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// HandleEvent renders and dispatches a single auction event. Events outside
// the configured filter are dropped silently.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(ev.Type)),
		)
		return nil
	}

	title, message, err := render(ev)
	if err != nil {
		return fmt.Errorf("notify: render %s: %w", ev.Type, err)
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form notification to all senders regardless of the
// event filter. Used for operational alerts (startup, shutdown, errors).
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// render formats an event into a title and message body per event type.
func render(ev domain.Event) (title, message string, err error) {
	switch ev.Type {
	case domain.EventAuctionCreated:
		var p domain.AuctionCreatedPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			return "", "", err
		}
		title = "Auction created"
		message = fmt.Sprintf("auction %s by %s: base price %d, increment %d, max supply %d",
			ev.AuctionID, p.Authority, p.BasePrice, p.PriceIncrement, p.MaxSupply)

	case domain.EventAuctionGraduated:
		var p domain.AuctionGraduatedPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			return "", "", err
		}
		title = "Auction graduated"
		message = fmt.Sprintf("auction %s reached %d items with %d locked",
			p.Auction, p.TotalItems, p.TotalValueLocked)

	case domain.EventBidPlaced:
		var p domain.BidPlacedPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			return "", "", err
		}
		title = "Bid placed"
		message = fmt.Sprintf("auction %s: %s paid %d (supply now %d)",
			p.Auction, p.Bidder, p.Amount, p.NewSupply)

	case domain.EventBidRefunded:
		var p domain.BidRefundedPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			return "", "", err
		}
		title = "Bid refunded"
		message = fmt.Sprintf("auction %s: refunded %d to %s", p.Auction, p.Amount, p.Bidder)

	case domain.EventFundsWithdrawn:
		var p domain.FundsWithdrawnPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			return "", "", err
		}
		title = "Funds withdrawn"
		message = fmt.Sprintf("auction %s: %s withdrew %d", p.Auction, p.Authority, p.Amount)

	default:
		title = string(ev.Type)
		message = fmt.Sprintf("auction %s: %s", ev.AuctionID, string(ev.Payload))
	}
	return title, message, nil
}

// dispatch iterates over all senders. Errors from individual senders are
// collected and returned combined; one failure does not prevent delivery to
// the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
