// Package notify forwards selected protocol events to operator chat channels.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// Sender delivers one alert to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier relays events from the signal bus to its senders. Only event
// types in the allow list are forwarded; an empty list forwards everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Run subscribes to every event channel and relays until ctx ends. Delivery
// failures are logged and do not stop the loop.
func (n *Notifier) Run(ctx context.Context, bus domain.SignalBus) error {
	events, err := bus.Subscribe(ctx, domain.EventChannelPrefix+"*")
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				n.logger.WarnContext(ctx, "undecodable event", slog.String("error", err.Error()))
				continue
			}
			_ = n.Notify(ctx, ev)
		}
	}
}

// Notify sends ev to every sender if its type is allowed.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to all senders; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// Format renders an event as an alert title and body.
func Format(ev domain.Event) (string, string) {
	title := strings.ReplaceAll(string(ev.Type), "_", " ")
	var lines []string
	if ev.MarketID != "" {
		lines = append(lines, "market: "+ev.MarketID)
	}
	if ev.BetID != "" {
		lines = append(lines, "bet: "+ev.BetID)
	}
	if ev.Actor != (domain.Identity{}) {
		lines = append(lines, "by: "+ev.Actor.Hex())
	}
	keys := make([]string, 0, len(ev.Attrs))
	for k := range ev.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+ev.Attrs[k])
	}
	return title, strings.Join(lines, "\n")
}
