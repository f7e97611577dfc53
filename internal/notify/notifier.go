// Package notify forwards operator alerts to chat channels. Alerts are
// filtered by event type so operators only receive what they configured.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// Operator event types.
const (
	EventMarketCreated  = "market_created"
	EventMarketResolved = "market_resolved"
	EventTxConfirmed    = "tx_confirmed"
	EventTxFailed       = "tx_failed"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Explorer builds block-explorer links for a chain. Nil disables links.
type Explorer func(chainID uint64, txHash string) string

// Notifier dispatches alerts to every sender. An empty event list allows all
// events.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	explorer Explorer
	logger   *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithExplorer adds explorer links to tx alerts.
func (n *Notifier) WithExplorer(e Explorer) *Notifier {
	n.explorer = e
	return n
}

// Enabled reports whether event passes the filter.
func (n *Notifier) Enabled(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends an alert when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TxSettled alerts on a write action reaching a terminal state.
func (n *Notifier) TxSettled(ctx context.Context, rec domain.TxRecord) {
	var event, title string
	switch rec.State {
	case domain.TxStateConfirmed:
		event, title = EventTxConfirmed, "Transaction confirmed"
	case domain.TxStateFailed:
		event, title = EventTxFailed, "Transaction failed"
	default:
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s on chain %d", rec.Action, rec.ChainID)
	if rec.MarketID != nil {
		fmt.Fprintf(&b, ", market #%d", *rec.MarketID)
	}
	if rec.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", rec.Error)
	}
	if rec.Hash != "" {
		if url := n.txURL(rec.ChainID, rec.Hash, rec.ExplorerURL); url != "" {
			fmt.Fprintf(&b, "\n%s", url)
		} else {
			fmt.Fprintf(&b, "\ntx %s", rec.Hash)
		}
	}
	n.send(ctx, event, title, b.String())
}

// ChainEvent alerts on market lifecycle events seen by the indexer.
func (n *Notifier) ChainEvent(ctx context.Context, ev domain.ChainEvent) {
	var event, msg string
	switch ev.Name {
	case domain.EventMarketCreated:
		event = EventMarketCreated
		msg = fmt.Sprintf("Market #%d created", ev.MarketID)
		if q := ev.Fields["question"]; q != "" {
			msg += ": " + q
		}
	case domain.EventMarketResolved:
		event = EventMarketResolved
		outcome := "NO"
		if ev.Fields["outcome"] == "true" {
			outcome = "YES"
		}
		msg = fmt.Sprintf("Market #%d resolved %s", ev.MarketID, outcome)
	default:
		return
	}
	if url := n.txURL(ev.ChainID, ev.TxHash, ""); url != "" {
		msg += "\n" + url
	}
	n.send(ctx, event, "ChainBet", msg)
}

func (n *Notifier) txURL(chainID uint64, hash, known string) string {
	if known != "" {
		return known
	}
	if n.explorer == nil || hash == "" {
		return ""
	}
	return n.explorer(chainID, hash)
}

func (n *Notifier) send(ctx context.Context, event, title, message string) {
	if err := n.Notify(ctx, event, title, message); err != nil {
		n.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch delivers to every sender. One failing sender does not stop the
// rest; failures are joined.
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
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
