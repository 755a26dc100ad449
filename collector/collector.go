// Package collector implements the Collector process: it polls the
// chain for new ledgers and contract events and fans them out to the
// Worker process over an in-process EventSink, rather than a network
// transport (see SPEC_FULL.md §2's Collector/Worker IPC decision).
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
)

// EventSink receives events the Collector produces. In this
// implementation it is always backed by a ChannelSink running in the
// same process as the Worker; the interface exists so the boundary
// stays explicit and testable.
type EventSink interface {
	Publish(ctx context.Context, ev auction.Event) error
}

// ChannelSink is the in-process EventSink implementation: it forwards
// every published event onto a buffered channel the Worker drains.
type ChannelSink struct {
	events chan auction.Event
}

// NewChannelSink constructs a ChannelSink with the given buffer
// capacity. A full channel blocks Publish until the Worker drains it,
// which is the desired back-pressure behavior for a single-ledger-tick
// producer.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity <= 0 {
		capacity = 64
	}
	return &ChannelSink{events: make(chan auction.Event, capacity)}
}

// Publish implements EventSink.
func (c *ChannelSink) Publish(ctx context.Context, ev auction.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the channel the Worker should range over to consume
// published events.
func (c *ChannelSink) Events() <-chan auction.Event {
	return c.events
}

// Close signals no further events will be published.
func (c *ChannelSink) Close() {
	close(c.events)
}

// Collector polls the chain once per tick and fans out the ledger
// advance plus any new contract events as auction.Event values.
type Collector struct {
	Client       auction.ChainClient
	Sink         EventSink
	PollInterval time.Duration
	Logger       *slog.Logger
	EventLimit   int
}

// New constructs a Collector with the given dependencies.
func New(client auction.ChainClient, sink EventSink, pollInterval time.Duration, logger *slog.Logger) *Collector {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{Client: client, Sink: sink, PollInterval: pollInterval, Logger: logger, EventLimit: 200}
}

// Run blocks, polling the chain until the context is cancelled. Each
// tick that observes a new ledger publishes any contract events fetched
// for the ledger range just crossed, followed by a LEDGER event.
func (c *Collector) Run(ctx context.Context, startLedger uint32) error {
	cursor := ""
	lastLedger := startLedger

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		latest, err := c.Client.GetLatestLedger(ctx)
		if err != nil {
			c.Logger.Warn("collector: getLatestLedger failed", "error", err)
			continue
		}
		if latest <= lastLedger {
			continue
		}

		events, newCursor, err := c.pollEvents(ctx, lastLedger+1, cursor)
		if err != nil {
			c.Logger.Warn("collector: getEvents failed", "error", err)
		} else {
			cursor = newCursor
			for _, ev := range events {
				if err := c.Sink.Publish(ctx, ev); err != nil {
					return fmt.Errorf("collector: publish event: %w", err)
				}
			}
		}

		if err := c.Sink.Publish(ctx, auction.Event{
			Kind:      auction.EventLedger,
			Payload:   latest,
			Timestamp: time.Now().Unix(),
		}); err != nil {
			return fmt.Errorf("collector: publish ledger event: %w", err)
		}
		lastLedger = latest
	}
}

// pollEvents fetches contract events since startLedger, returning them
// decoded as auction.Event values along with the pagination cursor to
// resume from on the next tick.
func (c *Collector) pollEvents(ctx context.Context, startLedger uint32, cursor string) ([]auction.Event, string, error) {
	raw, err := c.Client.GetEvents(ctx, startLedger, nil, cursor, c.EventLimit)
	if err != nil {
		return nil, cursor, err
	}
	page, ok := raw.(map[string]interface{})
	if !ok {
		return nil, cursor, nil
	}
	nextCursor, _ := page["cursor"].(string)

	rawEvents, _ := page["events"].([]interface{})
	out := make([]auction.Event, 0, len(rawEvents))
	now := time.Now().Unix()
	for _, re := range rawEvents {
		m, ok := re.(map[string]interface{})
		if !ok {
			continue
		}
		kind, _ := m["type"].(string)
		out = append(out, auction.Event{Kind: auction.EventKind(kind), Payload: m, Timestamp: now})
	}
	return out, nextCursor, nil
}
