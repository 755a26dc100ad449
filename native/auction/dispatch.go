package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// EventKind identifies one of the Worker's event kinds (§4.9).
type EventKind string

const (
	EventValidatePools EventKind = "VALIDATE_POOLS"
	EventPriceUpdate   EventKind = "PRICE_UPDATE"
	EventOracleScan    EventKind = "ORACLE_SCAN"
	EventLiqScan       EventKind = "LIQ_SCAN"
	EventUserRefresh   EventKind = "USER_REFRESH"
	EventCheckUser     EventKind = "CHECK_USER"
	EventLedger        EventKind = "LEDGER"
)

// Event is one unit of work handed to the Worker's event dispatcher.
type Event struct {
	Kind      EventKind   `json:"kind"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// Handler processes one Event. An error triggers the dispatcher's
// retry/dead-letter behavior, except for EventValidatePools whose
// failure is always fatal.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher wraps an event Handler with bounded retries at a
// constant delay, appending permanently-failed events to a
// newline-delimited JSON dead-letter file (§4.9). VALIDATE_POOLS is
// excluded from this wrapper: its failure is fatal and propagates to
// the process root (spec.md §7, tier 5).
type Dispatcher struct {
	MaxRetries     int
	RetryDelay     time.Duration
	DeadLetterPath string

	mu sync.Mutex
}

// NewDispatcher constructs a Dispatcher with the given retry budget,
// constant retry delay, and dead-letter file path.
func NewDispatcher(maxRetries int, retryDelay time.Duration, deadLetterPath string) *Dispatcher {
	return &Dispatcher{
		MaxRetries:     maxRetries,
		RetryDelay:     retryDelay,
		DeadLetterPath: deadLetterPath,
	}
}

// Dispatch runs handler against ev, making up to MaxRetries attempts
// in total with a constant RetryDelay between attempts. If
// every attempt fails, the event is appended to the dead-letter file
// and the last error is returned. VALIDATE_POOLS bypasses retry and
// dead-lettering entirely; any error it returns is returned directly
// so the caller can treat it as fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, handler Handler) error {
	if ev.Kind == EventValidatePools {
		return handler(ctx, ev)
	}

	var lastErr error
	attempts := d.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = handler(ctx, ev)
		if lastErr == nil {
			return nil
		}
		sharedDispatchMetrics().recordRetry(string(ev.Kind))
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts
			case <-time.After(d.RetryDelay):
			}
		}
	}

	sharedDispatchMetrics().recordDeadLetter(string(ev.Kind))
	if err := d.writeDeadLetter(ev); err != nil {
		return fmt.Errorf("dispatch: handler failed (%w) and dead-letter write failed: %v", lastErr, err)
	}
	return fmt.Errorf("dispatch: event %s permanently failed and was dead-lettered: %w", ev.Kind, lastErr)
}

// deadLetterRecord is the dead-letter file's line shape: the failed
// event plus a generated ID an operator can grep for across logs.
type deadLetterRecord struct {
	ID string `json:"id"`
	Event
}

func (d *Dispatcher) writeDeadLetter(ev Event) error {
	if d.DeadLetterPath == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	line, err := json.Marshal(deadLetterRecord{ID: uuid.NewString(), Event: ev})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(d.DeadLetterPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

var (
	dispatchMetricsOnce sync.Once
	sharedDispatch      *dispatchMetrics
)

// dispatchMetrics counts handler retries and permanent (dead-lettered)
// failures per event kind, the same shared-meter-with-noop-fallback
// shape queueMetrics uses for submission outcomes.
type dispatchMetrics struct {
	retries    metric.Int64Counter
	deadLetter metric.Int64Counter
}

func sharedDispatchMetrics() *dispatchMetrics {
	dispatchMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("auctionbot/native/auction")
		retries, err := meter.Int64Counter("auctionbot.dispatch.retries")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("auctionbot/native/auction")
			retries, _ = fallback.Int64Counter("auctionbot.dispatch.retries")
		}
		deadLetter, err := meter.Int64Counter("auctionbot.dispatch.deadletters")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("auctionbot/native/auction")
			deadLetter, _ = fallback.Int64Counter("auctionbot.dispatch.deadletters")
		}
		sharedDispatch = &dispatchMetrics{retries: retries, deadLetter: deadLetter}
	})
	return sharedDispatch
}

func (m *dispatchMetrics) recordRetry(kind string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *dispatchMetrics) recordDeadLetter(kind string) {
	if m == nil || m.deadLetter == nil {
		return
	}
	m.deadLetter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}
