package auction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// SubmitOutcome classifies the result of attempting to submit one
// queued Submission, driving the dispatcher's retry/drop/mutate
// decision (spec.md §7).
type SubmitOutcome int

const (
	// OutcomeAccepted means the chain accepted the submission; drop it.
	OutcomeAccepted SubmitOutcome = iota
	// OutcomeRetryable is a transient failure (RPC timeout, network,
	// TRY_AGAIN_LATER): decrement the retry budget and re-enqueue.
	OutcomeRetryable
	// OutcomeLiqTooSmall is the known contract error InvalidLiqTooSmall:
	// increase percent by 1 (clamped) and retry.
	OutcomeLiqTooSmall
	// OutcomeLiqTooLarge is the known contract error InvalidLiqTooLarge:
	// decrease percent by 1 (clamped) and retry.
	OutcomeLiqTooLarge
	// OutcomeUnrecoverable drops the submission immediately without
	// consuming a retry (a data/type error, not worth retrying).
	OutcomeUnrecoverable
)

// Submitter attempts to execute one submission against the chain.
type Submitter func(ctx context.Context, s Submission) SubmitOutcome

// DropHook is invoked whenever a submission is permanently dropped,
// either by exhausting its retry budget or being unrecoverable.
type DropHook func(s Submission, reason string)

// Queue is a single-threaded-dispatch, FIFO, in-process submission
// queue with retry/backoff/drop semantics (§4.7). Two independent
// instances exist in a running Worker: the work queue (auction
// creation, bad-debt transfer) and the bid queue (bid, unwind).
type Queue struct {
	mu       sync.Mutex
	items    []queuedSubmission
	sequence atomic.Int64
	name     string
	metrics  *queueMetrics
	onDrop   DropHook
}

type queuedSubmission struct {
	submission Submission
	notBefore  time.Time
}

// NewQueue constructs an empty queue. name tags its OTEL metrics
// (e.g. "work", "bid") so the two instances are distinguishable.
func NewQueue(name string, onDrop DropHook) *Queue {
	return &Queue{
		name:    name,
		metrics: sharedQueueMetrics(),
		onDrop:  onDrop,
	}
}

// Add enqueues a submission with the given retry budget and an
// optional delay before it becomes eligible for dispatch.
func (q *Queue) Add(s Submission, retries int, delay time.Duration) {
	s.RetriesRemaining = retries
	s.Sequence = q.sequence.Add(1)
	q.mu.Lock()
	defer q.mu.Unlock()
	notBefore := time.Time{}
	if delay > 0 {
		notBefore = time.Now().Add(delay)
	}
	q.items = append(q.items, queuedSubmission{submission: s, notBefore: notBefore})
}

// ContainsAuction reports whether a bid submission for the given
// auction entry is already queued, avoiding a double-enqueue.
func (q *Queue) ContainsAuction(entry AuctionEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		s := item.submission
		if s.Kind != SubmissionBid {
			continue
		}
		if s.AuctionEntry.PoolID == entry.PoolID &&
			s.AuctionEntry.UserID == entry.UserID &&
			s.AuctionEntry.Type == entry.Type {
			return true
		}
	}
	return false
}

// ContainsBadDebtTransfer reports whether a bad-debt-transfer
// submission for the given pool/user pair is already queued.
func (q *Queue) ContainsBadDebtTransfer(poolID, user string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		s := item.submission
		if s.Kind == SubmissionBadDebtTransfer && s.PoolID == poolID && s.User == user {
			return true
		}
	}
	return false
}

// Len reports the number of queued submissions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) dequeue() (queuedSubmission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedSubmission{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

func (q *Queue) requeue(item queuedSubmission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Run drives the single-threaded dispatcher loop until ctx is
// cancelled: dequeue head, attempt submit, apply the retry/mutate/drop
// decision, repeat. pollDelay bounds how long the loop sleeps when the
// queue is empty.
func (q *Queue) Run(ctx context.Context, submit Submitter, pollDelay time.Duration) {
	if pollDelay <= 0 {
		pollDelay = 25 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollDelay):
				continue
			}
		}

		if delay := time.Until(item.notBefore); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		outcome := submit(ctx, item.submission)
		q.applyOutcome(item, outcome)
	}
}

func (q *Queue) applyOutcome(item queuedSubmission, outcome SubmitOutcome) {
	s := item.submission
	switch outcome {
	case OutcomeAccepted:
		q.metrics.recordOutcome(q.name, "accepted")
		return

	case OutcomeUnrecoverable:
		q.metrics.recordOutcome(q.name, "dropped_unrecoverable")
		if q.onDrop != nil {
			q.onDrop(s, "unrecoverable")
		}
		return

	case OutcomeLiqTooSmall:
		s.Percent = clampInt(s.Percent+1, 1, 100)
	case OutcomeLiqTooLarge:
		s.Percent = clampInt(s.Percent-1, 1, 100)
	}

	s.RetriesRemaining--
	if s.RetriesRemaining <= 0 {
		q.metrics.recordOutcome(q.name, "dropped_exhausted")
		if q.onDrop != nil {
			q.onDrop(s, "retries exhausted")
		}
		return
	}

	q.metrics.recordOutcome(q.name, "retried")
	item.submission = s
	item.notBefore = time.Time{}
	q.requeue(item)
}

var (
	queueMetricsOnce sync.Once
	sharedMetrics    *queueMetrics
)

type queueMetrics struct {
	outcomes metric.Int64Counter
}

func sharedQueueMetrics() *queueMetrics {
	queueMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("auctionbot/native/auction")
		counter, err := meter.Int64Counter("auctionbot.queue.outcomes")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("auctionbot/native/auction")
			counter, _ = fallback.Int64Counter("auctionbot.queue.outcomes")
		}
		sharedMetrics = &queueMetrics{outcomes: counter}
	})
	return sharedMetrics
}

func (m *queueMetrics) recordOutcome(queue, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("outcome", outcome),
		))
}
