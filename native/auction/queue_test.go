package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrderAndContainsAuction(t *testing.T) {
	q := NewQueue("bid", nil)
	entry := AuctionEntry{PoolID: "p1", UserID: "u1", Type: Liquidation}
	q.Add(Submission{Kind: SubmissionBid, AuctionEntry: entry}, 10, 0)

	require.True(t, q.ContainsAuction(entry))
	require.False(t, q.ContainsAuction(AuctionEntry{PoolID: "p1", UserID: "u2", Type: Liquidation}))
	require.Equal(t, 1, q.Len())
}

func TestQueueRetryThenDrop(t *testing.T) {
	q := NewQueue("work", nil)
	var dropped []Submission
	q.onDrop = func(s Submission, reason string) {
		dropped = append(dropped, s)
	}
	q.Add(Submission{Kind: SubmissionAuctionCreation}, 2, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	attempts := 0
	q.Run(ctx, func(ctx context.Context, s Submission) SubmitOutcome {
		attempts++
		return OutcomeRetryable
	}, time.Millisecond)

	require.GreaterOrEqual(t, attempts, 2)
	require.Len(t, dropped, 1)
}

func TestQueuePercentMutationOnContractError(t *testing.T) {
	q := NewQueue("bid", nil)
	q.Add(Submission{Kind: SubmissionAuctionCreation, Percent: 50}, 3, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var seenPercents []int
	q.Run(ctx, func(ctx context.Context, s Submission) SubmitOutcome {
		seenPercents = append(seenPercents, s.Percent)
		if len(seenPercents) >= 2 {
			return OutcomeAccepted
		}
		return OutcomeLiqTooLarge
	}, time.Millisecond)

	require.GreaterOrEqual(t, len(seenPercents), 2)
	require.Equal(t, 50, seenPercents[0])
	require.Equal(t, 49, seenPercents[1])
}

func TestQueueUnrecoverableDropsWithoutConsumingRetries(t *testing.T) {
	q := NewQueue("bid", nil)
	var reasons []string
	q.onDrop = func(s Submission, reason string) { reasons = append(reasons, reason) }
	q.Add(Submission{Kind: SubmissionBid}, 5, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	calls := 0
	q.Run(ctx, func(ctx context.Context, s Submission) SubmitOutcome {
		calls++
		return OutcomeUnrecoverable
	}, time.Millisecond)

	require.Equal(t, 1, calls)
	require.Equal(t, []string{"unrecoverable"}, reasons)
}
