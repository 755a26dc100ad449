package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Robeartt/auctioneer-bot-sub000/native/auction"
	"github.com/Robeartt/auctioneer-bot-sub000/rpcclient"
)

// transientErr is satisfied by errors the chain client can classify as
// transient (spec.md §7 tier 1).
type transientErr interface {
	IsTransient() bool
}

// Submit attempts to send one queued Submission to the chain, builds
// the appropriate request payload for its kind, polls for the result,
// and classifies the outcome per spec.md §7's error taxonomy. It is
// intended as the Submitter passed to both Worker queues' Run loop.
func (w *Worker) Submit(ctx context.Context, s auction.Submission) auction.SubmitOutcome {
	submitCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	tx := buildSubmissionTx(s)
	hash, status, err := w.Client.SendTransaction(submitCtx, tx)
	if err != nil {
		return classifySubmitError(err)
	}
	if strings.EqualFold(status, "ERROR") {
		return auction.OutcomeUnrecoverable
	}

	_, finalStatus, _, _, err := w.pollTransaction(submitCtx, hash)
	if err != nil {
		return classifySubmitError(err)
	}
	if !strings.EqualFold(finalStatus, "SUCCESS") {
		return classifyContractStatus(finalStatus)
	}

	w.onSubmitAccepted(ctx, s)
	return auction.OutcomeAccepted
}

// onSubmitAccepted runs the side effects a successful submission
// triggers: a successful bid enqueues the filler's position unwind on
// the bid queue (spec.md §4.7) and deletes the auction's tracking row.
// Other submission kinds trigger nothing. No filled_auctions record is
// written here.
func (w *Worker) onSubmitAccepted(ctx context.Context, s auction.Submission) {
	if s.Kind != auction.SubmissionBid {
		return
	}
	w.BidQueue.Add(auction.Submission{
		Kind:   auction.SubmissionUnwind,
		PoolID: s.PoolID,
		User:   s.Filler.Name,
	}, unwindQueueRetries, 0)

	if err := w.Store.DeleteAuction(ctx, s.PoolID, s.AuctionEntry.UserID, s.AuctionEntry.Type); err != nil {
		w.Logger.Warn("worker: delete filled auction entry failed", "pool", s.PoolID, "user", s.AuctionEntry.UserID, "error", err)
	}
}

func (w *Worker) pollTransaction(ctx context.Context, hash string) (uint32, string, string, string, error) {
	deadline := time.Now().Add(20 * time.Second)
	for {
		ledger, status, resultXDR, envelope, err := w.Client.GetTransaction(ctx, hash)
		if err == nil {
			return ledger, status, resultXDR, envelope, nil
		}
		if !errors.Is(err, rpcclient.ErrLedgerNotFound) || time.Now().After(deadline) {
			return 0, "", "", "", err
		}
		select {
		case <-ctx.Done():
			return 0, "", "", "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func classifySubmitError(err error) auction.SubmitOutcome {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.IsTransient() {
			return auction.OutcomeRetryable
		}
		return classifyContractStatus(rpcErr.Message)
	}
	var t transientErr
	if errors.As(err, &t) && t.IsTransient() {
		return auction.OutcomeRetryable
	}
	return auction.OutcomeRetryable
}

func classifyContractStatus(status string) auction.SubmitOutcome {
	upper := strings.ToUpper(status)
	switch {
	case strings.Contains(upper, "LIQ_TOO_SMALL"):
		return auction.OutcomeLiqTooSmall
	case strings.Contains(upper, "LIQ_TOO_LARGE"):
		return auction.OutcomeLiqTooLarge
	case strings.Contains(upper, "TRY_AGAIN_LATER"), strings.Contains(upper, "TIMEOUT"):
		return auction.OutcomeRetryable
	default:
		return auction.OutcomeUnrecoverable
	}
}

// buildSubmissionTx maps a Submission onto the generic transaction
// payload shape auction.ChainClient.SendTransaction expects. The map
// is handed to the chain client as-is; nothing in this module signs it
// or encodes it to XDR.
func buildSubmissionTx(s auction.Submission) interface{} {
	switch s.Kind {
	case auction.SubmissionBid:
		return map[string]interface{}{
			"op":      "fillAuction",
			"filler":  s.Filler.Name,
			"user":    s.AuctionEntry.UserID,
			"type":    s.AuctionEntry.Type.String(),
			"percent": 100,
		}
	case auction.SubmissionUnwind:
		return map[string]interface{}{
			"op":     "unwindPositions",
			"filler": s.User,
			"pool":   s.PoolID,
		}
	case auction.SubmissionAuctionCreation:
		return map[string]interface{}{
			"op":      "newAuction",
			"user":    s.User,
			"type":    s.Type.String(),
			"percent": s.Percent,
			"bid":     s.Bid,
			"lot":     s.Lot,
		}
	case auction.SubmissionBadDebtTransfer:
		return map[string]interface{}{
			"op":   "badDebtTransfer",
			"pool": s.PoolID,
			"user": s.User,
		}
	default:
		return nil
	}
}
