// Package settle implements event settlement: once an outcome is known, every
// wager on the event is walked exactly once, winners are credited from the
// pooled losing stakes, draws are refunded, and unmatched remainders are
// released. Settlement is idempotent at the event level and resumable at the
// wager level.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairwage/wager-engine/internal/ledger"
	"github.com/pairwage/wager-engine/internal/locks"
	"github.com/pairwage/wager-engine/internal/model"
	"github.com/pairwage/wager-engine/internal/store"
)

// ErrAlreadySettled is returned when settlement is attempted on an event that
// has already been settled. Surfaced as a conflict, never silently skipped:
// a double payout is a critical invariant violation.
var ErrAlreadySettled = errors.New("settle: event already settled")

// Summary reports the result of settling one event.
type Summary struct {
	EventID       string        `json:"event_id"`
	Outcome       model.Outcome `json:"outcome"`
	WinnersCount  int           `json:"winners_count"`
	LosersCount   int           `json:"losers_count"`
	RefundedCount int           `json:"refunded_count"`
	TotalPaid     int64         `json:"total_paid"`
}

// Engine resolves events. It shares the per-event lock with matching and
// cancellation so no fill or cancel can interleave with settlement.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	events *locks.KeyedMutex
}

// NewEngine creates a settlement engine.
func NewEngine(st store.Store, l *ledger.Ledger, events *locks.KeyedMutex) *Engine {
	return &Engine{store: st, ledger: l, events: events}
}

// Settle applies outcome to every wager of the event and marks the event
// settled only after all wagers are processed. Wagers already in a terminal
// state are skipped, so a retry after a mid-batch failure resumes from the
// first unprocessed wager and never credits a wager twice.
//
// Per matched stake: winner receives matched × 2 into available (1:1 payout
// on the matched portion only), loser receives nothing (the stake was debited
// from available at reservation and implicitly funds the payout), draw
// returns matched into available. Unmatched remainders were never at risk
// and are released back to available.
func (e *Engine) Settle(ctx context.Context, eventID string, outcome model.Outcome) (*Summary, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("settle: unknown outcome %q", outcome)
	}

	e.events.Lock(eventID)
	defer e.events.Unlock(eventID)

	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	if event.Status == model.EventSettled {
		return nil, fmt.Errorf("%w: event %s", ErrAlreadySettled, eventID)
	}

	wagers, err := e.store.ListEventWagers(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("settle: list wagers: %w", err)
	}

	summary := &Summary{EventID: eventID, Outcome: outcome}
	winner, isWin := outcome.WinningSide()

	for i := range wagers {
		w := &wagers[i]
		if w.Status.Terminal() {
			// Already processed (earlier attempt) or cancelled; tally only.
			tally(summary, w.Status)
			continue
		}

		if err := e.settleWager(ctx, w, winner, isWin, summary); err != nil {
			// Abort the batch; progress so far is durable and the event is
			// still unsettled, so the caller can retry safely.
			return nil, fmt.Errorf("settle: wager %s: %w", w.ID, err)
		}
	}

	now := time.Now().UTC()
	event.Status = model.EventSettled
	event.Outcome = outcome
	event.SettledAt = &now
	if err := e.store.UpdateEvent(ctx, event, event.Version); err != nil {
		return nil, fmt.Errorf("settle: mark event settled: %w", err)
	}

	slog.Info("event settled",
		"event", eventID,
		"outcome", string(outcome),
		"winners", summary.WinnersCount,
		"losers", summary.LosersCount,
		"refunded", summary.RefundedCount,
		"total_paid", summary.TotalPaid,
	)
	return summary, nil
}

// settleWager finalizes a single wager: release the never-at-risk remainder,
// apply the outcome to the matched portion, then mark the wager terminal.
// The terminal status is the per-wager settled flag that makes retries safe.
func (e *Engine) settleWager(ctx context.Context, w *model.Wager, winner model.Side, isWin bool, summary *Summary) error {
	if w.RemainingAmount > 0 {
		if err := e.ledger.Release(ctx, w.OwnerID, w.RemainingAmount, w.ID); err != nil {
			return err
		}
		w.RemainingAmount = 0
		// Persist the zeroed remainder before touching the matched portion
		// so a retry after a partial failure cannot release it twice.
		if err := e.store.UpdateWager(ctx, w, w.Version); err != nil {
			return err
		}
	}

	var next model.WagerStatus
	switch {
	case w.MatchedAmount == 0:
		// Never at risk; remainder already released above.
		next = model.WagerRefunded

	case !isWin:
		if err := e.ledger.DebitFinal(ctx, w.OwnerID, w.MatchedAmount, w.ID); err != nil {
			return err
		}
		if err := e.ledger.Credit(ctx, w.OwnerID, w.MatchedAmount, model.TxRefundCredit, w.ID); err != nil {
			return err
		}
		next = model.WagerRefunded

	case w.Side == winner:
		if err := e.ledger.DebitFinal(ctx, w.OwnerID, w.MatchedAmount, w.ID); err != nil {
			return err
		}
		payout := w.MatchedAmount * 2
		if err := e.ledger.Credit(ctx, w.OwnerID, payout, model.TxPayoutCredit, w.ID); err != nil {
			return err
		}
		summary.TotalPaid += payout
		next = model.WagerWon

	default:
		// Losing stake: already removed from available at reservation; the
		// final debit retires it from committed. No credit.
		if err := e.ledger.DebitFinal(ctx, w.OwnerID, w.MatchedAmount, w.ID); err != nil {
			return err
		}
		next = model.WagerLost
	}

	if !w.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s → %s", w.Status, next)
	}
	now := time.Now().UTC()
	w.Status = next
	w.SettledAt = &now
	if err := e.store.UpdateWager(ctx, w, w.Version); err != nil {
		return err
	}

	tally(summary, next)
	return nil
}

func tally(s *Summary, status model.WagerStatus) {
	switch status {
	case model.WagerWon:
		s.WinnersCount++
	case model.WagerLost:
		s.LosersCount++
	case model.WagerRefunded:
		s.RefundedCount++
	}
}
