// Package match implements the FIFO matching engine. A newly placed wager
// (the taker) is paired against the oldest open opposing wagers (the makers)
// for the same event, splitting fills when sizes differ. Odds are fixed at
// 1:1, so matching is pure capacity allocation: no prices, no reordering.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pairwage/wager-engine/internal/locks"
	"github.com/pairwage/wager-engine/internal/model"
	"github.com/pairwage/wager-engine/internal/store"
)

// ErrEventClosed is returned when the event stopped accepting wagers between
// placement and matching (a lock or settlement won the event lock first).
var ErrEventClosed = errors.New("match: event not accepting wagers")

// Engine matches wagers within a single event. All matching for one event is
// serialized through the shared per-event lock, so two concurrent placements
// can never read the same stale list of makers and double-fill capacity.
type Engine struct {
	store  store.Store
	events *locks.KeyedMutex
}

// NewEngine creates a matching engine. The events lock must be the same
// instance used by cancellation and settlement.
func NewEngine(st store.Store, events *locks.KeyedMutex) *Engine {
	return &Engine{store: st, events: events}
}

// Match pairs the taker against open opposing wagers, oldest first, until the
// taker is exhausted or no opposing capacity remains. It persists every fill
// and both sides' updated amounts and statuses, and finalizes the taker's
// status. Triggered once, synchronously, at placement time.
//
// Matched funds stay committed on both sides: they are live, on-risk stakes
// until settlement. No ledger call happens here.
func (e *Engine) Match(ctx context.Context, taker *model.Wager) ([]model.Fill, error) {
	e.events.Lock(taker.EventID)
	defer e.events.Unlock(taker.EventID)

	// Re-check under the lock: a lock or settlement may have slipped in
	// between the placement-time check and here.
	event, err := e.store.GetEvent(ctx, taker.EventID)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	if !event.AcceptingWagers() {
		return nil, ErrEventClosed
	}

	makers, err := e.store.ListOpenWagers(ctx, taker.EventID, taker.Side.Opposite())
	if err != nil {
		return nil, fmt.Errorf("match: list open wagers: %w", err)
	}

	var fills []model.Fill
	for i := range makers {
		if taker.RemainingAmount == 0 {
			break
		}
		maker := &makers[i]
		if !maker.Matchable() {
			continue
		}

		amount := taker.RemainingAmount
		if maker.RemainingAmount < amount {
			amount = maker.RemainingAmount
		}

		if err := applyFill(maker, amount); err != nil {
			return fills, fmt.Errorf("match: maker %s: %w", maker.ID, err)
		}
		if err := e.store.UpdateWager(ctx, maker, maker.Version); err != nil {
			return fills, fmt.Errorf("match: update maker %s: %w", maker.ID, err)
		}

		taker.MatchedAmount += amount
		taker.RemainingAmount -= amount

		fill := model.Fill{
			ID:           uuid.New().String(),
			EventID:      taker.EventID,
			MakerWagerID: maker.ID,
			TakerWagerID: taker.ID,
			Amount:       amount,
			MatchedAt:    time.Now().UTC(),
		}
		if err := e.store.InsertFill(ctx, &fill); err != nil {
			return fills, fmt.Errorf("match: record fill: %w", err)
		}
		fills = append(fills, fill)
	}

	next := taker.Status
	switch {
	case taker.RemainingAmount == 0:
		next = model.WagerMatched
	case taker.MatchedAmount > 0:
		next = model.WagerPartiallyMatched
	}
	if next != taker.Status {
		if !taker.Status.CanTransitionTo(next) {
			return fills, fmt.Errorf("match: illegal taker transition %s → %s", taker.Status, next)
		}
		taker.Status = next
	}
	if err := e.store.UpdateWager(ctx, taker, taker.Version); err != nil {
		return fills, fmt.Errorf("match: update taker %s: %w", taker.ID, err)
	}

	return fills, nil
}

// applyFill moves amount from unmatched to matched on the maker and advances
// its status. Never exceeds the maker's remaining capacity.
func applyFill(w *model.Wager, amount int64) error {
	if amount <= 0 || amount > w.RemainingAmount {
		return fmt.Errorf("fill amount %d exceeds remaining %d", amount, w.RemainingAmount)
	}
	w.MatchedAmount += amount
	w.RemainingAmount -= amount

	next := model.WagerPartiallyMatched
	if w.RemainingAmount == 0 {
		next = model.WagerMatched
	}
	if !w.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s → %s", w.Status, next)
	}
	w.Status = next
	return nil
}
