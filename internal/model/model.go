// Package model defines the core domain types shared across the wager engine.
// All monetary values are int64 minor units (cents) — never floats for money.
package model

import "time"

// Side is one of the two outcomes of a binary event.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Outcome is the resolution of an event.
type Outcome string

const (
	OutcomeSideA Outcome = "side_a"
	OutcomeSideB Outcome = "side_b"
	OutcomeDraw  Outcome = "draw"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSideA || o == OutcomeSideB || o == OutcomeDraw
}

// WinningSide returns the side paid under this outcome, and false on a draw.
func (o Outcome) WinningSide() (Side, bool) {
	switch o {
	case OutcomeSideA:
		return SideA, true
	case OutcomeSideB:
		return SideB, true
	}
	return "", false
}

// EventStatus is the lifecycle state of a binary event.
type EventStatus string

const (
	EventOpen    EventStatus = "open"    // accepting wagers
	EventLocked  EventStatus = "locked"  // betting closed, awaiting outcome
	EventSettled EventStatus = "settled" // outcome applied, terminal
)

// WagerStatus is the lifecycle state of a wager. Transitions are validated
// through CanTransitionTo, not ad hoc string checks.
type WagerStatus string

const (
	WagerPending          WagerStatus = "pending"
	WagerPartiallyMatched WagerStatus = "partially_matched"
	WagerMatched          WagerStatus = "matched"
	WagerWon              WagerStatus = "won"
	WagerLost             WagerStatus = "lost"
	WagerRefunded         WagerStatus = "refunded"
	WagerCancelled        WagerStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal wagers are never
// transitioned again; settlement skips them on retry.
func (s WagerStatus) Terminal() bool {
	switch s {
	case WagerWon, WagerLost, WagerRefunded, WagerCancelled:
		return true
	}
	return false
}

// Matchable reports whether a wager in this status may serve as a matching
// counterparty (it must also have remaining capacity).
func (s WagerStatus) Matchable() bool {
	return s == WagerPending || s == WagerPartiallyMatched
}

// wagerTransitions is the closed set of legal status transitions.
var wagerTransitions = map[WagerStatus][]WagerStatus{
	WagerPending:          {WagerPartiallyMatched, WagerMatched, WagerRefunded, WagerCancelled},
	WagerPartiallyMatched: {WagerPartiallyMatched, WagerMatched, WagerWon, WagerLost, WagerRefunded},
	WagerMatched:          {WagerWon, WagerLost, WagerRefunded},
}

// CanTransitionTo reports whether the transition s → next is legal.
func (s WagerStatus) CanTransitionTo(next WagerStatus) bool {
	for _, allowed := range wagerTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	TxStakeReserve    TransactionKind = "stake_reserve"     // available → committed
	TxStakeRelease    TransactionKind = "stake_release"     // committed → available
	TxStakeDebitFinal TransactionKind = "stake_debit_final" // committed stake settled away
	TxPayoutCredit    TransactionKind = "payout_credit"     // winnings into available
	TxRefundCredit    TransactionKind = "refund_credit"     // draw refund into available
	TxDeposit         TransactionKind = "deposit"
	TxWithdrawal      TransactionKind = "withdrawal"
)

// Wallet holds one user's monetary state. Mutated through the Ledger only.
//
// Invariants: AvailableBalance >= 0 always; CommittedBalance equals the
// at-risk stake (remaining + matched) of the user's non-terminal wagers.
type Wallet struct {
	UserID            string    `json:"user_id" db:"user_id"`
	AvailableBalance  int64     `json:"available_balance" db:"available_balance"`
	CommittedBalance  int64     `json:"committed_balance" db:"committed_balance"`
	LifetimeDeposited int64     `json:"lifetime_deposited" db:"lifetime_deposited"`
	LifetimeWithdrawn int64     `json:"lifetime_withdrawn" db:"lifetime_withdrawn"`
	Version           int64     `json:"version" db:"version"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Event is the slice of catalog state the engine consumes: which two sides
// exist and whether betting is currently open.
type Event struct {
	ID        string      `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	SideA     string      `json:"side_a" db:"side_a"` // display label
	SideB     string      `json:"side_b" db:"side_b"`
	Status    EventStatus `json:"status" db:"status"`
	Outcome   Outcome     `json:"outcome,omitempty" db:"outcome"`
	Version   int64       `json:"version" db:"version"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	SettledAt *time.Time  `json:"settled_at,omitempty" db:"settled_at"`
}

// AcceptingWagers reports whether new wagers and cancellations are allowed.
func (e *Event) AcceptingWagers() bool {
	return e.Status == EventOpen
}

// Wager is a single stake on one side of an event.
//
// Identity fields (ID..OriginalAmount) are immutable after creation.
// MatchedAmount + RemainingAmount == OriginalAmount at all times.
type Wager struct {
	ID              string      `json:"id" db:"id"`
	OwnerID         string      `json:"owner_id" db:"owner_id"`
	EventID         string      `json:"event_id" db:"event_id"`
	Side            Side        `json:"side" db:"side"`
	OriginalAmount  int64       `json:"original_amount" db:"original_amount"`
	MatchedAmount   int64       `json:"matched_amount" db:"matched_amount"`
	RemainingAmount int64       `json:"remaining_amount" db:"remaining_amount"`
	Status          WagerStatus `json:"status" db:"status"`
	Version         int64       `json:"version" db:"version"`
	PlacedAt        time.Time   `json:"placed_at" db:"placed_at"` // time priority
	SettledAt       *time.Time  `json:"settled_at,omitempty" db:"settled_at"`
}

// Matchable reports whether the wager can receive a fill right now.
func (w *Wager) Matchable() bool {
	return w.Status.Matchable() && w.RemainingAmount > 0
}

// Fill is an atomic pairing of matched capacity between two opposing wagers.
// Fills are append-only and never mutated; the sum of fill amounts referencing
// a wager equals that wager's MatchedAmount.
type Fill struct {
	ID           string    `json:"id" db:"id"`
	EventID      string    `json:"event_id" db:"event_id"`
	MakerWagerID string    `json:"maker_wager_id" db:"maker_wager_id"`
	TakerWagerID string    `json:"taker_wager_id" db:"taker_wager_id"`
	Amount       int64     `json:"amount" db:"amount"`
	MatchedAt    time.Time `json:"matched_at" db:"matched_at"`
}

// Transaction is an immutable ledger entry. Every balance mutation produces
// exactly one transaction; BalanceBefore/After track the available balance
// around the mutation.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	WalletID       string          `json:"wallet_id" db:"wallet_id"`
	Kind           TransactionKind `json:"kind" db:"kind"`
	Amount         int64           `json:"amount" db:"amount"`
	BalanceBefore  int64           `json:"balance_before" db:"balance_before"`
	BalanceAfter   int64           `json:"balance_after" db:"balance_after"`
	RelatedWagerID string          `json:"related_wager_id,omitempty" db:"related_wager_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}
