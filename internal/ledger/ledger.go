// Package ledger owns every wallet balance mutation. Funds move between an
// available balance (spendable) and a committed balance (reserved against
// open or matched wagers); each mutation appends exactly one immutable
// transaction so the audit trail reconstructs every balance.
//
// Matching never calls the ledger: fills move capacity between wagers, not
// money between balances. Money moves at reservation, release, and settlement.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pairwage/wager-engine/internal/locks"
	"github.com/pairwage/wager-engine/internal/model"
	"github.com/pairwage/wager-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a reserve or withdrawal exceeds
	// the available balance. User-facing and recoverable.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInconsistency indicates unaccounted money: a release or final debit
	// that would drive the committed balance negative, or a missing wallet on
	// an operation that presumes one. Fatal — the unit of work aborts and the
	// condition is logged loudly; it is never auto-corrected.
	ErrInconsistency = errors.New("ledger: balance inconsistency")
)

// Ledger serializes balance mutations per wallet and appends the transaction
// trail. It is the only component allowed to mutate wallet rows.
type Ledger struct {
	store store.Store
	locks *locks.KeyedMutex
}

// New creates a Ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		locks: locks.NewKeyedMutex(),
	}
}

// Reserve atomically moves amount from available to committed, rejecting with
// ErrInsufficientFunds when the available balance cannot cover it. This is the
// only ledger operation that can fail for business reasons.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int64, wagerID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if w.AvailableBalance < amount {
		return fmt.Errorf("%w: available %d, need %d", ErrInsufficientFunds, w.AvailableBalance, amount)
	}

	before := w.AvailableBalance
	w.AvailableBalance -= amount
	w.CommittedBalance += amount
	return l.commit(ctx, w, model.TxStakeReserve, amount, before, wagerID)
}

// Release moves amount back from committed to available, used when an
// unmatched remainder is cancelled or refunded. A release that would drive
// the committed balance negative is clamped and reported as ErrInconsistency.
func (l *Ledger) Release(ctx context.Context, userID string, amount int64, wagerID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return l.fatal("release", userID, wagerID, err)
	}

	release := amount
	if w.CommittedBalance < amount {
		slog.Error("ledger inconsistency: release exceeds committed balance",
			"user", userID, "wager", wagerID,
			"committed", w.CommittedBalance, "release", amount)
		release = w.CommittedBalance
	}

	before := w.AvailableBalance
	w.CommittedBalance -= release
	w.AvailableBalance += release
	if err := l.commit(ctx, w, model.TxStakeRelease, release, before, wagerID); err != nil {
		return err
	}
	if release != amount {
		return fmt.Errorf("%w: committed balance underflow on release for user %s", ErrInconsistency, userID)
	}
	return nil
}

// DebitFinal removes a settled stake from the committed balance. It runs for
// every matched stake at settlement — winner, loser, and draw alike — since
// the matched funds stop being at risk once the outcome is applied.
func (l *Ledger) DebitFinal(ctx context.Context, userID string, amount int64, wagerID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return l.fatal("debit final", userID, wagerID, err)
	}

	debit := amount
	if w.CommittedBalance < amount {
		slog.Error("ledger inconsistency: final debit exceeds committed balance",
			"user", userID, "wager", wagerID,
			"committed", w.CommittedBalance, "debit", amount)
		debit = w.CommittedBalance
	}

	before := w.AvailableBalance
	w.CommittedBalance -= debit
	if err := l.commit(ctx, w, model.TxStakeDebitFinal, debit, before, wagerID); err != nil {
		return err
	}
	if debit != amount {
		return fmt.Errorf("%w: committed balance underflow on final debit for user %s", ErrInconsistency, userID)
	}
	return nil
}

// Credit adds amount straight to the available balance, used for payouts and
// draw refunds. The ledger does not deduplicate; the settlement engine
// guarantees each wager is credited at most once.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, kind model.TransactionKind, wagerID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if kind != model.TxPayoutCredit && kind != model.TxRefundCredit {
		return fmt.Errorf("ledger: credit with non-credit kind %s", kind)
	}

	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return l.fatal("credit", userID, wagerID, err)
	}

	before := w.AvailableBalance
	w.AvailableBalance += amount
	return l.commit(ctx, w, kind, amount, before, wagerID)
}

// Deposit credits external funds into the available balance, creating the
// wallet on first deposit. Triggered by the external payment rail.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	w, err := l.store.GetWallet(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		w = &model.Wallet{UserID: userID, UpdatedAt: time.Now().UTC()}
		if err := l.store.CreateWallet(ctx, w); err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	before := w.AvailableBalance
	w.AvailableBalance += amount
	w.LifetimeDeposited += amount
	return l.commit(ctx, w, model.TxDeposit, amount, before, "")
}

// Withdraw debits external funds from the available balance. Committed funds
// cannot be withdrawn.
func (l *Ledger) Withdraw(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	if w.AvailableBalance < amount {
		return fmt.Errorf("%w: available %d, need %d", ErrInsufficientFunds, w.AvailableBalance, amount)
	}

	before := w.AvailableBalance
	w.AvailableBalance -= amount
	w.LifetimeWithdrawn += amount
	return l.commit(ctx, w, model.TxWithdrawal, amount, before, "")
}

// Snapshot returns the current wallet state.
func (l *Ledger) Snapshot(ctx context.Context, userID string) (*model.Wallet, error) {
	return l.store.GetWallet(ctx, userID)
}

// Transactions returns the wallet's append-only audit trail.
func (l *Ledger) Transactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return l.store.ListTransactionsByWallet(ctx, userID)
}

// commit writes the mutated wallet back under its version and appends the
// transaction recording the mutation. Caller holds the wallet lock, so a
// version conflict here means an out-of-band writer — surfaced, not retried.
func (l *Ledger) commit(ctx context.Context, w *model.Wallet, kind model.TransactionKind, amount, before int64, wagerID string) error {
	now := time.Now().UTC()
	w.UpdatedAt = now
	if err := l.store.UpdateWallet(ctx, w, w.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			slog.Error("ledger inconsistency: wallet mutated outside the ledger",
				"user", w.UserID, "kind", string(kind))
			return fmt.Errorf("%w: %v", ErrInconsistency, err)
		}
		return err
	}

	tx := &model.Transaction{
		ID:             uuid.New().String(),
		WalletID:       w.UserID,
		Kind:           kind,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   w.AvailableBalance,
		RelatedWagerID: wagerID,
		CreatedAt:      now,
	}
	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		// Balance is already durable; a missing audit row is loud but the
		// operation does not roll back.
		slog.Error("failed to append ledger transaction",
			"user", w.UserID, "kind", string(kind), "err", err)
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (l *Ledger) fatal(op, userID, wagerID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		slog.Error("ledger inconsistency: wallet missing",
			"op", op, "user", userID, "wager", wagerID)
		return fmt.Errorf("%w: %s for user %s: %v", ErrInconsistency, op, userID, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
