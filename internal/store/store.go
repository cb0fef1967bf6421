// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/pairwage/wager-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a row with the same identity already exists.
	ErrDuplicate = errors.New("store: already exists")

	// ErrVersionConflict is returned when an optimistic update loses a race.
	// Every balance and status mutation is a compare-and-swap against the
	// last known version; callers must reload and decide, never overwrite.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Wallets ---

	// CreateWallet persists a new wallet.
	CreateWallet(ctx context.Context, w *model.Wallet) error

	// GetWallet retrieves a wallet by user ID.
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// UpdateWallet writes back a mutated wallet iff fromVersion still matches
	// the stored row; the stored version is bumped on success.
	UpdateWallet(ctx context.Context, w *model.Wallet, fromVersion int64) error

	// --- Events ---

	// CreateEvent persists a new event.
	CreateEvent(ctx context.Context, e *model.Event) error

	// GetEvent retrieves an event by its ID.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// ListEvents returns all events, newest first.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// UpdateEvent writes back a mutated event with a version check.
	UpdateEvent(ctx context.Context, e *model.Event, fromVersion int64) error

	// --- Wagers ---

	// CreateWager persists a new wager.
	CreateWager(ctx context.Context, w *model.Wager) error

	// GetWager retrieves a wager by its ID.
	GetWager(ctx context.Context, id string) (*model.Wager, error)

	// ListOpenWagers returns wagers on one side of an event that can still
	// receive fills (pending or partially matched, remaining > 0), ordered
	// by PlacedAt ascending. Strict FIFO: this ordering is the matching
	// priority.
	ListOpenWagers(ctx context.Context, eventID string, side model.Side) ([]model.Wager, error)

	// ListEventWagers returns all wagers for an event, any status.
	ListEventWagers(ctx context.Context, eventID string) ([]model.Wager, error)

	// ListUserWagers returns all wagers placed by a user, newest first.
	ListUserWagers(ctx context.Context, userID string) ([]model.Wager, error)

	// UpdateWager writes back a mutated wager with a version check.
	UpdateWager(ctx context.Context, w *model.Wager, fromVersion int64) error

	// --- Fills (append-only) ---

	// InsertFill appends an immutable fill record.
	InsertFill(ctx context.Context, f *model.Fill) error

	// ListFillsByEvent returns all fills for an event, oldest first.
	ListFillsByEvent(ctx context.Context, eventID string) ([]model.Fill, error)

	// ListFillsByWager returns all fills in which the wager participated.
	ListFillsByWager(ctx context.Context, wagerID string) ([]model.Fill, error)

	// --- Transactions (append-only) ---

	// InsertTransaction appends an immutable ledger entry.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// ListTransactionsByWallet returns a wallet's audit trail, oldest first.
	ListTransactionsByWallet(ctx context.Context, walletID string) ([]model.Transaction, error)
}
