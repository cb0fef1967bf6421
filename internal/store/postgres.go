package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pairwage/wager-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary columns are BIGINT minor units. Mutations carry a version
// predicate; a lost race reports zero affected rows → ErrVersionConflict.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Wallets ---

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, available_balance, committed_balance, lifetime_deposited, lifetime_withdrawn, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.UserID, w.AvailableBalance, w.CommittedBalance,
		w.LifetimeDeposited, w.LifetimeWithdrawn, w.Version, w.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("wallet for user %s: %w", w.UserID, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, available_balance, committed_balance, lifetime_deposited, lifetime_withdrawn, version, updated_at
		 FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.UserID, &w.AvailableBalance, &w.CommittedBalance,
			&w.LifetimeDeposited, &w.LifetimeWithdrawn, &w.Version, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, err)
	}
	return &w, nil
}

func (s *PostgresStore) UpdateWallet(ctx context.Context, w *model.Wallet, fromVersion int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets
		 SET available_balance = $2, committed_balance = $3,
		     lifetime_deposited = $4, lifetime_withdrawn = $5,
		     version = version + 1, updated_at = $6
		 WHERE user_id = $1 AND version = $7`,
		w.UserID, w.AvailableBalance, w.CommittedBalance,
		w.LifetimeDeposited, w.LifetimeWithdrawn, w.UpdatedAt, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", w.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet for user %s: %w", w.UserID, ErrVersionConflict)
	}
	w.Version = fromVersion + 1
	return nil
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, name, side_a, side_b, status, outcome, version, created_at, settled_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		e.ID, e.Name, e.SideA, e.SideB, string(e.Status), string(e.Outcome),
		e.Version, e.CreatedAt, e.SettledAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("event %s: %w", e.ID, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	var outcome *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, side_a, side_b, status, outcome, version, created_at, settled_at
		 FROM events WHERE id = $1`, id).
		Scan(&e.ID, &e.Name, &e.SideA, &e.SideB, &e.Status, &outcome,
			&e.Version, &e.CreatedAt, &e.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	if outcome != nil {
		e.Outcome = model.Outcome(*outcome)
	}
	return &e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, side_a, side_b, status, outcome, version, created_at, settled_at
		 FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var outcome *string
		if err := rows.Scan(&e.ID, &e.Name, &e.SideA, &e.SideB, &e.Status,
			&outcome, &e.Version, &e.CreatedAt, &e.SettledAt); err != nil {
			return nil, err
		}
		if outcome != nil {
			e.Outcome = model.Outcome(*outcome)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, e *model.Event, fromVersion int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events
		 SET status = $2, outcome = NULLIF($3, ''), settled_at = $4, version = version + 1
		 WHERE id = $1 AND version = $5`,
		e.ID, string(e.Status), string(e.Outcome), e.SettledAt, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("update event %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", e.ID, ErrVersionConflict)
	}
	e.Version = fromVersion + 1
	return nil
}

// --- Wagers ---

const wagerColumns = `id, owner_id, event_id, side, original_amount, matched_amount, remaining_amount, status, version, placed_at, settled_at`

func (s *PostgresStore) CreateWager(ctx context.Context, w *model.Wager) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wagers (`+wagerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.OwnerID, w.EventID, string(w.Side),
		w.OriginalAmount, w.MatchedAmount, w.RemainingAmount,
		string(w.Status), w.Version, w.PlacedAt, w.SettledAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("wager %s: %w", w.ID, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	w, err := scanWager(s.pool.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wager %s: %w", id, err)
	}
	return w, nil
}

func (s *PostgresStore) ListOpenWagers(ctx context.Context, eventID string, side model.Side) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+`
		 FROM wagers
		 WHERE event_id = $1 AND side = $2
		   AND status IN ('pending', 'partially_matched')
		   AND remaining_amount > 0
		 ORDER BY placed_at ASC, id ASC`,
		eventID, string(side))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWagers(rows)
}

func (s *PostgresStore) ListEventWagers(ctx context.Context, eventID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE event_id = $1 ORDER BY placed_at ASC, id ASC`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWagers(rows)
}

func (s *PostgresStore) ListUserWagers(ctx context.Context, userID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE owner_id = $1 ORDER BY placed_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWagers(rows)
}

func (s *PostgresStore) UpdateWager(ctx context.Context, w *model.Wager, fromVersion int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wagers
		 SET matched_amount = $2, remaining_amount = $3, status = $4,
		     settled_at = $5, version = version + 1
		 WHERE id = $1 AND version = $6`,
		w.ID, w.MatchedAmount, w.RemainingAmount, string(w.Status),
		w.SettledAt, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("update wager %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wager %s: %w", w.ID, ErrVersionConflict)
	}
	w.Version = fromVersion + 1
	return nil
}

// --- Fills ---

func (s *PostgresStore) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (id, event_id, maker_wager_id, taker_wager_id, amount, matched_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.EventID, f.MakerWagerID, f.TakerWagerID, f.Amount, f.MatchedAt,
	)
	return err
}

func (s *PostgresStore) ListFillsByEvent(ctx context.Context, eventID string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, maker_wager_id, taker_wager_id, amount, matched_at
		 FROM fills WHERE event_id = $1 ORDER BY matched_at ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *PostgresStore) ListFillsByWager(ctx context.Context, wagerID string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, maker_wager_id, taker_wager_id, amount, matched_at
		 FROM fills WHERE maker_wager_id = $1 OR taker_wager_id = $1
		 ORDER BY matched_at ASC`, wagerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

// --- Transactions ---

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, wallet_id, kind, amount, balance_before, balance_after, related_wager_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		tx.ID, tx.WalletID, string(tx.Kind), tx.Amount,
		tx.BalanceBefore, tx.BalanceAfter, tx.RelatedWagerID, tx.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTransactionsByWallet(ctx context.Context, walletID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, wallet_id, kind, amount, balance_before, balance_after, COALESCE(related_wager_id, ''), created_at
		 FROM transactions WHERE wallet_id = $1 ORDER BY created_at ASC`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Kind, &t.Amount,
			&t.BalanceBefore, &t.BalanceAfter, &t.RelatedWagerID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// --- Scan helpers ---

type row interface {
	Scan(dest ...interface{}) error
}

func scanWager(r row) (*model.Wager, error) {
	var w model.Wager
	if err := r.Scan(&w.ID, &w.OwnerID, &w.EventID, &w.Side,
		&w.OriginalAmount, &w.MatchedAmount, &w.RemainingAmount,
		&w.Status, &w.Version, &w.PlacedAt, &w.SettledAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWagers(rows pgx.Rows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, *w)
	}
	return wagers, rows.Err()
}

func scanFills(rows pgx.Rows) ([]model.Fill, error) {
	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		if err := rows.Scan(&f.ID, &f.EventID, &f.MakerWagerID, &f.TakerWagerID,
			&f.Amount, &f.MatchedAt); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
