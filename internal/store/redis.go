package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pairwage/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for wallet and event reads. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the primary.
//
// Wagers, fills, and transactions are never cached: matching and settlement
// must always see the current rows.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Wallets (read-through, invalidate on write) ---

func (s *CachedStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	if err := s.primary.CreateWallet(ctx, w); err != nil {
		return err
	}
	s.cacheWallet(ctx, w)
	return nil
}

func (s *CachedStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	data, err := s.rdb.Get(ctx, walletKey(userID)).Bytes()
	if err == nil {
		var w model.Wallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheWallet(ctx, w)
	return w, nil
}

func (s *CachedStore) UpdateWallet(ctx context.Context, w *model.Wallet, fromVersion int64) error {
	if err := s.primary.UpdateWallet(ctx, w, fromVersion); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the source of truth.
	s.rdb.Del(ctx, walletKey(w.UserID))
	return nil
}

// --- Events (read-through, invalidate on write) ---

func (s *CachedStore) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.CreateEvent(ctx, e); err != nil {
		return err
	}
	s.cacheEvent(ctx, e)
	return nil
}

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	data, err := s.rdb.Get(ctx, eventKey(id)).Bytes()
	if err == nil {
		var e model.Event
		if json.Unmarshal(data, &e) == nil {
			return &e, nil
		}
	}

	e, err := s.primary.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheEvent(ctx, e)
	return e, nil
}

func (s *CachedStore) UpdateEvent(ctx context.Context, e *model.Event, fromVersion int64) error {
	if err := s.primary.UpdateEvent(ctx, e, fromVersion); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventKey(e.ID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.primary.ListEvents(ctx)
}

func (s *CachedStore) CreateWager(ctx context.Context, w *model.Wager) error {
	return s.primary.CreateWager(ctx, w)
}

func (s *CachedStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	return s.primary.GetWager(ctx, id)
}

func (s *CachedStore) ListOpenWagers(ctx context.Context, eventID string, side model.Side) ([]model.Wager, error) {
	return s.primary.ListOpenWagers(ctx, eventID, side)
}

func (s *CachedStore) ListEventWagers(ctx context.Context, eventID string) ([]model.Wager, error) {
	return s.primary.ListEventWagers(ctx, eventID)
}

func (s *CachedStore) ListUserWagers(ctx context.Context, userID string) ([]model.Wager, error) {
	return s.primary.ListUserWagers(ctx, userID)
}

func (s *CachedStore) UpdateWager(ctx context.Context, w *model.Wager, fromVersion int64) error {
	return s.primary.UpdateWager(ctx, w, fromVersion)
}

func (s *CachedStore) InsertFill(ctx context.Context, f *model.Fill) error {
	return s.primary.InsertFill(ctx, f)
}

func (s *CachedStore) ListFillsByEvent(ctx context.Context, eventID string) ([]model.Fill, error) {
	return s.primary.ListFillsByEvent(ctx, eventID)
}

func (s *CachedStore) ListFillsByWager(ctx context.Context, wagerID string) ([]model.Fill, error) {
	return s.primary.ListFillsByWager(ctx, wagerID)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

func (s *CachedStore) ListTransactionsByWallet(ctx context.Context, walletID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByWallet(ctx, walletID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheWallet(ctx context.Context, w *model.Wallet) {
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, walletKey(w.UserID), data, s.ttl)
	}
}

func (s *CachedStore) cacheEvent(ctx context.Context, e *model.Event) {
	if data, err := json.Marshal(e); err == nil {
		s.rdb.Set(ctx, eventKey(e.ID), data, s.ttl)
	}
}

func walletKey(uid string) string { return fmt.Sprintf("wallet:%s", uid) }
func eventKey(id string) string   { return fmt.Sprintf("event:%s", id) }
