package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pairwage/wager-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*model.Wallet
	events  map[string]*model.Event
	wagers  map[string]*model.Wager
	fills   []model.Fill
	txs     []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*model.Wallet),
		events:  make(map[string]*model.Event),
		wagers:  make(map[string]*model.Wager),
	}
}

// --- Wallets ---

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[w.UserID]; ok {
		return fmt.Errorf("wallet for user %s: %w", w.UserID, ErrDuplicate)
	}
	cp := *w
	s.wallets[w.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) UpdateWallet(_ context.Context, w *model.Wallet, fromVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.wallets[w.UserID]
	if !ok {
		return fmt.Errorf("wallet for user %s: %w", w.UserID, ErrNotFound)
	}
	if cur.Version != fromVersion {
		return fmt.Errorf("wallet for user %s: %w", w.UserID, ErrVersionConflict)
	}
	cp := *w
	cp.Version = fromVersion + 1
	s.wallets[w.UserID] = &cp
	w.Version = cp.Version
	return nil
}

// --- Events ---

func (s *MemoryStore) CreateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s: %w", e.ID, ErrDuplicate)
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, *e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, e *model.Event, fromVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[e.ID]
	if !ok {
		return fmt.Errorf("event %s: %w", e.ID, ErrNotFound)
	}
	if cur.Version != fromVersion {
		return fmt.Errorf("event %s: %w", e.ID, ErrVersionConflict)
	}
	cp := *e
	cp.Version = fromVersion + 1
	s.events[e.ID] = &cp
	e.Version = cp.Version
	return nil
}

// --- Wagers ---

func (s *MemoryStore) CreateWager(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wagers[w.ID]; ok {
		return fmt.Errorf("wager %s: %w", w.ID, ErrDuplicate)
	}
	cp := *w
	s.wagers[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWager(_ context.Context, id string) (*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wagers[id]
	if !ok {
		return nil, fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListOpenWagers(_ context.Context, eventID string, side model.Side) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wagers []model.Wager
	for _, w := range s.wagers {
		if w.EventID == eventID && w.Side == side && w.Matchable() {
			wagers = append(wagers, *w)
		}
	}
	sort.Slice(wagers, func(i, j int) bool {
		return wagers[i].PlacedAt.Before(wagers[j].PlacedAt)
	})
	return wagers, nil
}

func (s *MemoryStore) ListEventWagers(_ context.Context, eventID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wagers []model.Wager
	for _, w := range s.wagers {
		if w.EventID == eventID {
			wagers = append(wagers, *w)
		}
	}
	sort.Slice(wagers, func(i, j int) bool {
		return wagers[i].PlacedAt.Before(wagers[j].PlacedAt)
	})
	return wagers, nil
}

func (s *MemoryStore) ListUserWagers(_ context.Context, userID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wagers []model.Wager
	for _, w := range s.wagers {
		if w.OwnerID == userID {
			wagers = append(wagers, *w)
		}
	}
	sort.Slice(wagers, func(i, j int) bool {
		return wagers[i].PlacedAt.After(wagers[j].PlacedAt)
	})
	return wagers, nil
}

func (s *MemoryStore) UpdateWager(_ context.Context, w *model.Wager, fromVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.wagers[w.ID]
	if !ok {
		return fmt.Errorf("wager %s: %w", w.ID, ErrNotFound)
	}
	if cur.Version != fromVersion {
		return fmt.Errorf("wager %s: %w", w.ID, ErrVersionConflict)
	}
	cp := *w
	cp.Version = fromVersion + 1
	s.wagers[w.ID] = &cp
	w.Version = cp.Version
	return nil
}

// --- Fills ---

func (s *MemoryStore) InsertFill(_ context.Context, f *model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills = append(s.fills, *f)
	return nil
}

func (s *MemoryStore) ListFillsByEvent(_ context.Context, eventID string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Fill
	for _, f := range s.fills {
		if f.EventID == eventID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListFillsByWager(_ context.Context, wagerID string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Fill
	for _, f := range s.fills {
		if f.MakerWagerID == wagerID || f.TakerWagerID == wagerID {
			result = append(result, f)
		}
	}
	return result, nil
}

// --- Transactions ---

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs = append(s.txs, *tx)
	return nil
}

func (s *MemoryStore) ListTransactionsByWallet(_ context.Context, walletID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.txs {
		if tx.WalletID == walletID {
			result = append(result, tx)
		}
	}
	return result, nil
}
