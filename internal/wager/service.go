// Package wager provides the HTTP handlers and business logic for placing,
// cancelling, and settling wagers, and for wallet queries.
//
// All monetary values are int64 minor units — never floats for money.
package wager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pairwage/wager-engine/internal/ledger"
	"github.com/pairwage/wager-engine/internal/locks"
	"github.com/pairwage/wager-engine/internal/match"
	"github.com/pairwage/wager-engine/internal/metrics"
	"github.com/pairwage/wager-engine/internal/model"
	"github.com/pairwage/wager-engine/internal/settle"
	"github.com/pairwage/wager-engine/internal/store"
)

var (
	// ErrInvalidState is returned when a wager is not in a cancellable or
	// actionable state for the requested operation.
	ErrInvalidState = errors.New("wager: invalid state")

	// ErrEventNotAcceptingWagers is returned when betting on the event is
	// locked or the event is already settled.
	ErrEventNotAcceptingWagers = errors.New("wager: event not accepting wagers")
)

// Service handles wager operations. Placement, cancellation, and settlement
// on one event are serialized through the shared per-event lock (single
// instance). For horizontal scaling, replace with distributed locking or
// database-level serializable transactions.
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	matcher *match.Engine
	settler *settle.Engine
	events  *locks.KeyedMutex
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new wager service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, l *ledger.Ledger, eventLocks *locks.KeyedMutex, hub *WSHub) *Service {
	return &Service{
		store:   st,
		ledger:  l,
		matcher: match.NewEngine(st, eventLocks),
		settler: settle.NewEngine(st, l, eventLocks),
		events:  eventLocks,
		wsHub:   hub,
	}
}

// --- Request/Response types ---

// CreateEventRequest is the JSON body for event creation.
type CreateEventRequest struct {
	Name  string `json:"name"`
	SideA string `json:"side_a"` // display label for side A
	SideB string `json:"side_b"`
}

// PlaceWagerRequest is the JSON body for POST /wagers.
type PlaceWagerRequest struct {
	UserID  string     `json:"user_id"`
	EventID string     `json:"event_id"`
	Side    model.Side `json:"side"`
	Amount  int64      `json:"amount"` // minor units
}

// PlaceWagerResponse is returned from POST /wagers.
type PlaceWagerResponse struct {
	Wager model.Wager  `json:"wager"`
	Fills []model.Fill `json:"fills"`
}

// CancelWagerRequest is the JSON body for POST /wagers/{wagerID}/cancel.
type CancelWagerRequest struct {
	UserID string `json:"user_id"`
}

// CancelWagerResponse is returned from POST /wagers/{wagerID}/cancel.
type CancelWagerResponse struct {
	WagerID        string            `json:"wager_id"`
	ReleasedAmount int64             `json:"released_amount"`
	Status         model.WagerStatus `json:"status"`
}

// SettleEventRequest is the JSON body for POST /events/{eventID}/settle.
type SettleEventRequest struct {
	Outcome model.Outcome `json:"outcome"`
}

// AmountRequest is the JSON body for deposits and withdrawals.
type AmountRequest struct {
	Amount int64 `json:"amount"`
}

// SideBook is one side's aggregate of the event book.
type SideBook struct {
	Label         string `json:"label"`
	OpenAmount    int64  `json:"open_amount"`    // unmatched capacity
	MatchedAmount int64  `json:"matched_amount"` // total matched stake
	WagerCount    int    `json:"wager_count"`
}

// EventBook summarizes open and matched volume per side. Matched volume is
// always equal on both sides (conservation).
type EventBook struct {
	EventID    string          `json:"event_id"`
	Status     model.EventStatus `json:"status"`
	SideA      SideBook        `json:"side_a"`
	SideB      SideBook        `json:"side_b"`
	FillCount  int             `json:"fill_count"`
	MatchRatio decimal.Decimal `json:"match_ratio"` // matched / total staked, percent
}

// --- Event handlers ---

// CreateEvent handles POST /api/v1/events
func (s *Service) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.SideA == "" || req.SideB == "" {
		writeError(w, "name, side_a and side_b are required", http.StatusBadRequest)
		return
	}

	event := &model.Event{
		ID:        uuid.New().String(),
		Name:      req.Name,
		SideA:     req.SideA,
		SideB:     req.SideB,
		Status:    model.EventOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateEvent(r.Context(), event); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("event created", "id", event.ID, "name", event.Name)
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /api/v1/events
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/v1/events/{eventID}
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// LockEvent handles POST /api/v1/events/{eventID}/lock
// Locked events reject new wagers and cancellations until settlement.
func (s *Service) LockEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	s.events.Lock(eventID)
	defer s.events.Unlock(eventID)

	event, err := s.store.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}
	if event.Status != model.EventOpen {
		writeError(w, "event is not open", http.StatusConflict)
		return
	}

	event.Status = model.EventLocked
	if err := s.store.UpdateEvent(r.Context(), event, event.Version); err != nil {
		writeError(w, "failed to lock event", http.StatusConflict)
		return
	}

	slog.Info("event locked", "id", eventID)
	writeJSON(w, http.StatusOK, event)
}

// SettleEvent handles POST /api/v1/events/{eventID}/settle
func (s *Service) SettleEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req SettleEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, "outcome must be side_a, side_b or draw", http.StatusBadRequest)
		return
	}

	summary, err := s.settler.Settle(r.Context(), eventID, req.Outcome)
	if err != nil {
		switch {
		case errors.Is(err, settle.ErrAlreadySettled):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "event not found", http.StatusNotFound)
		default:
			slog.Error("settlement failed", "event", eventID, "err", err)
			writeError(w, "settlement failed", http.StatusInternalServerError)
		}
		return
	}

	metrics.SettlementsTotal.WithLabelValues(string(req.Outcome)).Inc()
	metrics.PayoutVolume.Add(float64(summary.TotalPaid))

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "event_settled",
			EventID:   eventID,
			Outcome:   string(req.Outcome),
			TotalPaid: summary.TotalPaid,
		})
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetEventBook handles GET /api/v1/events/{eventID}/book
// Returns open/matched volume per side and the overall match ratio.
func (s *Service) GetEventBook(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	ctx := r.Context()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}

	wagers, err := s.store.ListEventWagers(ctx, eventID)
	if err != nil {
		writeError(w, "failed to load wagers", http.StatusInternalServerError)
		return
	}
	fills, err := s.store.ListFillsByEvent(ctx, eventID)
	if err != nil {
		writeError(w, "failed to load fills", http.StatusInternalServerError)
		return
	}

	book := EventBook{
		EventID: eventID,
		Status:  event.Status,
		SideA:   SideBook{Label: event.SideA},
		SideB:   SideBook{Label: event.SideB},
	}
	for _, wg := range wagers {
		side := &book.SideA
		if wg.Side == model.SideB {
			side = &book.SideB
		}
		side.WagerCount++
		side.MatchedAmount += wg.MatchedAmount
		if wg.Matchable() {
			side.OpenAmount += wg.RemainingAmount
		}
	}
	book.FillCount = len(fills)

	// Match ratio: matched stake over total live stake, as a percentage.
	matched := book.SideA.MatchedAmount + book.SideB.MatchedAmount
	total := matched + book.SideA.OpenAmount + book.SideB.OpenAmount
	if total > 0 {
		book.MatchRatio = decimal.NewFromInt(matched).
			Div(decimal.NewFromInt(total)).
			Mul(decimal.NewFromInt(100)).Round(2)
	}

	writeJSON(w, http.StatusOK, book)
}

// ListEventFills handles GET /api/v1/events/{eventID}/fills
func (s *Service) ListEventFills(w http.ResponseWriter, r *http.Request) {
	fills, err := s.store.ListFillsByEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, "failed to load fills", http.StatusInternalServerError)
		return
	}
	if fills == nil {
		fills = []model.Fill{}
	}
	writeJSON(w, http.StatusOK, fills)
}

// --- Wager handlers ---

// PlaceWager handles POST /api/v1/wagers
// Reserves the stake, creates the wager, then matches it synchronously
// against open opposing wagers.
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be A or B", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	event, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		writeError(w, "event not found: "+req.EventID, http.StatusNotFound)
		return
	}
	if !event.AcceptingWagers() {
		writeError(w, ErrEventNotAcceptingWagers.Error(), http.StatusConflict)
		return
	}

	taker := &model.Wager{
		ID:              uuid.New().String(),
		OwnerID:         req.UserID,
		EventID:         req.EventID,
		Side:            req.Side,
		OriginalAmount:  req.Amount,
		RemainingAmount: req.Amount,
		Status:          model.WagerPending,
		PlacedAt:        time.Now().UTC(),
	}

	// Reserve funds before the wager exists; a failed reservation leaves
	// no trace.
	if err := s.ledger.Reserve(ctx, req.UserID, req.Amount, taker.ID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "wallet not found for user: "+req.UserID, http.StatusNotFound)
			return
		}
		slog.Error("reserve failed", "user", req.UserID, "err", err)
		writeError(w, "failed to reserve funds", http.StatusInternalServerError)
		return
	}

	if err := s.store.CreateWager(ctx, taker); err != nil {
		// Roll the reservation back; the wager never existed.
		if rerr := s.ledger.Release(ctx, req.UserID, req.Amount, taker.ID); rerr != nil {
			slog.Error("failed to release reservation after create failure",
				"user", req.UserID, "wager", taker.ID, "err", rerr)
		}
		writeError(w, "failed to create wager", http.StatusInternalServerError)
		return
	}

	fills, err := s.matcher.Match(ctx, taker)
	if errors.Is(err, match.ErrEventClosed) {
		// The event closed while we held the reservation; undo it.
		if rerr := s.ledger.Release(ctx, req.UserID, req.Amount, taker.ID); rerr != nil {
			slog.Error("failed to release reservation after event closed",
				"user", req.UserID, "wager", taker.ID, "err", rerr)
		}
		taker.Status = model.WagerCancelled
		if uerr := s.store.UpdateWager(ctx, taker, taker.Version); uerr != nil {
			slog.Error("failed to void wager after event closed",
				"wager", taker.ID, "err", uerr)
		}
		writeError(w, ErrEventNotAcceptingWagers.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		slog.Error("matching failed", "wager", taker.ID, "err", err)
		writeError(w, "matching failed", http.StatusInternalServerError)
		return
	}

	metrics.WagersPlaced.WithLabelValues(string(req.Side)).Inc()
	for _, f := range fills {
		metrics.FillsRecorded.Inc()
		metrics.MatchedVolume.Add(float64(f.Amount))
		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{
				Type:         "fill",
				EventID:      f.EventID,
				MakerWagerID: f.MakerWagerID,
				TakerWagerID: f.TakerWagerID,
				Amount:       f.Amount,
			})
		}
	}

	slog.Info("wager placed",
		"wager", taker.ID,
		"user", req.UserID,
		"event", req.EventID,
		"side", string(req.Side),
		"amount", req.Amount,
		"matched", taker.MatchedAmount,
		"fills", len(fills),
	)

	if fills == nil {
		fills = []model.Fill{}
	}
	writeJSON(w, http.StatusCreated, PlaceWagerResponse{Wager: *taker, Fills: fills})
}

// CancelWager handles POST /api/v1/wagers/{wagerID}/cancel
// Withdraws the unmatched remainder of a wager, releasing its committed
// funds. A fully matched wager has nothing cancellable.
func (s *Service) CancelWager(w http.ResponseWriter, r *http.Request) {
	wagerID := chi.URLParam(r, "wagerID")

	var req CancelWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	wg, err := s.store.GetWager(ctx, wagerID)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	if wg.OwnerID != req.UserID {
		writeError(w, "wager does not belong to requester", http.StatusForbidden)
		return
	}

	// Serialize against matching and settlement on the same event, then
	// reload: the wager may have been filled or settled while we waited.
	s.events.Lock(wg.EventID)
	defer s.events.Unlock(wg.EventID)

	wg, err = s.store.GetWager(ctx, wagerID)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}

	event, err := s.store.GetEvent(ctx, wg.EventID)
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}
	if !event.AcceptingWagers() {
		writeError(w, ErrEventNotAcceptingWagers.Error(), http.StatusConflict)
		return
	}
	if !wg.Matchable() {
		writeError(w, ErrInvalidState.Error()+": nothing cancellable remains", http.StatusConflict)
		return
	}

	released := wg.RemainingAmount
	if err := s.ledger.Release(ctx, wg.OwnerID, released, wg.ID); err != nil {
		slog.Error("release failed", "wager", wg.ID, "err", err)
		writeError(w, "failed to release funds", http.StatusInternalServerError)
		return
	}

	if wg.MatchedAmount == 0 {
		wg.Status = model.WagerCancelled
	} else {
		// Only the unmatched tail is cancelled; the matched portion stays
		// live and proceeds to settlement normally.
		wg.RemainingAmount = 0
		wg.Status = model.WagerMatched
	}
	if err := s.store.UpdateWager(ctx, wg, wg.Version); err != nil {
		slog.Error("cancel update failed", "wager", wg.ID, "err", err)
		writeError(w, "failed to cancel wager", http.StatusInternalServerError)
		return
	}

	metrics.WagersCancelled.Inc()
	slog.Info("wager cancelled",
		"wager", wg.ID,
		"user", req.UserID,
		"released", released,
		"status", string(wg.Status),
	)

	writeJSON(w, http.StatusOK, CancelWagerResponse{
		WagerID:        wg.ID,
		ReleasedAmount: released,
		Status:         wg.Status,
	})
}

// GetWager handles GET /api/v1/wagers/{wagerID}
// Returns the wager and every fill it participated in.
func (s *Service) GetWager(w http.ResponseWriter, r *http.Request) {
	wagerID := chi.URLParam(r, "wagerID")

	wg, err := s.store.GetWager(r.Context(), wagerID)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	fills, err := s.store.ListFillsByWager(r.Context(), wagerID)
	if err != nil {
		writeError(w, "failed to load fills", http.StatusInternalServerError)
		return
	}
	if fills == nil {
		fills = []model.Fill{}
	}
	writeJSON(w, http.StatusOK, PlaceWagerResponse{Wager: *wg, Fills: fills})
}

// ListUserWagers handles GET /api/v1/users/{userID}/wagers
func (s *Service) ListUserWagers(w http.ResponseWriter, r *http.Request) {
	wagers, err := s.store.ListUserWagers(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load wagers", http.StatusInternalServerError)
		return
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}
	writeJSON(w, http.StatusOK, wagers)
}

// --- Wallet handlers ---

// GetWallet handles GET /api/v1/wallets/{userID}
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.ledger.Snapshot(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "wallet not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Deposit handles POST /api/v1/wallets/{userID}/deposit
// The payment rail itself is external; this endpoint is the ledger-side
// credit it triggers.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	if err := s.ledger.Deposit(r.Context(), userID, req.Amount); err != nil {
		slog.Error("deposit failed", "user", userID, "err", err)
		writeError(w, "deposit failed", http.StatusInternalServerError)
		return
	}

	snapshot, err := s.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		writeError(w, "wallet not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Withdraw handles POST /api/v1/wallets/{userID}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	err := s.ledger.Withdraw(r.Context(), userID, req.Amount)
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "wallet not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("withdrawal failed", "user", userID, "err", err)
		writeError(w, "withdrawal failed", http.StatusInternalServerError)
		return
	}

	snapshot, err := s.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		writeError(w, "wallet not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ListTransactions handles GET /api/v1/wallets/{userID}/transactions
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Transactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
