package wager_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pairwage/wager-engine/internal/ledger"
	"github.com/pairwage/wager-engine/internal/locks"
	"github.com/pairwage/wager-engine/internal/model"
	"github.com/pairwage/wager-engine/internal/settle"
	"github.com/pairwage/wager-engine/internal/store"
	"github.com/pairwage/wager-engine/internal/wager"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st := store.NewMemoryStore()
	eventLocks := locks.NewKeyedMutex()
	svc := wager.NewService(st, ledger.New(st), eventLocks, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", svc.ListEvents)
		r.Post("/events", svc.CreateEvent)
		r.Get("/events/{eventID}", svc.GetEvent)
		r.Post("/events/{eventID}/lock", svc.LockEvent)
		r.Post("/events/{eventID}/settle", svc.SettleEvent)
		r.Get("/events/{eventID}/book", svc.GetEventBook)
		r.Get("/events/{eventID}/fills", svc.ListEventFills)
		r.Post("/wagers", svc.PlaceWager)
		r.Get("/wagers/{wagerID}", svc.GetWager)
		r.Post("/wagers/{wagerID}/cancel", svc.CancelWager)
		r.Get("/users/{userID}/wagers", svc.ListUserWagers)
		r.Get("/wallets/{userID}", svc.GetWallet)
		r.Post("/wallets/{userID}/deposit", svc.Deposit)
		r.Post("/wallets/{userID}/withdraw", svc.Withdraw)
		r.Get("/wallets/{userID}/transactions", svc.ListTransactions)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func createEvent(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var event model.Event
	code := doJSON(t, "POST", srv.URL+"/api/v1/events", wager.CreateEventRequest{
		Name:  "Falcons vs Ravens",
		SideA: "Falcons",
		SideB: "Ravens",
	}, &event)
	if code != http.StatusCreated {
		t.Fatalf("create event: expected 201, got %d", code)
	}
	return event.ID
}

func deposit(t *testing.T, srv *httptest.Server, user string, amount int64) {
	t.Helper()
	code := doJSON(t, "POST", srv.URL+"/api/v1/wallets/"+user+"/deposit", wager.AmountRequest{Amount: amount}, nil)
	if code != http.StatusOK {
		t.Fatalf("deposit for %s: expected 200, got %d", user, code)
	}
}

func placeWager(t *testing.T, srv *httptest.Server, user, eventID string, side model.Side, amount int64) wager.PlaceWagerResponse {
	t.Helper()
	var resp wager.PlaceWagerResponse
	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers", wager.PlaceWagerRequest{
		UserID:  user,
		EventID: eventID,
		Side:    side,
		Amount:  amount,
	}, &resp)
	if code != http.StatusCreated {
		t.Fatalf("place wager for %s: expected 201, got %d", user, code)
	}
	return resp
}

func getWallet(t *testing.T, srv *httptest.Server, user string) model.Wallet {
	t.Helper()
	var w model.Wallet
	if code := doJSON(t, "GET", srv.URL+"/api/v1/wallets/"+user, nil, &w); code != http.StatusOK {
		t.Fatalf("get wallet for %s: expected 200, got %d", user, code)
	}
	return w
}

func TestPlaceWager_ReservesStake(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)

	resp := placeWager(t, srv, "u1", eventID, model.SideA, 400)
	if resp.Wager.Status != model.WagerPending {
		t.Errorf("expected pending, got %s", resp.Wager.Status)
	}
	if len(resp.Fills) != 0 {
		t.Errorf("expected no fills, got %d", len(resp.Fills))
	}

	w := getWallet(t, srv, "u1")
	if w.AvailableBalance != 600 || w.CommittedBalance != 400 {
		t.Errorf("expected 600/400, got %d/%d", w.AvailableBalance, w.CommittedBalance)
	}
}

func TestPlaceWager_InsufficientFunds(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 100)

	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers", wager.PlaceWagerRequest{
		UserID: "u1", EventID: eventID, Side: model.SideA, Amount: 200,
	}, nil)
	if code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}

	// Rejected placement leaves balances untouched.
	w := getWallet(t, srv, "u1")
	if w.AvailableBalance != 100 || w.CommittedBalance != 0 {
		t.Errorf("expected 100/0, got %d/%d", w.AvailableBalance, w.CommittedBalance)
	}
}

func TestPlaceWager_NoWallet(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)

	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers", wager.PlaceWagerRequest{
		UserID: "nobody", EventID: eventID, Side: model.SideA, Amount: 100,
	}, nil)
	if code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestPlaceWager_Validation(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)

	cases := []struct {
		name string
		req  wager.PlaceWagerRequest
	}{
		{"missing user", wager.PlaceWagerRequest{EventID: eventID, Side: model.SideA, Amount: 100}},
		{"bad side", wager.PlaceWagerRequest{UserID: "u1", EventID: eventID, Side: "C", Amount: 100}},
		{"zero amount", wager.PlaceWagerRequest{UserID: "u1", EventID: eventID, Side: model.SideA, Amount: 0}},
		{"negative amount", wager.PlaceWagerRequest{UserID: "u1", EventID: eventID, Side: model.SideA, Amount: -50}},
	}
	for _, c := range cases {
		if code := doJSON(t, "POST", srv.URL+"/api/v1/wagers", c.req, nil); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", c.name, code)
		}
	}
}

func TestPlaceWager_LockedEvent(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)

	if code := doJSON(t, "POST", srv.URL+"/api/v1/events/"+eventID+"/lock", nil, nil); code != http.StatusOK {
		t.Fatalf("lock event: expected 200, got %d", code)
	}

	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers", wager.PlaceWagerRequest{
		UserID: "u1", EventID: eventID, Side: model.SideA, Amount: 100,
	}, nil)
	if code != http.StatusConflict {
		t.Errorf("expected 409 on locked event, got %d", code)
	}
}

func TestPlaceWager_MatchesOpposingWager(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)
	deposit(t, srv, "u2", 1000)

	maker := placeWager(t, srv, "u1", eventID, model.SideA, 300)
	taker := placeWager(t, srv, "u2", eventID, model.SideB, 300)

	if taker.Wager.Status != model.WagerMatched {
		t.Errorf("taker: expected matched, got %s", taker.Wager.Status)
	}
	if len(taker.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(taker.Fills))
	}
	f := taker.Fills[0]
	if f.MakerWagerID != maker.Wager.ID || f.TakerWagerID != taker.Wager.ID || f.Amount != 300 {
		t.Errorf("unexpected fill: %+v", f)
	}

	// Matching moves no money: both stakes remain committed.
	for _, user := range []string{"u1", "u2"} {
		w := getWallet(t, srv, user)
		if w.AvailableBalance != 700 || w.CommittedBalance != 300 {
			t.Errorf("%s: expected 700/300, got %d/%d", user, w.AvailableBalance, w.CommittedBalance)
		}
	}
}

func TestCancelWager_ReleasesFunds(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)

	placed := placeWager(t, srv, "u1", eventID, model.SideA, 500)

	var resp wager.CancelWagerResponse
	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers/"+placed.Wager.ID+"/cancel",
		wager.CancelWagerRequest{UserID: "u1"}, &resp)
	if code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", code)
	}
	if resp.ReleasedAmount != 500 {
		t.Errorf("expected released 500, got %d", resp.ReleasedAmount)
	}
	if resp.Status != model.WagerCancelled {
		t.Errorf("expected cancelled, got %s", resp.Status)
	}

	w := getWallet(t, srv, "u1")
	if w.AvailableBalance != 1000 || w.CommittedBalance != 0 {
		t.Errorf("expected 1000/0 after cancel, got %d/%d", w.AvailableBalance, w.CommittedBalance)
	}

	// Cancelling again has nothing to release.
	code = doJSON(t, "POST", srv.URL+"/api/v1/wagers/"+placed.Wager.ID+"/cancel",
		wager.CancelWagerRequest{UserID: "u1"}, nil)
	if code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", code)
	}
}

func TestCancelWager_FullyMatched(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)
	deposit(t, srv, "u2", 1000)

	maker := placeWager(t, srv, "u1", eventID, model.SideA, 300)
	placeWager(t, srv, "u2", eventID, model.SideB, 300)

	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers/"+maker.Wager.ID+"/cancel",
		wager.CancelWagerRequest{UserID: "u1"}, nil)
	if code != http.StatusConflict {
		t.Errorf("expected 409 for fully matched wager, got %d", code)
	}
}

func TestCancelWager_PartiallyMatched(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)
	deposit(t, srv, "u2", 1000)

	placed := placeWager(t, srv, "u1", eventID, model.SideA, 500)
	placeWager(t, srv, "u2", eventID, model.SideB, 200)

	var resp wager.CancelWagerResponse
	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers/"+placed.Wager.ID+"/cancel",
		wager.CancelWagerRequest{UserID: "u1"}, &resp)
	if code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", code)
	}
	// Only the unmatched tail is released; the matched 200 stays at risk.
	if resp.ReleasedAmount != 300 {
		t.Errorf("expected released 300, got %d", resp.ReleasedAmount)
	}
	if resp.Status != model.WagerMatched {
		t.Errorf("expected matched, got %s", resp.Status)
	}

	w := getWallet(t, srv, "u1")
	if w.AvailableBalance != 800 || w.CommittedBalance != 200 {
		t.Errorf("expected 800/200, got %d/%d", w.AvailableBalance, w.CommittedBalance)
	}
}

func TestCancelWager_WrongUser(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)

	placed := placeWager(t, srv, "u1", eventID, model.SideA, 100)

	code := doJSON(t, "POST", srv.URL+"/api/v1/wagers/"+placed.Wager.ID+"/cancel",
		wager.CancelWagerRequest{UserID: "u2"}, nil)
	if code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
}

func TestSettleEvent_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)
	deposit(t, srv, "u2", 600)
	deposit(t, srv, "u3", 400)

	placeWager(t, srv, "u1", eventID, model.SideA, 1000)
	placeWager(t, srv, "u2", eventID, model.SideB, 600)
	placeWager(t, srv, "u3", eventID, model.SideB, 400)

	var summary settle.Summary
	code := doJSON(t, "POST", srv.URL+"/api/v1/events/"+eventID+"/settle",
		wager.SettleEventRequest{Outcome: model.OutcomeSideA}, &summary)
	if code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d", code)
	}
	if summary.WinnersCount != 1 || summary.LosersCount != 2 {
		t.Errorf("expected 1 winner / 2 losers, got %+v", summary)
	}
	if summary.TotalPaid != 2000 {
		t.Errorf("expected total paid 2000, got %d", summary.TotalPaid)
	}

	// U1 staked their whole 1000 and doubled it.
	u1 := getWallet(t, srv, "u1")
	if u1.AvailableBalance != 2000 || u1.CommittedBalance != 0 {
		t.Errorf("u1: expected 2000/0, got %d/%d", u1.AvailableBalance, u1.CommittedBalance)
	}
	// Losers keep nothing of their stakes.
	for _, user := range []string{"u2", "u3"} {
		w := getWallet(t, srv, user)
		if w.AvailableBalance != 0 || w.CommittedBalance != 0 {
			t.Errorf("%s: expected 0/0, got %d/%d", user, w.AvailableBalance, w.CommittedBalance)
		}
	}

	// Settling twice is a conflict.
	code = doJSON(t, "POST", srv.URL+"/api/v1/events/"+eventID+"/settle",
		wager.SettleEventRequest{Outcome: model.OutcomeSideA}, nil)
	if code != http.StatusConflict {
		t.Errorf("second settle: expected 409, got %d", code)
	}
}

func TestSettleEvent_BadOutcome(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)

	code := doJSON(t, "POST", srv.URL+"/api/v1/events/"+eventID+"/settle",
		map[string]string{"outcome": "rainout"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestEventBook(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)
	deposit(t, srv, "u2", 1000)

	// 500 on A, 250 on B: 250 matches each side, 250 stays open on A.
	placeWager(t, srv, "u1", eventID, model.SideA, 500)
	placeWager(t, srv, "u2", eventID, model.SideB, 250)

	var book wager.EventBook
	if code := doJSON(t, "GET", srv.URL+"/api/v1/events/"+eventID+"/book", nil, &book); code != http.StatusOK {
		t.Fatalf("book: expected 200, got %d", code)
	}

	if book.SideA.MatchedAmount != 250 || book.SideB.MatchedAmount != 250 {
		t.Errorf("matched volume must be equal on both sides, got %d/%d",
			book.SideA.MatchedAmount, book.SideB.MatchedAmount)
	}
	if book.SideA.OpenAmount != 250 {
		t.Errorf("expected 250 open on side A, got %d", book.SideA.OpenAmount)
	}
	if book.SideB.OpenAmount != 0 {
		t.Errorf("expected 0 open on side B, got %d", book.SideB.OpenAmount)
	}
	if book.FillCount != 1 {
		t.Errorf("expected 1 fill, got %d", book.FillCount)
	}
	// 500 matched of 750 total staked.
	want := decimal.NewFromFloat(66.67)
	if !book.MatchRatio.Equal(want) {
		t.Errorf("expected match ratio %s, got %s", want, book.MatchRatio)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	srv := newTestServer(t)

	var w model.Wallet
	code := doJSON(t, "POST", srv.URL+"/api/v1/wallets/u1/deposit", wager.AmountRequest{Amount: 1000}, &w)
	if code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d", code)
	}
	if w.AvailableBalance != 1000 {
		t.Errorf("expected available 1000, got %d", w.AvailableBalance)
	}

	code = doJSON(t, "POST", srv.URL+"/api/v1/wallets/u1/withdraw", wager.AmountRequest{Amount: 400}, &w)
	if code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d", code)
	}
	if w.AvailableBalance != 600 {
		t.Errorf("expected available 600, got %d", w.AvailableBalance)
	}

	code = doJSON(t, "POST", srv.URL+"/api/v1/wallets/u1/withdraw", wager.AmountRequest{Amount: 1000}, nil)
	if code != http.StatusConflict {
		t.Errorf("overdraft withdraw: expected 409, got %d", code)
	}
}

func TestGetWager_IncludesFills(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)
	deposit(t, srv, "u2", 1000)

	maker := placeWager(t, srv, "u1", eventID, model.SideA, 300)
	placeWager(t, srv, "u2", eventID, model.SideB, 300)

	var resp wager.PlaceWagerResponse
	code := doJSON(t, "GET", srv.URL+"/api/v1/wagers/"+maker.Wager.ID, nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("get wager: expected 200, got %d", code)
	}
	if resp.Wager.Status != model.WagerMatched {
		t.Errorf("expected matched, got %s", resp.Wager.Status)
	}
	if len(resp.Fills) != 1 {
		t.Errorf("expected 1 fill, got %d", len(resp.Fills))
	}
}

func TestListUserWagers(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)

	for i := 0; i < 3; i++ {
		placeWager(t, srv, "u1", eventID, model.SideA, 100)
	}

	var wagers []model.Wager
	code := doJSON(t, "GET", srv.URL+"/api/v1/users/u1/wagers", nil, &wagers)
	if code != http.StatusOK {
		t.Fatalf("list wagers: expected 200, got %d", code)
	}
	if len(wagers) != 3 {
		t.Errorf("expected 3 wagers, got %d", len(wagers))
	}
}

func TestTransactionTrailOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 1000)

	placed := placeWager(t, srv, "u1", eventID, model.SideA, 500)
	doJSON(t, "POST", srv.URL+"/api/v1/wagers/"+placed.Wager.ID+"/cancel",
		wager.CancelWagerRequest{UserID: "u1"}, nil)

	var txs []model.Transaction
	code := doJSON(t, "GET", srv.URL+"/api/v1/wallets/u1/transactions", nil, &txs)
	if code != http.StatusOK {
		t.Fatalf("transactions: expected 200, got %d", code)
	}
	if len(txs) != 3 {
		t.Fatalf("expected deposit+reserve+release, got %d transactions", len(txs))
	}
	wantKinds := []model.TransactionKind{model.TxDeposit, model.TxStakeReserve, model.TxStakeRelease}
	for i, k := range wantKinds {
		if txs[i].Kind != k {
			t.Errorf("tx %d: expected %s, got %s", i, k, txs[i].Kind)
		}
	}
}

func TestBalanceConservationUnderMatching(t *testing.T) {
	// Total money in the system is constant through placement and matching;
	// only deposits and withdrawals change it.
	srv := newTestServer(t)
	eventID := createEvent(t, srv)

	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		deposit(t, srv, u, 1000)
	}

	placeWager(t, srv, "u1", eventID, model.SideA, 700)
	placeWager(t, srv, "u2", eventID, model.SideB, 300)
	placeWager(t, srv, "u3", eventID, model.SideB, 500)
	placeWager(t, srv, "u4", eventID, model.SideA, 250)

	var total int64
	for _, u := range users {
		w := getWallet(t, srv, u)
		total += w.AvailableBalance + w.CommittedBalance
	}
	if total != 4000 {
		t.Errorf("expected total 4000 across wallets, got %d", total)
	}
}

func TestSettleDraw_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	eventID := createEvent(t, srv)
	deposit(t, srv, "u1", 500)
	deposit(t, srv, "u2", 500)

	placeWager(t, srv, "u1", eventID, model.SideA, 500)
	placeWager(t, srv, "u2", eventID, model.SideB, 500)

	var summary settle.Summary
	code := doJSON(t, "POST", srv.URL+"/api/v1/events/"+eventID+"/settle",
		wager.SettleEventRequest{Outcome: model.OutcomeDraw}, &summary)
	if code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d", code)
	}
	if summary.RefundedCount != 2 {
		t.Errorf("expected 2 refunded, got %d", summary.RefundedCount)
	}

	// Everybody gets their stake back on a draw.
	for _, user := range []string{"u1", "u2"} {
		w := getWallet(t, srv, user)
		if w.AvailableBalance != 500 || w.CommittedBalance != 0 {
			t.Errorf("%s: expected 500/0, got %d/%d", user, w.AvailableBalance, w.CommittedBalance)
		}
	}
}

func TestCreateEvent_Validation(t *testing.T) {
	srv := newTestServer(t)

	cases := []wager.CreateEventRequest{
		{},
		{Name: "no sides"},
		{Name: "one side", SideA: "A"},
	}
	for i, req := range cases {
		if code := doJSON(t, "POST", srv.URL+"/api/v1/events", req, nil); code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, code)
		}
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	srv := newTestServer(t)
	if code := doJSON(t, "GET", srv.URL+"/api/v1/events/ghost", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}
