package model_test

import (
	"testing"

	"github.com/pairwage/wager-engine/internal/model"
)

func TestSideOpposite(t *testing.T) {
	if model.SideA.Opposite() != model.SideB {
		t.Error("opposite of A should be B")
	}
	if model.SideB.Opposite() != model.SideA {
		t.Error("opposite of B should be A")
	}
}

func TestSideValid(t *testing.T) {
	if !model.SideA.Valid() || !model.SideB.Valid() {
		t.Error("A and B should be valid sides")
	}
	if model.Side("C").Valid() {
		t.Error("C should not be a valid side")
	}
	if model.Side("").Valid() {
		t.Error("empty side should not be valid")
	}
}

func TestOutcomeWinningSide(t *testing.T) {
	side, ok := model.OutcomeSideA.WinningSide()
	if !ok || side != model.SideA {
		t.Errorf("expected side A winner, got %s ok=%v", side, ok)
	}
	side, ok = model.OutcomeSideB.WinningSide()
	if !ok || side != model.SideB {
		t.Errorf("expected side B winner, got %s ok=%v", side, ok)
	}
	if _, ok := model.OutcomeDraw.WinningSide(); ok {
		t.Error("draw should have no winning side")
	}
}

func TestWagerStatusTerminal(t *testing.T) {
	terminal := []model.WagerStatus{model.WagerWon, model.WagerLost, model.WagerRefunded, model.WagerCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []model.WagerStatus{model.WagerPending, model.WagerPartiallyMatched, model.WagerMatched}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestWagerStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to model.WagerStatus
		allowed  bool
	}{
		{model.WagerPending, model.WagerPartiallyMatched, true},
		{model.WagerPending, model.WagerMatched, true},
		{model.WagerPending, model.WagerCancelled, true},
		{model.WagerPending, model.WagerRefunded, true},
		{model.WagerPending, model.WagerWon, false}, // nothing matched, nothing to win
		{model.WagerPartiallyMatched, model.WagerMatched, true},
		{model.WagerPartiallyMatched, model.WagerWon, true},
		{model.WagerPartiallyMatched, model.WagerCancelled, false}, // matched portion survives
		{model.WagerMatched, model.WagerWon, true},
		{model.WagerMatched, model.WagerLost, true},
		{model.WagerMatched, model.WagerRefunded, true},
		{model.WagerMatched, model.WagerCancelled, false},
		{model.WagerWon, model.WagerLost, false}, // terminal states are final
		{model.WagerCancelled, model.WagerPending, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.allowed {
			t.Errorf("%s → %s: expected allowed=%v, got %v", c.from, c.to, c.allowed, got)
		}
	}
}

func TestWagerMatchable(t *testing.T) {
	w := &model.Wager{Status: model.WagerPending, RemainingAmount: 100}
	if !w.Matchable() {
		t.Error("pending wager with remaining should be matchable")
	}

	w.RemainingAmount = 0
	if w.Matchable() {
		t.Error("wager with zero remaining should not be matchable")
	}

	w = &model.Wager{Status: model.WagerMatched, RemainingAmount: 50}
	if w.Matchable() {
		t.Error("fully matched wager should not be matchable")
	}
}

func TestEventAcceptingWagers(t *testing.T) {
	e := &model.Event{Status: model.EventOpen}
	if !e.AcceptingWagers() {
		t.Error("open event should accept wagers")
	}
	e.Status = model.EventLocked
	if e.AcceptingWagers() {
		t.Error("locked event should not accept wagers")
	}
	e.Status = model.EventSettled
	if e.AcceptingWagers() {
		t.Error("settled event should not accept wagers")
	}
}
