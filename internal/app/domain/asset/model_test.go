package asset

import "testing"

func TestStateValid(t *testing.T) {
	for _, s := range []State{StateDraft, StateCreated, StateListed, StatePendingSale, StateSold, StateReverted} {
		if !s.Valid() {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if State("unknown").Valid() {
		t.Fatal("expected unknown state to be invalid")
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := map[State][]State{
		StateDraft:       {StateCreated},
		StateCreated:     {StateListed},
		StateListed:      {StatePendingSale, StateReverted},
		StatePendingSale: {StateSold, StateReverted},
		StateSold:        nil,
		StateReverted:    {StateListed},
	}

	all := []State{StateDraft, StateCreated, StateListed, StatePendingSale, StateSold, StateReverted}
	for from, nexts := range allowed {
		permitted := make(map[State]bool)
		for _, n := range nexts {
			permitted[n] = true
		}
		for _, to := range all {
			if got := from.CanTransition(to); got != permitted[to] {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, permitted[to])
			}
		}
	}
}

func TestNoTransitionSkipsAState(t *testing.T) {
	if StateCreated.CanTransition(StatePendingSale) {
		t.Fatal("created must not jump straight to pending_sale")
	}
	if StateCreated.CanTransition(StateSold) {
		t.Fatal("created must not jump straight to sold")
	}
	if StateListed.CanTransition(StateSold) {
		t.Fatal("listed must not jump straight to sold")
	}
}
