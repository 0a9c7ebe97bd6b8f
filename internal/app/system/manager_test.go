package system

import (
	"context"
	"fmt"
	"testing"
)

type stubService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Start(context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s *stubService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&stubService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestManagerStartRollsBackOnFailure(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(&stubService{name: "a", events: &events})
	_ = m.Register(&stubService{name: "b", startErr: fmt.Errorf("boom"), events: &events})
	_ = m.Register(&stubService{name: "c", events: &events})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&stubService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&stubService{name: "a", events: &events}); err == nil {
		t.Fatal("expected duplicate name rejection")
	}
	if err := m.Register(NoopService{}); err == nil {
		t.Fatal("expected empty name rejection")
	}
}

func TestManagerClosedAfterStart(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(&stubService{name: "a", events: &events})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&stubService{name: "b", events: &events}); err == nil {
		t.Fatal("expected registration to be closed after start")
	}
}
