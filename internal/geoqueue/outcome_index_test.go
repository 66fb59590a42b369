package geoqueue

import (
	"testing"
	"time"
)

func sampleOutcome(remoteID string, succeeded bool) OutcomeRecord {
	return OutcomeRecord{
		LayerID:      "roads",
		RemoteID:     remoteID,
		Operation:    OpCreate,
		Succeeded:    succeeded,
		GeometryType: GeometryPoint,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func TestOutcomeIndexAppendAndFind(t *testing.T) {
	index := NewOutcomeIndex(NewMemoryRecordStore(), NewBus())
	if err := index.Append(sampleOutcome("101", true)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := index.Append(sampleOutcome("102", false)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	outcome, ok, err := index.Find("102")
	if err != nil || !ok {
		t.Fatalf("expected to find 102, ok=%v err=%v", ok, err)
	}
	if outcome.Succeeded {
		t.Fatalf("expected failed outcome for 102, got %+v", outcome)
	}
	if _, ok, _ := index.Find("999"); ok {
		t.Fatalf("expected no outcome for unknown id")
	}
}

func TestOutcomeIndexGrowsMonotonically(t *testing.T) {
	index := NewOutcomeIndex(NewMemoryRecordStore(), NewBus())
	for i := 0; i < 3; i++ {
		if err := index.Append(sampleOutcome("101", true)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		outcomes, err := index.ListAll()
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(outcomes) != i+1 {
			t.Fatalf("append must never replace entries: got %d want %d", len(outcomes), i+1)
		}
	}
}

func TestOutcomeIndexPersistsAcrossReopen(t *testing.T) {
	store := NewMemoryRecordStore()
	index := NewOutcomeIndex(store, NewBus())
	if err := index.Append(sampleOutcome("101", true)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reopened := NewOutcomeIndex(store, NewBus())
	outcomes, err := reopened.ListAll()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].RemoteID != "101" {
		t.Fatalf("expected persisted outcome, got %+v", outcomes)
	}
}

func TestOutcomeAppendEmitsEvent(t *testing.T) {
	bus := NewBus()
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })
	index := NewOutcomeIndex(NewMemoryRecordStore(), bus)
	if err := index.Append(sampleOutcome("101", true)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventOutcomeLogged {
		t.Fatalf("expected one outcome event, got %+v", events)
	}
	if events[0].Outcome == nil || events[0].Outcome.RemoteID != "101" {
		t.Fatalf("event missing outcome payload: %+v", events[0])
	}
}
