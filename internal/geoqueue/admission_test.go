package geoqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

const bytesPerMB = 1024 * 1024

func newAdmissionFixture(t *testing.T, budgetMB float64) (*engineFixture, *AdmissionController) {
	t.Helper()
	f := newEngineFixture(t, false)
	admission := NewAdmissionController(AdmissionOptions{
		Store:    f.store,
		Queue:    f.queue,
		Engine:   f.engine,
		Features: f.features,
		Monitor:  f.monitor,
		BudgetMB: budgetMB,
	})
	return f, admission
}

func candidateSize(t *testing.T, m Mutation) int64 {
	t.Helper()
	record, err := EncodeMutation(m)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return int64(len(record) + len(RecordDelimiter))
}

func TestBudgetBoundaryExactFitIsAccepted(t *testing.T) {
	m := pointMutation("roads", 1, 2)
	size := candidateSize(t, m)
	// Dividing by 2^20 only shifts the exponent, so the byte budget
	// survives the float round trip exactly.
	f, admission := newAdmissionFixture(t, float64(size)/bytesPerMB)

	result, err := admission.Submit(context.Background(), m.Operation, m.LayerID, m.RemoteID,
		m.Geometry, nil, nil)
	if err != nil {
		t.Fatalf("exact-fit submit should be accepted: %v", err)
	}
	if result.Status != AdmissionQueued {
		t.Fatalf("expected queued, got %s", result.Status)
	}
	if depth, _ := f.queue.Len(); depth != 1 {
		t.Fatalf("expected one queued mutation, got %d", depth)
	}
}

func TestBudgetOverflowIsRejected(t *testing.T) {
	m := pointMutation("roads", 1, 2)
	size := candidateSize(t, m)
	f, admission := newAdmissionFixture(t, float64(size-1)/bytesPerMB)

	_, err := admission.Submit(context.Background(), m.Operation, m.LayerID, m.RemoteID,
		m.Geometry, nil, nil)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if depth, _ := f.queue.Len(); depth != 0 {
		t.Fatalf("rejected mutation must not be queued, got depth %d", depth)
	}
}

func TestOccupancyOverBudgetIsHardStop(t *testing.T) {
	f, admission := newAdmissionFixture(t, 1.0/bytesPerMB)
	if err := f.store.Set("geoqueue.other", "roomy payload that blows the tiny budget"); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}

	m := pointMutation("roads", 1, 2)
	_, err := admission.Submit(context.Background(), m.Operation, m.LayerID, m.RemoteID,
		m.Geometry, nil, nil)
	if !errors.Is(err, ErrQuotaNearFull) {
		t.Fatalf("expected ErrQuotaNearFull, got %v", err)
	}
	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) || !quotaErr.NearFull {
		t.Fatalf("expected near-full quota error, got %#v", err)
	}
}

func TestOfflineSubmitQueuesAndDetectsDuplicate(t *testing.T) {
	f, admission := newAdmissionFixture(t, 5)
	m := pointMutation("roads", 1, 2)

	first, err := admission.Submit(context.Background(), m.Operation, m.LayerID, m.RemoteID,
		m.Geometry, nil, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if first.Status != AdmissionQueued {
		t.Fatalf("expected queued, got %s", first.Status)
	}

	second, err := admission.Submit(context.Background(), m.Operation, m.LayerID, m.RemoteID,
		m.Geometry, nil, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if second.Status != AdmissionDuplicate {
		t.Fatalf("expected duplicate, got %s", second.Status)
	}
	if depth, _ := f.queue.Len(); depth != 1 {
		t.Fatalf("expected one queued entry, got %d", depth)
	}
}

func TestOnlineSubmitBypassesQueue(t *testing.T) {
	f, admission := newAdmissionFixture(t, 5)
	f.monitor.SetOnline(true)

	done := make(chan EditResult, 1)
	m := pointMutation("hydrants", 1, 2)
	result, err := admission.Submit(context.Background(), m.Operation, m.LayerID, m.RemoteID,
		m.Geometry, nil, func(edit EditResult, submitErr error) {
			if submitErr == nil {
				done <- edit
			}
		})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Status != AdmissionSubmitted {
		t.Fatalf("expected direct submission, got %s", result.Status)
	}

	select {
	case edit := <-done:
		if !edit.Success || edit.AssignedID == "" {
			t.Fatalf("unexpected direct result %+v", edit)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for direct submission callback")
	}
	if depth, _ := f.queue.Len(); depth != 0 {
		t.Fatalf("direct path must not touch the queue, depth=%d", depth)
	}
}

func TestSubmitRejectsMalformedGeometry(t *testing.T) {
	_, admission := newAdmissionFixture(t, 5)
	_, err := admission.Submit(context.Background(), OpCreate, "roads", "", Geometry{Type: "circle"}, nil, nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
