package geoqueue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
)

type fakeFeatureStore struct {
	mu           sync.Mutex
	callErr      error
	perItemFail  bool
	unresolvable map[string]bool
	nextID       int
	calls        []Mutation
}

func newFakeFeatureStore() *fakeFeatureStore {
	return &fakeFeatureStore{nextID: 101, unresolvable: map[string]bool{}}
}

func (f *fakeFeatureStore) ResolveLayer(layerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unresolvable[layerID]
}

func (f *fakeFeatureStore) apply(m Mutation) (EditResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return EditResult{}, f.callErr
	}
	f.calls = append(f.calls, m)
	if f.perItemFail {
		return EditResult{Success: false, Err: "rejected by backend"}, nil
	}
	assigned := m.RemoteID
	if assigned == "" {
		assigned = strconv.Itoa(f.nextID)
		f.nextID++
	}
	return EditResult{Success: true, AssignedID: assigned}, nil
}

func (f *fakeFeatureStore) Create(_ context.Context, m Mutation) (EditResult, error) {
	return f.apply(m)
}

func (f *fakeFeatureStore) Update(_ context.Context, m Mutation) (EditResult, error) {
	return f.apply(m)
}

func (f *fakeFeatureStore) Delete(_ context.Context, m Mutation) (EditResult, error) {
	return f.apply(m)
}

func (f *fakeFeatureStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type engineFixture struct {
	store    RecordStore
	queue    *PendingQueue
	outcomes *OutcomeIndex
	features *fakeFeatureStore
	monitor  *ManualMonitor
	bus      *Bus
	engine   *SyncEngine
}

func newEngineFixture(t *testing.T, strict bool) *engineFixture {
	t.Helper()
	store := NewMemoryRecordStore()
	bus := NewBus()
	queue := NewPendingQueue(store, bus, nil)
	outcomes := NewOutcomeIndex(store, bus)
	features := newFakeFeatureStore()
	monitor := NewManualMonitor(false)
	engine := NewSyncEngine(EngineOptions{
		Queue:          queue,
		Outcomes:       outcomes,
		Features:       features,
		Monitor:        monitor,
		Bus:            bus,
		StrictOutcomes: strict,
	})
	t.Cleanup(engine.Close)
	return &engineFixture{
		store:    store,
		queue:    queue,
		outcomes: outcomes,
		features: features,
		monitor:  monitor,
		bus:      bus,
		engine:   engine,
	}
}

func (f *engineFixture) enqueue(t *testing.T, m Mutation) {
	t.Helper()
	record, err := EncodeMutation(m)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := f.queue.Insert(record); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}

func TestReplayDrainsQueueAndLogsOutcomes(t *testing.T) {
	f := newEngineFixture(t, false)
	const n = 4
	for i := 0; i < n; i++ {
		f.enqueue(t, pointMutation("roads", float64(i), float64(i)))
	}
	f.engine.Arm()

	f.monitor.SetOnline(true)
	f.engine.Flush()

	if depth, _ := f.queue.Len(); depth != 0 {
		t.Fatalf("expected empty queue after replay, depth=%d", depth)
	}
	outcomes, err := f.outcomes.ListAll()
	if err != nil {
		t.Fatalf("list outcomes failed: %v", err)
	}
	if len(outcomes) != n {
		t.Fatalf("expected %d outcomes, got %d", n, len(outcomes))
	}
	for _, outcome := range outcomes {
		if !outcome.Succeeded || outcome.LayerID != "roads" {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
	if f.engine.State() != StateIdle {
		t.Fatalf("expected engine idle after replay, got %s", f.engine.State())
	}
}

func TestCallErrorLeavesMutationQueuedForNextUpTransition(t *testing.T) {
	f := newEngineFixture(t, false)
	f.enqueue(t, pointMutation("roads", 1, 2))
	f.engine.Arm()

	f.features.callErr = errors.New("connection reset")
	f.monitor.SetOnline(true)
	f.engine.Flush()

	if depth, _ := f.queue.Len(); depth != 1 {
		t.Fatalf("mutation should stay queued after call error, depth=%d", depth)
	}
	if outcomes, _ := f.outcomes.ListAll(); len(outcomes) != 0 {
		t.Fatalf("call errors must not log outcomes, got %d", len(outcomes))
	}

	f.features.callErr = nil
	f.monitor.SetOnline(false)
	f.monitor.SetOnline(true)
	f.engine.Flush()

	if depth, _ := f.queue.Len(); depth != 0 {
		t.Fatalf("expected resubmission to drain queue, depth=%d", depth)
	}
	if f.features.callCount() != 1 {
		t.Fatalf("expected exactly one successful submission, got %d", f.features.callCount())
	}
}

func TestLegacyModeRemovesOnCompletionDespitePerItemFailure(t *testing.T) {
	f := newEngineFixture(t, false)
	f.enqueue(t, pointMutation("roads", 1, 2))
	f.engine.Arm()

	f.features.perItemFail = true
	f.monitor.SetOnline(true)
	f.engine.Flush()

	if depth, _ := f.queue.Len(); depth != 0 {
		t.Fatalf("legacy mode couples removal to call completion, depth=%d", depth)
	}
	outcomes, _ := f.outcomes.ListAll()
	if len(outcomes) != 1 || outcomes[0].Succeeded {
		t.Fatalf("expected one failed outcome, got %+v", outcomes)
	}
}

func TestStrictModeKeepsMutationOnPerItemFailure(t *testing.T) {
	f := newEngineFixture(t, true)
	f.enqueue(t, pointMutation("roads", 1, 2))
	f.engine.Arm()

	f.features.perItemFail = true
	f.monitor.SetOnline(true)
	f.engine.Flush()

	if depth, _ := f.queue.Len(); depth != 1 {
		t.Fatalf("strict mode must keep rejected mutations queued, depth=%d", depth)
	}
	outcomes, _ := f.outcomes.ListAll()
	if len(outcomes) != 1 || outcomes[0].Succeeded {
		t.Fatalf("failure outcome should still be logged, got %+v", outcomes)
	}
}

func TestUnresolvableLayerIsSkippedNotDropped(t *testing.T) {
	f := newEngineFixture(t, false)
	f.enqueue(t, pointMutation("orphaned", 1, 2))
	f.enqueue(t, pointMutation("roads", 3, 4))
	f.features.unresolvable["orphaned"] = true
	f.engine.Arm()

	f.monitor.SetOnline(true)
	f.engine.Flush()

	mutations, err := f.queue.ListAll()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(mutations) != 1 || mutations[0].LayerID != "orphaned" {
		t.Fatalf("expected only the orphaned mutation to remain, got %+v", mutations)
	}
}

func TestRepeatedIdenticalConnectivitySignalsAreNoops(t *testing.T) {
	f := newEngineFixture(t, false)
	f.enqueue(t, pointMutation("roads", 1, 2))
	f.engine.Arm()

	f.monitor.SetOnline(false)
	f.monitor.SetOnline(false)
	if got := f.features.callCount(); got != 0 {
		t.Fatalf("offline signals must not submit, got %d calls", got)
	}
	f.monitor.SetOnline(true)
	f.engine.Flush()
	f.monitor.SetOnline(true)
	f.engine.Flush()
	if got := f.features.callCount(); got != 1 {
		t.Fatalf("expected one submission, got %d", got)
	}
}

func TestArmIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, false)
	f.enqueue(t, pointMutation("roads", 1, 2))
	f.engine.Arm()
	f.engine.Arm()

	f.monitor.SetOnline(true)
	f.engine.Flush()
	if got := f.features.callCount(); got != 1 {
		t.Fatalf("double arm must not double submissions, got %d", got)
	}
}

func TestArmedStateWhileOfflineWithPendingWork(t *testing.T) {
	f := newEngineFixture(t, false)
	f.enqueue(t, pointMutation("roads", 1, 2))
	f.engine.Arm()
	if f.engine.State() != StateArmed {
		t.Fatalf("expected armed state with pending work offline, got %s", f.engine.State())
	}
}

func TestOfflinePointSubmitThenReplayScenario(t *testing.T) {
	f := newEngineFixture(t, false)
	admission := NewAdmissionController(AdmissionOptions{
		Store:    f.store,
		Queue:    f.queue,
		Engine:   f.engine,
		Features: f.features,
		Monitor:  f.monitor,
		BudgetMB: 5,
	})

	result, err := admission.Submit(context.Background(), OpCreate, "hydrants", "",
		PointGeometry(-117.19, 34.05), map[string]any{"status": "new"}, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Status != AdmissionQueued {
		t.Fatalf("expected queued admission, got %s", result.Status)
	}
	if depth, _ := f.queue.Len(); depth != 1 {
		t.Fatalf("expected queue length 1, got %d", depth)
	}

	f.monitor.SetOnline(true)
	f.engine.Flush()

	if depth, _ := f.queue.Len(); depth != 0 {
		t.Fatalf("expected queue drained, got %d", depth)
	}
	outcome, ok, err := f.outcomes.Find("101")
	if err != nil || !ok {
		t.Fatalf("expected outcome for remoteId 101, ok=%v err=%v", ok, err)
	}
	if !outcome.Succeeded || outcome.GeometryType != GeometryPoint {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}
