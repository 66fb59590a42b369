package geoqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EngineState string

const (
	StateIdle      EngineState = "idle"
	StateArmed     EngineState = "armed"
	StateReplaying EngineState = "replaying"
)

type EngineOptions struct {
	Queue    *PendingQueue
	Outcomes *OutcomeIndex
	Features FeatureStore
	Monitor  ConnectivityMonitor
	Bus      *Bus
	Logger   *slog.Logger

	// StrictOutcomes removes a mutation from the queue only when the
	// backend reports per-item success. The legacy behavior (default)
	// removes on call completion regardless of the item's own success
	// flag, which can discard edits the backend rejected; strict mode is
	// the recommended setting for new deployments.
	StrictOutcomes bool
}

// SyncEngine replays the pending queue against the feature backend when
// connectivity returns. It holds no durable state of its own; everything
// it needs survives restarts inside the record store.
type SyncEngine struct {
	queue    *PendingQueue
	outcomes *OutcomeIndex
	features FeatureStore
	monitor  ConnectivityMonitor
	bus      *Bus
	logger   *slog.Logger
	strict   bool

	mu          sync.Mutex
	state       EngineState
	armed       bool
	unsubscribe func()

	inflight sync.WaitGroup
}

func NewSyncEngine(opts EngineOptions) *SyncEngine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncEngine{
		queue:    opts.Queue,
		outcomes: opts.Outcomes,
		features: opts.Features,
		monitor:  opts.Monitor,
		bus:      opts.Bus,
		logger:   logger,
		strict:   opts.StrictOutcomes,
		state:    StateIdle,
	}
}

func (e *SyncEngine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Arm subscribes the engine to connectivity transitions. Arming twice is a
// no-op; the subscription lives until Close.
func (e *SyncEngine) Arm() {
	e.mu.Lock()
	if e.armed {
		e.mu.Unlock()
		return
	}
	e.armed = true
	if n, err := e.queue.Len(); err == nil && n > 0 && e.state == StateIdle {
		e.state = StateArmed
	}
	e.mu.Unlock()
	unsubscribe := e.monitor.Subscribe(e.onConnectivity)
	e.mu.Lock()
	e.unsubscribe = unsubscribe
	e.mu.Unlock()
}

func (e *SyncEngine) Close() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.armed = false
	e.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	e.inflight.Wait()
}

// Flush blocks until every issued submission has delivered its outcome.
// Replay itself never waits on completions; this is for shutdown and tests.
func (e *SyncEngine) Flush() {
	e.inflight.Wait()
}

func (e *SyncEngine) onConnectivity(online bool) {
	e.bus.publishConnectivity(online)
	n, err := e.queue.Len()
	if err != nil {
		e.logger.Error("read pending queue length", "error", err)
		return
	}
	if !online {
		e.mu.Lock()
		if n > 0 && e.state == StateIdle {
			e.state = StateArmed
		}
		e.mu.Unlock()
		return
	}
	if n == 0 {
		return
	}
	e.replay()
}

// replay enumerates a one-shot snapshot of the queue and issues every
// submission. It returns once all submissions are in flight; completions
// deliver outcomes asynchronously. Mutations whose layer cannot be
// resolved, or whose call errors, stay queued for the next up-transition.
func (e *SyncEngine) replay() {
	e.mu.Lock()
	if e.state == StateReplaying {
		e.mu.Unlock()
		return
	}
	e.state = StateReplaying
	e.mu.Unlock()

	snapshot, err := e.queue.Snapshot()
	if err != nil {
		e.logger.Error("snapshot pending queue", "error", err)
		e.setState(StateIdle)
		return
	}
	e.logger.Info("replaying pending mutations", "count", len(snapshot))
	for _, item := range snapshot {
		if !e.features.ResolveLayer(item.Mutation.LayerID) {
			e.logger.Warn("layer not resolvable, leaving mutation queued",
				"layerId", item.Mutation.LayerID, "op", string(item.Mutation.Operation))
			continue
		}
		e.inflight.Add(1)
		go e.submit(item)
	}
	e.setState(StateIdle)
}

func (e *SyncEngine) submit(item QueuedMutation) {
	defer e.inflight.Done()
	m := item.Mutation
	result, err := applyMutation(context.Background(), e.features, m)
	if err != nil {
		// Network-level failure: no outcome is recorded and the
		// mutation stays queued for the next up-transition.
		e.logger.Warn("backend submission failed",
			"layerId", m.LayerID, "op", string(m.Operation), "error", err)
		return
	}
	outcome := OutcomeRecord{
		LayerID:       m.LayerID,
		RemoteID:      result.AssignedID,
		Operation:     m.Operation,
		Succeeded:     result.Success,
		GeometryType:  m.Geometry.Type,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		CorrelationID: uuid.NewString(),
		Error:         result.Err,
	}
	if outcome.RemoteID == "" {
		outcome.RemoteID = m.RemoteID
	}
	if err := e.outcomes.Append(outcome); err != nil {
		e.logger.Error("append outcome record", "error", err)
	}
	if e.strict && !result.Success {
		e.logger.Warn("per-item failure, leaving mutation queued",
			"layerId", m.LayerID, "op", string(m.Operation), "error", result.Err)
		return
	}
	if _, err := e.queue.RemoveByContent(item.Record); err != nil {
		e.logger.Error("remove replayed mutation", "error", err)
	}
}

func (e *SyncEngine) setState(state EngineState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}
