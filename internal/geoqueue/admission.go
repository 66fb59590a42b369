package geoqueue

import (
	"context"
	"log/slog"
)

type AdmissionStatus string

const (
	AdmissionQueued    AdmissionStatus = "queued"
	AdmissionDuplicate AdmissionStatus = "duplicate"
	AdmissionSubmitted AdmissionStatus = "submitted"
)

type AdmissionResult struct {
	Status AdmissionStatus `json:"status"`
}

type AdmissionOptions struct {
	Store      RecordStore
	Queue      *PendingQueue
	Engine     *SyncEngine
	Features   FeatureStore
	Monitor    ConnectivityMonitor
	Attributes AttributeCodec
	Logger     *slog.Logger

	// BudgetMB caps the combined size of every key this system owns.
	BudgetMB float64
}

// AdmissionController decides what happens to an incoming edit: direct
// submission while online, durable queuing while offline, or rejection
// when the storage budget would be exceeded.
type AdmissionController struct {
	store       RecordStore
	queue       *PendingQueue
	engine      *SyncEngine
	features    FeatureStore
	monitor     ConnectivityMonitor
	attributes  AttributeCodec
	logger      *slog.Logger
	budgetBytes int64
}

const defaultBudgetMB = 10

func NewAdmissionController(opts AdmissionOptions) *AdmissionController {
	budgetMB := opts.BudgetMB
	if budgetMB <= 0 {
		budgetMB = defaultBudgetMB
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attributes := opts.Attributes
	if attributes == nil {
		attributes = JSONAttributeCodec{}
	}
	return &AdmissionController{
		store:       opts.Store,
		queue:       opts.Queue,
		engine:      opts.Engine,
		features:    opts.Features,
		monitor:     opts.Monitor,
		attributes:  attributes,
		logger:      logger,
		budgetBytes: int64(budgetMB * 1024 * 1024),
	}
}

// Submit admits one edit. The budget is checked before every admission
// against current store occupancy, never a cached figure. While online the
// mutation bypasses the queue entirely: it is submitted directly and the
// outcome reaches the caller through done; that path is neither
// deduplicated nor durable.
func (c *AdmissionController) Submit(ctx context.Context, op Operation, layerID, remoteID string, geometry Geometry, attributes map[string]any, done func(EditResult, error)) (AdmissionResult, error) {
	m, record, err := EncodeFeature(c.attributes, c.logger, op, layerID, remoteID, geometry, attributes)
	if err != nil {
		return AdmissionResult{}, err
	}
	occupancy, err := c.store.Occupancy()
	if err != nil {
		return AdmissionResult{}, err
	}
	candidate := int64(len(record) + len(RecordDelimiter))
	if occupancy > c.budgetBytes {
		return AdmissionResult{}, &QuotaError{
			OccupancyBytes: occupancy,
			CandidateBytes: candidate,
			BudgetBytes:    c.budgetBytes,
			NearFull:       true,
		}
	}
	if occupancy+candidate > c.budgetBytes {
		return AdmissionResult{}, &QuotaError{
			OccupancyBytes: occupancy,
			CandidateBytes: candidate,
			BudgetBytes:    c.budgetBytes,
		}
	}

	if c.monitor.Online() {
		go func() {
			result, submitErr := applyMutation(context.Background(), c.features, m)
			if done != nil {
				done(result, submitErr)
			}
		}()
		return AdmissionResult{Status: AdmissionSubmitted}, nil
	}

	insert, err := c.queue.Insert(record)
	if err != nil {
		return AdmissionResult{}, err
	}
	c.engine.Arm()
	if insert.Duplicate {
		return AdmissionResult{Status: AdmissionDuplicate}, nil
	}
	return AdmissionResult{Status: AdmissionQueued}, nil
}

func (c *AdmissionController) BudgetBytes() int64 {
	return c.budgetBytes
}

func (c *AdmissionController) Occupancy() (int64, error) {
	return c.store.Occupancy()
}
