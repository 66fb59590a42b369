package geoqueue

import (
	"log/slog"
	"strings"
	"sync"
)

type InsertResult struct {
	Queued    bool
	Duplicate bool
}

// QueuedMutation pairs a decoded mutation with the exact record it was
// parsed from, so callers can later remove it by content match.
type QueuedMutation struct {
	Mutation Mutation
	Record   string
}

// PendingQueue owns the pending-mutation blob. All operations follow the
// read-then-full-overwrite pattern: the substrate has no partial append, so
// the queue is one flat value rebuilt on every change. A failed write
// leaves the persisted blob in its last-known-good state.
type PendingQueue struct {
	mu     sync.Mutex
	store  RecordStore
	key    string
	bus    *Bus
	logger *slog.Logger
}

func NewPendingQueue(store RecordStore, bus *Bus, logger *slog.Logger) *PendingQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingQueue{
		store:  store,
		key:    PendingQueueKey,
		bus:    bus,
		logger: logger,
	}
}

// Insert appends a record unless a structurally identical one is already
// queued. Dedup compares canonical record content with any trailing
// delimiter stripped.
func (q *PendingQueue) Insert(record string) (InsertResult, error) {
	record = strings.TrimSuffix(record, RecordDelimiter)
	if strings.TrimSpace(record) == "" {
		return InsertResult{}, ErrInvalidInput
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	records, err := q.loadLocked()
	if err != nil {
		return InsertResult{}, err
	}
	for _, existing := range records {
		if strings.TrimSuffix(existing, RecordDelimiter) == record {
			q.bus.publishDuplicate(record)
			return InsertResult{Duplicate: true}, nil
		}
	}
	records = append(records, record)
	if err := q.store.Set(q.key, joinRecords(records)); err != nil {
		return InsertResult{}, &StoreWriteError{Key: q.key, Err: err}
	}
	return InsertResult{Queued: true}, nil
}

// RemoveByContent drops the first record structurally equal to the given
// one. Unparsable entries encountered during the rebuild are discarded
// rather than retained; they are already unrecoverable.
func (q *PendingQueue) RemoveByContent(record string) (bool, error) {
	record = strings.TrimSuffix(record, RecordDelimiter)
	return q.removeFirst(func(candidate string, _ Mutation) bool {
		return strings.TrimSuffix(candidate, RecordDelimiter) == record
	})
}

// RemoveByLayerAndRemoteID drops the first queued mutation addressing the
// given feature.
func (q *PendingQueue) RemoveByLayerAndRemoteID(layerID, remoteID string) (bool, error) {
	if strings.TrimSpace(layerID) == "" || strings.TrimSpace(remoteID) == "" {
		return false, ErrInvalidInput
	}
	return q.removeFirst(func(_ string, m Mutation) bool {
		return m.LayerID == layerID && m.RemoteID == remoteID
	})
}

func (q *PendingQueue) removeFirst(match func(record string, m Mutation) bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	records, err := q.loadLocked()
	if err != nil {
		return false, err
	}
	kept := make([]string, 0, len(records))
	removed := false
	dropped := 0
	for _, candidate := range records {
		m, decodeErr := DecodeMutation(candidate)
		if decodeErr != nil {
			dropped++
			continue
		}
		if !removed && match(candidate, m) {
			removed = true
			continue
		}
		kept = append(kept, candidate)
	}
	if dropped > 0 {
		q.logger.Warn("discarded unparsable queue records during rebuild", "count", dropped)
	}
	if !removed && dropped == 0 {
		return false, nil
	}
	if err := q.store.Set(q.key, joinRecords(kept)); err != nil {
		return false, &StoreWriteError{Key: q.key, Err: err}
	}
	return removed, nil
}

// Snapshot returns the decodable queue contents in order. Entries that no
// longer parse are skipped here and dropped on the next rebuild.
func (q *PendingQueue) Snapshot() ([]QueuedMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	records, err := q.loadLocked()
	if err != nil {
		return nil, err
	}
	snapshot := make([]QueuedMutation, 0, len(records))
	for _, record := range records {
		m, decodeErr := DecodeMutation(record)
		if decodeErr != nil {
			continue
		}
		snapshot = append(snapshot, QueuedMutation{Mutation: m, Record: record})
	}
	return snapshot, nil
}

// ListAll returns the decoded mutations currently queued.
func (q *PendingQueue) ListAll() ([]Mutation, error) {
	snapshot, err := q.Snapshot()
	if err != nil {
		return nil, err
	}
	mutations := make([]Mutation, 0, len(snapshot))
	for _, item := range snapshot {
		mutations = append(mutations, item.Mutation)
	}
	return mutations, nil
}

func (q *PendingQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	records, err := q.loadLocked()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (q *PendingQueue) loadLocked() ([]string, error) {
	blob, ok, err := q.store.Get(q.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return splitRecords(blob), nil
}
