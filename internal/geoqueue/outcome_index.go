package geoqueue

import (
	"encoding/json"
	"sync"
)

// OutcomeIndex is the append-only log of replay results. Records are never
// rewritten or compacted; lookup is a linear scan, which stays cheap while
// the log lives under the same storage budget as the queue.
type OutcomeIndex struct {
	mu    sync.Mutex
	store RecordStore
	key   string
	bus   *Bus
}

func NewOutcomeIndex(store RecordStore, bus *Bus) *OutcomeIndex {
	return &OutcomeIndex{
		store: store,
		key:   OutcomeLogKey,
		bus:   bus,
	}
}

type outcomeLogRecord struct {
	Version int `json:"v"`
	OutcomeRecord
}

func (x *OutcomeIndex) Append(outcome OutcomeRecord) error {
	data, err := json.Marshal(outcomeLogRecord{Version: recordVersion, OutcomeRecord: outcome})
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	blob, _, err := x.store.Get(x.key)
	if err != nil {
		return err
	}
	if blob != "" {
		blob += RecordDelimiter
	}
	blob += string(data)
	if err := x.store.Set(x.key, blob); err != nil {
		return &StoreWriteError{Key: x.key, Err: err}
	}
	x.bus.publishOutcome(outcome)
	return nil
}

// Find returns the first logged outcome for a backend-assigned feature id.
func (x *OutcomeIndex) Find(remoteID string) (OutcomeRecord, bool, error) {
	outcomes, err := x.ListAll()
	if err != nil {
		return OutcomeRecord{}, false, err
	}
	for _, outcome := range outcomes {
		if outcome.RemoteID == remoteID {
			return outcome, true, nil
		}
	}
	return OutcomeRecord{}, false, nil
}

func (x *OutcomeIndex) ListAll() ([]OutcomeRecord, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	blob, ok, err := x.store.Get(x.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	records := splitRecords(blob)
	outcomes := make([]OutcomeRecord, 0, len(records))
	for _, record := range records {
		var decoded outcomeLogRecord
		if err := json.Unmarshal([]byte(record), &decoded); err != nil {
			continue
		}
		if decoded.Version != recordVersion {
			continue
		}
		outcomes = append(outcomes, decoded.OutcomeRecord)
	}
	return outcomes, nil
}
