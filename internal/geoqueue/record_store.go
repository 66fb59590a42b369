package geoqueue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Fixed keys for the two blobs this system owns.
const (
	PendingQueueKey = "geoqueue.pending"
	OutcomeLogKey   = "geoqueue.outcomes"
)

// RecordStore is the flat key/string persistence substrate. It offers no
// list or transaction semantics; managers layer record encoding and
// read-then-full-overwrite rebuilds on top of it. Occupancy reports the
// total bytes of keys and values currently held, used for budget
// accounting.
type RecordStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Occupancy() (int64, error)
}

type recordStoreCloser interface {
	Close() error
}

// CloseRecordStore closes stores that hold external resources (postgres,
// badger); the memory and file stores have nothing to release.
func CloseRecordStore(store RecordStore) error {
	if closer, ok := store.(recordStoreCloser); ok {
		return closer.Close()
	}
	return nil
}

type memoryRecordStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryRecordStore() RecordStore {
	return &memoryRecordStore{values: map[string]string{}}
}

func (s *memoryRecordStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *memoryRecordStore) Set(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryRecordStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *memoryRecordStore) Occupancy() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for key, value := range s.values {
		total += int64(len(key) + len(value))
	}
	return total, nil
}

// FileRecordStore keeps every key in one JSON snapshot file, written with
// the tmp+rename pattern so a failed write never exposes partial state.
type FileRecordStore struct {
	path string
	mu   sync.Mutex
}

type fileRecordSnapshot struct {
	Records map[string]string `json:"records"`
}

func NewFileRecordStore(path string) (*FileRecordStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &FileRecordStore{path: path}, nil
}

func (s *FileRecordStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	value, ok := records[key]
	return value, ok, nil
}

func (s *FileRecordStore) Set(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLocked()
	if err != nil {
		return err
	}
	records[key] = value
	return s.saveLocked(records)
}

func (s *FileRecordStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := records[key]; !ok {
		return nil
	}
	delete(records, key)
	return s.saveLocked(records)
}

func (s *FileRecordStore) Occupancy() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLocked()
	if err != nil {
		return 0, err
	}
	var total int64
	for key, value := range records {
		total += int64(len(key) + len(value))
	}
	return total, nil
}

func (s *FileRecordStore) loadLocked() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var snapshot fileRecordSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Records == nil {
		snapshot.Records = map[string]string{}
	}
	return snapshot.Records, nil
}

func (s *FileRecordStore) saveLocked(records map[string]string) error {
	data, err := json.Marshal(fileRecordSnapshot{Records: records})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
