package geoqueue

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrQuotaNearFull  = errors.New("quota near full")
	ErrStoreWrite     = errors.New("store write failed")
	ErrUnknownLayer   = errors.New("unknown layer")
	ErrNotImplemented = errors.New("not implemented")
)

// QuotaError reports the occupancy figures that caused an admission
// rejection. NearFull marks the harder stop where occupancy alone is
// already over budget and no candidate of any size would fit.
type QuotaError struct {
	OccupancyBytes int64
	CandidateBytes int64
	BudgetBytes    int64
	NearFull       bool
}

func (e *QuotaError) Error() string {
	if e.NearFull {
		return fmt.Sprintf("store occupancy %d exceeds budget %d", e.OccupancyBytes, e.BudgetBytes)
	}
	return fmt.Sprintf("mutation of %d bytes does not fit: occupancy %d, budget %d", e.CandidateBytes, e.OccupancyBytes, e.BudgetBytes)
}

func (e *QuotaError) Is(target error) bool {
	if e.NearFull {
		return target == ErrQuotaNearFull
	}
	return target == ErrQuotaExceeded
}

type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Is(target error) bool {
	return target == ErrStoreWrite
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}
