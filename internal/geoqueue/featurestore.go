package geoqueue

import (
	"context"
	"fmt"
)

// EditResult is the per-item outcome reported by the feature backend. A
// call can complete while the item inside it still reports failure;
// engine strictness decides how that is treated.
type EditResult struct {
	Success    bool   `json:"success"`
	AssignedID string `json:"assignedId,omitempty"`
	Err        string `json:"error,omitempty"`
}

// FeatureStore is the remote backend holding the authoritative feature
// collections. All three operations are issued asynchronously by the
// engine; an error return means the call itself failed (network level)
// and the mutation stays queued.
type FeatureStore interface {
	ResolveLayer(layerID string) bool
	Create(ctx context.Context, m Mutation) (EditResult, error)
	Update(ctx context.Context, m Mutation) (EditResult, error)
	Delete(ctx context.Context, m Mutation) (EditResult, error)
}

func applyMutation(ctx context.Context, store FeatureStore, m Mutation) (EditResult, error) {
	switch m.Operation {
	case OpCreate:
		return store.Create(ctx, m)
	case OpUpdate:
		return store.Update(ctx, m)
	case OpDelete:
		return store.Delete(ctx, m)
	default:
		return EditResult{}, fmt.Errorf("%w: operation %q", ErrInvalidInput, m.Operation)
	}
}
