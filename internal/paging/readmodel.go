package paging

import (
	"context"
	"errors"
	"fmt"

	"github.com/quoteshelf/quoteshelf/internal/catalog"
	"github.com/quoteshelf/quoteshelf/internal/origin"
)

var (
	errReadModelMissingRegistry = errors.New("origin registry is required")
	errReadModelMissingMembers  = errors.New("membership index is required")
	errReadModelMissingOrder    = errors.New("order column is required")
)

// ReadModelConfig wires one ReadModel instance.
type ReadModelConfig struct {
	Registry   *origin.Registry
	Members    *origin.MembershipIndex
	Dispatcher *Dispatcher
	Order      origin.OrderSpec
}

// ReadModel is the pure read projection over one entity type's cached,
// origin-scoped result sets. It never calls the network and never mutates
// state; the engine drives reconciliation and the dispatcher tells the model
// when to re-read.
type ReadModel[E catalog.Entity] struct {
	registry   *origin.Registry
	members    *origin.MembershipIndex
	dispatcher *Dispatcher
	order      origin.OrderSpec
}

// NewReadModel validates the configuration and constructs a ReadModel.
func NewReadModel[E catalog.Entity](cfg ReadModelConfig) (*ReadModel[E], error) {
	if cfg.Registry == nil {
		return nil, errReadModelMissingRegistry
	}
	if cfg.Members == nil {
		return nil, errReadModelMissingMembers
	}
	if cfg.Order.Column == "" {
		return nil, errReadModelMissingOrder
	}
	return &ReadModel[E]{
		registry:   cfg.Registry,
		members:    cfg.Members,
		dispatcher: cfg.Dispatcher,
		order:      cfg.Order,
	}, nil
}

// Page is one materialized window of an origin's result set. HasPrev and
// HasNext come from position arithmetic against the locally known total, not
// from server pagination.
type Page[E catalog.Entity] struct {
	Items      []E
	Offset     int
	TotalCount int64
	HasPrev    bool
	HasNext    bool
}

// Window loads one page of cached entities for the descriptor. An origin
// that was never fetched yields an empty page, not an error.
func (r *ReadModel[E]) Window(ctx context.Context, descriptor origin.Descriptor, offset, limit int) (Page[E], error) {
	if offset < 0 || limit <= 0 {
		return Page[E]{}, fmt.Errorf("invalid window: offset %d limit %d", offset, limit)
	}

	originID, ok, err := r.registry.Resolve(ctx, descriptor)
	if err != nil {
		return Page[E]{}, err
	}
	if !ok {
		return Page[E]{Offset: offset}, nil
	}

	total, err := r.members.Count(ctx, originID)
	if err != nil {
		return Page[E]{}, err
	}

	var items []E
	if err := r.members.ListInto(ctx, originID, r.order, limit, offset, &items); err != nil {
		return Page[E]{}, err
	}

	return Page[E]{
		Items:      items,
		Offset:     offset,
		TotalCount: total,
		HasPrev:    offset > 0,
		HasNext:    int64(offset+len(items)) < total,
	}, nil
}

// FirstN loads the top N cached entities of the descriptor's result set.
// Dashboard-style summaries use this; it ignores the paging cursor entirely.
func (r *ReadModel[E]) FirstN(ctx context.Context, descriptor origin.Descriptor, n int) ([]E, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid first-n limit: %d", n)
	}

	originID, ok, err := r.registry.Resolve(ctx, descriptor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []E{}, nil
	}

	var items []E
	if err := r.members.ListInto(ctx, originID, r.order, n, 0, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Observe emits a change event whenever the descriptor's result set is
// rewritten by a committed merge. Callers re-read their window on each
// emission.
func (r *ReadModel[E]) Observe(ctx context.Context, descriptor origin.Descriptor) (<-chan ChangeEvent, func()) {
	if r.dispatcher == nil {
		ch := make(chan ChangeEvent)
		close(ch)
		return ch, func() {}
	}
	return r.dispatcher.Subscribe(ctx, descriptor.CacheKey())
}
