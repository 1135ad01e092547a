package paging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quoteshelf/quoteshelf/internal/catalog"
	"github.com/quoteshelf/quoteshelf/internal/origin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LoadDirection selects how a load cycle advances the origin's result set.
type LoadDirection string

const (
	// LoadRefresh restarts the origin at the first remote page, discarding
	// the current membership and cursor first.
	LoadRefresh LoadDirection = "refresh"
	// LoadAppend fetches the page after the stored cursor.
	LoadAppend LoadDirection = "append"
	// LoadPrepend is not supported; pagination only grows forward.
	LoadPrepend LoadDirection = "prepend"
)

const defaultCacheTTL = 24 * time.Hour

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingRegistry  = errors.New("origin registry is required")
	errMissingCursors   = errors.New("cursor store is required")
	errMissingMembers   = errors.New("membership index is required")
	errMissingStore     = errors.New("entity store is required")
	errMissingFetchers  = errors.New("fetcher factory is required")
	errMissingConverter = errors.New("converter is required")
	errUnknownDirection = errors.New("unknown load direction")
	errInvalidPageSize  = errors.New("page size must be positive")
	noOpLogger          = zap.NewNop()
)

// EngineError carries a stable operation.reason code alongside its cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *EngineError) Code() string {
	return e.code
}

const (
	opEngineNew  = "paging.engine.new"
	opLoad       = "paging.load"
	opInitialize = "paging.initialize"
	opInvalidate = "paging.invalidate"
)

func newEngineError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &EngineError{code: code, err: cause}
}

// PageResult is one fetched remote page plus the pagination metadata needed
// to decide whether more pages exist.
type PageResult[D any] struct {
	Results    []D
	Page       int
	TotalPages int
}

// EndOfPagination reports whether the server says this page was the last.
func (p PageResult[D]) EndOfPagination() bool {
	return p.Page >= p.TotalPages
}

// Fetcher retrieves one remote page for a fixed origin.
type Fetcher[D any] interface {
	FetchPage(ctx context.Context, page, limit int) (PageResult[D], error)
}

// FetcherFactory binds a descriptor to the remote query that serves it.
type FetcherFactory[D any] interface {
	ForOrigin(descriptor origin.Descriptor) (Fetcher[D], error)
}

// Converter turns remote DTOs into catalog entities. It must be pure.
type Converter[D any, E catalog.Entity] func([]D) []E

// EngineConfig wires one Engine instance.
type EngineConfig[D any, E catalog.Entity] struct {
	Database   *gorm.DB
	Registry   *origin.Registry
	Cursors    *origin.CursorStore
	Members    *origin.MembershipIndex
	Store      *catalog.Store[E]
	Fetchers   FetcherFactory[D]
	Convert    Converter[D, E]
	Dispatcher *Dispatcher
	Section    string
	Clock      func() time.Time
	CacheTTL   time.Duration
	Logger     *zap.Logger
}

// Engine synchronizes one entity type's origin-scoped result sets with the
// remote catalog: fetch a page, merge it locally, advance the cursor, all in
// one transaction. Load cycles for the same origin are serialized; cycles
// for distinct origins run independently.
type Engine[D any, E catalog.Entity] struct {
	db         *gorm.DB
	registry   *origin.Registry
	cursors    *origin.CursorStore
	members    *origin.MembershipIndex
	store      *catalog.Store[E]
	fetchers   FetcherFactory[D]
	convert    Converter[D, E]
	dispatcher *Dispatcher
	section    string
	clock      func() time.Time
	cacheTTL   time.Duration
	logger     *zap.Logger
	locks      *keyedMutex
}

// NewEngine validates the configuration and constructs an Engine.
func NewEngine[D any, E catalog.Entity](cfg EngineConfig[D, E]) (*Engine[D, E], error) {
	if cfg.Database == nil {
		return nil, newEngineError(opEngineNew, "missing_database", errMissingDatabase)
	}
	if cfg.Registry == nil {
		return nil, newEngineError(opEngineNew, "missing_registry", errMissingRegistry)
	}
	if cfg.Cursors == nil {
		return nil, newEngineError(opEngineNew, "missing_cursors", errMissingCursors)
	}
	if cfg.Members == nil {
		return nil, newEngineError(opEngineNew, "missing_members", errMissingMembers)
	}
	if cfg.Store == nil {
		return nil, newEngineError(opEngineNew, "missing_store", errMissingStore)
	}
	if cfg.Fetchers == nil {
		return nil, newEngineError(opEngineNew, "missing_fetchers", errMissingFetchers)
	}
	if cfg.Convert == nil {
		return nil, newEngineError(opEngineNew, "missing_converter", errMissingConverter)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Engine[D, E]{
		db:         cfg.Database,
		registry:   cfg.Registry,
		cursors:    cfg.Cursors,
		members:    cfg.Members,
		store:      cfg.Store,
		fetchers:   cfg.Fetchers,
		convert:    cfg.Convert,
		dispatcher: cfg.Dispatcher,
		section:    cfg.Section,
		clock:      clock,
		cacheTTL:   cacheTTL,
		logger:     logger,
		locks:      newKeyedMutex(),
	}, nil
}

// LoadResult summarizes one completed load cycle.
type LoadResult struct {
	EndOfPagination bool
	Loaded          int
	PageKey         int
	Refreshed       bool
}

// Load runs one load cycle for the descriptor. On any failure the local
// state is untouched, so a retry re-issues the same target page.
func (e *Engine[D, E]) Load(ctx context.Context, descriptor origin.Descriptor, direction LoadDirection, pageSize int) (LoadResult, error) {
	if pageSize <= 0 {
		return LoadResult{}, newEngineError(opLoad, "invalid_page_size", errInvalidPageSize)
	}

	unlock := e.locks.Lock(descriptor.CacheKey())
	defer unlock()

	return e.loadLocked(ctx, descriptor, direction, pageSize)
}

func (e *Engine[D, E]) loadLocked(ctx context.Context, descriptor origin.Descriptor, direction LoadDirection, pageSize int) (LoadResult, error) {
	// Forward-only protocol: a prepend request is answered as "nothing
	// before this", never fetched.
	if direction == LoadPrepend {
		return LoadResult{EndOfPagination: true}, nil
	}
	if direction != LoadRefresh && direction != LoadAppend {
		return LoadResult{}, newEngineError(opLoad, "unknown_direction", errUnknownDirection)
	}

	originID, err := e.registry.GetOrCreate(ctx, descriptor)
	if err != nil {
		e.logError(opLoad, "origin_resolve_failed", err, descriptor)
		return LoadResult{}, newEngineError(opLoad, "origin_resolve_failed", err)
	}

	targetPage := 1
	if direction == LoadAppend {
		storedPage, ok, err := e.cursors.Get(ctx, originID)
		if err != nil {
			e.logError(opLoad, "cursor_read_failed", err, descriptor)
			return LoadResult{}, newEngineError(opLoad, "cursor_read_failed", err)
		}
		if !ok {
			// No prior successful fetch: nothing to append to, and no
			// remote call is issued.
			return LoadResult{EndOfPagination: true}, nil
		}
		targetPage = storedPage + 1
	}

	fetcher, err := e.fetchers.ForOrigin(descriptor)
	if err != nil {
		e.logError(opLoad, "fetcher_unavailable", err, descriptor)
		return LoadResult{}, newEngineError(opLoad, "fetcher_unavailable", err)
	}

	page, err := fetcher.FetchPage(ctx, targetPage, pageSize)
	if err != nil {
		// Failed attempt: cursor, membership and entities stay exactly as
		// they were. A cooperative cancellation is abandoned quietly, not
		// reported as a failure.
		if errors.Is(err, context.Canceled) {
			e.logger.Debug("paging load cancelled",
				zap.String("section", e.section),
				zap.String("origin", descriptor.CacheKey()),
				zap.Int("target_page", targetPage))
			return LoadResult{}, newEngineError(opLoad, "fetch_cancelled", err)
		}
		e.logError(opLoad, "fetch_failed", err, descriptor,
			zap.Int("target_page", targetPage))
		return LoadResult{}, newEngineError(opLoad, "fetch_failed", err)
	}

	entities := e.convert(page.Results)
	keys := catalog.Keys(entities)
	now := e.clock().UTC()

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if direction == LoadRefresh {
			if err := e.members.WithDB(tx).DetachAll(ctx, originID); err != nil {
				return fmt.Errorf("detach: %w", err)
			}
			if err := e.cursors.WithDB(tx).Clear(ctx, originID); err != nil {
				return fmt.Errorf("clear cursor: %w", err)
			}
		}
		if err := e.store.WithDB(tx).UpsertMany(ctx, entities); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		if err := e.members.WithDB(tx).Attach(ctx, originID, keys); err != nil {
			return fmt.Errorf("attach: %w", err)
		}
		if err := e.cursors.WithDB(tx).Set(ctx, originID, targetPage); err != nil {
			return fmt.Errorf("set cursor: %w", err)
		}
		return e.registry.WithDB(tx).TouchLastSynced(ctx, originID, now.UnixMilli())
	})
	if txErr != nil {
		e.logError(opLoad, "merge_failed", txErr, descriptor,
			zap.Int("target_page", targetPage))
		return LoadResult{}, newEngineError(opLoad, "merge_failed", txErr)
	}

	e.publish(descriptor, keys, now)

	return LoadResult{
		EndOfPagination: page.EndOfPagination(),
		Loaded:          len(entities),
		PageKey:         targetPage,
		Refreshed:       direction == LoadRefresh,
	}, nil
}

// Initialize applies the staleness rule before the UI-driven load cycle
// begins: unknown or expired origins are refreshed, fresh origins serve
// cached rows without a remote call.
func (e *Engine[D, E]) Initialize(ctx context.Context, descriptor origin.Descriptor, pageSize int) (LoadResult, error) {
	lastSynced, known, err := e.registry.LastSynced(ctx, descriptor)
	if err != nil {
		e.logError(opInitialize, "last_synced_read_failed", err, descriptor)
		return LoadResult{}, newEngineError(opInitialize, "last_synced_read_failed", err)
	}

	now := e.clock().UTC()
	stale := !known || lastSynced == 0 ||
		now.Sub(time.UnixMilli(lastSynced)) >= e.cacheTTL
	if !stale {
		return LoadResult{}, nil
	}

	return e.Load(ctx, descriptor, LoadRefresh, pageSize)
}

// Invalidate discards the origin's materialized result set: membership edges
// and cursor go away and the sync timestamp resets, so the next observation
// refreshes. Entity rows are never deleted; other origins may still
// reference them.
func (e *Engine[D, E]) Invalidate(ctx context.Context, descriptor origin.Descriptor) error {
	unlock := e.locks.Lock(descriptor.CacheKey())
	defer unlock()

	originID, ok, err := e.registry.Resolve(ctx, descriptor)
	if err != nil {
		e.logError(opInvalidate, "origin_resolve_failed", err, descriptor)
		return newEngineError(opInvalidate, "origin_resolve_failed", err)
	}
	if !ok {
		return nil
	}

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.members.WithDB(tx).DetachAll(ctx, originID); err != nil {
			return fmt.Errorf("detach: %w", err)
		}
		if err := e.cursors.WithDB(tx).Clear(ctx, originID); err != nil {
			return fmt.Errorf("clear cursor: %w", err)
		}
		return e.registry.WithDB(tx).TouchLastSynced(ctx, originID, 0)
	})
	if txErr != nil {
		e.logError(opInvalidate, "invalidate_failed", txErr, descriptor)
		return newEngineError(opInvalidate, "invalidate_failed", txErr)
	}

	e.publish(descriptor, nil, e.clock().UTC())
	return nil
}

func (e *Engine[D, E]) publish(descriptor origin.Descriptor, keys []string, at time.Time) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Publish(ChangeEvent{
		OriginKey:  descriptor.CacheKey(),
		Section:    e.section,
		EntityKeys: keys,
		Timestamp:  at,
	})
}

func (e *Engine[D, E]) logError(operation, reason string, err error, descriptor origin.Descriptor, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("section", e.section),
		zap.String("origin", descriptor.CacheKey()),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("paging engine error", attrs...)
}
