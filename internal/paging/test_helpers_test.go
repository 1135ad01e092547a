package paging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/quoteshelf/quoteshelf/internal/catalog"
	"github.com/quoteshelf/quoteshelf/internal/origin"
	"gorm.io/gorm"
)

type testQuoteDTO struct {
	ID      string
	Content string
	Author  string
}

func convertTestQuotes(dtos []testQuoteDTO) []catalog.Quote {
	quotes := make([]catalog.Quote, 0, len(dtos))
	for _, dto := range dtos {
		quotes = append(quotes, catalog.Quote{
			QuoteID:    dto.ID,
			Content:    dto.Content,
			AuthorSlug: dto.Author,
			AuthorName: dto.Author,
		})
	}
	return quotes
}

type fetchCall struct {
	page  int
	limit int
}

// scriptedFetcher answers FetchPage from a script function and records every
// call. Safe for concurrent use.
type scriptedFetcher struct {
	mu     sync.Mutex
	script func(page, limit int) (PageResult[testQuoteDTO], error)
	calls  []fetchCall
}

func (f *scriptedFetcher) FetchPage(_ context.Context, page, limit int) (PageResult[testQuoteDTO], error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{page: page, limit: limit})
	script := f.script
	f.mu.Unlock()
	if script == nil {
		return PageResult[testQuoteDTO]{}, fmt.Errorf("no script configured")
	}
	return script(page, limit)
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *scriptedFetcher) pagesFetched() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := make([]int, 0, len(f.calls))
	for _, call := range f.calls {
		pages = append(pages, call.page)
	}
	return pages
}

type staticFetcherFactory struct {
	fetcher *scriptedFetcher
}

func (f *staticFetcherFactory) ForOrigin(origin.Descriptor) (Fetcher[testQuoteDTO], error) {
	return f.fetcher, nil
}

type engineHarness struct {
	db       *gorm.DB
	registry *origin.Registry
	cursors  *origin.CursorStore
	members  *origin.MembershipIndex
	store    *catalog.Store[catalog.Quote]
	fetcher  *scriptedFetcher
	engine   *Engine[testQuoteDTO, catalog.Quote]
	now      time.Time
}

func newEngineHarness(t *testing.T, dispatcher *Dispatcher, cacheTTL time.Duration) *engineHarness {
	t.Helper()

	db := openTestDB(t)

	registry, err := origin.NewRegistry(db)
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	cursors, err := origin.NewCursorStore(db)
	if err != nil {
		t.Fatalf("failed to construct cursor store: %v", err)
	}
	members, err := origin.NewMembershipIndex(db, quoteMembershipConfig())
	if err != nil {
		t.Fatalf("failed to construct membership index: %v", err)
	}
	store, err := catalog.NewStore[catalog.Quote](db, "quote_id")
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	harness := &engineHarness{
		db:       db,
		registry: registry,
		cursors:  cursors,
		members:  members,
		store:    store,
		fetcher:  &scriptedFetcher{},
		now:      time.Unix(1700000000, 0).UTC(),
	}

	engine, err := NewEngine(EngineConfig[testQuoteDTO, catalog.Quote]{
		Database:   db,
		Registry:   registry,
		Cursors:    cursors,
		Members:    members,
		Store:      store,
		Fetchers:   &staticFetcherFactory{fetcher: harness.fetcher},
		Convert:    convertTestQuotes,
		Dispatcher: dispatcher,
		Section:    "quotes",
		Clock:      func() time.Time { return harness.now },
		CacheTTL:   cacheTTL,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	harness.engine = engine
	return harness
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:paging_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&catalog.Quote{},
		&origin.Record{},
		&origin.PageCursor{},
		&origin.QuoteEdge{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func quoteMembershipConfig() origin.MembershipConfig {
	return origin.MembershipConfig{
		JoinTable:       origin.QuoteEdge{}.TableName(),
		KeyColumn:       "quote_id",
		EntityTable:     catalog.Quote{}.TableName(),
		EntityKeyColumn: "quote_id",
	}
}

func mustDescriptor(t *testing.T, kind origin.Kind, scopeValue, searchPhrase string) origin.Descriptor {
	t.Helper()
	descriptor, err := origin.NewDescriptor(kind, scopeValue, searchPhrase)
	if err != nil {
		t.Fatalf("unexpected descriptor error: %v", err)
	}
	return descriptor
}

func (h *engineHarness) edgeCount(t *testing.T, descriptor origin.Descriptor) int64 {
	t.Helper()
	originID, ok, err := h.registry.Resolve(context.Background(), descriptor)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !ok {
		return 0
	}
	count, err := h.members.Count(context.Background(), originID)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

func (h *engineHarness) cursorFor(t *testing.T, descriptor origin.Descriptor) (int, bool) {
	t.Helper()
	originID, ok, err := h.registry.Resolve(context.Background(), descriptor)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !ok {
		return 0, false
	}
	pageKey, exists, err := h.cursors.Get(context.Background(), originID)
	if err != nil {
		t.Fatalf("cursor read failed: %v", err)
	}
	return pageKey, exists
}

func pageOf(dtos []testQuoteDTO, page, totalPages int) PageResult[testQuoteDTO] {
	return PageResult[testQuoteDTO]{Results: dtos, Page: page, TotalPages: totalPages}
}

func quoteDTOs(ids ...string) []testQuoteDTO {
	dtos := make([]testQuoteDTO, 0, len(ids))
	for _, id := range ids {
		dtos = append(dtos, testQuoteDTO{ID: id, Content: "quote " + id, Author: "author-" + id})
	}
	return dtos
}
