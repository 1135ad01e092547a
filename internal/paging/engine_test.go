package paging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quoteshelf/quoteshelf/internal/origin"
)

func TestRefreshThenAppendAdvancesCursorAndMembership(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindOfAuthor, "marie-curie", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		if limit != 2 {
			t.Fatalf("expected limit 2, got %d", limit)
		}
		switch page {
		case 1:
			return pageOf(quoteDTOs("q1", "q2"), 1, 2), nil
		case 2:
			return pageOf(quoteDTOs("q3"), 2, 2), nil
		default:
			return PageResult[testQuoteDTO]{}, fmt.Errorf("unexpected page %d", page)
		}
	}

	result, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 2)
	if err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if result.EndOfPagination {
		t.Fatalf("expected more pages after page 1 of 2")
	}
	if result.Loaded != 2 {
		t.Fatalf("expected 2 loaded entities, got %d", result.Loaded)
	}
	if pageKey, ok := harness.cursorFor(t, descriptor); !ok || pageKey != 1 {
		t.Fatalf("expected cursor 1, got %d (exists %v)", pageKey, ok)
	}
	if count := harness.edgeCount(t, descriptor); count != 2 {
		t.Fatalf("expected 2 membership edges, got %d", count)
	}

	result, err = harness.engine.Load(context.Background(), descriptor, LoadAppend, 2)
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if !result.EndOfPagination {
		t.Fatalf("expected end of pagination on page 2 of 2")
	}
	if pageKey, ok := harness.cursorFor(t, descriptor); !ok || pageKey != 2 {
		t.Fatalf("expected cursor 2, got %d (exists %v)", pageKey, ok)
	}
	if count := harness.edgeCount(t, descriptor); count != 3 {
		t.Fatalf("expected 3 membership edges, got %d", count)
	}
}

func TestEndOfPaginationFollowsServerMetadata(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("q1"), 1, 3), nil
	}
	result, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.EndOfPagination {
		t.Fatalf("page 1 of 3 must not report end of pagination")
	}

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("q2"), 3, 3), nil
	}
	result, err = harness.engine.Load(context.Background(), descriptor, LoadAppend, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.EndOfPagination {
		t.Fatalf("page 3 of 3 must report end of pagination")
	}
}

func TestAppendWithoutCursorIsNoOpSuccess(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	result, err := harness.engine.Load(context.Background(), descriptor, LoadAppend, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.EndOfPagination {
		t.Fatalf("append without prior fetch must report end of pagination")
	}
	if harness.fetcher.callCount() != 0 {
		t.Fatalf("append without cursor must not call remote, got %d calls", harness.fetcher.callCount())
	}
}

func TestPrependAlwaysRejected(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	result, err := harness.engine.Load(context.Background(), descriptor, LoadPrepend, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.EndOfPagination {
		t.Fatalf("prepend must report end of pagination")
	}
	if harness.fetcher.callCount() != 0 {
		t.Fatalf("prepend must not call remote")
	}
}

func TestFailedRefreshLeavesStateUntouched(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindOfTag, "wisdom", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("q1", "q2"), 1, 2), nil
	}
	if _, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 2); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	fetchFailure := errors.New("upstream exploded")
	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return PageResult[testQuoteDTO]{}, fetchFailure
	}

	_, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 2)
	if err == nil {
		t.Fatalf("expected refresh failure")
	}
	if !errors.Is(err, fetchFailure) {
		t.Fatalf("expected wrapped fetch failure, got %v", err)
	}

	if count := harness.edgeCount(t, descriptor); count != 2 {
		t.Fatalf("membership must be untouched after failure, got %d edges", count)
	}
	if pageKey, ok := harness.cursorFor(t, descriptor); !ok || pageKey != 1 {
		t.Fatalf("cursor must be untouched after failure, got %d (exists %v)", pageKey, ok)
	}
	stored, found, err := harness.store.GetByKey(context.Background(), "q1")
	if err != nil || !found {
		t.Fatalf("entity q1 must survive failed refresh (found %v, err %v)", found, err)
	}
	if stored.Content != "quote q1" {
		t.Fatalf("entity content must be unchanged, got %q", stored.Content)
	}
}

func TestCancelledFetchAbandonsAttempt(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return PageResult[testQuoteDTO]{}, fmt.Errorf("fetch: %w", context.Canceled)
	}

	_, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 10)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to propagate, got %v", err)
	}
	if count := harness.edgeCount(t, descriptor); count != 0 {
		t.Fatalf("cancelled attempt must not write membership, got %d edges", count)
	}
	if _, ok := harness.cursorFor(t, descriptor); ok {
		t.Fatalf("cancelled attempt must not write a cursor")
	}
}

func TestEmptyRefreshClearsPreviousResultSet(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindSearch, "", "entropy")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("q1", "q2", "q3", "q4", "q5"), 1, 1), nil
	}
	if _, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 5); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	if count := harness.edgeCount(t, descriptor); count != 5 {
		t.Fatalf("expected 5 seeded edges, got %d", count)
	}

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(nil, 1, 0), nil
	}
	result, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 5)
	if err != nil {
		t.Fatalf("empty refresh is a valid success, got %v", err)
	}
	if !result.EndOfPagination {
		t.Fatalf("totalPages 0 must report end of pagination")
	}
	if count := harness.edgeCount(t, descriptor); count != 0 {
		t.Fatalf("expected membership to drop to 0, got %d", count)
	}
	if pageKey, ok := harness.cursorFor(t, descriptor); !ok || pageKey != 1 {
		t.Fatalf("expected cursor reset to page 1, got %d (exists %v)", pageKey, ok)
	}
}

func TestOverlappingOriginsKeepIndependentMembership(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	allQuotes := mustDescriptor(t, origin.KindAll, "", "")
	byAuthor := mustDescriptor(t, origin.KindOfAuthor, "seneca", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("shared", "only-all"), 1, 1), nil
	}
	if _, err := harness.engine.Load(context.Background(), allQuotes, LoadRefresh, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("shared"), 1, 1), nil
	}
	if _, err := harness.engine.Load(context.Background(), byAuthor, LoadRefresh, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if count := harness.edgeCount(t, allQuotes); count != 2 {
		t.Fatalf("the all origin must keep both edges, got %d", count)
	}
	if count := harness.edgeCount(t, byAuthor); count != 1 {
		t.Fatalf("the author origin must have one edge, got %d", count)
	}

	// Refreshing one origin must not disturb the other's membership.
	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("shared"), 1, 1), nil
	}
	if _, err := harness.engine.Load(context.Background(), byAuthor, LoadRefresh, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count := harness.edgeCount(t, allQuotes); count != 2 {
		t.Fatalf("refresh of one origin removed another origin's edges, got %d", count)
	}
}

func TestInitializeRefreshesOnlyWhenStale(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("q1"), 1, 1), nil
	}

	// Unknown origin is infinitely stale.
	result, err := harness.engine.Initialize(context.Background(), descriptor, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Refreshed {
		t.Fatalf("first observation must refresh")
	}
	if harness.fetcher.callCount() != 1 {
		t.Fatalf("expected 1 remote call, got %d", harness.fetcher.callCount())
	}

	// Within the staleness window cached data is served without remote calls.
	harness.now = harness.now.Add(30 * time.Minute)
	result, err = harness.engine.Initialize(context.Background(), descriptor, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Refreshed {
		t.Fatalf("fresh origin must not refresh")
	}
	if harness.fetcher.callCount() != 1 {
		t.Fatalf("fresh origin must not call remote, got %d calls", harness.fetcher.callCount())
	}

	// Past the window the origin refreshes again.
	harness.now = harness.now.Add(time.Hour)
	result, err = harness.engine.Initialize(context.Background(), descriptor, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Refreshed {
		t.Fatalf("stale origin must refresh")
	}
	if harness.fetcher.callCount() != 2 {
		t.Fatalf("expected 2 remote calls, got %d", harness.fetcher.callCount())
	}
}

func TestConcurrentAppendsSerializePerOrigin(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs(fmt.Sprintf("q%d", page)), page, 10), nil
	}
	if _, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 1); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := harness.engine.Load(context.Background(), descriptor, LoadAppend, 1); err != nil {
				t.Errorf("unexpected append error: %v", err)
			}
		}()
	}
	wg.Wait()

	if pageKey, ok := harness.cursorFor(t, descriptor); !ok || pageKey != 3 {
		t.Fatalf("two appends after refresh must land on cursor 3, got %d (exists %v)", pageKey, ok)
	}
	pages := harness.fetcher.pagesFetched()
	if len(pages) != 3 || pages[0] != 1 || pages[1] != 2 || pages[2] != 3 {
		t.Fatalf("appends must not double-fetch a page, fetched %v", pages)
	}
}

func TestInvalidateDiscardsResultSetButKeepsEntities(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("q1", "q2"), 1, 1), nil
	}
	if _, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 5); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	if err := harness.engine.Invalidate(context.Background(), descriptor); err != nil {
		t.Fatalf("unexpected invalidate error: %v", err)
	}

	if count := harness.edgeCount(t, descriptor); count != 0 {
		t.Fatalf("invalidate must remove all edges, got %d", count)
	}
	if _, ok := harness.cursorFor(t, descriptor); ok {
		t.Fatalf("invalidate must clear the cursor")
	}
	if _, found, err := harness.store.GetByKey(context.Background(), "q1"); err != nil || !found {
		t.Fatalf("invalidate must not delete entity rows (found %v, err %v)", found, err)
	}

	// With the cursor gone an append is a no-op success.
	before := harness.fetcher.callCount()
	result, err := harness.engine.Load(context.Background(), descriptor, LoadAppend, 5)
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if !result.EndOfPagination {
		t.Fatalf("append after invalidate must report end of pagination")
	}
	if harness.fetcher.callCount() != before {
		t.Fatalf("append after invalidate must not call remote")
	}

	// And the reset timestamp makes the next observation refresh.
	lastSynced, known, err := harness.registry.LastSynced(context.Background(), descriptor)
	if err != nil || !known {
		t.Fatalf("origin must still exist after invalidate (known %v, err %v)", known, err)
	}
	if lastSynced != 0 {
		t.Fatalf("invalidate must reset the sync timestamp, got %d", lastSynced)
	}
}

func TestLoadRejectsInvalidPageSize(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	if _, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 0); err == nil {
		t.Fatalf("expected error for page size 0")
	}
}

func TestLoadPublishesChangeEvent(t *testing.T) {
	dispatcher := NewDispatcher()
	harness := newEngineHarness(t, dispatcher, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, cleanup := dispatcher.Subscribe(ctx, descriptor.CacheKey())
	defer cleanup()

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf(quoteDTOs("q1"), 1, 1), nil
	}
	if _, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case event := <-events:
		if event.Section != "quotes" {
			t.Fatalf("unexpected section %q", event.Section)
		}
		if len(event.EntityKeys) != 1 || event.EntityKeys[0] != "q1" {
			t.Fatalf("unexpected entity keys %v", event.EntityKeys)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a change event after a committed merge")
	}
}

func TestEngineUpsertsSharedEntityOnce(t *testing.T) {
	harness := newEngineHarness(t, nil, time.Hour)
	descriptor := mustDescriptor(t, origin.KindAll, "", "")

	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf([]testQuoteDTO{{ID: "q1", Content: "first", Author: "a"}}, 1, 2), nil
	}
	if _, err := harness.engine.Load(context.Background(), descriptor, LoadRefresh, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A later page carrying the same entity must overwrite, not duplicate.
	harness.fetcher.script = func(page, limit int) (PageResult[testQuoteDTO], error) {
		return pageOf([]testQuoteDTO{{ID: "q1", Content: "rewritten", Author: "a"}}, 2, 2), nil
	}
	if _, err := harness.engine.Load(context.Background(), descriptor, LoadAppend, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if count := harness.edgeCount(t, descriptor); count != 1 {
		t.Fatalf("duplicate attach must leave one edge, got %d", count)
	}
	stored, found, err := harness.store.GetByKey(context.Background(), "q1")
	if err != nil || !found {
		t.Fatalf("entity must exist (found %v, err %v)", found, err)
	}
	if stored.Content != "rewritten" {
		t.Fatalf("upsert must be last-write-wins, got %q", stored.Content)
	}
}
