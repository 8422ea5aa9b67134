package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ksucu-mc/chatkit/internal/store"
	"github.com/ksucu-mc/chatkit/pkg/models"
)

var base = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func historyServer(t *testing.T, requests *atomic.Int32, release <-chan struct{}, pages map[string]Page) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if release != nil {
			<-release
		}
		page, ok := pages[r.URL.Query().Get("page")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(page); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
}

func TestPaginator_LoadOlderPrepends(t *testing.T) {
	st := store.New()
	st.Append(models.Message{ID: "m9", CreatedAt: base.Add(time.Hour)})

	var requests atomic.Int32
	server := historyServer(t, &requests, nil, map[string]Page{
		"1": {
			Messages: []models.Message{
				{ID: "m1", CreatedAt: base},
				{ID: "m2", CreatedAt: base.Add(time.Minute)},
			},
			HasMore: true,
		},
	})
	defer server.Close()

	p := New(server.URL, "community", 30, server.Client(), st)

	result, err := p.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if result.Count != 2 || !result.HasMore {
		t.Errorf("result = %+v, want count 2 hasMore true", result)
	}
	entries := st.Messages()
	if len(entries) != 3 {
		t.Fatalf("store len = %d, want 3", len(entries))
	}
	if entries[0].Message.ID != "m1" || entries[2].Message.ID != "m9" {
		t.Errorf("order wrong: %s ... %s", entries[0].Message.ID, entries[2].Message.ID)
	}
}

func TestPaginator_AdvancesCursor(t *testing.T) {
	st := store.New()
	var requests atomic.Int32
	server := historyServer(t, &requests, nil, map[string]Page{
		"1": {Messages: []models.Message{{ID: "m3", CreatedAt: base.Add(3 * time.Minute)}}, HasMore: true},
		"2": {Messages: []models.Message{{ID: "m2", CreatedAt: base.Add(2 * time.Minute)}}, HasMore: false},
	})
	defer server.Close()

	p := New(server.URL, "community", 30, server.Client(), st)

	if _, err := p.LoadOlder(context.Background()); err != nil {
		t.Fatalf("first LoadOlder: %v", err)
	}
	result, err := p.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("second LoadOlder: %v", err)
	}
	if result.HasMore {
		t.Error("hasMore = true, want false after final page")
	}
	if p.HasMore() {
		t.Error("paginator still reports more pages")
	}

	// Exhausted: no further requests.
	before := requests.Load()
	if _, err := p.LoadOlder(context.Background()); err != nil {
		t.Fatalf("third LoadOlder: %v", err)
	}
	if requests.Load() != before {
		t.Error("request issued past the final page")
	}
}

func TestPaginator_ConcurrentCallsCoalesce(t *testing.T) {
	st := store.New()
	var requests atomic.Int32
	release := make(chan struct{})
	server := historyServer(t, &requests, release, map[string]Page{
		"1": {Messages: []models.Message{{ID: "m1", CreatedAt: base}}, HasMore: true},
	})
	defer server.Close()

	p := New(server.URL, "community", 30, server.Client(), st)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.LoadOlder(context.Background())
		}(i)
	}

	// Let both callers reach the paginator, then release the server.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := requests.Load(); got != 1 {
		t.Errorf("HTTP requests = %d, want 1 (coalesced)", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Errorf("call %d: %v", i, errs[i])
		}
		if results[i].Count != 1 {
			t.Errorf("call %d count = %d, want 1", i, results[i].Count)
		}
	}
	if st.Len() != 1 {
		t.Errorf("store len = %d, want 1 (no duplicate backfill)", st.Len())
	}
}

func TestPaginator_CloseDropsLateResult(t *testing.T) {
	st := store.New()
	var requests atomic.Int32
	release := make(chan struct{})
	server := historyServer(t, &requests, release, map[string]Page{
		"1": {Messages: []models.Message{{ID: "m1", CreatedAt: base}}, HasMore: true},
	})
	defer server.Close()

	p := New(server.URL, "community", 30, server.Client(), st)

	done := make(chan struct{})
	var result Result
	var err error
	go func() {
		defer close(done)
		result, err = p.LoadOlder(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for requests.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never reached the server")
		}
		time.Sleep(time.Millisecond)
	}

	// Teardown while the page is still in flight.
	p.Close()
	close(release)
	<-done

	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if result.Count != 0 {
		t.Errorf("count = %d, want 0 for a dropped late page", result.Count)
	}
	if st.Len() != 0 {
		t.Errorf("store len = %d, want 0 (late page must not be written)", st.Len())
	}

	// Sealed: further calls are no-ops.
	before := requests.Load()
	if _, err := p.LoadOlder(context.Background()); err != nil {
		t.Fatalf("LoadOlder after Close: %v", err)
	}
	if requests.Load() != before {
		t.Error("request issued after Close")
	}
}

func TestPaginator_Reset(t *testing.T) {
	st := store.New()
	var requests atomic.Int32
	server := historyServer(t, &requests, nil, map[string]Page{
		"1": {Messages: nil, HasMore: false},
	})
	defer server.Close()

	p := New(server.URL, "community", 30, server.Client(), st)
	if _, err := p.LoadOlder(context.Background()); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if p.HasMore() {
		t.Fatal("expected exhausted cursor")
	}

	p.Reset("community")
	if !p.HasMore() {
		t.Error("Reset did not rewind the cursor")
	}
}

func TestPaginator_ServerError(t *testing.T) {
	st := store.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := New(server.URL, "community", 30, server.Client(), st)
	if _, err := p.LoadOlder(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
	// Cursor must not advance on failure.
	if !p.HasMore() {
		t.Error("cursor advanced despite failure")
	}
}
