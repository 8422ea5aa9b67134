// Package history backfills older messages from the portal's paged
// history endpoint into the message store. Pages are numbered by the
// server; the client only advances the counter it was handed and
// tracks the has-more flag.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ksucu-mc/chatkit/internal/store"
	"github.com/ksucu-mc/chatkit/pkg/models"
)

// DefaultPageSize is the page size requested when none is configured.
const DefaultPageSize = 30

// Result reports the outcome of one backfill.
type Result struct {
	Count   int
	HasMore bool
}

// Page is the history endpoint's response shape.
type Page struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// Paginator loads older pages on demand. A LoadOlder issued while one
// is already in flight coalesces onto the in-flight request and shares
// its result; no duplicate backfill requests are ever issued.
type Paginator struct {
	baseURL  string
	room     string
	pageSize int
	client   *http.Client
	store    *store.Store

	mu       sync.Mutex
	page     int
	hasMore  bool
	closed   bool
	inflight *flight
}

// flight is one in-flight backfill shared by coalesced callers.
type flight struct {
	done   chan struct{}
	result Result
	err    error
}

// New creates a paginator for the given room against baseURL.
func New(baseURL, room string, pageSize int, client *http.Client, st *store.Store) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Paginator{
		baseURL:  baseURL,
		room:     room,
		pageSize: pageSize,
		client:   client,
		store:    st,
		page:     1,
		hasMore:  true,
	}
}

// HasMore reports whether older pages remain.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Reset rewinds the cursor, used when the room changes.
func (p *Paginator) Reset(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.room = room
	p.page = 1
	p.hasMore = true
}

// Close seals the paginator. A fetch resolving afterwards is dropped
// without touching the store or the cursor.
func (p *Paginator) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// LoadOlder fetches the next older page, prepends it into the store,
// and advances the cursor. Concurrent calls share one request.
func (p *Paginator) LoadOlder(ctx context.Context) (Result, error) {
	p.mu.Lock()
	if f := p.inflight; f != nil {
		p.mu.Unlock()
		select {
		case <-f.done:
			return f.result, f.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if p.closed || !p.hasMore {
		p.mu.Unlock()
		return Result{HasMore: false}, nil
	}
	f := &flight{done: make(chan struct{})}
	p.inflight = f
	page := p.page
	p.mu.Unlock()

	body, err := p.fetch(ctx, page)

	p.mu.Lock()
	closed := p.closed
	if err == nil && !closed {
		p.page = page + 1
		p.hasMore = body.HasMore
	}
	p.inflight = nil
	p.mu.Unlock()

	var result Result
	if err == nil && !closed {
		p.store.PrependHistory(body.Messages)
		result = Result{Count: len(body.Messages), HasMore: body.HasMore}
	}

	f.result = result
	f.err = err
	close(f.done)
	return result, err
}

// fetch retrieves one page. The caller owns the store update so a
// sealed paginator never mutates anything.
func (p *Paginator) fetch(ctx context.Context, page int) (Page, error) {
	endpoint, err := url.Parse(p.baseURL)
	if err != nil {
		return Page{}, fmt.Errorf("history url: %w", err)
	}
	query := endpoint.Query()
	query.Set("room", p.room)
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(p.pageSize))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Page{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("history returned status %d", resp.StatusCode)
	}

	var body Page
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("history decode: %w", err)
	}
	return body, nil
}
