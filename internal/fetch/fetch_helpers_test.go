package fetch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pagecache/internal/cache"
	"pagecache/internal/core"
)

type post struct {
	ID    int    `json:"id"`
	Owner string `json:"owner"`
}

// fakeClock is a settable time source for the store.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeAPI serves posts page by page. Owners rotate through 1, 2, 3.
type fakeAPI struct {
	posts []post

	calls atomic.Int32

	mu    sync.Mutex
	fail  error
	gates map[string]chan struct{}
	seen  []string
}

func newFakeAPI(n int) *fakeAPI {
	api := &fakeAPI{gates: make(map[string]chan struct{})}
	for i := 1; i <= n; i++ {
		api.posts = append(api.posts, post{ID: i, Owner: strconv.Itoa((i-1)%3 + 1)})
	}
	return api
}

func (a *fakeAPI) setFailure(err error) {
	a.mu.Lock()
	a.fail = err
	a.mu.Unlock()
}

// gate makes requests for owner block until the returned func is called.
func (a *fakeAPI) gate(owner string) func() {
	ch := make(chan struct{})
	a.mu.Lock()
	a.gates[owner] = ch
	a.mu.Unlock()
	return func() { close(ch) }
}

func (a *fakeAPI) requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.seen...)
}

func (a *fakeAPI) FetchPage(ctx context.Context, pageNumber, pageSize int, filters core.Filters) (core.Page[post], error) {
	a.calls.Add(1)
	owner := filters.Value("owner")

	a.mu.Lock()
	a.seen = append(a.seen, owner+"#"+strconv.Itoa(pageNumber))
	gate := a.gates[owner]
	fail := a.fail
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return core.Page[post]{}, ctx.Err()
		}
	}
	if fail != nil {
		return core.Page[post]{}, fail
	}

	var matched []post
	for _, p := range a.posts {
		if owner == core.AllValues || p.Owner == owner {
			matched = append(matched, p)
		}
	}
	start := (pageNumber - 1) * pageSize
	end := start + pageSize
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return core.Page[post]{
		Items:      append([]post(nil), matched[start:end]...),
		Pagination: core.NewPagination(pageNumber, pageSize, len(matched)),
	}, nil
}

// failingDurable rejects every operation.
type failingDurable struct {
	writes atomic.Int32
}

var errDurableDown = errors.New("durable tier down")

func (d *failingDurable) Get(context.Context, string) ([]byte, error) {
	return nil, errDurableDown
}

func (d *failingDurable) Set(context.Context, string, []byte, time.Duration) error {
	d.writes.Add(1)
	return errDurableDown
}

func (d *failingDurable) Delete(context.Context, string) error { return errDurableDown }

func (d *failingDurable) DeletePrefix(context.Context, string) error { return errDurableDown }

func (d *failingDurable) Close() error { return nil }

var _ cache.Durable = (*failingDurable)(nil)

// stallingDurable is an empty durable tier. Once stall is set, Get and Delete
// report on entered and block until release is closed.
type stallingDurable struct {
	stall   atomic.Bool
	entered chan string
	release chan struct{}
}

func newStallingDurable() *stallingDurable {
	return &stallingDurable{entered: make(chan string, 1), release: make(chan struct{})}
}

func (d *stallingDurable) wait(op string) {
	if !d.stall.Load() {
		return
	}
	select {
	case d.entered <- op:
	default:
	}
	<-d.release
}

func (d *stallingDurable) Get(context.Context, string) ([]byte, error) {
	d.wait("get")
	return nil, cache.ErrNotFound
}

func (d *stallingDurable) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (d *stallingDurable) Delete(context.Context, string) error {
	d.wait("delete")
	return nil
}

func (d *stallingDurable) DeletePrefix(context.Context, string) error { return nil }

func (d *stallingDurable) Close() error { return nil }

var _ cache.Durable = (*stallingDurable)(nil)

// stateWithin calls state and fails the test if it does not return within a second.
func stateWithin[S any](t *testing.T, state func() S) S {
	t.Helper()
	done := make(chan S, 1)
	go func() { done <- state() }()
	select {
	case s := <-done:
		return s
	case <-time.After(time.Second):
		t.Fatal("state read blocked behind cache I/O")
		var zero S
		return zero
	}
}

func ids(items []post) []int {
	out := make([]int, len(items))
	for i, p := range items {
		out[i] = p.ID
	}
	return out
}
