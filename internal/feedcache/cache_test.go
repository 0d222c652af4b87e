package feedcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stratusdash/internal/ics"
	"stratusdash/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeResolver struct {
	calls   atomic.Int32
	release chan struct{}
	fail    bool
}

func (f *fakeResolver) Resolve(ctx context.Context, url string) ics.Result {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if url == "" {
		return ics.Result{Events: []model.ResolvedEvent{}}
	}
	if f.fail {
		return ics.Result{Events: []model.ResolvedEvent{}, Err: &ics.FetchError{URL: url, Err: errors.New("down")}}
	}
	return ics.Result{Events: []model.ResolvedEvent{{UID: url, Summary: "call", Start: time.Unix(int64(n), 0)}}}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(r Resolver, ttl time.Duration) (*Cache, *clock) {
	clk := &clock{t: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)}
	c := New(r, ttl)
	c.now = clk.now
	return c, clk
}

func TestCache_HitWithinTTL(t *testing.T) {
	r := &fakeResolver{}
	c, clk := newTestCache(r, time.Minute)
	ctx := context.Background()

	first := c.Get(ctx, "https://example.com/a.ics")
	clk.advance(59 * time.Second)
	second := c.Get(ctx, "https://example.com/a.ics")

	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, 1, c.Len())

	clk.advance(time.Second)
	c.Get(ctx, "https://example.com/a.ics")
	assert.Equal(t, int32(2), r.calls.Load(), "entry expires once the TTL has elapsed")
}

func TestCache_KeyedByURL(t *testing.T) {
	r := &fakeResolver{}
	c, _ := newTestCache(r, time.Minute)
	ctx := context.Background()

	a := c.Get(ctx, "https://example.com/a.ics")
	b := c.Get(ctx, "https://example.com/b.ics")
	c.Get(ctx, " https://example.com/a.ics ")

	assert.Equal(t, int32(2), r.calls.Load())
	assert.Equal(t, "https://example.com/a.ics", a.Events[0].UID)
	assert.Equal(t, "https://example.com/b.ics", b.Events[0].UID)
}

func TestCache_EmptyURLIsNotCached(t *testing.T) {
	r := &fakeResolver{}
	c, _ := newTestCache(r, time.Minute)

	res := c.Get(context.Background(), "")
	assert.Empty(t, res.Events)
	assert.Zero(t, c.Len())
}

func TestCache_FailureCachesEmptyList(t *testing.T) {
	r := &fakeResolver{fail: true}
	c, _ := newTestCache(r, time.Minute)
	ctx := context.Background()

	first := c.Get(ctx, "https://example.com/down.ics")
	second := c.Get(ctx, "https://example.com/down.ics")

	assert.Equal(t, int32(1), r.calls.Load(), "failed fetches are not retried until the TTL elapses")
	assert.Empty(t, first.Events)
	assert.Empty(t, second.Events)
	assert.Equal(t, ics.StatusFetchFailed, second.Status())
}

func TestCache_Invalidate(t *testing.T) {
	r := &fakeResolver{}
	c, _ := newTestCache(r, time.Minute)
	ctx := context.Background()

	c.Get(ctx, "https://example.com/a.ics")
	c.Get(ctx, "https://example.com/b.ics")
	c.Invalidate("https://example.com/a.ics")
	c.Get(ctx, "https://example.com/a.ics")
	c.Get(ctx, "https://example.com/b.ics")
	assert.Equal(t, int32(3), r.calls.Load())

	c.InvalidateAll()
	assert.Zero(t, c.Len())
	c.Get(ctx, "https://example.com/b.ics")
	assert.Equal(t, int32(4), r.calls.Load())
}

func TestCache_Refresh(t *testing.T) {
	r := &fakeResolver{}
	c, _ := newTestCache(r, time.Hour)
	ctx := context.Background()

	first := c.Get(ctx, "https://example.com/a.ics")
	refreshed := c.Refresh(ctx, "https://example.com/a.ics")

	assert.Equal(t, int32(2), r.calls.Load())
	assert.NotEqual(t, first.Events[0].Start, refreshed.Events[0].Start)
	assert.Equal(t, refreshed.Events, c.Get(ctx, "https://example.com/a.ics").Events)
}

func TestCache_ConcurrentMissesShareOneResolve(t *testing.T) {
	r := &fakeResolver{release: make(chan struct{})}
	c, _ := newTestCache(r, time.Minute)

	var wg sync.WaitGroup
	results := make([]ics.Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background(), "https://example.com/a.ics")
		}(i)
	}

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	for _, res := range results {
		assert.Equal(t, results[0].Events, res.Events)
	}
}

func TestCache_InvalidateDuringResolveDropsStaleResult(t *testing.T) {
	r := &fakeResolver{release: make(chan struct{})}
	c, _ := newTestCache(r, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Get(context.Background(), "https://example.com/a.ics")
	}()

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Invalidate("https://example.com/a.ics")
	close(r.release)
	<-done

	assert.Zero(t, c.Len(), "a result started before invalidation is not stored")
}

func TestCache_CallerCancellationDoesNotAbortSharedResolve(t *testing.T) {
	var sawCancel atomic.Bool
	r := resolverFunc(func(ctx context.Context, url string) ics.Result {
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return ics.Result{Events: []model.ResolvedEvent{}}
	})
	c, _ := newTestCache(r, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Get(ctx, "https://example.com/a.ics")

	assert.False(t, sawCancel.Load())
	assert.Equal(t, 1, c.Len())
}

type resolverFunc func(ctx context.Context, url string) ics.Result

func (f resolverFunc) Resolve(ctx context.Context, url string) ics.Result { return f(ctx, url) }

func TestCache_LateMissReusesStoredResult(t *testing.T) {
	r := &fakeResolver{}
	c, _ := newTestCache(r, time.Minute)
	ctx := context.Background()

	first := c.Get(ctx, "https://example.com/a.ics")

	// A caller whose lookup missed before the first flight stored its result
	// reaches fill afterwards.
	late := c.fill(ctx, "https://example.com/a.ics", 0)

	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, first.Events, late.Events)
}
