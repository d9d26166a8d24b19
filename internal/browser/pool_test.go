package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/metrics"
)

// stubPool swaps the chromedp session/page constructors for in-process
// fakes so pool semantics are testable without a browser.
func stubPool(t *testing.T, cfg Config) (*Pool, *int) {
	t.Helper()
	metrics.Init()

	started := 0
	var mu sync.Mutex
	p := New(cfg, zap.NewNop())
	p.newSession = func() (*Session, error) {
		mu.Lock()
		started++
		mu.Unlock()
		ctx, cancel := context.WithCancel(context.Background())
		return &Session{ctx: ctx, cancel: cancel, userAgent: "Chrome/120"}, nil
	}
	p.newPage = func(sess *Session) (context.Context, context.CancelFunc, error) {
		ctx, cancel := context.WithCancel(sess.ctx)
		return ctx, cancel, nil
	}
	t.Cleanup(p.Kill)
	return p, &started
}

func TestPool_AcquireRelease(t *testing.T) {
	t.Parallel()
	p, started := stubPool(t, Config{PoolSize: 2, MaxPagesPerBrowser: 20})
	ctx := context.Background()

	page, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, *started)

	stats := p.Stats()
	require.Equal(t, 1, stats.InUse)
	require.Equal(t, 1, stats.Size)

	page.Release()
	stats = p.Stats()
	require.Equal(t, 0, stats.InUse)
	require.Equal(t, 1, stats.Idle)
	require.Equal(t, 1, stats.Size)
}

func TestPool_ReleaseIdempotent(t *testing.T) {
	t.Parallel()
	p, _ := stubPool(t, Config{PoolSize: 1, MaxPagesPerBrowser: 20})

	page, err := p.Acquire(context.Background())
	require.NoError(t, err)
	page.Release()
	page.Release()
	require.Equal(t, 0, p.Stats().InUse)
}

func TestPool_SessionReuse(t *testing.T) {
	t.Parallel()
	p, started := stubPool(t, Config{PoolSize: 1, MaxPagesPerBrowser: 20})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		page, err := p.Acquire(ctx)
		require.NoError(t, err)
		page.Release()
	}
	require.Equal(t, 1, *started)
}

func TestPool_RecycleAfterMaxPages(t *testing.T) {
	t.Parallel()
	p, started := stubPool(t, Config{PoolSize: 1, MaxPagesPerBrowser: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		page, err := p.Acquire(ctx)
		require.NoError(t, err)
		page.Release()
	}
	require.Equal(t, 1, *started)

	// Fourth acquisition finds the worn session and replaces it with one
	// whose page counter restarted.
	page, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer page.Release()
	require.Equal(t, 2, *started)
	require.Equal(t, 1, page.session.pagesOpened)
}

func TestPool_CrashForcesRecycle(t *testing.T) {
	t.Parallel()
	p, started := stubPool(t, Config{PoolSize: 1, MaxPagesPerBrowser: 20})
	ctx := context.Background()

	page, err := p.Acquire(ctx)
	require.NoError(t, err)
	page.MarkCrashed()
	page.Release()

	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer next.Release()
	require.Equal(t, 2, *started)
}

func TestPool_BlocksAtCapAndHandsOff(t *testing.T) {
	t.Parallel()
	p, started := stubPool(t, Config{PoolSize: 1, MaxPagesPerBrowser: 20})
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *Page, 1)
	go func() {
		page, err := p.Acquire(ctx)
		if err == nil {
			got <- page
		}
	}()

	// The second acquirer must be parked.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, p.Stats().Waiters)

	first.Release()
	select {
	case page := <-got:
		defer page.Release()
		require.Equal(t, 1, *started)
		require.Equal(t, 0, p.Stats().Idle)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not handed the released session")
	}
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	t.Parallel()
	p, _ := stubPool(t, Config{PoolSize: 1, MaxPagesPerBrowser: 20})

	page, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer page.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	require.Equal(t, 0, p.Stats().Waiters)
}

func TestPool_DrainWaitsAndRejects(t *testing.T) {
	t.Parallel()
	p, _ := stubPool(t, Config{PoolSize: 2, MaxPagesPerBrowser: 20})
	ctx := context.Background()

	page, err := p.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.Drain()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("drain finished with a page still leased")
	default:
	}

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, ErrDraining)

	page.Release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not finish after release")
	}

	// Idempotent.
	p.Drain()
}
