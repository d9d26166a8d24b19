// Package browser manages the bounded pool of long-lived headless
// browser sessions used to drive the portal.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
)

// ErrDraining is returned to acquirers once shutdown has begun.
var ErrDraining = errors.New("browser pool draining")

// Config controls pool sizing and page behavior.
type Config struct {
	PoolSize           int
	MaxPagesPerBrowser int
	PageTimeout        time.Duration
	NavigationTimeout  time.Duration
}

// Session is one long-lived browser process. It tracks how many pages it
// has opened so the pool can recycle it before memory and fingerprint
// state accumulate.
type Session struct {
	ctx          context.Context
	cancel       context.CancelFunc
	userAgent    string
	pagesOpened  int
	needsRecycle bool
}

// Page is one leased tab. The holder must call Release exactly once;
// Release closes the tab and returns the session to the pool.
type Page struct {
	pool     *Pool
	session  *Session
	ctx      context.Context
	cancel   context.CancelFunc
	released bool
	mu       sync.Mutex
}

// Context returns the chromedp task context for this page. All portal
// and captcha actions run against it.
func (p *Page) Context() context.Context { return p.ctx }

// MarkCrashed flags the backing session for recycling before reuse.
func (p *Page) MarkCrashed() {
	p.pool.mu.Lock()
	p.session.needsRecycle = true
	p.pool.mu.Unlock()
}

// Release closes the page and hands the session back. Safe to call from
// a defer on every exit path; subsequent calls are no-ops.
func (p *Page) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()

	p.cancel()
	p.pool.release(p.session)
}

// Stats is the pool snapshot surfaced on /status.
type Stats struct {
	Size    int `json:"size"`
	InUse   int `json:"in_use"`
	Idle    int `json:"idle"`
	Waiters int `json:"waiters"`
}

// Pool is the bounded session pool. Waiters are served FIFO; a released
// session is handed to the head waiter directly instead of being marked
// idle.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	allocator   context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*Session
	alive    int
	inUse    int
	waiters  []chan *Session
	draining bool
	drained  bool

	// Overridable for tests; default to the chromedp implementations.
	newSession func() (*Session, error)
	newPage    func(*Session) (context.Context, context.CancelFunc, error)
}

// New builds a Pool over a shared exec allocator. No browser starts until
// the first acquisition.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	if cfg.MaxPagesPerBrowser <= 0 {
		cfg.MaxPagesPerBrowser = 20
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	p := &Pool{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
	p.cond = sync.NewCond(&p.mu)
	p.newSession = p.startSession
	p.newPage = p.openPage
	return p
}

// Acquire leases a session and opens exactly one page on it. Blocks FIFO
// when the pool is saturated.
func (p *Pool) Acquire(ctx context.Context) (*Page, error) {
	sess, err := p.acquireSession(ctx)
	if err != nil {
		return nil, err
	}

	// Recycle on acquisition: worn or crashed sessions are replaced here
	// so the caller always gets a fresh-enough browser.
	if sess != nil && (sess.needsRecycle || sess.pagesOpened >= p.cfg.MaxPagesPerBrowser) {
		p.closeSession(sess)
		metrics.ObservePoolRecycle()
		sess = nil
	}
	if sess == nil {
		sess, err = p.newSession()
		if err != nil {
			p.abandonLease()
			return nil, fmt.Errorf("start browser session: %w", err)
		}
	}

	pageCtx, pageCancel, err := p.newPage(sess)
	if err != nil {
		p.closeSession(sess)
		p.abandonLease()
		return nil, fmt.Errorf("open page: %w", err)
	}
	sess.pagesOpened++

	p.mu.Lock()
	metrics.SetPoolInUse(p.inUse)
	p.mu.Unlock()

	return &Page{pool: p, session: sess, ctx: pageCtx, cancel: pageCancel}, nil
}

// Lease adapts Acquire to the monitor.BrowserPool interface.
func (p *Pool) Lease(ctx context.Context) (monitor.Page, error) {
	page, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// acquireSession returns an idle session, nil when the caller should
// start a fresh one, or blocks until a lease frees up.
func (p *Pool) acquireSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrDraining
	}
	if n := len(p.idle); n > 0 {
		sess := p.idle[0]
		p.idle = p.idle[1:]
		p.inUse++
		p.mu.Unlock()
		return sess, nil
	}
	if p.alive < p.cfg.PoolSize {
		p.alive++
		p.inUse++
		p.mu.Unlock()
		return nil, nil
	}

	ch := make(chan *Session, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.dropWaiter(ch)
		return nil, fmt.Errorf("browser acquire: %w", ctx.Err())
	case sess, ok := <-ch:
		if !ok {
			return nil, ErrDraining
		}
		return sess, nil
	}
}

// release returns a session. The head waiter, if any, gets it directly.
func (p *Pool) release(sess *Session) {
	p.mu.Lock()
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- sess
		return
	}
	p.inUse--
	if p.draining {
		p.alive--
		metrics.SetPoolInUse(p.inUse)
		p.cond.Broadcast()
		p.mu.Unlock()
		p.closeSession(sess)
		return
	}
	p.idle = append(p.idle, sess)
	metrics.SetPoolInUse(p.inUse)
	p.mu.Unlock()
}

// abandonLease undoes the bookkeeping for a lease whose session could not
// be started, then wakes the next waiter so it can try.
func (p *Pool) abandonLease() {
	p.mu.Lock()
	p.inUse--
	p.alive--
	var ch chan *Session
	if len(p.waiters) > 0 && !p.draining {
		ch = p.waiters[0]
		p.waiters = p.waiters[1:]
		p.alive++
		p.inUse++
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	if ch != nil {
		ch <- nil
	}
}

func (p *Pool) dropWaiter(ch chan *Session) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	// A session may already be in flight to us; put it back.
	select {
	case sess := <-ch:
		if sess != nil {
			p.release(sess)
		}
	default:
	}
}

// Drain closes every session and blocks until all leases are returned.
// Idempotent.
func (p *Pool) Drain() {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return
	}
	p.draining = true

	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil

	idle := p.idle
	p.idle = nil
	p.alive -= len(idle)
	p.mu.Unlock()

	for _, sess := range idle {
		p.closeSession(sess)
	}

	p.mu.Lock()
	for p.inUse > 0 {
		p.cond.Wait()
	}
	p.drained = true
	p.mu.Unlock()

	p.allocCancel()
	p.logger.Info("browser pool drained")
}

// Kill force-closes everything without waiting for leases; used when the
// shutdown deadline fires.
func (p *Pool) Kill() {
	p.mu.Lock()
	p.draining = true
	p.drained = true
	idle := p.idle
	p.idle = nil
	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil
	p.mu.Unlock()

	for _, sess := range idle {
		p.closeSession(sess)
	}
	p.allocCancel()
}

// Ping reports pool health for /health.
func (p *Pool) Ping(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return ErrDraining
	}
	return nil
}

// Stats returns the current pool snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:    p.alive,
		InUse:   p.inUse,
		Idle:    len(p.idle),
		Waiters: len(p.waiters),
	}
}

func (p *Pool) closeSession(sess *Session) {
	if sess == nil || sess.cancel == nil {
		return
	}
	sess.cancel()
}
