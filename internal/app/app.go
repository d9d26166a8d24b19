// Package app constructs the long-lived components, owns their
// lifecycle, and tears them down in reverse dependency order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/api"
	"github.com/litigio/casefile-monitor/internal/browser"
	"github.com/litigio/casefile-monitor/internal/captcha"
	"github.com/litigio/casefile-monitor/internal/captcha/solver"
	"github.com/litigio/casefile-monitor/internal/clock"
	"github.com/litigio/casefile-monitor/internal/config"
	jsredis "github.com/litigio/casefile-monitor/internal/jobstore/redis"
	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
	"github.com/litigio/casefile-monitor/internal/portal"
	"github.com/litigio/casefile-monitor/internal/ratelimit"
	"github.com/litigio/casefile-monitor/internal/repository"
	"github.com/litigio/casefile-monitor/internal/scheduler"
	storagegcs "github.com/litigio/casefile-monitor/internal/storage/gcs"
	"github.com/litigio/casefile-monitor/internal/worker"
)

// App holds every long-lived component of the service.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock     *clock.Zoned
	dbPool    *pgxpool.Pool
	repo      *repository.Repository
	store     monitor.JobStore
	pool      *browser.Pool
	scheduler *scheduler.Scheduler
	runner    *worker.Runner
	server    *http.Server
}

// New initializes all services, failing fast when a critical collaborator
// (the database above all) is unreachable.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("init clock: %w", err)
	}

	repo, dbPool, err := repository.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	logger.Info("connected to postgres", zap.String("host", cfg.DB.Host))

	bucket := ratelimit.New(cfg.RateLimit.Max, cfg.RateLimit.Window())

	store, err := jsredis.New(ctx, jsredis.Config{
		Addr:        cfg.Queue.Addr(),
		Password:    cfg.Queue.Password,
		DB:          cfg.Queue.DB,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.Retry.BackoffBase(),
	}, bucket, clk, logger.Named("jobstore"))
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("init job store: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Queue.Addr()))

	gcsClient, err := gcstorage.NewClient(ctx)
	if err != nil {
		dbPool.Close()
		_ = store.Close()
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	objects, err := storagegcs.New(gcsClient, storagegcs.Config{
		Bucket: cfg.Storage.Bucket,
		Prefix: cfg.Storage.Prefix,
	})
	if err != nil {
		dbPool.Close()
		_ = store.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	pool := browser.New(browser.Config{
		PoolSize:           cfg.Browser.PoolSize,
		MaxPagesPerBrowser: cfg.Browser.MaxPagesPerBrowser,
		PageTimeout:        cfg.Browser.PageTimeout(),
		NavigationTimeout:  cfg.Browser.NavigationTimeout(),
	}, logger.Named("browser"))

	chain := buildCaptchaChain(cfg.Solver, logger)

	submitter := portal.New(portal.Config{
		BaseURL:           cfg.Portal.BaseURL,
		NavigationRetries: cfg.Portal.NavigationRetries,
		AntibotMaxRetries: cfg.Portal.AntibotMaxRetries,
		NavigationTimeout: cfg.Browser.NavigationTimeout(),
	}, logger.Named("portal"))

	ids := worker.WorkerIDs(cfg.Worker.Concurrency)
	workers := make([]*worker.Worker, 0, len(ids))
	for _, id := range ids {
		workers = append(workers, worker.New(
			id, store, repo, pool, submitter, chain, objects, clk,
			logger.Named("worker").With(zap.String("worker_id", id)),
		))
	}
	runner := worker.NewRunner(store, workers, worker.LaneCaps(cfg.Worker.Concurrency), logger.Named("runner"))

	sched := scheduler.New(repo, store, clk, scheduler.FrequencyRules{
		YoungCaseDays:     cfg.Scheduler.YoungCaseDays,
		RecentChangeDays:  cfg.Scheduler.RecentChangeDays,
		HighStaleDays:     cfg.Scheduler.HighStaleDays,
		VeryStaleDays:     cfg.Scheduler.VeryStaleDays,
		HighStaleInterval: cfg.Scheduler.HighStaleInterval,
		VeryStaleInterval: cfg.Scheduler.VeryStaleInterval,
	}, time.Duration(cfg.Scheduler.IntervalMinutes)*time.Minute, logger.Named("scheduler"))

	apiServer := api.NewServer(store, repo, pool, clk, cfg.Server.ServiceSecret, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		clock:     clk,
		dbPool:    dbPool,
		repo:      repo,
		store:     store,
		pool:      pool,
		scheduler: sched,
		runner:    runner,
		server:    srv,
	}, nil
}

func buildCaptchaChain(cfg config.SolverConfig, logger *zap.Logger) *captcha.Chain {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	imageSolver := solver.New(cfg.ImageAPIKey, solver.WithTimeout(timeout))
	tokenSolver := solver.New(cfg.InteractiveAPIKey, solver.WithTimeout(timeout))

	byName := map[string]captcha.Strategy{
		"audio":     captcha.NewAudioStrategy(),
		"image":     captcha.NewImageStrategy(imageSolver),
		"challenge": captcha.NewChallengeStrategy(tokenSolver),
	}

	order := cfg.StrategyOrder
	if len(order) == 0 {
		order = []string{"audio", "image", "challenge"}
	}
	strategies := make([]captcha.Strategy, 0, len(order))
	for _, name := range order {
		strategy, ok := byName[name]
		if !ok {
			logger.Warn("unknown captcha strategy in config", zap.String("strategy", name))
			continue
		}
		strategies = append(strategies, strategy)
	}
	return captcha.NewChain(logger.Named("captcha"), strategies...)
}

// Run starts everything and blocks until ctx is canceled, then shuts down
// in reverse dependency order within the configured deadline.
func (a *App) Run(ctx context.Context) error {
	// Jobs left active by an unclean shutdown go back to pending first.
	if err := a.store.RequeueActive(ctx); err != nil {
		a.logger.Warn("startup requeue failed", zap.Error(err))
	}

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		a.runner.Run(ctx)
	}()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	// One immediate pass so a fresh deployment does not idle a full
	// interval before the first scrape.
	go a.scheduler.Tick(ctx)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		a.shutdown(runnerDone)
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
		a.shutdown(runnerDone)
		return nil
	}
}

// shutdown order: stop intake (HTTP, scheduler), let workers finish, then
// drain browsers, then close stores. Exceeding the deadline force-kills
// the browsers and requeues in-flight jobs for another process.
func (a *App) shutdown(runnerDone <-chan struct{}) {
	deadline := a.cfg.Shutdown.Deadline()
	shCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	if err := a.server.Shutdown(shCtx); err != nil {
		a.logger.Warn("http server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop(shCtx)

	select {
	case <-runnerDone:
		a.pool.Drain()
	case <-shCtx.Done():
		a.logger.Warn("shutdown deadline exceeded, killing browsers",
			zap.Duration("deadline", deadline))
		a.pool.Kill()
		requeueCtx, requeueCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer requeueCancel()
		if err := a.store.RequeueActive(requeueCtx); err != nil {
			a.logger.Error("requeue in-flight jobs failed", zap.Error(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warn("job store close error", zap.Error(err))
	}
	a.dbPool.Close()
	a.logger.Info("shutdown complete")
}
