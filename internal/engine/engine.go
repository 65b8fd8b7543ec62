// Package engine owns the refresh loop: an immediate first run, a
// fixed-interval recurring run, single-flight exclusion between runs,
// and atomic publication of the resulting snapshot. A failed refresh
// never disturbs the previously published snapshot and never escapes to
// the hosting process.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turkcell/bt-go-lib/internal/beyondtrust"
	"github.com/turkcell/bt-go-lib/internal/cache"
	"github.com/turkcell/bt-go-lib/internal/checkout"
	"github.com/turkcell/bt-go-lib/internal/config"
	bterrors "github.com/turkcell/bt-go-lib/internal/errors"
	"github.com/turkcell/bt-go-lib/internal/fetch"
	"github.com/turkcell/bt-go-lib/internal/health"
	"github.com/turkcell/bt-go-lib/internal/logging"
	"github.com/turkcell/bt-go-lib/pkg/secretsource"
)

// runFunc executes one discovery-and-retrieval cycle. The default
// implementation builds a fresh transport per run; tests substitute it.
type runFunc func(ctx context.Context) (map[string]string, error)

// Engine periodically retrieves secrets and publishes snapshots.
type Engine struct {
	opts     config.Options
	failsafe *cache.FailSafe
	logger   *logging.Logger

	snapshot atomic.Pointer[secretsource.Snapshot]
	// refreshMu is the single-flight guard: a trigger that fires while
	// a run is in progress is dropped, not queued.
	refreshMu sync.Mutex

	run    runFunc
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subsMu sync.Mutex
	subs   []chan struct{}

	started bool
}

// New creates an engine around an injected fail-safe cache. The cache
// outlives individual refresh runs; pass a fresh one per test.
func New(opts config.Options, failsafe *cache.FailSafe, logger *logging.Logger) *Engine {
	e := &Engine{opts: opts, failsafe: failsafe, logger: logger}
	e.run = e.runLive
	e.snapshot.Store(secretsource.Empty())
	return e
}

func newWithRun(opts config.Options, failsafe *cache.FailSafe, logger *logging.Logger, run runFunc) *Engine {
	e := New(opts, failsafe, logger)
	e.run = run
	return e
}

// Start validates configuration, performs the first refresh, and starts
// the recurring timer. A disabled engine, or API-key mode without a
// key, stays idle: empty snapshot, no timer, no requests.
func (e *Engine) Start() error {
	if !e.opts.Enabled {
		e.logger.Info("engine disabled, no secrets will be fetched")
		return nil
	}
	if err := e.opts.Validate(); err != nil {
		e.logger.Error("engine not started: %v", err)
		return err
	}
	if e.opts.EffectiveAuthMode() == config.AuthModeAPIKey && e.opts.APIKey == "" {
		e.logger.Warn("engine enabled but no API key configured, staying idle")
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.started = true

	e.refresh(e.ctx)

	if e.opts.RefreshInterval > 0 {
		e.wg.Add(1)
		go e.loop()
		e.logger.Info("background refresh started, interval %s", e.opts.RefreshInterval)
	}
	return nil
}

func (e *Engine) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.refresh(e.ctx)
		}
	}
}

// refresh executes one run under the single-flight guard and publishes
// the result when it is non-empty.
func (e *Engine) refresh(ctx context.Context) {
	if !e.refreshMu.TryLock() {
		e.logger.Debug("refresh already in progress, dropping trigger")
		return
	}
	defer e.refreshMu.Unlock()

	start := time.Now()
	data, err := e.run(ctx)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		health.RecordRefresh("failure", elapsed)
		// Transport errors may quote the request, so the message is
		// scrubbed of credential material before logging.
		msg := logging.Redact(err.Error(), []string{e.opts.APIKey, e.opts.ClientSecret})
		switch {
		case bterrors.IsAuth(err):
			e.logger.Error("refresh aborted, credential rejected: %s", msg)
		case bterrors.IsRetryable(err):
			e.logger.Warn("refresh failed with a transient error, retrying next cycle: %s", msg)
		default:
			e.logger.Warn("refresh failed, keeping previous snapshot: %s", msg)
		}
		return
	}
	if len(data) == 0 {
		health.RecordRefresh("empty", elapsed)
		e.logger.Warn("refresh produced no secrets, keeping previous snapshot")
		return
	}

	e.snapshot.Store(secretsource.NewSnapshot(data))
	health.RecordRefresh("success", elapsed)
	health.RecordSnapshotSize(len(data))
	e.notify()
	e.logger.Info("published snapshot with %d secrets in %.1fs", len(data), elapsed)
}

// runLive builds a fresh transport so rotated keys and certificates
// take effect without a restart, then runs discovery and fan-out.
func (e *Engine) runLive(ctx context.Context) (map[string]string, error) {
	client, err := beyondtrust.NewClient(e.opts, e.logger)
	if err != nil {
		return nil, err
	}
	cleanupCtx := e.ctx
	if cleanupCtx == nil {
		cleanupCtx = context.Background()
	}
	protocol := checkout.New(client, e.failsafe, e.logger, checkout.Config{
		Attempts:       e.opts.PollAttempts,
		CleanupContext: cleanupCtx,
	})
	return fetch.New(client, protocol, e.failsafe, e.logger, e.opts).FetchAll(ctx)
}

// Snapshot returns the currently published snapshot. Never nil; an idle
// or not-yet-refreshed engine publishes the empty snapshot.
func (e *Engine) Snapshot() *secretsource.Snapshot {
	return e.snapshot.Load()
}

// Subscribe returns a channel that receives one signal per successful
// snapshot replacement. The send never blocks the refresh loop;
// coalesced signals are acceptable to consumers that re-read the
// snapshot on wake-up.
func (e *Engine) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	e.subsMu.Lock()
	e.subs = append(e.subs, ch)
	e.subsMu.Unlock()
	return ch
}

func (e *Engine) notify() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stop cancels the timer and any in-flight work, including detached
// check-in calls bound to the engine's context, and waits for the loop
// to exit.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.started = false
}
