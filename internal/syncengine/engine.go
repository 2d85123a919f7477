package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/model"
	"github.com/erauner12/trendy-sync/internal/store"
	"github.com/rs/zerolog"
)

// State is the coordinator's current phase.
type State string

const (
	StateIdle           State = "idle"
	StateHealthChecking State = "healthChecking"
	StateFlushing       State = "flushing"
	StatePulling        State = "pulling"
	StateBootstrapping  State = "bootstrapping"
)

// Mode says which reconciliation path a pass took.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeBootstrap   Mode = "bootstrap"
)

// Report summarizes one completed sync pass.
type Report struct {
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Flushed counts mutations confirmed by the server this pass.
	Flushed int `json:"flushed"`

	// PermanentlyFailed lists mutations that exhausted their attempt
	// budget this pass. They stay visible in the store until the caller
	// acknowledges them.
	PermanentlyFailed []model.PendingMutation `json:"permanentlyFailed,omitempty"`

	// Pull bookkeeping.
	Applied int   `json:"applied"`
	Ignored int   `json:"ignored"`
	Pages   int   `json:"pages"`
	Cursor  int64 `json:"cursor"`

	// Bootstrapped counts entities fetched by a bootstrap pass.
	Bootstrapped int `json:"bootstrapped,omitempty"`

	// Stopped is true when the pass ended early (breaker trip or lost
	// connectivity) with work left queued for the next pass.
	Stopped bool `json:"stopped"`
}

// Config tunes the engine. Zero values get defaults.
type Config struct {
	// BatchSize is the maximum number of same-kind creates grouped into
	// one batch request. Default 25.
	BatchSize int

	// PullLimit is the change-feed page size. Default 100, the server
	// caps at 500.
	PullLimit int

	// BootstrapPageSize is the collection page size during bootstrap.
	// Default 200.
	BootstrapPageSize int

	// WaitTimeout bounds how long a second Sync caller waits for the
	// in-flight pass. Default 30s.
	WaitTimeout time.Duration

	// Coalesce makes concurrent Sync callers return ErrSyncInProgress
	// immediately instead of waiting for the in-flight pass.
	Coalesce bool

	// Clock overrides the breaker's time source for tests.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.PullLimit <= 0 {
		c.PullLimit = 100
	}
	if c.PullLimit > api.MaxChangesLimit {
		c.PullLimit = api.MaxChangesLimit
	}
	if c.BootstrapPageSize <= 0 {
		c.BootstrapPageSize = 200
	}
	if c.BootstrapPageSize > api.MaxListLimit {
		c.BootstrapPageSize = api.MaxListLimit
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Engine is the sync coordinator: a serialized state machine that
// sequences health probe, flush, and pull (or bootstrap), with
// single-flight semantics for concurrent callers.
type Engine struct {
	apiClient API
	stores    store.Factory
	cursor    store.CursorStore
	breaker   *Breaker
	cfg       Config
	logger    zerolog.Logger

	flusher *flusher
	puller  *puller
	boot    *bootstrapper

	mu         sync.Mutex
	state      State
	running    bool
	done       chan struct{}
	lastReport *Report
	lastErr    error
	lastSyncAt time.Time
}

// New wires an Engine from its two capabilities and the cursor store.
func New(apiClient API, stores store.Factory, cursor store.CursorStore, cfg Config, logger zerolog.Logger) *Engine {
	cfg.applyDefaults()
	breaker := NewBreakerWithClock(cfg.Clock)

	e := &Engine{
		apiClient: apiClient,
		stores:    stores,
		cursor:    cursor,
		breaker:   breaker,
		cfg:       cfg,
		logger:    logger,
		state:     StateIdle,
	}
	e.flusher = &flusher{
		api:       apiClient,
		stores:    stores,
		breaker:   breaker,
		batchSize: cfg.BatchSize,
		logger:    logger.With().Str("component", "flush").Logger(),
	}
	e.puller = &puller{
		api:     apiClient,
		stores:  stores,
		cursor:  cursor,
		breaker: breaker,
		limit:   cfg.PullLimit,
		logger:  logger.With().Str("component", "pull").Logger(),
	}
	e.boot = &bootstrapper{
		api:      apiClient,
		stores:   stores,
		cursor:   cursor,
		breaker:  breaker,
		pageSize: cfg.BootstrapPageSize,
		logger:   logger.With().Str("component", "bootstrap").Logger(),
	}
	return e
}

// Sync runs one pass: health probe, flush, then incremental pull (or
// bootstrap when no cursor exists). Single-flight: a call made while a
// pass is running never starts a second one - it waits for the
// in-flight result (bounded by WaitTimeout) or, in coalesce mode,
// returns ErrSyncInProgress immediately.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.running {
		done := e.done
		e.mu.Unlock()

		if e.cfg.Coalesce {
			return nil, ErrSyncInProgress
		}

		timer := time.NewTimer(e.cfg.WaitTimeout)
		defer timer.Stop()
		select {
		case <-done:
			e.mu.Lock()
			rep, err := e.lastReport, e.lastErr
			e.mu.Unlock()
			return rep, err
		case <-timer.C:
			return nil, WaitTimeoutError{Timeout: e.cfg.WaitTimeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.running = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	rep, err := e.runPass(ctx)

	e.mu.Lock()
	e.running = false
	e.state = StateIdle
	e.lastReport, e.lastErr = rep, err
	if err == nil {
		e.lastSyncAt = time.Now()
	}
	close(e.done)
	e.mu.Unlock()

	return rep, err
}

// runPass executes the state machine sequence for one pass. Expected
// failure kinds (rate limit, transient) are absorbed into the report;
// only breaker-at-entry, health failure, permanently failed mutations
// and fatal storage errors reach the caller as errors.
func (e *Engine) runPass(ctx context.Context) (*Report, error) {
	rep := &Report{StartedAt: time.Now()}
	defer func() { rep.FinishedAt = time.Now() }()

	if e.breaker.Tripped() {
		remaining := e.breaker.BackoffRemaining()
		e.logger.Info().Dur("backoffRemaining", remaining).Msg("sync declined: circuit breaker open")
		return rep, BreakerOpenError{Remaining: remaining}
	}

	// Cheapest possible probe; abort before touching queue or cursor.
	e.setState(StateHealthChecking)
	if err := e.apiClient.Health(ctx); err != nil {
		if api.IsRateLimit(err) {
			e.breaker.RecordFailure()
		}
		return rep, HealthCheckError{Err: err}
	}
	e.breaker.RecordSuccess()

	e.setState(StateFlushing)
	fres, err := e.flusher.flush(ctx)
	if err != nil {
		return rep, err
	}
	rep.Flushed = fres.Synced
	rep.PermanentlyFailed = fres.Failed
	rep.Stopped = fres.Stopped

	cursor, err := e.cursor.Cursor()
	if err != nil {
		return rep, StorageError{Op: "cursor read", Err: err}
	}

	if cursor == 0 {
		e.setState(StateBootstrapping)
		rep.Mode = ModeBootstrap

		n, err := e.boot.run(ctx)
		rep.Bootstrapped = n
		if err != nil {
			return rep, err
		}
		if c, err := e.cursor.Cursor(); err == nil {
			rep.Cursor = c
		}
	} else {
		e.setState(StatePulling)
		rep.Mode = ModeIncremental

		pres, err := e.puller.run(ctx)
		rep.Applied = pres.Applied
		rep.Ignored = pres.Ignored
		rep.Pages = pres.Pages
		rep.Cursor = pres.Cursor
		rep.Stopped = rep.Stopped || pres.Stopped
		if err != nil {
			return rep, err
		}
	}

	e.logger.Info().
		Str("mode", string(rep.Mode)).
		Int("flushed", rep.Flushed).
		Int("applied", rep.Applied).
		Int("permanentlyFailed", len(rep.PermanentlyFailed)).
		Int64("cursor", rep.Cursor).
		Bool("stopped", rep.Stopped).
		Msg("sync pass complete")
	return rep, nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// IsSyncing reports whether a pass is in flight.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// State returns the coordinator's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsCircuitBreakerTripped reports whether the breaker is blocking
// calls.
func (e *Engine) IsCircuitBreakerTripped() bool {
	return e.breaker.Tripped()
}

// CircuitBreakerBackoffRemaining returns how long until network calls
// may resume.
func (e *Engine) CircuitBreakerBackoffRemaining() time.Duration {
	return e.breaker.BackoffRemaining()
}

// ResetBreaker clears the breaker for administrative recovery.
func (e *Engine) ResetBreaker() {
	e.breaker.HardReset()
}

// LastSyncAt returns the completion time of the last successful pass,
// zero if none yet.
func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

// LastReport returns the most recent pass report, nil if none yet.
func (e *Engine) LastReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// ResetCursor clears the persisted cursor, forcing the next sync
// through bootstrap.
func (e *Engine) ResetCursor() error {
	return e.cursor.Reset()
}

// SkipToLatest jumps the cursor to the server's current high-water
// mark, intentionally skipping intermediate changes.
func (e *Engine) SkipToLatest(ctx context.Context) error {
	latest, err := e.apiClient.LatestCursor(ctx)
	if err != nil {
		return err
	}
	return e.cursor.SetCursor(latest)
}

// Status is a read-only snapshot for UI/daemon introspection.
type Status struct {
	Syncing          bool      `json:"syncing"`
	State            State     `json:"state"`
	BreakerTripped   bool      `json:"breakerTripped"`
	BackoffRemaining float64   `json:"backoffRemainingSeconds"`
	Cursor           int64     `json:"cursor"`
	PendingMutations int       `json:"pendingMutations"`
	FailedMutations  int       `json:"failedMutations"`
	LastSyncAt       time.Time `json:"lastSyncAt,omitzero"`
}

// Status assembles the current introspection snapshot.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	cursor, err := e.cursor.Cursor()
	if err != nil {
		return nil, StorageError{Op: "status", Err: err}
	}

	st, err := e.stores(ctx)
	if err != nil {
		return nil, StorageError{Op: "status", Err: err}
	}
	defer st.Close()

	pending, failed, err := st.MutationCounts(ctx)
	if err != nil {
		return nil, StorageError{Op: "status", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return &Status{
		Syncing:          e.running,
		State:            e.state,
		BreakerTripped:   e.breaker.Tripped(),
		BackoffRemaining: e.breaker.BackoffRemaining().Seconds(),
		Cursor:           cursor,
		PendingMutations: pending,
		FailedMutations:  failed,
		LastSyncAt:       e.lastSyncAt,
	}, nil
}
