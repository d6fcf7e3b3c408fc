// Package pipeline implements the recorder worker: a single goroutine that
// owns the storage connection and consumes the shared queue, filtering and
// persisting events in exact enqueue order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/roach88/chronicle/internal/bus"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/filter"
	"github.com/roach88/chronicle/internal/purge"
	"github.com/roach88/chronicle/internal/store"
)

// Connection retry defaults. The delay is fixed between attempts; the
// attempt count is a true bound, decremented monotonically by the retrier.
const (
	DefaultConnectMaxAttempts = 10
	DefaultConnectRetryWait   = 10 * time.Second
	// DefaultPurgeInterval is how often a purge marker is queued when
	// retention is configured.
	DefaultPurgeInterval = 2 * 24 * time.Hour
)

// Config carries everything the recorder needs from the host configuration.
type Config struct {
	// URL is the database connection URL (see store.Open for forms).
	URL string
	// KeepDays is the retention window in days; 0 disables purging.
	KeepDays int
	// Filter is the include/exclude rule set, immutable for the
	// recorder's lifetime.
	Filter filter.Config
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithNotifier sets the notification service used for fatal startup
// failures. Defaults to bus.LogNotifier.
func WithNotifier(n bus.Notifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

// WithConnectRetry overrides the connection retry bound and backoff delay.
// Used by tests to keep retries fast.
func WithConnectRetry(maxAttempts int, wait time.Duration) Option {
	return func(r *Recorder) {
		r.connectMaxAttempts = maxAttempts
		r.connectRetryWait = wait
	}
}

// WithPurgeInterval overrides how often purge markers are queued.
func WithPurgeInterval(interval time.Duration) Option {
	return func(r *Recorder) { r.purgeInterval = interval }
}

// Recorder is the background persistence pipeline.
//
// Exactly one worker goroutine executes the entire consume → filter →
// persist pipeline serially; it exclusively owns the live store and the
// current run record. Producers (the host dispatch goroutine and the purge
// timer) enqueue asynchronously and never block.
type Recorder struct {
	cfg    Config
	host   *bus.Bus
	filter *filter.Engine
	queue  *queue

	notifier           bus.Notifier
	connectMaxAttempts int
	connectRetryWait   time.Duration
	purgeInterval      time.Duration

	// recordingStart is captured at construction, before any connection
	// attempt; run recovery and the new run both use it.
	recordingStart time.Time

	// store and currentRun are owned by the worker goroutine. The runMu
	// guard exists only for RunCovering reads from other goroutines; the
	// store pointer stays nil until the connection is established.
	store      *store.Store
	runMu      sync.RWMutex
	currentRun *store.Run

	lc    *lifecycle
	phase atomic.Value // Phase

	ready     chan struct{}
	done      chan struct{}
	startOnce sync.Once

	// cancelPurgeTimer is written on the host job goroutine and read on
	// the worker at shutdown.
	timerMu          sync.Mutex
	cancelPurgeTimer func()
}

// New creates a Recorder attached to the host bus. The worker does not
// start until Start is called.
func New(cfg Config, host *bus.Bus, opts ...Option) (*Recorder, error) {
	lc, err := newLifecycle()
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:                cfg,
		host:               host,
		filter:             filter.New(cfg.Filter),
		queue:              newQueue(),
		notifier:           bus.LogNotifier{},
		connectMaxAttempts: DefaultConnectMaxAttempts,
		connectRetryWait:   DefaultConnectRetryWait,
		purgeInterval:      DefaultPurgeInterval,
		recordingStart:     time.Now().UTC(),
		lc:                 lc,
		ready:              make(chan struct{}),
		done:               make(chan struct{}),
	}
	r.phase.Store(PhaseConnecting)

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start subscribes the event ingestor and spawns the worker goroutine.
// Safe to call once; subsequent calls are no-ops.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		// The listener runs on the host's dispatch goroutine: push the raw
		// event and return. No inspection, no filtering; that happens on
		// the worker.
		r.host.ListenAll(func(ev event.Event) {
			r.queue.enqueue(item{kind: itemEvent, event: ev})
		})
		go r.run()
	})
}

// Join blocks until the worker goroutine has terminated.
func (r *Recorder) Join() {
	<-r.done
}

// WaitUntilReady blocks until connection and run setup succeed, the worker
// terminates without ever becoming ready, or ctx expires.
func (r *Recorder) WaitUntilReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-r.done:
		return fmt.Errorf("recorder terminated before becoming ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain blocks until every previously enqueued item has been fully
// processed, filtered-out and time-tick items included, or until the
// worker has shut down and nothing will be processed again.
func (r *Recorder) Drain() {
	r.queue.drain()
}

// QueueLen returns the number of items waiting to be dequeued.
// Useful for monitoring and tests.
func (r *Recorder) QueueLen() int {
	return r.queue.length()
}

// Phase returns the worker's current lifecycle phase.
// Safe from any goroutine.
func (r *Recorder) Phase() Phase {
	return r.phase.Load().(Phase)
}

// RecordingStart returns the instant this recorder session began.
func (r *Recorder) RecordingStart() time.Time {
	return r.recordingStart
}

// RunCovering returns the run covering pointInTime.
//
// A nil pointInTime, or one later than the recording start, resolves to a
// copy of the in-memory current run without touching storage. Earlier
// points query storage for a closed run with start < t < end; nil when no
// run covers the point. Before the connection is established the storage
// path returns an error rather than a lookup result; after termination it
// returns the closed connection's error.
func (r *Recorder) RunCovering(ctx context.Context, pointInTime *time.Time) (*store.Run, error) {
	if pointInTime == nil || pointInTime.After(r.recordingStart) {
		r.runMu.RLock()
		defer r.runMu.RUnlock()
		if r.currentRun == nil {
			return nil, nil
		}
		run := *r.currentRun
		return &run, nil
	}

	r.runMu.RLock()
	st := r.store
	r.runMu.RUnlock()
	if st == nil {
		return nil, fmt.Errorf("run lookup: storage not connected")
	}
	return st.RunCovering(ctx, *pointInTime)
}

// lcSend advances the lifecycle machine and publishes the new phase.
// Called only from the worker goroutine.
func (r *Recorder) lcSend(ev eventType) {
	r.lc.send(ev)
	r.phase.Store(r.lc.phase())
}

// run is the worker body. Everything from connection setup through the
// final connection close happens here, on one goroutine.
func (r *Recorder) run() {
	defer close(r.done)
	defer r.lc.stop()
	// Whatever path the worker exits by, reject further enqueues and
	// release any blocked Drain: nothing will be processed again.
	defer r.queue.close()
	ctx := context.Background()

	st, err := r.connect(ctx)
	if err != nil {
		slog.Error("recorder could not start", "error", err, "attempts", r.connectMaxAttempts)
		r.notifier.Notify("The recorder could not start, please check the log", "Recorder")
		r.lcSend(evFail)
		return
	}
	r.runMu.Lock()
	r.store = st
	r.runMu.Unlock()
	r.lcSend(evConnected)

	if err := r.setupRun(ctx); err != nil {
		slog.Error("recorder run setup failed", "error", err)
		r.notifier.Notify("The recorder could not start, please check the log", "Recorder")
		r.store.Close()
		r.lcSend(evFail)
		return
	}
	r.lcSend(evRecovered)

	if !r.awaitHostStart() {
		// Shutdown raced ahead of host startup; exit without consuming.
		// The open run stays open and the next session recovers it.
		r.closeConnection()
		r.lcSend(evStop)
		return
	}
	r.lcSend(evStarted)

	r.consume(ctx)
}

// connect establishes the database connection and runs the migration
// routine, with a fixed delay between attempts and a bounded attempt
// count. Exhausting the bound is fatal to the worker only.
func (r *Recorder) connect(ctx context.Context) (*store.Store, error) {
	retrier := retry.New[*store.Store](retry.Config{
		MaxAttempts:   r.connectMaxAttempts,
		InitialDelay:  r.connectRetryWait,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    1.0, // fixed delay between attempts
	})

	return retrier.Do(ctx, func(ctx context.Context) (*store.Store, error) {
		st, err := store.Open(r.cfg.URL)
		if err != nil {
			slog.Error("error during connection setup",
				"error", err, "retry_in", r.connectRetryWait)
			return nil, err
		}
		if err := store.Migrate(st); err != nil {
			st.Close()
			slog.Error("error during schema migration",
				"error", err, "retry_in", r.connectRetryWait)
			return nil, err
		}
		return st, nil
	})
}

// setupRun recovers runs left open by a prior session, then begins the
// run for this session. At most one run has a null end from here on.
func (r *Recorder) setupRun(ctx context.Context) error {
	recovered, err := r.store.CloseUnfinishedRuns(ctx, r.recordingStart)
	if err != nil {
		return err
	}
	for _, run := range recovered {
		slog.Warn("ended unfinished recorder run",
			"run_id", run.RunID, "start", run.Start)
	}

	run, err := r.store.BeginRun(ctx, r.recordingStart)
	if err != nil {
		return err
	}

	r.runMu.Lock()
	r.currentRun = &run
	r.runMu.Unlock()

	slog.Info("recorder run started", "run_id", run.RunID, "start", run.Start)
	return nil
}

// awaitHostStart registers the shutdown and startup listeners on the host
// thread, flips readiness, and pauses until the host reports fully started.
// Returns false if a shutdown signal arrived first.
func (r *Recorder) awaitHostStart() bool {
	const (
		sigStarted = iota
		sigStopped
	)
	hostStarted := make(chan int, 1)
	signal := func(s int) {
		select {
		case hostStarted <- s:
		default:
		}
	}

	r.host.AddJob(func() {
		r.host.ListenOnce(event.TypeHostStop, func(event.Event) {
			signal(sigStopped)
			// Blocks the host's dispatch goroutine until the worker has
			// drained the queue and terminated: the shutdown gate.
			r.queue.enqueue(item{kind: itemStop})
			r.Join()
		})

		switch r.host.State() {
		case bus.StateRunning:
			signal(sigStarted)
		case bus.StateStopping:
			// Shutdown fired before the listeners existed; treat it as a
			// stop signal. The gate cannot apply, the dispatch already
			// returned.
			signal(sigStopped)
		default:
			r.host.ListenOnce(event.TypeHostStart, func(event.Event) {
				signal(sigStarted)
			})
		}

		if r.cfg.KeepDays > 0 {
			cancel := r.host.TrackTimeInterval(r.purgeInterval, func(time.Time) {
				r.queue.enqueue(item{kind: itemPurge})
			})
			r.timerMu.Lock()
			r.cancelPurgeTimer = cancel
			r.timerMu.Unlock()
		}

		// Readiness flips only after the listeners exist: a caller that has
		// seen ready can fire host signals without losing them.
		close(r.ready)
	})

	return <-hostStarted == sigStarted
}

// consume is the main loop: dequeue, dispatch, mark done. Strictly FIFO;
// markers are handled in order relative to events. Every dequeued item is
// marked done on every exit path so the drain barrier stays accurate.
func (r *Recorder) consume(ctx context.Context) {
	for {
		it, ok := r.queue.dequeue()
		if !ok {
			return
		}

		switch it.kind {
		case itemStop:
			// Close the queue before anything else so events raced in
			// behind the stop marker are rejected instead of inflating the
			// pending count with items nothing will ever process. FIFO
			// means everything enqueued before the marker has already been
			// handled: the drain is complete.
			r.queue.close()
			r.lcSend(evStop)
			r.lcSend(evDrained)
			r.closeRun(ctx)
			r.lcSend(evRunClosed)
			r.closeConnection()
			r.lcSend(evClosed)
			r.queue.taskDone()
			return

		case itemPurge:
			// Runs inline on the worker: persistence stalls for the
			// duration. Bounding that stall is the purge routine's
			// concern, not the pipeline's.
			if err := purge.Run(ctx, r.store, r.cfg.KeepDays, time.Now().UTC()); err != nil {
				slog.Error("purge failed", "error", err)
				r.queue.taskDone()
				r.fail()
				return
			}
			r.queue.taskDone()

		case itemEvent:
			if err := r.handleEvent(ctx, it.event); err != nil {
				slog.Error("event persistence failed",
					"error", err,
					"event_type", it.event.Type,
					"time_fired", it.event.TimeFired,
				)
				r.queue.taskDone()
				r.fail()
				return
			}
			r.queue.taskDone()
		}
	}
}

// handleEvent drops time ticks, applies the filter, and persists what
// passes. Dropped events return nil: only persistence failures are fatal.
func (r *Recorder) handleEvent(ctx context.Context, ev event.Event) error {
	// Time ticks carry no persistable payload; they are discarded before
	// the filter ever sees them.
	if ev.IsTimeTick() {
		return nil
	}
	if !r.filter.ShouldRecord(ev) {
		return nil
	}
	return r.store.RecordEvent(ctx, ev)
}

// fail marks the worker fatally failed, releasing the connection and the
// drain barrier. The current run is deliberately left open: the next
// session's recovery closes it as closed_incorrect, which is the truth of
// the matter.
func (r *Recorder) fail() {
	r.queue.close()
	r.closeConnection()
	r.lcSend(evFail)
}

// closeRun stamps the current run's end and releases the in-memory
// reference. Best-effort at shutdown: a failed update is logged, not fatal.
func (r *Recorder) closeRun(ctx context.Context) {
	r.runMu.Lock()
	run := r.currentRun
	r.currentRun = nil
	r.runMu.Unlock()

	if run == nil {
		return
	}
	if err := r.store.EndRun(ctx, run.RunID, time.Now().UTC()); err != nil {
		slog.Error("failed to close recorder run", "run_id", run.RunID, "error", err)
		return
	}
	slog.Info("recorder run closed", "run_id", run.RunID)
}

func (r *Recorder) closeConnection() {
	r.timerMu.Lock()
	cancel := r.cancelPurgeTimer
	r.cancelPurgeTimer = nil
	r.timerMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			slog.Error("failed to close recorder connection", "error", err)
		}
	}
}
