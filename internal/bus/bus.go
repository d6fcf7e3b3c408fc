// Package bus hosts the collaborator surface the recorder consumes from
// its embedding process: event dispatch, one-shot signal listeners,
// periodic timers, a host-thread job queue, and the host run state.
//
// The dispatch mechanism itself is not the recorder's concern; this
// in-process implementation exists as the interface boundary for the CLI
// host shim and the tests.
package bus

import (
	"sync"
	"time"

	"github.com/roach88/chronicle/internal/event"
)

// State is the host process run state.
type State int

const (
	// StateStarting means the host has not finished starting yet.
	StateStarting State = iota
	// StateRunning means the host is fully started.
	StateRunning
	// StateStopping means the host has begun shutting down.
	StateStopping
)

// Listener receives fired events. Listeners run on the firing goroutine
// and must not block; the recorder's listener only enqueues.
type Listener func(event.Event)

// Bus is a minimal in-process event bus with a host-thread job queue.
type Bus struct {
	mu    sync.Mutex
	all   []Listener
	once  map[string][]Listener
	state State

	gen event.ContextGenerator

	jobs     chan func()
	loopDone chan struct{}

	tickerMu sync.Mutex
	cancels  []func()
	closed   bool
}

// New creates a bus in the Starting state and spawns the host job loop.
func New(gen event.ContextGenerator) *Bus {
	if gen == nil {
		gen = event.UUIDv7Generator{}
	}
	b := &Bus{
		once:     make(map[string][]Listener),
		gen:      gen,
		jobs:     make(chan func(), 64),
		loopDone: make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	defer close(b.loopDone)
	for job := range b.jobs {
		job()
	}
}

// ListenAll subscribes fn to every event fired on the bus.
func (b *Bus) ListenAll(fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, fn)
}

// ListenOnce subscribes fn to the next event of the given type only.
func (b *Bus) ListenOnce(eventType string, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.once[eventType] = append(b.once[eventType], fn)
}

// Fire dispatches an event to all-event listeners, then to its one-shot
// listeners, synchronously on the caller's goroutine. Firing TypeHostStart
// moves the host to Running; TypeHostStop moves it to Stopping.
func (b *Bus) Fire(eventType string, data map[string]any) event.Event {
	ev := event.New(eventType, data, b.gen.Generate())
	b.dispatch(ev)
	return ev
}

// FireEvent dispatches an already-built event, preserving its timestamps
// and context ID. Used by tests that need fixed times.
func (b *Bus) FireEvent(ev event.Event) {
	b.dispatch(ev)
}

func (b *Bus) dispatch(ev event.Event) {
	b.mu.Lock()
	switch ev.Type {
	case event.TypeHostStart:
		b.state = StateRunning
	case event.TypeHostStop:
		b.state = StateStopping
	}
	onceListeners := b.once[ev.Type]
	delete(b.once, ev.Type)
	allListeners := make([]Listener, len(b.all))
	copy(allListeners, b.all)
	b.mu.Unlock()

	// All-event listeners run before one-shot listeners so a recorder sees
	// the stop event itself ahead of the stop marker the one-shot shutdown
	// listener enqueues.
	for _, fn := range allListeners {
		fn(ev)
	}
	for _, fn := range onceListeners {
		fn(ev)
	}
}

// State returns the current host run state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AddJob schedules fn on the host job loop. Jobs run in submission order
// on a single goroutine, giving cross-thread handoffs a safe home.
func (b *Bus) AddJob(fn func()) {
	b.jobs <- fn
}

// TrackTimeInterval invokes fn every interval until the returned cancel
// function is called or the bus closes.
func (b *Bus) TrackTimeInterval(interval time.Duration, fn func(now time.Time)) (cancel func()) {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case now := <-ticker.C:
				fn(now)
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()

	cancel = func() { once.Do(func() { close(stop) }) }

	b.tickerMu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.tickerMu.Unlock()
	return cancel
}

// Close stops all timers and the job loop. Pending jobs still run.
func (b *Bus) Close() {
	b.tickerMu.Lock()
	if b.closed {
		b.tickerMu.Unlock()
		return
	}
	b.closed = true
	cancels := b.cancels
	b.tickerMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	close(b.jobs)
	<-b.loopDone
}
