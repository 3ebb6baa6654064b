package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

// queryTimeout bounds a single source query. Sources are expected to answer
// well within it.
const queryTimeout = 10 * time.Second

// Monitor polls a power.Source and notifies observers when line status,
// battery status or battery level change.
//
// Observers run without any monitor lock held and may call back into the
// monitor, including Refresh and Stop. Notification passes never overlap and
// are delivered in cycle order.
type Monitor struct {
	src power.Source
	log *slog.Logger

	// cycleMu serializes acquisition and diff. It is released before observers run.
	cycleMu sync.Mutex

	mu         sync.Mutex
	snap       power.Snapshot
	lineObs    observers[power.Optional[power.LineStatus]]
	statusObs  observers[power.Optional[power.BatteryFlags]]
	levelObs   observers[uint8]
	pending    []change
	delivering bool

	runMu  sync.Mutex
	runner *runner
}

// runner is one Start..Stop polling session.
type runner struct {
	stop    chan struct{}
	stopped chan struct{}
	// notifying is set while the ticker goroutine runs observers.
	notifying atomic.Bool
}

// change is the notification work produced by one cycle.
type change struct {
	snap      power.Snapshot
	lineFns   []func(power.Optional[power.LineStatus])
	statusFns []func(power.Optional[power.BatteryFlags])
	levelFns  []func(uint8)
}

func (c change) notify() {
	for _, fn := range c.lineFns {
		fn(c.snap.Line)
	}
	for _, fn := range c.statusFns {
		fn(c.snap.Battery)
	}
	for _, fn := range c.levelFns {
		fn(c.snap.Level)
	}
}

// New creates a monitor and performs the first acquisition synchronously, so
// accessors are valid as soon as New returns.
func New(src power.Source, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		src:  src,
		log:  logger,
		snap: power.UnknownSnapshot(),
	}
	m.Refresh()
	return m
}

// Source returns the source the monitor queries.
func (m *Monitor) Source() power.Source {
	return m.src
}

// Start begins polling at the given interval. It returns false without
// changing anything if polling is already running or interval is not positive.
func (m *Monitor) Start(interval time.Duration) bool {
	if interval <= 0 {
		return false
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.runner != nil {
		return false
	}

	r := &runner{stop: make(chan struct{}), stopped: make(chan struct{})}
	m.runner = r
	go m.run(interval, r)

	m.log.Info("polling started", "source", m.src.Name(), "interval", interval)
	return true
}

// Stop halts polling. It waits for an in-flight acquisition to finish, so no
// query starts after Stop returns. Called from an observer during a tick's
// notification pass, it returns at once and the ticker exits after the pass.
// Stop is safe to call when polling was never started or has already stopped.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	r := m.runner
	m.runner = nil
	m.runMu.Unlock()

	if r == nil {
		return
	}
	close(r.stop)
	if !r.notifying.Load() {
		<-r.stopped
	}
	m.log.Info("polling stopped")
}

// Running reports whether polling is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.runner != nil
}

func (m *Monitor) run(interval time.Duration, r *runner) {
	defer close(r.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			select {
			case <-r.stop:
				return
			default:
			}
			if !m.collect() {
				continue
			}
			r.notifying.Store(true)
			m.deliver()
			r.notifying.Store(false)
		}
	}
}

// Refresh runs one acquisition-and-diff cycle: query the source, store the
// fields that changed and notify their observers in the order line status,
// battery status, battery level.
//
// If another notification pass is under way (on another goroutine, or because
// Refresh was called from an observer), this cycle's notifications are queued
// behind it and Refresh returns without waiting for them.
func (m *Monitor) Refresh() {
	if m.collect() {
		m.deliver()
	}
}

// collect queries the source, stores the new snapshot and queues the
// notifications it causes. It reports whether the caller must deliver them.
func (m *Monitor) collect() bool {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	next := m.acquire()

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.snap
	m.snap = next

	c := change{snap: next}
	if next.Line != prev.Line {
		m.log.Debug("line status changed", "from", power.LineString(prev.Line), "to", power.LineString(next.Line))
		c.lineFns = m.lineObs.list()
	}
	if next.Battery != prev.Battery {
		m.log.Debug("battery status changed", "from", power.BatteryString(prev.Battery), "to", power.BatteryString(next.Battery))
		c.statusFns = m.statusObs.list()
	}
	if next.Level != prev.Level {
		m.log.Debug("battery level changed", "from", prev.Level, "to", next.Level)
		c.levelFns = m.levelObs.list()
	}
	if len(c.lineFns)+len(c.statusFns)+len(c.levelFns) == 0 {
		return false
	}

	m.pending = append(m.pending, c)
	if m.delivering {
		return false
	}
	m.delivering = true
	return true
}

// deliver drains the queue. Only the goroutine that set m.delivering calls it.
func (m *Monitor) deliver() {
	drained := false
	defer func() {
		// An observer panicked; leave the rest queued for the next cycle.
		if !drained {
			m.mu.Lock()
			m.delivering = false
			m.mu.Unlock()
		}
	}()

	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.delivering = false
			drained = true
			m.mu.Unlock()
			return
		}
		c := m.pending[0]
		m.pending[0] = change{}
		m.pending = m.pending[1:]
		m.mu.Unlock()

		c.notify()
	}
}

func (m *Monitor) acquire() power.Snapshot {
	rec, err := m.query()
	if err != nil {
		m.log.Debug("query failed", "source", m.src.Name(), "err", err)
		return power.UnknownSnapshot()
	}
	return power.SnapshotFromRecord(rec)
}

// query calls the source, converting a panic into an error so a misbehaving
// source cannot kill the ticker goroutine.
func (m *Monitor) query() (rec power.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: source panic: %v", power.ErrUnavailable, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return m.src.Query(ctx)
}

// Snapshot returns the last stored power state.
func (m *Monitor) Snapshot() power.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// LineStatus returns the last stored AC line status.
func (m *Monitor) LineStatus() power.Optional[power.LineStatus] {
	return m.Snapshot().Line
}

// BatteryStatus returns the last stored battery flags.
func (m *Monitor) BatteryStatus() power.Optional[power.BatteryFlags] {
	return m.Snapshot().Battery
}

// BatteryLevel returns the last stored battery percentage. It is
// power.PercentUnknown when the source answered but could not read the charge,
// and 0 after a failed query.
func (m *Monitor) BatteryLevel() uint8 {
	return m.Snapshot().Level
}
