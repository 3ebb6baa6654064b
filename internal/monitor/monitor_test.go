package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

type result struct {
	rec power.Record
	err error
}

// fakeSource returns scripted results in order, repeating the last one once
// the script runs out.
type fakeSource struct {
	mu      sync.Mutex
	results []result
	calls   int
	queried chan struct{}
}

func newFakeSource(results ...result) *fakeSource {
	return &fakeSource{results: results, queried: make(chan struct{}, 64)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Query(ctx context.Context) (power.Record, error) {
	f.mu.Lock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	f.mu.Unlock()

	select {
	case f.queried <- struct{}{}:
	default:
	}
	return r.rec, r.err
}

func (f *fakeSource) push(r result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(line power.LineStatus, flags power.BatteryFlags, pct uint8) result {
	return result{rec: power.Record{Line: line, Flags: flags, Percent: pct, LifeTime: -1, FullLifeTime: -1}}
}

func failed() result {
	return result{err: fmt.Errorf("test: %w", power.ErrUnavailable)}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder captures notifications from all three fields in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func attach(m *Monitor) *recorder {
	r := &recorder{}
	m.OnLineStatusChanged(func(v power.Optional[power.LineStatus]) {
		r.add("line=" + power.LineString(v))
	})
	m.OnBatteryStatusChanged(func(v power.Optional[power.BatteryFlags]) {
		r.add("battery=" + power.BatteryString(v))
	})
	m.OnBatteryLevelChanged(func(v uint8) {
		r.add(fmt.Sprintf("level=%d", v))
	})
	return r
}

func assertEvents(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestNew_InitialAcquisition(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	m := New(src, testLogger())

	if src.callCount() != 1 {
		t.Fatalf("query calls = %d, want 1", src.callCount())
	}
	if v, present := m.LineStatus().Get(); !present || v != power.LineOnline {
		t.Fatalf("LineStatus() = %s, want online", power.LineString(m.LineStatus()))
	}
	if v, present := m.BatteryStatus().Get(); !present || v != power.BatteryHigh {
		t.Fatalf("BatteryStatus() = %s, want high", power.BatteryString(m.BatteryStatus()))
	}
	if m.BatteryLevel() != 90 {
		t.Fatalf("BatteryLevel() = %d, want 90", m.BatteryLevel())
	}
	if m.Running() {
		t.Fatal("Running() = true before Start")
	}
}

func TestNew_InitialQueryFails(t *testing.T) {
	src := newFakeSource(failed())
	m := New(src, testLogger())

	if m.LineStatus().Present() {
		t.Fatal("LineStatus() present, want absent")
	}
	if m.BatteryStatus().Present() {
		t.Fatal("BatteryStatus() present, want absent")
	}
	if m.BatteryLevel() != 0 {
		t.Fatalf("BatteryLevel() = %d, want 0", m.BatteryLevel())
	}
}

func TestAccessors_DoNotQuery(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	m := New(src, testLogger())

	_ = m.LineStatus()
	_ = m.BatteryStatus()
	_ = m.BatteryLevel()
	_ = m.Snapshot()

	if src.callCount() != 1 {
		t.Fatalf("query calls = %d, want 1", src.callCount())
	}
}

func TestRefresh_OnlyLevelChanged(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90), ok(power.LineOnline, power.BatteryHigh, 89))
	m := New(src, testLogger())
	rec := attach(m)

	m.Refresh()

	assertEvents(t, rec.list(), "level=89")
}

func TestRefresh_QueryFailureFiresAllInOrder(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryCharging|power.BatteryHigh, 100), failed())
	m := New(src, testLogger())
	rec := attach(m)

	m.Refresh()

	assertEvents(t, rec.list(), "line=absent", "battery=absent", "level=0")
}

func TestRefresh_RepeatedUnknownNotifiesOnce(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 80), failed())
	m := New(src, testLogger())
	rec := attach(m)

	m.Refresh()
	m.Refresh()
	m.Refresh()

	assertEvents(t, rec.list(), "line=absent", "battery=absent", "level=0")
}

func TestRefresh_FlagSetChange(t *testing.T) {
	src := newFakeSource(ok(power.LineOffline, power.BatteryHigh, 80), ok(power.LineOffline, power.BatteryHigh|power.BatteryCharging, 80))
	m := New(src, testLogger())

	var got []power.BatteryFlags
	m.OnBatteryStatusChanged(func(v power.Optional[power.BatteryFlags]) {
		flags, _ := v.Get()
		got = append(got, flags)
	})

	m.Refresh()

	if len(got) != 1 || got[0] != power.BatteryHigh|power.BatteryCharging {
		t.Fatalf("battery notifications = %v, want [high|charging]", got)
	}
}

func TestRefresh_IdenticalReadingsAreSilent(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	m := New(src, testLogger())
	rec := attach(m)

	for i := 0; i < 5; i++ {
		m.Refresh()
	}

	assertEvents(t, rec.list())
}

func TestRefresh_NotifiesIffChanged(t *testing.T) {
	script := []result{
		ok(power.LineOnline, power.BatteryHigh, 90),
		ok(power.LineOnline, power.BatteryHigh, 90),
		ok(power.LineOffline, power.BatteryHigh, 90),
		ok(power.LineOffline, power.BatteryHigh, 70),
		failed(),
		failed(),
		ok(power.LineUnknown, power.BatteryNotPresent, power.PercentUnknown),
		ok(power.LineUnknown, power.BatteryNotPresent|power.BatteryLow, 0),
		ok(power.LineOnline, power.BatteryLow|power.BatteryCharging, 20),
	}
	src := newFakeSource(script...)
	m := New(src, testLogger())
	rec := attach(m)

	for range script[1:] {
		m.Refresh()
	}

	assertEvents(t, rec.list(),
		"line=offline",
		"level=70",
		"line=absent", "battery=absent", "level=0",
		"line=unknown", "battery=not-present", "level=255",
		"level=0",
		"line=online", "battery=low|charging", "level=20",
	)
}

func TestObservers_RegistrationOrder(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90), ok(power.LineOnline, power.BatteryHigh, 50))
	m := New(src, testLogger())

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		m.OnBatteryLevelChanged(func(v uint8) {
			order = append(order, fmt.Sprintf("%s:%d", name, v))
		})
	}

	m.Refresh()

	assertEvents(t, order, "a:50", "b:50", "c:50")
}

func TestObservers_Unsubscribe(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90), ok(power.LineOnline, power.BatteryHigh, 80), ok(power.LineOnline, power.BatteryHigh, 70))
	m := New(src, testLogger())

	var a, b []uint8
	subA := m.OnBatteryLevelChanged(func(v uint8) { a = append(a, v) })
	m.OnBatteryLevelChanged(func(v uint8) { b = append(b, v) })

	m.Refresh()
	subA.Unsubscribe()
	subA.Unsubscribe()
	m.Refresh()

	if len(a) != 1 || a[0] != 80 {
		t.Fatalf("a = %v, want [80]", a)
	}
	if len(b) != 2 || b[0] != 80 || b[1] != 70 {
		t.Fatalf("b = %v, want [80 70]", b)
	}
}

func TestObservers_UnsubscribeFromCallback(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90), ok(power.LineOnline, power.BatteryHigh, 80), ok(power.LineOnline, power.BatteryHigh, 70))
	m := New(src, testLogger())

	var calls int
	var sub *Subscription
	sub = m.OnBatteryLevelChanged(func(v uint8) {
		calls++
		if m.BatteryLevel() != v {
			t.Errorf("BatteryLevel() = %d inside callback, want %d", m.BatteryLevel(), v)
		}
		sub.Unsubscribe()
	})

	m.Refresh()
	m.Refresh()

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRefresh_SourcePanicTreatedAsFailure(t *testing.T) {
	m := New(panicSource{}, testLogger())
	if m.LineStatus().Present() || m.BatteryLevel() != 0 {
		t.Fatalf("Snapshot() = %+v, want unknown", m.Snapshot())
	}
}

type panicSource struct{}

func (panicSource) Name() string { return "panic" }

func (panicSource) Query(context.Context) (power.Record, error) {
	panic("boom")
}

func TestStart_Idempotent(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	m := New(src, testLogger())
	t.Cleanup(m.Stop)

	if !m.Start(time.Hour) {
		t.Fatal("first Start() = false, want true")
	}
	if m.Start(time.Millisecond) {
		t.Fatal("second Start() = true, want false")
	}
	if !m.Running() {
		t.Fatal("Running() = false after Start")
	}

	// The running ticker keeps the hour interval: no tick happens.
	time.Sleep(20 * time.Millisecond)
	if src.callCount() != 1 {
		t.Fatalf("query calls = %d, want 1", src.callCount())
	}
}

func TestStart_RejectsNonPositiveInterval(t *testing.T) {
	m := New(newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90)), testLogger())
	if m.Start(0) {
		t.Fatal("Start(0) = true, want false")
	}
	if m.Start(-time.Second) {
		t.Fatal("Start(-1s) = true, want false")
	}
	if m.Running() {
		t.Fatal("Running() = true, want false")
	}
}

func TestStart_TicksDriveNotifications(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	m := New(src, testLogger())
	t.Cleanup(m.Stop)

	levels := make(chan uint8, 8)
	m.OnBatteryLevelChanged(func(v uint8) { levels <- v })

	src.push(ok(power.LineOnline, power.BatteryHigh, 88))
	m.Start(5 * time.Millisecond)

	select {
	case v := <-levels:
		if v != 88 {
			t.Fatalf("level = %d, want 88", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick notification")
	}
}

func TestStart_FailuresKeepTicking(t *testing.T) {
	src := newFakeSource(failed())
	m := New(src, testLogger())
	t.Cleanup(m.Stop)

	m.Start(2 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for src.callCount() < 4 {
		select {
		case <-src.queried:
		case <-deadline:
			t.Fatalf("query calls = %d, want >= 4", src.callCount())
		}
	}
}

func TestStop_SafeAndRestartable(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	m := New(src, testLogger())

	m.Stop()

	if !m.Start(time.Millisecond) {
		t.Fatal("Start() = false, want true")
	}
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Fatal("Running() = true after Stop")
	}

	calls := src.callCount()
	time.Sleep(20 * time.Millisecond)
	if src.callCount() != calls {
		t.Fatalf("query calls grew from %d to %d after Stop", calls, src.callCount())
	}

	if !m.Start(time.Hour) {
		t.Fatal("Start() after Stop = false, want true")
	}
	m.Stop()
}

func TestRefresh_CyclesDoNotOverlap(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	m := New(src, testLogger())

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	m.OnBatteryLevelChanged(func(uint8) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		src.push(ok(power.LineOnline, power.BatteryHigh, uint8(i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Refresh()
		}()
	}
	wg.Wait()

	if maxInFlight > 1 {
		t.Fatalf("max concurrent notification passes = %d, want 1", maxInFlight)
	}
}

func TestStop_FromObserverDuringTick(t *testing.T) {
	src := newFakeSource(ok(power.LineOffline, power.BatteryLow, 10), ok(power.LineOffline, power.BatteryLow|power.BatteryCritical, 4))
	m := New(src, testLogger())
	t.Cleanup(m.Stop)

	returned := make(chan struct{})
	m.OnBatteryLevelChanged(func(v uint8) {
		if v < 5 {
			m.Stop()
			close(returned)
		}
	})
	m.Start(5 * time.Millisecond)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() called from observer did not return")
	}
	if m.Running() {
		t.Fatal("Running() = true after Stop from observer")
	}

	// The ticker goroutine exits once its notification pass ends.
	time.Sleep(20 * time.Millisecond)
	calls := src.callCount()
	time.Sleep(20 * time.Millisecond)
	if src.callCount() != calls {
		t.Fatalf("query calls grew from %d to %d after Stop", calls, src.callCount())
	}
	if !m.Start(time.Hour) {
		t.Fatal("Start() after Stop from observer = false, want true")
	}
}

func TestRefresh_FromObserverQueuesBehindCurrentPass(t *testing.T) {
	src := newFakeSource(
		ok(power.LineOnline, power.BatteryHigh, 90),
		ok(power.LineOnline, power.BatteryHigh, 80),
		ok(power.LineOffline, power.BatteryHigh, 70),
	)
	m := New(src, testLogger())
	rec := attach(m)

	var nested bool
	m.OnBatteryLevelChanged(func(v uint8) {
		if v == 80 && !nested {
			nested = true
			m.Refresh()
			// The nested cycle is stored but its observers have not run yet.
			if m.BatteryLevel() != 70 {
				t.Errorf("BatteryLevel() = %d after nested Refresh, want 70", m.BatteryLevel())
			}
		}
	})

	done := make(chan struct{})
	go func() {
		m.Refresh()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Refresh() called from observer did not return")
	}

	assertEvents(t, rec.list(),
		"level=80",
		"line=offline", "level=70",
	)
}

func TestRefresh_ObserverPanicDoesNotWedgeDelivery(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90), ok(power.LineOnline, power.BatteryHigh, 80), ok(power.LineOnline, power.BatteryHigh, 70))
	m := New(src, testLogger())

	var levels []uint8
	m.OnBatteryLevelChanged(func(v uint8) {
		levels = append(levels, v)
		if v == 80 {
			panic("observer failure")
		}
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("Refresh() did not propagate observer panic")
			}
		}()
		m.Refresh()
	}()
	m.Refresh()

	if len(levels) != 2 || levels[0] != 80 || levels[1] != 70 {
		t.Fatalf("levels = %v, want [80 70]", levels)
	}
}

func setTestDefaultSource(t *testing.T, src power.Source) *int32 {
	t.Helper()
	var builds int32
	origSource := defaultSource
	defaultSource = func(*slog.Logger) power.Source {
		atomic.AddInt32(&builds, 1)
		return src
	}
	defaultOnce, defaultMonitor = sync.Once{}, nil
	t.Cleanup(func() {
		defaultSource = origSource
		defaultOnce, defaultMonitor = sync.Once{}, nil
	})
	return &builds
}

func TestDefault_SingleInstance(t *testing.T) {
	src := newFakeSource(ok(power.LineOnline, power.BatteryHigh, 90))
	builds := setTestDefaultSource(t, src)

	const n = 16
	got := make([]*Monitor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = Default()
		}(i)
	}
	wg.Wait()

	for i, m := range got {
		if m == nil || m != got[0] {
			t.Fatalf("Default() call %d = %p, want %p", i, m, got[0])
		}
	}
	if b := atomic.LoadInt32(builds); b != 1 {
		t.Fatalf("default source built %d times, want 1", b)
	}
	if src.callCount() != 1 {
		t.Fatalf("query calls = %d, want 1 (initial acquisition only)", src.callCount())
	}
	if got[0].BatteryLevel() != 90 || got[0].Source() != src {
		t.Fatalf("Default() snapshot = %+v, want level 90 from the injected source", got[0].Snapshot())
	}
	if Default() != got[0] {
		t.Fatal("later Default() returned a different monitor")
	}
}
