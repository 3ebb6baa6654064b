package monitor

import (
	"sync"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

type observer[T any] struct {
	id uint64
	fn func(T)
}

// observers is an ordered callback list. Callers hold Monitor.mu.
type observers[T any] struct {
	next  uint64
	items []observer[T]
}

func (o *observers[T]) add(fn func(T)) uint64 {
	o.next++
	o.items = append(o.items, observer[T]{id: o.next, fn: fn})
	return o.next
}

func (o *observers[T]) remove(id uint64) {
	for i, it := range o.items {
		if it.id == id {
			o.items = append(o.items[:i:i], o.items[i+1:]...)
			return
		}
	}
}

// list returns a copy of the callbacks in registration order.
func (o *observers[T]) list() []func(T) {
	if len(o.items) == 0 {
		return nil
	}
	fns := make([]func(T), len(o.items))
	for i, it := range o.items {
		fns[i] = it.fn
	}
	return fns
}

// Subscription is a registered observer.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the observer. Later calls do nothing. An observer may
// unsubscribe itself from inside its callback.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

func subscribe[T any](m *Monitor, list *observers[T], fn func(T)) *Subscription {
	m.mu.Lock()
	id := list.add(fn)
	m.mu.Unlock()

	return &Subscription{cancel: func() {
		m.mu.Lock()
		list.remove(id)
		m.mu.Unlock()
	}}
}

// OnLineStatusChanged registers fn to receive every new AC line status.
func (m *Monitor) OnLineStatusChanged(fn func(power.Optional[power.LineStatus])) *Subscription {
	return subscribe(m, &m.lineObs, fn)
}

// OnBatteryStatusChanged registers fn to receive every new battery flag set.
func (m *Monitor) OnBatteryStatusChanged(fn func(power.Optional[power.BatteryFlags])) *Subscription {
	return subscribe(m, &m.statusObs, fn)
}

// OnBatteryLevelChanged registers fn to receive every new battery percentage.
func (m *Monitor) OnBatteryLevelChanged(fn func(uint8)) *Subscription {
	return subscribe(m, &m.levelObs, fn)
}
