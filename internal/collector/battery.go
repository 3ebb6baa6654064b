package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/distatus/battery"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

// getBatteries is replaced in tests.
var getBatteries = battery.GetAll

// BatterySource aggregates every battery reported by the platform through
// github.com/distatus/battery. It works on Linux, macOS, the BSDs and Windows
// but has no direct notion of AC line state, so the line status is inferred
// from the charge state.
type BatterySource struct{}

// NewBatterySource creates a distatus/battery backed source.
func NewBatterySource() *BatterySource {
	return &BatterySource{}
}

func (s *BatterySource) Name() string { return "battery" }

func (s *BatterySource) Query(ctx context.Context) (power.Record, error) {
	if err := ctx.Err(); err != nil {
		return power.Record{}, fmt.Errorf("%w: %v", power.ErrUnavailable, err)
	}

	all, err := getBatteries()
	var batteries []*battery.Battery
	for _, b := range all {
		if b != nil {
			batteries = append(batteries, b)
		}
	}
	if len(batteries) == 0 {
		if err != nil {
			return power.Record{}, fmt.Errorf("%w: get batteries: %v", power.ErrUnavailable, err)
		}
		return power.Record{
			Line:         power.LineUnknown,
			Flags:        power.BatteryNotPresent,
			Percent:      power.PercentUnknown,
			LifeTime:     -1,
			FullLifeTime: -1,
		}, nil
	}

	var current, full, rate float64
	var charging, discharging, onAC int
	for _, b := range batteries {
		current += b.Current
		full += b.Full
		switch b.State.Raw {
		case battery.Charging:
			charging++
			onAC++
		case battery.Full, battery.Idle:
			onAC++
		case battery.Discharging:
			discharging++
			rate += b.ChargeRate
		}
	}

	rec := power.Record{
		Line:         power.LineUnknown,
		Percent:      power.PercentUnknown,
		LifeTime:     -1,
		FullLifeTime: -1,
	}
	switch {
	case onAC > 0:
		rec.Line = power.LineOnline
	case discharging > 0:
		rec.Line = power.LineOffline
	}

	if full > 0 {
		rec.Percent = clampPercent(current / full * 100)
		rec.Flags = power.FlagsForPercent(rec.Percent)
	}
	if charging > 0 {
		rec.Flags |= power.BatteryCharging
	}
	if discharging > 0 && charging == 0 && rate > 0 {
		rec.LifeTime = time.Duration(current / rate * float64(time.Hour))
		rec.FullLifeTime = time.Duration(full / rate * float64(time.Hour))
	}
	return rec, nil
}
