package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

// sysfsRoot is overridden in tests.
var sysfsRoot = "/sys"

// SysfsSource reads power state from /sys/class/power_supply.
type SysfsSource struct{}

// NewSysfsSource creates a sysfs-backed source.
func NewSysfsSource() *SysfsSource {
	return &SysfsSource{}
}

func (s *SysfsSource) Name() string { return "sysfs" }

// Query reads every power supply and folds them into one record. Mains and USB
// supplies give the line status; the first system-scope battery gives the
// charge and flags.
func (s *SysfsSource) Query(ctx context.Context) (power.Record, error) {
	if err := ctx.Err(); err != nil {
		return power.Record{}, fmt.Errorf("%w: %v", power.ErrUnavailable, err)
	}

	dir := filepath.Join(sysfsRoot, "class/power_supply")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return power.Record{}, fmt.Errorf("%w: read power_supply: %v", power.ErrUnavailable, err)
	}

	var (
		sawAC, acOnline bool
		battery         map[string]string
	)
	for _, e := range entries {
		props := readSupply(filepath.Join(dir, e.Name()))
		switch props["POWER_SUPPLY_TYPE"] {
		case "Mains", "USB", "USB_C", "USB_PD", "USB_PD_DRP":
			sawAC = true
			if props["POWER_SUPPLY_ONLINE"] == "1" {
				acOnline = true
			}
		case "Battery":
			if battery == nil && props["POWER_SUPPLY_SCOPE"] != "Device" {
				battery = props
			}
		}
	}
	if !sawAC && battery == nil {
		return power.Record{}, fmt.Errorf("%w: no power supply found", power.ErrUnavailable)
	}

	rec := power.Record{
		Line:         power.LineUnknown,
		Percent:      power.PercentUnknown,
		LifeTime:     -1,
		FullLifeTime: -1,
	}
	switch {
	case acOnline:
		rec.Line = power.LineOnline
	case sawAC:
		rec.Line = power.LineOffline
	}

	if battery == nil || battery["POWER_SUPPLY_PRESENT"] == "0" {
		rec.Flags = power.BatteryNotPresent
		return rec, nil
	}

	status := battery["POWER_SUPPLY_STATUS"]
	if rec.Line == power.LineUnknown {
		switch status {
		case "Charging", "Full":
			rec.Line = power.LineOnline
		case "Discharging":
			rec.Line = power.LineOffline
		}
	}

	if pct, ok := batteryPercent(battery); ok {
		rec.Percent = pct
		rec.Flags = power.FlagsForPercent(pct)
	}
	if battery["POWER_SUPPLY_CAPACITY_LEVEL"] == "Critical" {
		rec.Flags |= power.BatteryCritical
	}
	if status == "Charging" {
		rec.Flags |= power.BatteryCharging
	}

	if status == "Discharging" {
		rec.LifeTime, rec.FullLifeTime = batteryLifeTimes(battery)
	}
	return rec, nil
}

// readSupply returns the uevent properties of one power supply, filling in
// type and online from their attribute files when the uevent lacks them.
func readSupply(dir string) map[string]string {
	props := map[string]string{}
	if data, err := os.ReadFile(filepath.Join(dir, "uevent")); err == nil {
		props = parseUevent(string(data))
	}
	for key, file := range map[string]string{
		"POWER_SUPPLY_TYPE":     "type",
		"POWER_SUPPLY_ONLINE":   "online",
		"POWER_SUPPLY_CAPACITY": "capacity",
		"POWER_SUPPLY_STATUS":   "status",
	} {
		if props[key] != "" {
			continue
		}
		if v, err := readTrimmed(filepath.Join(dir, file)); err == nil {
			props[key] = v
		}
	}
	return props
}

func batteryPercent(props map[string]string) (uint8, bool) {
	if v, err := strconv.ParseInt(props["POWER_SUPPLY_CAPACITY"], 10, 64); err == nil {
		return clampPercent(float64(v)), true
	}
	for _, pair := range [][2]string{
		{"POWER_SUPPLY_ENERGY_NOW", "POWER_SUPPLY_ENERGY_FULL"},
		{"POWER_SUPPLY_CHARGE_NOW", "POWER_SUPPLY_CHARGE_FULL"},
	} {
		now, err1 := strconv.ParseFloat(props[pair[0]], 64)
		full, err2 := strconv.ParseFloat(props[pair[1]], 64)
		if err1 == nil && err2 == nil && full > 0 {
			return clampPercent(now / full * 100), true
		}
	}
	return 0, false
}

// batteryLifeTimes estimates remaining and full-charge runtime from the
// present discharge rate. Either value is -1 when it cannot be computed.
func batteryLifeTimes(props map[string]string) (remaining, full time.Duration) {
	remaining, full = -1, -1

	pairs := [][3]string{
		{"POWER_SUPPLY_ENERGY_NOW", "POWER_SUPPLY_ENERGY_FULL", "POWER_SUPPLY_POWER_NOW"},
		{"POWER_SUPPLY_CHARGE_NOW", "POWER_SUPPLY_CHARGE_FULL", "POWER_SUPPLY_CURRENT_NOW"},
	}
	for _, p := range pairs {
		rate, err := strconv.ParseFloat(props[p[2]], 64)
		if err != nil || rate == 0 {
			continue
		}
		if rate < 0 {
			rate = -rate
		}
		if now, err := strconv.ParseFloat(props[p[0]], 64); err == nil {
			remaining = time.Duration(now / rate * float64(time.Hour))
		}
		if f, err := strconv.ParseFloat(props[p[1]], 64); err == nil {
			full = time.Duration(f / rate * float64(time.Hour))
		}
		return remaining, full
	}
	return remaining, full
}

func clampPercent(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return uint8(v + 0.5)
	}
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
