package power

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable is returned by a Source when the power status cannot be read.
var ErrUnavailable = errors.New("power status unavailable")

// Source is the external power status query.
type Source interface {
	Name() string
	Query(ctx context.Context) (Record, error)
}

// LineStatus is the AC line state.
type LineStatus uint8

const (
	LineOffline LineStatus = 0
	LineOnline  LineStatus = 1
	LineUnknown LineStatus = 255
)

func (s LineStatus) String() string {
	switch s {
	case LineOffline:
		return "offline"
	case LineOnline:
		return "online"
	default:
		return "unknown"
	}
}

// BatteryFlags is a set of battery status flags. Flags combine freely except
// BatteryNotPresent, which overrides everything else.
type BatteryFlags uint8

const (
	BatteryHigh       BatteryFlags = 0x01 // >66%
	BatteryLow        BatteryFlags = 0x02 // <33%
	BatteryCritical   BatteryFlags = 0x04 // <5%
	BatteryCharging   BatteryFlags = 0x08
	BatteryNotPresent BatteryFlags = 0x80
)

const batteryKnownMask = BatteryHigh | BatteryLow | BatteryCritical | BatteryCharging | BatteryNotPresent

var flagNames = []struct {
	flag BatteryFlags
	name string
}{
	{BatteryHigh, "high"},
	{BatteryLow, "low"},
	{BatteryCritical, "critical"},
	{BatteryCharging, "charging"},
}

// Has reports whether every flag in f is set.
func (b BatteryFlags) Has(f BatteryFlags) bool {
	return b&f == f
}

// Normalize drops undefined bits and collapses any set containing
// BatteryNotPresent to exactly BatteryNotPresent.
func (b BatteryFlags) Normalize() BatteryFlags {
	if b.Has(BatteryNotPresent) {
		return BatteryNotPresent
	}
	return b & batteryKnownMask
}

func (b BatteryFlags) String() string {
	b = b.Normalize()
	if b == BatteryNotPresent {
		return "not-present"
	}
	var parts []string
	for _, fn := range flagNames {
		if b.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// PercentUnknown is the battery percentage reported when a source cannot tell.
const PercentUnknown uint8 = 255

// Record is the raw result of one power status query.
type Record struct {
	Line    LineStatus
	Flags   BatteryFlags
	Percent uint8

	// LifeTime and FullLifeTime are -1 when unknown.
	LifeTime     time.Duration
	FullLifeTime time.Duration
}

// FlagsForPercent derives the charge-level flags from a percentage using the
// same thresholds as GetSystemPowerStatus.
func FlagsForPercent(pct uint8) BatteryFlags {
	var f BatteryFlags
	switch {
	case pct > 100:
		return 0
	case pct > 66:
		f |= BatteryHigh
	case pct < 33:
		f |= BatteryLow
	}
	if pct < 5 {
		f |= BatteryCritical
	}
	return f
}
