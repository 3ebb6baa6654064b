//go:build windows

package collector

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

var procGetSystemPowerStatus = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetSystemPowerStatus")

// systemPowerStatus mirrors SYSTEM_POWER_STATUS.
type systemPowerStatus struct {
	ACLineStatus        uint8
	BatteryFlag         uint8
	BatteryLifePercent  uint8
	SystemStatusFlag    uint8
	BatteryLifeTime     uint32
	BatteryFullLifeTime uint32
}

// Kernel32Source calls GetSystemPowerStatus.
type Kernel32Source struct{}

// NewKernel32Source returns the Windows source.
func NewKernel32Source() (*Kernel32Source, error) {
	if err := procGetSystemPowerStatus.Find(); err != nil {
		return nil, fmt.Errorf("find GetSystemPowerStatus: %w", err)
	}
	return &Kernel32Source{}, nil
}

func (s *Kernel32Source) Name() string { return "kernel32" }

func (s *Kernel32Source) Query(ctx context.Context) (power.Record, error) {
	if err := ctx.Err(); err != nil {
		return power.Record{}, fmt.Errorf("%w: %v", power.ErrUnavailable, err)
	}

	var st systemPowerStatus
	r1, _, callErr := procGetSystemPowerStatus.Call(uintptr(unsafe.Pointer(&st)))
	if r1 == 0 {
		return power.Record{}, fmt.Errorf("%w: GetSystemPowerStatus: %v", power.ErrUnavailable, callErr)
	}
	return recordFromSystemPowerStatus(st), nil
}

// A 0xFFFFFFFF life time means unknown.
const unknownLifeTime = ^uint32(0)

func recordFromSystemPowerStatus(st systemPowerStatus) power.Record {
	rec := power.Record{
		Line:         power.LineUnknown,
		Flags:        power.BatteryFlags(st.BatteryFlag),
		Percent:      st.BatteryLifePercent,
		LifeTime:     -1,
		FullLifeTime: -1,
	}
	switch st.ACLineStatus {
	case 0:
		rec.Line = power.LineOffline
	case 1:
		rec.Line = power.LineOnline
	}
	// 255 is "unable to read battery flag information", not a flag set.
	if st.BatteryFlag == 255 {
		rec.Flags = 0
	}
	if st.BatteryLifeTime != unknownLifeTime {
		rec.LifeTime = time.Duration(st.BatteryLifeTime) * time.Second
	}
	if st.BatteryFullLifeTime != unknownLifeTime {
		rec.FullLifeTime = time.Duration(st.BatteryFullLifeTime) * time.Second
	}
	return rec
}
