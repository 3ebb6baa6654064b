package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

const probeTimeout = 2 * time.Second

var (
	_ power.Source = (*SysfsSource)(nil)
	_ power.Source = (*UPowerSource)(nil)
	_ power.Source = (*BatterySource)(nil)
	_ power.Source = (*Kernel32Source)(nil)
)

// ErrUnknownSource is returned by ByName for unrecognized names.
var ErrUnknownSource = errors.New("unknown power source")

// ByName builds the named source. "auto" is equivalent to Detect.
func ByName(ctx context.Context, name string, logger *slog.Logger) (power.Source, error) {
	switch name {
	case "", "auto":
		return Detect(logger), nil
	case "sysfs":
		return NewSysfsSource(), nil
	case "upower":
		src, err := NewUPowerSource(ctx)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "battery":
		return NewBatterySource(), nil
	case "kernel32":
		src, err := NewKernel32Source()
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownSource, name)
	}
}

// Detect picks the best source for this platform: GetSystemPowerStatus on
// Windows, UPower when it answers on the system bus, sysfs when
// /sys/class/power_supply has entries, and distatus/battery otherwise.
func Detect(logger *slog.Logger) power.Source {
	if logger == nil {
		logger = slog.Default()
	}

	if runtime.GOOS == "windows" {
		src, err := NewKernel32Source()
		if err == nil {
			return src
		}
		logger.Debug("kernel32 source unavailable", "err", err)
	}

	if runtime.GOOS == "linux" {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		up, err := NewUPowerSource(ctx)
		if err == nil {
			logger.Debug("using upower source")
			return up
		}
		logger.Debug("upower source unavailable", "err", err)

		sysfs := NewSysfsSource()
		if _, err := sysfs.Query(ctx); err == nil {
			logger.Debug("using sysfs source")
			return sysfs
		}
		logger.Debug("sysfs source has no power supplies")
	}

	logger.Debug("using battery source")
	return NewBatterySource()
}
