package monitor

import (
	"log/slog"
	"sync"

	"github.com/cptspacemanspiff/power-state/internal/collector"
	"github.com/cptspacemanspiff/power-state/internal/power"
)

var (
	defaultOnce    sync.Once
	defaultMonitor *Monitor

	// defaultSource picks the source for Default. Replaced in tests.
	defaultSource = func(logger *slog.Logger) power.Source {
		return collector.Detect(logger)
	}
)

// Default returns the process-wide monitor, creating it on first use with the
// auto-detected source. Concurrent first calls block until the single instance
// is built.
func Default() *Monitor {
	defaultOnce.Do(func() {
		logger := slog.Default().With("topic", "monitor")
		defaultMonitor = New(defaultSource(logger), logger)
	})
	return defaultMonitor
}
