package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/power-state/internal/monitor"
	"github.com/cptspacemanspiff/power-state/internal/power"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print power state changes as they happen",
	Long: `Poll the power source and print one line per changed field until
interrupted. The initial state is printed first.

The poll interval defaults to the config's monitor.interval_ms.`,
	Example: `  power-status watch
  power-status watch --interval 500ms --source sysfs`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	interval := watchInterval
	if interval == 0 {
		interval = time.Duration(cfg.Monitor.IntervalMS) * time.Millisecond
	}
	if interval < 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}

	mon, err := openMonitor(cmd.Context(), cfg, newLogger())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderState(stateOf(mon)))

	w := &changeWriter{w: out, now: time.Now}
	subs := w.subscribe(mon)
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	mon.Start(interval)
	defer mon.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}
	return nil
}

// changeWriter prints one timestamped line per observer notification.
type changeWriter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (c *changeWriter) subscribe(mon *monitor.Monitor) []*monitor.Subscription {
	return []*monitor.Subscription{
		mon.OnLineStatusChanged(func(v power.Optional[power.LineStatus]) {
			c.printf("line status", styleLine(power.LineString(v)))
		}),
		mon.OnBatteryStatusChanged(func(v power.Optional[power.BatteryFlags]) {
			c.printf("battery status", styleBattery(power.BatteryString(v)))
		}),
		mon.OnBatteryLevelChanged(func(v uint8) {
			c.printf("battery level", styleLevel(v))
		}),
	}
}

func (c *changeWriter) printf(field, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s  %s -> %s\n", dimStyle.Render(c.now().Format(time.TimeOnly)), field, value)
}
