package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	dbussvc "github.com/cptspacemanspiff/power-state/internal/dbus"
	"github.com/cptspacemanspiff/power-state/internal/monitor"
)

var (
	statusDaemon bool
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current power state",
	Long: `Print the AC line status, battery status and battery level once.

By default the state is queried locally. With --daemon the stored state of
the running power-monitor-daemon is read over the session bus instead.`,
	Example: `  power-status status
  power-status status --json
  power-status status --daemon`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusDaemon, "daemon", false, "read the state from the running daemon")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the state as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var (
		st  dbussvc.State
		err error
	)
	if statusDaemon {
		st, err = daemonState(ctx)
	} else {
		st, err = localState(ctx)
	}
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), st, statusJSON)
}

func daemonState(ctx context.Context) (dbussvc.State, error) {
	client, err := dbussvc.NewClient()
	if err != nil {
		return dbussvc.State{}, err
	}
	st, err := client.GetState(ctx)
	if err != nil {
		return dbussvc.State{}, fmt.Errorf("daemon not reachable: %w", err)
	}
	return *st, nil
}

func localState(ctx context.Context) (dbussvc.State, error) {
	cfg, err := loadConfig()
	if err != nil {
		return dbussvc.State{}, err
	}
	mon, err := openMonitor(ctx, cfg, newLogger())
	if err != nil {
		return dbussvc.State{}, err
	}
	return stateOf(mon), nil
}

func printState(w io.Writer, st dbussvc.State, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	_, err := io.WriteString(w, renderState(st))
	return err
}

func stateOf(mon *monitor.Monitor) dbussvc.State {
	return dbussvc.StateFromSnapshot(mon.Source().Name(), mon.Snapshot())
}
