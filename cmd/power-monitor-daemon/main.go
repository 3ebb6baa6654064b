package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cptspacemanspiff/power-state/internal/collector"
	"github.com/cptspacemanspiff/power-state/internal/config"
	dbussvc "github.com/cptspacemanspiff/power-state/internal/dbus"
	"github.com/cptspacemanspiff/power-state/internal/monitor"
	"github.com/cptspacemanspiff/power-state/internal/power"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the TOML config file")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: monitor,source,dbus,sleep (or 'all')")
	flag.Parse()

	topics := make(map[string]bool)
	if *verbose {
		topics["all"] = true
	}
	if *logFlag != "" {
		for _, t := range strings.Split(*logFlag, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}

	logger := newLogger(os.Stderr, topics)
	slog.SetDefault(logger)

	monitorLog := logger.With("topic", "monitor")
	sourceLog := logger.With("topic", "source")
	dbusLog := logger.With("topic", "dbus")
	sleepLog := logger.With("topic", "sleep")

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	src, err := collector.ByName(ctx, cfg.Monitor.Source, sourceLog)
	cancel()
	if err != nil {
		logger.Error("open power source", "source", cfg.Monitor.Source, "err", err)
		os.Exit(1)
	}

	mon := monitor.New(src, monitorLog)
	logChanges(mon, monitorLog)
	snap := mon.Snapshot()
	logger.Info("initial power state",
		"source", src.Name(),
		"line_status", power.LineString(snap.Line),
		"battery_status", power.BatteryString(snap.Battery),
		"battery_level", snap.Level)

	if cfg.DBus.Export {
		svc := dbussvc.NewService(mon, dbusLog)
		conn, err := svc.Export()
		if err != nil {
			logger.Warn("export dbus service", "err", err)
		} else {
			defer conn.Close()
			defer svc.Unpublish()
			logger.Info("D-Bus service registered", "name", dbussvc.BusName)
		}
	}

	// Resume from suspend triggers an immediate re-query.
	var wakeCh <-chan struct{}
	if cfg.DBus.RefreshOnWake {
		sleepMon, err := collector.NewSleepMonitor(sleepLog)
		if err != nil {
			logger.Warn("sleep monitor unavailable", "err", err)
		} else {
			wakeCh = sleepMon.Wake()
			defer sleepMon.Close()
		}
	}

	interval := time.Duration(cfg.Monitor.IntervalMS) * time.Millisecond
	mon.Start(interval)
	defer mon.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("power-monitor-daemon started", "interval", interval)
	for {
		select {
		case <-wakeCh:
			logger.Info("wake signal received, refreshing power state")
			mon.Refresh()
		case <-sigCh:
			logger.Info("shutting down")
			return
		}
	}
}

func logChanges(mon *monitor.Monitor, logger *slog.Logger) {
	mon.OnLineStatusChanged(func(v power.Optional[power.LineStatus]) {
		logger.Info("line status changed", "line_status", power.LineString(v))
	})
	mon.OnBatteryStatusChanged(func(v power.Optional[power.BatteryFlags]) {
		logger.Info("battery status changed", "battery_status", power.BatteryString(v))
	})
	mon.OnBatteryLevelChanged(func(v uint8) {
		logger.Info("battery level changed", "battery_level", v)
	})
}
