package dbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/power-state/internal/monitor"
	"github.com/cptspacemanspiff/power-state/internal/power"
)

const (
	BusName   = "io.github.cptspacemanspiff.PowerState"
	ObjPath   = godbus.ObjectPath("/io/github/cptspacemanspiff/PowerState")
	IfaceName = "io.github.cptspacemanspiff.PowerState"
)

const introspectXML = `
<node>
  <interface name="` + IfaceName + `">
    <method name="GetState">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="Refresh">
      <arg direction="out" type="s" name="json"/>
    </method>
    <signal name="LineStatusChanged">
      <arg type="s" name="line_status"/>
    </signal>
    <signal name="BatteryStatusChanged">
      <arg type="s" name="battery_status"/>
    </signal>
    <signal name="BatteryLevelChanged">
      <arg type="y" name="battery_level"/>
    </signal>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// State is the JSON form of a power snapshot returned by GetState.
type State struct {
	Source        string `json:"source"`
	LineStatus    string `json:"line_status"`
	BatteryStatus string `json:"battery_status"`
	BatteryLevel  uint8  `json:"battery_level"`
}

// StateFromSnapshot renders a snapshot for the wire.
func StateFromSnapshot(source string, s power.Snapshot) State {
	return State{
		Source:        source,
		LineStatus:    power.LineString(s.Line),
		BatteryStatus: power.BatteryString(s.Battery),
		BatteryLevel:  s.Level,
	}
}

// signalEmitter is satisfied by *godbus.Conn.
type signalEmitter interface {
	Emit(path godbus.ObjectPath, name string, values ...interface{}) error
}

// Service exposes the power monitor over D-Bus.
type Service struct {
	mon *monitor.Monitor
	log *slog.Logger

	mu   sync.Mutex
	subs []*monitor.Subscription
}

// NewService creates a new D-Bus service.
func NewService(mon *monitor.Monitor, logger *slog.Logger) *Service {
	return &Service{mon: mon, log: logger}
}

// Export registers the service on the session bus and starts relaying
// monitor changes as signals.
func (s *Service) Export() (*godbus.Conn, error) {
	conn, err := godbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	if err := conn.Export(s, ObjPath, IfaceName); err != nil {
		return nil, fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", BusName)
	}

	s.publish(conn)
	return conn, nil
}

// publish subscribes to the monitor and emits one signal per field change.
func (s *Service) publish(e signalEmitter) {
	emit := func(member string, value interface{}) {
		if err := e.Emit(ObjPath, IfaceName+"."+member, value); err != nil {
			s.log.Warn("emit signal", "signal", member, "err", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs,
		s.mon.OnLineStatusChanged(func(v power.Optional[power.LineStatus]) {
			emit("LineStatusChanged", power.LineString(v))
		}),
		s.mon.OnBatteryStatusChanged(func(v power.Optional[power.BatteryFlags]) {
			emit("BatteryStatusChanged", power.BatteryString(v))
		}),
		s.mon.OnBatteryLevelChanged(func(v uint8) {
			emit("BatteryLevelChanged", v)
		}),
	)
}

// Unpublish stops relaying monitor changes.
func (s *Service) Unpublish() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// GetState returns the stored power snapshot as JSON.
func (s *Service) GetState() (string, *godbus.Error) {
	return s.stateJSON()
}

// Refresh queries the source immediately and returns the resulting snapshot.
func (s *Service) Refresh() (string, *godbus.Error) {
	s.mon.Refresh()
	return s.stateJSON()
}

func (s *Service) stateJSON() (string, *godbus.Error) {
	state := StateFromSnapshot(s.mon.Source().Name(), s.mon.Snapshot())
	data, err := json.Marshal(state)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}
