package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/power-state/internal/power"
)

const (
	upowerDest        = "org.freedesktop.UPower"
	upowerPath        = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerDisplayPath = dbus.ObjectPath("/org/freedesktop/UPower/devices/DisplayDevice")
	upowerIface       = "org.freedesktop.UPower"
	upowerDeviceIface = "org.freedesktop.UPower.Device"
)

// UPower device states and warning levels, from the UPower D-Bus API.
const (
	upStateCharging      = 1
	upStatePendingCharge = 5
	upWarningLow         = 3
	upWarningCritical    = 4
	upWarningAction      = 5
	upDeviceTypeUnknown  = 0
	upDeviceTypeBattery  = 2
)

const propertiesGetMethod = "org.freedesktop.DBus.Properties.Get"

// propertyReader reads one D-Bus property.
type propertyReader interface {
	Get(ctx context.Context, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error)
}

type busPropertyReader struct {
	conn *dbus.Conn
}

func (r busPropertyReader) Get(ctx context.Context, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := r.conn.Object(upowerDest, path).CallWithContext(ctx, propertiesGetMethod, 0, iface, prop).Store(&v)
	return v, err
}

// UPowerSource reads the UPower composite display device over the system bus.
type UPowerSource struct {
	props propertyReader
}

// NewUPowerSource connects to the system bus and checks that UPower answers.
func NewUPowerSource(ctx context.Context) (*UPowerSource, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	s := &UPowerSource{props: busPropertyReader{conn: conn}}
	if _, err := s.props.Get(ctx, upowerPath, upowerIface, "DaemonVersion"); err != nil {
		return nil, fmt.Errorf("upower not reachable: %w", err)
	}
	return s, nil
}

func (s *UPowerSource) Name() string { return "upower" }

func (s *UPowerSource) Query(ctx context.Context) (power.Record, error) {
	rec := power.Record{
		Line:         power.LineUnknown,
		Percent:      power.PercentUnknown,
		LifeTime:     -1,
		FullLifeTime: -1,
	}

	if onBattery, err := s.boolProp(ctx, upowerPath, upowerIface, "OnBattery"); err == nil {
		if onBattery {
			rec.Line = power.LineOffline
		} else {
			rec.Line = power.LineOnline
		}
	}

	devType, err := s.uintProp(ctx, upowerDisplayPath, "Type")
	if err != nil {
		return power.Record{}, fmt.Errorf("%w: read display device: %v", power.ErrUnavailable, err)
	}
	present, err := s.boolProp(ctx, upowerDisplayPath, upowerDeviceIface, "IsPresent")
	if err != nil {
		return power.Record{}, fmt.Errorf("%w: read display device: %v", power.ErrUnavailable, err)
	}
	if !present || (devType != upDeviceTypeBattery && devType != upDeviceTypeUnknown) {
		rec.Flags = power.BatteryNotPresent
		return rec, nil
	}

	pctVar, err := s.props.Get(ctx, upowerDisplayPath, upowerDeviceIface, "Percentage")
	if err != nil {
		return power.Record{}, fmt.Errorf("%w: read percentage: %v", power.ErrUnavailable, err)
	}
	pct, ok := pctVar.Value().(float64)
	if !ok {
		return power.Record{}, fmt.Errorf("%w: percentage has type %s", power.ErrUnavailable, pctVar.Signature())
	}
	rec.Percent = clampPercent(pct)
	rec.Flags = power.FlagsForPercent(rec.Percent)

	if level, err := s.uintProp(ctx, upowerDisplayPath, "WarningLevel"); err == nil {
		switch level {
		case upWarningLow:
			rec.Flags |= power.BatteryLow
		case upWarningCritical, upWarningAction:
			rec.Flags |= power.BatteryCritical
		}
	}

	state, err := s.uintProp(ctx, upowerDisplayPath, "State")
	if err == nil && (state == upStateCharging || state == upStatePendingCharge) {
		rec.Flags |= power.BatteryCharging
	}

	if tte, err := s.intProp(ctx, upowerDisplayPath, "TimeToEmpty"); err == nil && tte > 0 {
		rec.LifeTime = time.Duration(tte) * time.Second
		if pct > 0 {
			rec.FullLifeTime = time.Duration(float64(rec.LifeTime) * 100 / pct)
		}
	}
	return rec, nil
}

func (s *UPowerSource) boolProp(ctx context.Context, path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := s.props.Get(ctx, path, iface, prop)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%s has type %s, want b", prop, v.Signature())
	}
	return b, nil
}

func (s *UPowerSource) uintProp(ctx context.Context, path dbus.ObjectPath, prop string) (uint32, error) {
	v, err := s.props.Get(ctx, path, upowerDeviceIface, prop)
	if err != nil {
		return 0, err
	}
	u, ok := v.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("%s has type %s, want u", prop, v.Signature())
	}
	return u, nil
}

func (s *UPowerSource) intProp(ctx context.Context, path dbus.ObjectPath, prop string) (int64, error) {
	v, err := s.props.Get(ctx, path, upowerDeviceIface, prop)
	if err != nil {
		return 0, err
	}
	i, ok := v.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("%s has type %s, want x", prop, v.Signature())
	}
	return i, nil
}
