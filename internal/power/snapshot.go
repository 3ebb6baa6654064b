package power

// Optional holds a value that may be absent. Two Optionals compare equal with
// == when both are absent or both hold the same value.
type Optional[T comparable] struct {
	value T
	ok    bool
}

// Some returns a present Optional.
func Some[T comparable](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent Optional.
func None[T comparable]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present reports whether a value is held.
func (o Optional[T]) Present() bool {
	return o.ok
}

// Snapshot is the last observed power state.
type Snapshot struct {
	Line    Optional[LineStatus]
	Battery Optional[BatteryFlags]
	Level   uint8
}

// UnknownSnapshot is the state recorded when a query fails.
func UnknownSnapshot() Snapshot {
	return Snapshot{
		Line:    None[LineStatus](),
		Battery: None[BatteryFlags](),
		Level:   0,
	}
}

// SnapshotFromRecord converts a successful query result. A percentage the
// source could not read stays PercentUnknown; any other value above 100 is
// stored as PercentUnknown too.
func SnapshotFromRecord(r Record) Snapshot {
	level := r.Percent
	if level > 100 {
		level = PercentUnknown
	}
	return Snapshot{
		Line:    Some(r.Line),
		Battery: Some(r.Flags.Normalize()),
		Level:   level,
	}
}

// LineString renders an optional line status, "absent" when missing.
func LineString(o Optional[LineStatus]) string {
	if v, ok := o.Get(); ok {
		return v.String()
	}
	return "absent"
}

// BatteryString renders optional battery flags, "absent" when missing.
func BatteryString(o Optional[BatteryFlags]) string {
	if v, ok := o.Get(); ok {
		return v.String()
	}
	return "absent"
}
