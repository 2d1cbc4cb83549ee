package models

import "sync"

// ============================================================================
// Device Throttle
//
// Advisory policy that shrinks sync batches under adverse device conditions
// (low battery, metered network, thermal pressure). Signals come from the
// host platform through the SignalSource interface so the policy can be
// unit-tested with synthetic inputs. The throttle is total: it never
// blocks, never fails, and a missing source means full speed.
// ============================================================================

// ThermalState mirrors the host platform's thermal pressure levels.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

// String returns the lowercase name used in logs.
func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	}
	return "unknown"
}

// DeviceSignals is an instantaneous snapshot of device conditions.
type DeviceSignals struct {
	BatteryLevel   int // 0..100; negative means unknown
	Charging       bool
	MeteredNetwork bool
	Thermal        ThermalState
}

// SignalSource supplies device signals. Implementations must be cheap and
// non-blocking since the throttle reads them on every pass.
type SignalSource interface {
	Signals() DeviceSignals
}

// StaticSignalSource is a settable SignalSource. The default zero signals
// (unknown battery, unmetered, nominal thermal) mean full speed, so a
// platform that never reports anything does not slow the engine down.
type StaticSignalSource struct {
	mu  sync.Mutex
	sig DeviceSignals
}

// NewStaticSignalSource returns a source reporting full-speed conditions.
func NewStaticSignalSource() *StaticSignalSource {
	return &StaticSignalSource{sig: DeviceSignals{BatteryLevel: -1}}
}

// Set replaces the reported signals.
func (s *StaticSignalSource) Set(sig DeviceSignals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sig = sig
}

// Signals returns the current snapshot.
func (s *StaticSignalSource) Signals() DeviceSignals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig
}

// lowBatteryThreshold is the percentage below which an uncharged battery
// triggers load reduction.
const lowBatteryThreshold = 20

// Default batch sizes when the config does not override them.
const (
	defaultBatchSize        = 25
	defaultReducedBatchSize = 5
)

// DeviceThrottle converts device signals into batch sizing advice.
type DeviceThrottle struct {
	source  SignalSource
	full    int
	reduced int
}

// NewDeviceThrottle builds a throttle. A nil source defaults to full speed;
// non-positive sizes fall back to the defaults.
func NewDeviceThrottle(source SignalSource, fullSize, reducedSize int) *DeviceThrottle {
	if fullSize <= 0 {
		fullSize = defaultBatchSize
	}
	if reducedSize <= 0 {
		reducedSize = defaultReducedBatchSize
	}
	if reducedSize > fullSize {
		reducedSize = fullSize
	}
	return &DeviceThrottle{source: source, full: fullSize, reduced: reducedSize}
}

// ShouldReduceLoad reports whether the engine should sync gently: smaller
// batches, plus a settle delay between passes.
func (dt *DeviceThrottle) ShouldReduceLoad() bool {
	if dt.source == nil {
		return false
	}
	sig := dt.source.Signals()

	if sig.BatteryLevel >= 0 && sig.BatteryLevel < lowBatteryThreshold && !sig.Charging {
		return true
	}
	if sig.MeteredNetwork {
		return true
	}
	if sig.Thermal >= ThermalSerious {
		return true
	}
	return false
}

// BatchSize returns how many records the next pass should take.
func (dt *DeviceThrottle) BatchSize() int {
	if dt.ShouldReduceLoad() {
		return dt.reduced
	}
	return dt.full
}
