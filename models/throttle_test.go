package models_test

import (
	"testing"

	"gotasks/models"
)

// TestThrottleShouldReduceLoad walks the device conditions that call for
// gentler syncing.
func TestThrottleShouldReduceLoad(t *testing.T) {
	testCases := []struct {
		name    string
		signals models.DeviceSignals
		want    bool
	}{
		{"default zero signals run full speed", models.DeviceSignals{}, false},
		{"unknown battery runs full speed", models.DeviceSignals{BatteryLevel: -1}, false},
		{"healthy battery runs full speed", models.DeviceSignals{BatteryLevel: 80}, false},
		{"low battery uncharged reduces", models.DeviceSignals{BatteryLevel: 15}, true},
		{"low battery but charging runs full speed", models.DeviceSignals{BatteryLevel: 15, Charging: true}, false},
		{"metered network reduces", models.DeviceSignals{BatteryLevel: 90, MeteredNetwork: true}, true},
		{"fair thermal runs full speed", models.DeviceSignals{BatteryLevel: 90, Thermal: models.ThermalFair}, false},
		{"serious thermal reduces", models.DeviceSignals{BatteryLevel: 90, Thermal: models.ThermalSerious}, true},
		{"critical thermal reduces", models.DeviceSignals{BatteryLevel: 90, Thermal: models.ThermalCritical}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			source := models.NewStaticSignalSource()
			source.Set(tc.signals)
			throttle := models.NewDeviceThrottle(source, 25, 5)

			if got := throttle.ShouldReduceLoad(); got != tc.want {
				t.Errorf("ShouldReduceLoad() = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestThrottleBatchSize verifies the batch sizing advice and the size
// clamping rules.
func TestThrottleBatchSize(t *testing.T) {
	source := models.NewStaticSignalSource()
	throttle := models.NewDeviceThrottle(source, 25, 5)

	if got := throttle.BatchSize(); got != 25 {
		t.Errorf("full-speed batch size = %d, want 25", got)
	}

	source.Set(models.DeviceSignals{BatteryLevel: 10})
	if got := throttle.BatchSize(); got != 5 {
		t.Errorf("reduced batch size = %d, want 5", got)
	}

	// A nil source means the platform reports nothing: full speed.
	noSource := models.NewDeviceThrottle(nil, 25, 5)
	if noSource.ShouldReduceLoad() {
		t.Error("nil signal source should never reduce load")
	}

	// Non-positive sizes fall back to defaults; reduced is clamped to full.
	defaulted := models.NewDeviceThrottle(nil, 0, 0)
	if got := defaulted.BatchSize(); got != 25 {
		t.Errorf("defaulted batch size = %d, want 25", got)
	}

	source2 := models.NewStaticSignalSource()
	source2.Set(models.DeviceSignals{MeteredNetwork: true})
	clamped := models.NewDeviceThrottle(source2, 3, 10)
	if got := clamped.BatchSize(); got != 3 {
		t.Errorf("reduced size above full should clamp to full, got %d", got)
	}
}
