package device

import (
	"errors"
	"fmt"
	"time"
)

// Mode programs the hardware acquisition mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeImpedance
	ModeTest
	ModeLEDTest
)

// Properties are the static capabilities a device reports once opened.
type Properties struct {
	CountEEG    int
	CountAUX    int
	TriggersIn  int
	TriggersOut int
	// ResolutionEEG and ResolutionAUX are amplitude scale coefficients in
	// V/bit for the respective channel groups.
	ResolutionEEG float64
	ResolutionAUX float64
	// RangeEEG and RangeAUX are input ranges peak-peak in V.
	RangeEEG float64
	RangeAUX float64
	// EEGNames optionally carries a fixed electrode layout.
	EEGNames []string
}

// SignalChannels returns the number of signal words per frame.
func (p Properties) SignalChannels() int {
	return p.CountEEG + p.CountAUX
}

// Status is the device's cumulative transfer accounting since power-on.
type Status struct {
	Samples uint64
	Errors  uint64
	Rate    float64 // measured data rate, Hz
	Speed   float64 // transfer speed, MB/s
}

// BatteryState classifies the supply voltage.
type BatteryState int

const (
	BatteryOK BatteryState = iota
	BatteryWarning
	BatteryCritical
)

// Battery is one supply reading.
type Battery struct {
	State   BatteryState
	Voltage float64
}

// Config programs mode and base sample rate before starting acquisition.
type Config struct {
	Mode     Mode
	BaseRate float64
}

// ErrNotSupported is returned for operations a device cannot perform.
var ErrNotSupported = errors.New("operation not supported by device")

// Device abstracts the amplifier hardware driver. ReadRaw returns one raw
// interleaved transfer: per sample, one signed 32-bit LE word per signal
// channel (EEG then AUX), one trigger word, one 32-bit counter word. A nil
// buffer with nil error means no data arrived within the timeout.
type Device interface {
	Open() error
	Close() error

	Setup(cfg Config) error
	Start() error
	Stop() error

	// ReadRaw reads the next raw transfer, waiting at most timeout. A zero
	// timeout polls without blocking.
	ReadRaw(timeout time.Duration) ([]byte, error)
	// ReadImpedances returns one impedance value in Ohm per EEG channel,
	// with the ground electrode appended last.
	ReadImpedances() ([]uint32, error)

	Status() (Status, error)
	Battery() (Battery, error)
	Properties() Properties

	// SetLED drives the active-electrode LEDs in LED-test mode.
	SetLED(state int) error
}

// RateSpec resolves a requested sample rate to a hardware base rate and the
// software decimation divider that produces it.
type RateSpec struct {
	Hz      float64
	Base    float64
	Divider int
}

// baseRates are the physical ADC rates the hardware can be programmed to.
var baseRates = []float64{10000, 50000, 100000}

// SupportedRates enumerates the requestable acquisition rates in Hz.
var SupportedRates = []float64{200, 500, 1000, 2000, 5000, 10000, 25000, 50000, 100000}

// RateForHz picks the base rate with the smallest integer divider that
// yields the requested rate, mirroring the driver's rate table
// (e.g. 500 Hz = 10 kHz / 20, 25 kHz = 50 kHz / 2).
func RateForHz(hz float64) (RateSpec, error) {
	if hz <= 0 {
		return RateSpec{}, fmt.Errorf("sample rate %v must be positive", hz)
	}
	best := RateSpec{Divider: -1}
	for _, base := range baseRates {
		div := base / hz
		if div < 1 || div != float64(int(div)) {
			continue
		}
		if best.Divider < 0 || int(div) < best.Divider {
			best = RateSpec{Hz: hz, Base: base, Divider: int(div)}
		}
	}
	if best.Divider < 0 {
		return RateSpec{}, fmt.Errorf("sample rate %v Hz is not derivable from any base rate", hz)
	}
	return best, nil
}
