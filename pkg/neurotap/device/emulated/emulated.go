package emulated

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/neurotap/neurotap/pkg/neurotap/device"
)

// Channel complement of one simulated amplifier module.
const (
	eegPerModule = 32
	auxChannels  = 8
	maxModules   = 5
)

// Battery thresholds in volts.
const (
	voltageWarning  = 5.2
	voltageCritical = 4.8
)

// maxSamplesPerRead bounds a single transfer so a stalled consumer cannot
// make the next read arbitrarily large.
const maxSamplesPerRead = 4096

// Amplifier simulates the vendor amplifier: deterministic test waveforms,
// a live wrapping 32-bit sample counter, a 1 Hz trigger pulse and a
// configurable battery voltage. Reads are paced by the wall clock at the
// programmed base rate.
type Amplifier struct {
	mu       sync.Mutex
	props    device.Properties
	cfg      device.Config
	open     bool
	running  bool
	counter  uint32
	pending  float64 // fractional samples owed from previous reads
	lastRead time.Time
	voltage  float64
	ledState int
	status   device.Status
}

// Option configures the simulated amplifier.
type Option func(*Amplifier)

// WithModules sets the channel multiplier: n simulated modules provide
// n×32 EEG channels plus 8 AUX channels.
func WithModules(n int) Option {
	return func(a *Amplifier) {
		if n < 1 {
			n = 1
		}
		if n > maxModules {
			n = maxModules
		}
		a.props.CountEEG = n * eegPerModule
	}
}

// WithBatteryVoltage overrides the reported supply voltage.
func WithBatteryVoltage(v float64) Option {
	return func(a *Amplifier) {
		a.voltage = v
	}
}

// New creates a simulated amplifier with one module.
func New(opts ...Option) *Amplifier {
	a := &Amplifier{
		props: device.Properties{
			CountEEG:      eegPerModule,
			CountAUX:      auxChannels,
			TriggersIn:    8,
			TriggersOut:   8,
			ResolutionEEG: 4.88e-08,
			ResolutionAUX: 2.98e-07,
			RangeEEG:      0.819,
			RangeAUX:      5.0,
		},
		cfg:     device.Config{BaseRate: 10000},
		voltage: 5.9,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Amplifier) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = true
	return nil
}

func (a *Amplifier) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	a.running = false
	return nil
}

func (a *Amplifier) Setup(cfg device.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return fmt.Errorf("device not open")
	}
	if cfg.BaseRate <= 0 {
		return fmt.Errorf("base rate %v must be positive", cfg.BaseRate)
	}
	a.cfg = cfg
	return nil
}

func (a *Amplifier) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return fmt.Errorf("device not open")
	}
	a.running = true
	a.counter = 0
	a.pending = 0
	a.lastRead = time.Now()
	a.status = device.Status{Rate: a.cfg.BaseRate}
	return nil
}

func (a *Amplifier) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return nil
}

func (a *Amplifier) Properties() device.Properties {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.props
}

func (a *Amplifier) Status() (device.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return device.Status{}, fmt.Errorf("device not open")
	}
	return a.status, nil
}

func (a *Amplifier) Battery() (device.Battery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := device.BatteryOK
	switch {
	case a.voltage < voltageCritical:
		state = device.BatteryCritical
	case a.voltage < voltageWarning:
		state = device.BatteryWarning
	}
	return device.Battery{State: state, Voltage: a.voltage}, nil
}

func (a *Amplifier) SetLED(state int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return fmt.Errorf("device not open")
	}
	a.ledState = state
	return nil
}

// LEDState exposes the last LED command, used by tests.
func (a *Amplifier) LEDState() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledState
}

func (a *Amplifier) ReadImpedances() ([]uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil, fmt.Errorf("device not open")
	}
	values := make([]uint32, a.props.CountEEG+1)
	for i := range values {
		values[i] = uint32(5000 + 100*i)
	}
	return values, nil
}

// ReadRaw produces all samples elapsed since the last read at the base
// rate, waiting up to timeout for at least one sample to become due.
func (a *Amplifier) ReadRaw(timeout time.Duration) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil, fmt.Errorf("device not started")
	}

	n := a.dueSamples()
	if n == 0 && timeout > 0 {
		period := time.Duration(float64(time.Second) / a.cfg.BaseRate)
		wait := period
		if wait > timeout {
			wait = timeout
		}
		a.mu.Unlock()
		time.Sleep(wait)
		a.mu.Lock()
		n = a.dueSamples()
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxSamplesPerRead {
		n = maxSamplesPerRead
	}

	frameWords := a.props.SignalChannels() + 2
	buf := make([]byte, n*frameWords*4)
	ratePeriod := uint32(a.cfg.BaseRate)

	off := 0
	for s := 0; s < n; s++ {
		t := float64(a.counter) / a.cfg.BaseRate
		for ch := 0; ch < a.props.CountEEG; ch++ {
			binary.LittleEndian.PutUint32(buf[off:], uint32(a.eegCode(ch, t)))
			off += 4
		}
		for ch := 0; ch < a.props.CountAUX; ch++ {
			binary.LittleEndian.PutUint32(buf[off:], uint32(a.auxCode(ch, t)))
			off += 4
		}
		var trig uint32
		if ratePeriod > 0 && a.counter%ratePeriod == 0 {
			trig = 1
		}
		binary.LittleEndian.PutUint32(buf[off:], trig)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], a.counter)
		off += 4
		a.counter++ // wraps at 2^32 like the hardware counter
	}

	a.status.Samples += uint64(n)
	return buf, nil
}

// dueSamples advances the wall-clock accounting and returns how many whole
// samples are owed.
func (a *Amplifier) dueSamples() int {
	now := time.Now()
	a.pending += now.Sub(a.lastRead).Seconds() * a.cfg.BaseRate
	a.lastRead = now
	n := int(a.pending)
	a.pending -= float64(n)
	return n
}

// eegCode synthesizes one EEG sample as an ADC code: a 10 Hz sine with a
// per-channel amplitude in normal mode, the 200 µV 1 Hz square wave in test
// mode.
func (a *Amplifier) eegCode(ch int, t float64) int32 {
	var v float64
	switch a.cfg.Mode {
	case device.ModeTest:
		v = 200e-6
		if math.Mod(t, 1.0) >= 0.5 {
			v = -v
		}
	default:
		amp := (50 + float64(ch%8)*10) * 1e-6
		v = amp * math.Sin(2*math.Pi*10*t)
	}
	return int32(v / a.props.ResolutionEEG)
}

// auxCode synthesizes one AUX sample: a slow 0.5 Hz sine spanning a volt.
func (a *Amplifier) auxCode(ch int, t float64) int32 {
	v := 0.5 * math.Sin(2*math.Pi*0.5*t+float64(ch))
	return int32(v / a.props.ResolutionAUX)
}
