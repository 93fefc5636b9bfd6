package file

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/neurotap/neurotap/pkg/neurotap/device"
)

// Playback replays a raw frame dump captured from a real amplifier, paced
// at the programmed base rate. The dump's channel geometry must be supplied
// because raw transfers carry no header. At end of file reads report no
// data, which the acquisition engine escalates like a dead device.
type Playback struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	props    device.Properties
	cfg      device.Config
	running  bool
	eof      bool
	pending  float64
	lastRead time.Time
}

// New creates a playback device for the dump at path with the given
// channel geometry.
func New(path string, props device.Properties) *Playback {
	return &Playback{
		path:  path,
		props: props,
		cfg:   device.Config{BaseRate: 10000},
	}
}

func (p *Playback) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	p.f = f
	p.eof = false
	return nil
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

func (p *Playback) Setup(cfg device.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.BaseRate <= 0 {
		return fmt.Errorf("base rate %v must be positive", cfg.BaseRate)
	}
	if cfg.Mode != device.ModeNormal && cfg.Mode != device.ModeTest {
		return device.ErrNotSupported
	}
	p.cfg = cfg
	return nil
}

func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return fmt.Errorf("device not open")
	}
	p.running = true
	p.pending = 0
	p.lastRead = time.Now()
	return nil
}

func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

func (p *Playback) Properties() device.Properties {
	return p.props
}

func (p *Playback) Status() (device.Status, error) {
	return device.Status{Rate: p.cfg.BaseRate}, nil
}

func (p *Playback) Battery() (device.Battery, error) {
	// Recorded sessions have no live supply; report a healthy pack.
	return device.Battery{State: device.BatteryOK, Voltage: 5.9}, nil
}

func (p *Playback) SetLED(int) error {
	return device.ErrNotSupported
}

func (p *Playback) ReadImpedances() ([]uint32, error) {
	return nil, device.ErrNotSupported
}

func (p *Playback) ReadRaw(timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil, fmt.Errorf("device not started")
	}
	if p.eof {
		return nil, nil
	}

	now := time.Now()
	p.pending += now.Sub(p.lastRead).Seconds() * p.cfg.BaseRate
	p.lastRead = now

	n := int(p.pending)
	if n == 0 {
		if timeout > 0 {
			p.mu.Unlock()
			time.Sleep(timeout)
			p.mu.Lock()
			now = time.Now()
			p.pending += now.Sub(p.lastRead).Seconds() * p.cfg.BaseRate
			p.lastRead = now
			n = int(p.pending)
		}
		if n == 0 {
			return nil, nil
		}
	}
	p.pending -= float64(n)

	frameBytes := (p.props.SignalChannels() + 2) * 4
	buf := make([]byte, n*frameBytes)
	read, err := io.ReadFull(p.f, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		p.eof = true
		if read == 0 {
			return nil, nil
		}
		return buf[:read], nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}
