// Package neurotap implements the acquisition engine: it drives an amplifier
// through its lifecycle, pulls raw sample buffers off the wire, runs them
// through demultiplexing, decimation and re-referencing, and fans the
// resulting blocks out to consumer queues.
package neurotap

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/neurotap/neurotap/pkg/dsp/binning"
	"github.com/neurotap/neurotap/pkg/dsp/demux"
	"github.com/neurotap/neurotap/pkg/dsp/reference"
	"github.com/neurotap/neurotap/pkg/neurotap/block"
	"github.com/neurotap/neurotap/pkg/neurotap/device"
	"github.com/neurotap/neurotap/pkg/neurotap/status"
	"github.com/neurotap/neurotap/pkg/util"
)

const (
	// warmupBuffers is the number of leading device buffers discarded
	// after start while the amplifier settles.
	warmupBuffers = 5
	// timeoutThreshold is the number of consecutive empty polls after
	// which the hardware connection is considered broken.
	timeoutThreshold = 100
	// pollInterval paces the producer loop when a poll yields no data.
	pollInterval = 50 * time.Millisecond
	// readTimeout is handed to the device in blocking-read mode.
	readTimeout = 50 * time.Millisecond
	// batteryInterval is the cadence of supply voltage checks.
	batteryInterval = 5 * time.Second
	// impedanceInterval paces impedance measurements.
	impedanceInterval = time.Second
	// ledInterval paces LED test state changes.
	ledInterval = 500 * time.Millisecond
	// stopTimeout bounds the wait for the producer loop during Stop.
	stopTimeout = 5 * time.Second
	// eventBuffer is the capacity of the event channel.
	eventBuffer = 64
)

type counters struct {
	blocksEmitted    uint64
	samplesEmitted   uint64
	queueOverflows   uint64
	missingSamples   uint64
	malformedBuffers uint64
	filterFallbacks  uint64
}

// Engine owns a device and runs acquisition sessions against it. All fields
// behind mu form the pipeline configuration; ticks hold mu for the whole
// process-and-emit phase so control operations always observe block
// boundaries.
type Engine struct {
	dev          device.Device
	opts         Options
	logger       zerolog.Logger
	writeAPI     api.WriteAPI
	statusServer *status.Server
	outputs      []BlockOutput
	events       chan Event

	mu           sync.Mutex
	state        State
	rate         device.RateSpec
	props        []block.ChannelProperties
	eegCount     int
	dem          *demux.Demuxer
	dec          *binning.Decimator
	comp         *reference.Compositor
	refName      string
	sessionStart time.Time
	skipCounter  int
	timeoutCount int
	initialErrs  int64
	deviceErrs   uint64
	lastCounter  uint64
	haveLast     bool
	lastBattery  device.Battery
	batteryAt    time.Time
	impedanceAt  time.Time
	ledAt        time.Time
	ledCounter   int
	counters     counters
	cancel       context.CancelFunc
	runDone      chan struct{}
}

// New builds an engine around dev. The device must be closed; Start opens
// and programs it.
func New(dev device.Device, options Options, opts ...EngineOption) (*Engine, error) {
	if dev == nil {
		return nil, fmt.Errorf("must specify a device")
	}

	e := &Engine{
		dev:         dev,
		opts:        options,
		writeAPI:    &util.MockWriteAPI{}, // overwritten with option
		logger:      log.Logger,
		events:      make(chan Event, eventBuffer),
		state:       StateIdle,
		initialErrs: -1,
	}

	if e.opts.SampleRate == 0 {
		e.opts.SampleRate = 500
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	rate, err := device.RateForHz(e.opts.SampleRate)
	if err != nil {
		return nil, err
	}
	e.rate = rate

	return e, nil
}

// Events returns the out-of-band notification channel. Events are dropped
// when the channel is full.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) sendEvent(ev Event) {
	ev.Time = time.Now()
	select {
	case e.events <- ev:
	default:
	}
}

// Start opens and programs the device, transitions to running, and blocks
// until the session ends. It returns nil on a clean stop and the fatal
// error otherwise.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateFaulted {
		e.mu.Unlock()
		return fmt.Errorf("cannot start in state %s", e.state)
	}
	e.state = StateStarting
	e.mu.Unlock()

	if err := e.startHardware(); err != nil {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})

	e.mu.Lock()
	e.cancel = cancel
	e.runDone = runDone
	e.state = StateRunning
	e.sessionStart = time.Now()
	e.skipCounter = warmupBuffers
	e.timeoutCount = 0
	e.initialErrs = -1
	e.haveLast = false
	e.counters = counters{}
	e.mu.Unlock()

	e.logger.Info().
		Float64("sample_rate", e.opts.SampleRate).
		Str("mode", e.opts.Mode.String()).
		Str("reference", e.refName).
		Msg("starting acquisition")
	go e.writeAPI.WritePoint(influxdb2.NewPoint("acquisition.session",
		map[string]string{"mode": e.opts.Mode.String()},
		map[string]interface{}{"sample_rate": e.opts.SampleRate},
		time.Now()))

	eg.Go(func() error {
		defer close(runDone)
		return e.run(ctx)
	})

	for _, output := range e.outputs {
		thisOutput := output
		eg.Go(func() error {
			return thisOutput.Start(ctx)
		})
	}

	if e.statusServer != nil {
		e.statusServer.Register("acquisition", e)
		eg.Go(func() error {
			return e.statusServer.Run(ctx)
		})
	}

	err := eg.Wait()
	cancel()

	e.mu.Lock()
	faulted := e.state == StateFaulted
	e.cancel = nil
	e.runDone = nil
	e.mu.Unlock()

	e.teardownHardware()

	e.mu.Lock()
	if !faulted {
		e.state = StateIdle
	}
	e.mu.Unlock()

	if err == context.Canceled {
		return nil
	}
	return err
}

// Stop ends a running session. It cancels the producer, waits a bounded
// time for it to drain, and leaves the engine idle. Safe to call from any
// goroutine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StateStopping
	}
	cancel := e.cancel
	runDone := e.runDone
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if runDone != nil {
		select {
		case <-runDone:
		case <-time.After(stopTimeout):
			e.logger.Error().Msg("producer did not exit in time, forcing teardown")
		}
	}
	if e.statusServer != nil {
		e.statusServer.Stop(context.TODO())
	}
	return nil
}

// startHardware opens and programs the device and builds the processing
// chain. The battery is verified both before and after programming; a
// critical reading aborts the start.
func (e *Engine) startHardware() error {
	if err := e.dev.Open(); err != nil {
		return fmt.Errorf("opening device: %w", err)
	}

	if err := e.verifyBattery(); err != nil {
		e.dev.Close()
		return err
	}

	if err := e.dev.Setup(device.Config{
		Mode:     deviceMode(e.opts.Mode),
		BaseRate: e.rate.Base,
	}); err != nil {
		e.dev.Close()
		return fmt.Errorf("programming device: %w", err)
	}

	e.mu.Lock()
	e.rebuildChain()
	e.mu.Unlock()

	if err := e.verifyBattery(); err != nil {
		e.dev.Close()
		return err
	}

	if err := e.dev.Start(); err != nil {
		e.dev.Close()
		return fmt.Errorf("starting device: %w", err)
	}
	return nil
}

func (e *Engine) teardownHardware() {
	if err := e.dev.Stop(); err != nil {
		e.logger.Warn().Err(err).Msg("stopping device")
	}
	if err := e.dev.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("closing device")
	}
	e.mu.Lock()
	if e.dec != nil {
		e.dec.Reset()
	}
	if e.dem != nil {
		e.dem.Reset()
	}
	e.mu.Unlock()
}

func (e *Engine) verifyBattery() error {
	bat, err := e.dev.Battery()
	if err != nil {
		return fmt.Errorf("reading battery: %w", err)
	}

	e.mu.Lock()
	e.lastBattery = bat
	e.batteryAt = time.Now()
	e.mu.Unlock()

	switch bat.State {
	case device.BatteryCritical:
		err := &BatteryLowError{Voltage: bat.Voltage}
		e.sendEvent(Event{Type: EventError, Severity: SeverityStop, Message: err.Error(), Value: bat.Voltage})
		return err
	case device.BatteryWarning:
		e.logger.Warn().Float64("voltage", bat.Voltage).Msg("battery voltage low")
		e.sendEvent(Event{Type: EventStatus, Severity: SeverityNotify, Message: "battery voltage low", Value: bat.Voltage})
	}
	return nil
}

// run is the producer loop. It owns the pipeline lock for the duration of
// each tick, including fan-out, so consumers and control operations only
// ever see whole blocks.
func (e *Engine) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.mu.Lock()
		if e.state != StateRunning {
			e.mu.Unlock()
			return nil
		}
		var (
			blk *block.AcquisitionBlock
			err error
		)
		elapsed := util.TimeOperationMicroseconds(func() {
			blk, err = e.tick()
		})
		if blk != nil {
			blk.ProcessTime = time.Duration(elapsed) * time.Microsecond
			e.emit(blk)
		}
		e.mu.Unlock()

		if err != nil {
			e.fail(err)
			return err
		}
		if blk == nil && !e.opts.BlockingRead {
			time.Sleep(time.Millisecond)
		}
	}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.state = StateFaulted
	e.mu.Unlock()

	e.logger.Error().Err(err).Msg("acquisition stopped")
	e.sendEvent(Event{Type: EventError, Severity: SeverityStop, Message: err.Error()})
	go e.writeAPI.WritePoint(influxdb2.NewPoint("acquisition.fault",
		map[string]string{},
		map[string]interface{}{"error": err.Error()},
		time.Now()))
}

// emit fans a block out to all consumer queues. Every queue but the last
// receives a deep copy so no two consumers share buffers; the last gets the
// original.
func (e *Engine) emit(blk *block.AcquisitionBlock) {
	dropped := 0
	for i, output := range e.outputs {
		out := blk
		if i < len(e.outputs)-1 {
			out = blk.Clone()
		}
		if !output.Queue().TryPush(out) {
			dropped++
		}
	}

	if dropped > 0 {
		e.counters.queueOverflows += uint64(dropped)
		e.sendEvent(Event{Type: EventOverflow, Severity: SeverityNotify,
			Message: "consumer queue full, block dropped", Value: float64(dropped)})
	}

	e.counters.blocksEmitted++
	e.counters.samplesEmitted += uint64(blk.Samples())

	go e.writeAPI.WritePoint(influxdb2.NewPoint("acquisition.block",
		map[string]string{"mode": blk.Mode.String()},
		map[string]interface{}{
			"samples_written": blk.Samples(),
			"channels":        len(blk.Channels),
			"dropped_outputs": dropped,
			"process_time_us": blk.ProcessTime.Microseconds(),
		}, time.Now()))
}

// StatusSnapshot implements status.Source.
func (e *Engine) StatusSnapshot() status.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return status.Snapshot{
		State:            e.state.String(),
		Mode:             e.opts.Mode.String(),
		SampleRate:       e.opts.SampleRate,
		Channels:         len(e.props),
		ReferenceChannel: e.refName,
		SessionStart:     e.sessionStart,
		BlocksEmitted:    e.counters.blocksEmitted,
		SamplesEmitted:   e.counters.samplesEmitted,
		QueueOverflows:   e.counters.queueOverflows,
		MissingSamples:   e.counters.missingSamples,
		MalformedBuffers: e.counters.malformedBuffers,
		FilterFallbacks:  e.counters.filterFallbacks,
		DeviceErrors:     e.deviceErrs,
		BatteryVoltage:   e.lastBattery.Voltage,
	}
}

func deviceMode(mode block.RecordingMode) device.Mode {
	switch mode {
	case block.ModeImpedance:
		return device.ModeImpedance
	case block.ModeTest:
		return device.ModeTest
	case block.ModeLEDTest:
		return device.ModeLEDTest
	default:
		return device.ModeNormal
	}
}
