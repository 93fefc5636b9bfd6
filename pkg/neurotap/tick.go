package neurotap

import (
	"errors"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"

	"github.com/neurotap/neurotap/pkg/dsp/binning"
	"github.com/neurotap/neurotap/pkg/dsp/demux"
	"github.com/neurotap/neurotap/pkg/dsp/reference"
	"github.com/neurotap/neurotap/pkg/neurotap/block"
	"github.com/neurotap/neurotap/pkg/neurotap/device"
)

// rebuildChain reconstructs every stateful pipeline stage from the current
// options and device properties. Called with e.mu held; any carried filter
// or counter state is discarded.
func (e *Engine) rebuildChain() {
	props := e.dev.Properties()
	e.eegCount = props.CountEEG
	e.props = block.DefaultProperties(props.CountEEG, props.CountAUX, props.EEGNames)

	refIndices := make([]int, 0, len(e.opts.ReferenceChannels))
	for _, idx := range e.opts.ReferenceChannels {
		if idx < 0 || idx >= props.CountEEG {
			e.logger.Warn().Int("channel", idx).Msg("reference index out of range, ignored")
			continue
		}
		refIndices = append(refIndices, idx)
		if !e.opts.MultipleReference {
			break
		}
	}
	sort.Ints(refIndices)
	for _, idx := range refIndices {
		e.props[idx].IsReference = true
	}
	e.refName = block.RefName(e.props, refIndices)
	for i := range e.props {
		if e.props[i].Group == block.GroupEEG && !e.props[i].IsReference {
			e.props[i].RefName = e.refName
		}
	}

	var removeIndices []int
	if e.opts.HideReference {
		removeIndices = append([]int(nil), refIndices...)
	}

	scale := make([]float64, props.SignalChannels())
	for i := range scale {
		if i < props.CountEEG {
			scale[i] = props.ResolutionEEG * 1e6
		} else {
			scale[i] = props.ResolutionAUX * 1e6
		}
	}

	dem, err := demux.New(props.SignalChannels(), scale)
	if err != nil {
		// SignalChannels <= 0 would mean a broken driver; keep the old
		// demuxer rather than crash mid-session.
		e.logger.Error().Err(err).Msg("rebuilding demuxer")
	} else {
		e.dem = dem
	}

	dec, err := binning.New(e.rate.Divider, props.SignalChannels())
	if err != nil {
		e.counters.filterFallbacks++
		e.logger.Warn().Err(err).Int("divider", e.rate.Divider).
			Msg("anti-aliasing filter not realizable, decimating without it")
		e.sendEvent(Event{Type: EventStatus, Severity: SeverityNotify,
			Message: "anti-aliasing filter not realizable: " + err.Error()})
	}
	e.dec = dec
	e.comp = reference.New(refIndices, removeIndices, props.CountEEG)
	e.haveLast = false
}

// tick runs one producer iteration. Called with e.mu held. A nil block with
// nil error is an idle tick; a non-nil error is fatal and faults the session.
func (e *Engine) tick() (*block.AcquisitionBlock, error) {
	if err := e.checkBattery(); err != nil {
		return nil, err
	}

	switch e.opts.Mode {
	case block.ModeImpedance:
		return e.tickImpedance()
	case block.ModeLEDTest:
		return nil, e.tickLEDTest()
	default:
		return e.tickData()
	}
}

// checkBattery enforces the periodic supply voltage check. A critical
// reading is fatal; read failures only log because the data path is the
// authority on whether the device is still alive.
func (e *Engine) checkBattery() error {
	if time.Since(e.batteryAt) < batteryInterval {
		return nil
	}
	e.batteryAt = time.Now()

	bat, err := e.dev.Battery()
	if err != nil {
		e.logger.Warn().Err(err).Msg("reading battery")
		return nil
	}
	e.lastBattery = bat

	switch bat.State {
	case device.BatteryCritical:
		err := &BatteryLowError{Voltage: bat.Voltage}
		e.sendEvent(Event{Type: EventError, Severity: SeverityStop, Message: err.Error(), Value: bat.Voltage})
		return err
	case device.BatteryWarning:
		e.sendEvent(Event{Type: EventStatus, Severity: SeverityNotify, Message: "battery voltage low", Value: bat.Voltage})
	}
	return nil
}

// tickData is the normal and test mode data path: read, demux, warm-up
// skip, decimate, gap check, re-reference, package.
func (e *Engine) tickData() (*block.AcquisitionBlock, error) {
	var timeout time.Duration
	if e.opts.BlockingRead {
		timeout = readTimeout
	}

	raw, err := e.dev.ReadRaw(timeout)
	if err != nil {
		e.logger.Warn().Err(err).Msg("reading device")
		raw = nil
	}
	if len(raw) == 0 {
		e.timeoutCount++
		if e.timeoutCount > timeoutThreshold {
			return nil, &HardwareTimeoutError{
				Polls:  e.timeoutCount,
				Window: time.Duration(e.timeoutCount) * pollInterval,
			}
		}
		return nil, nil
	}
	e.timeoutCount = 0

	res, err := e.dem.Demux(raw)
	if err != nil {
		var merr *demux.MalformedBufferError
		if errors.As(err, &merr) {
			e.counters.malformedBuffers++
			e.logger.Warn().Int("length", merr.Length).Msg("malformed transfer, cycle skipped")
			e.sendEvent(Event{Type: EventError, Severity: SeverityNotify, Message: err.Error()})
			return nil, nil
		}
		return nil, err
	}
	if res == nil || res.Samples() == 0 {
		return nil, nil
	}

	// The first buffers after start carry settling artifacts.
	if e.skipCounter > 0 {
		e.skipCounter--
		return nil, nil
	}

	// The error baseline is sampled at the first real buffer so counts
	// reported during the session are session-relative.
	if e.initialErrs < 0 {
		if st, err := e.dev.Status(); err == nil {
			e.initialErrs = int64(st.Errors)
		}
	}

	channels, triggers, counters, err := e.dec.Process(res.Channels, res.Triggers, res.Counters)
	if err != nil {
		e.logger.Error().Err(err).Msg("decimating transfer, cycle skipped")
		e.sendEvent(Event{Type: EventError, Severity: SeverityNotify, Message: err.Error()})
		return nil, nil
	}
	if len(counters) == 0 {
		// Transfer too short to produce an output sample this cycle; the
		// decimator carries it into the next one.
		return nil, nil
	}

	e.checkContinuity(counters)

	propsCopy := append([]block.ChannelProperties(nil), e.props...)
	channels, propsCopy, err = e.comp.Apply(channels, propsCopy)
	if err != nil {
		e.logger.Error().Err(err).Msg("applying reference, cycle skipped")
		return nil, nil
	}

	return &block.AcquisitionBlock{
		Channels:          channels,
		Counters:          counters,
		Triggers:          triggers,
		SampleRate:        e.opts.SampleRate,
		ChannelProperties: propsCopy,
		BlockTime:         e.blockTime(counters[0]),
		Mode:              e.opts.Mode,
		RefChannelName:    e.refName,
	}, nil
}

// checkContinuity verifies the output counter channel increments by exactly
// one per sample and reports every hole.
func (e *Engine) checkContinuity(counters []uint64) {
	var missing uint64
	for _, c := range counters {
		if e.haveLast && c > e.lastCounter+1 {
			missing += c - e.lastCounter - 1
		}
		e.lastCounter = c
		e.haveLast = true
	}
	if missing == 0 {
		return
	}

	e.counters.missingSamples += missing
	if st, err := e.dev.Status(); err == nil && e.initialErrs >= 0 {
		e.deviceErrs = st.Errors - uint64(e.initialErrs)
	}
	e.logger.Warn().
		Uint64("missing", missing).
		Uint64("device_errors", e.deviceErrs).
		Msg("sample counter gap")
	e.sendEvent(Event{Type: EventGap, Severity: SeverityNotify,
		Message: "samples missing in counter channel", Value: float64(missing)})
	go e.writeAPI.WritePoint(influxdb2.NewPoint("acquisition.gap",
		map[string]string{},
		map[string]interface{}{
			"missing_samples": missing,
			"device_errors":   e.deviceErrs,
		}, time.Now()))
}

// blockTime derives a block timestamp from its first counter so consumer
// clocks track the sample clock, not wall-clock jitter.
func (e *Engine) blockTime(firstCounter uint64) time.Time {
	offset := time.Duration(float64(firstCounter) / e.opts.SampleRate * float64(time.Second))
	return e.sessionStart.Add(offset)
}

// impedanceSamples is the sample dimension of diagnostic impedance blocks.
const impedanceSamples = 10

// tickImpedance emits one diagnostic block per second carrying the latest
// electrode impedance measurements instead of signal data.
func (e *Engine) tickImpedance() (*block.AcquisitionBlock, error) {
	if time.Since(e.impedanceAt) < impedanceInterval {
		return nil, nil
	}
	e.impedanceAt = time.Now()

	values, err := e.dev.ReadImpedances()
	if err != nil {
		if errors.Is(err, device.ErrNotSupported) {
			return nil, err
		}
		e.logger.Warn().Err(err).Msg("reading impedances")
		return nil, nil
	}
	if len(values) == 0 {
		return nil, nil
	}

	var gnd float64
	if len(values) > e.eegCount {
		gnd = float64(values[len(values)-1])
	}

	channels := make([][]float64, len(e.props))
	for r := range channels {
		channels[r] = make([]float64, impedanceSamples)
		if r >= e.eegCount || r >= len(values) {
			continue
		}
		channels[r][block.ImpedanceData] = float64(values[r])
		channels[r][block.ImpedanceGND] = gnd
	}

	return &block.AcquisitionBlock{
		Channels:          channels,
		Counters:          make([]uint64, impedanceSamples),
		Triggers:          make([]uint32, impedanceSamples),
		SampleRate:        e.opts.SampleRate,
		ChannelProperties: append([]block.ChannelProperties(nil), e.props...),
		BlockTime:         time.Now(),
		Mode:              block.ModeImpedance,
		RefChannelName:    e.refName,
	}, nil
}

// ledStates is the LED test sequence: all off, group one, group two.
var ledStates = []int{0, 11, 12}

// tickLEDTest cycles the electrode LEDs and discards any incoming data; LED
// test sessions emit no blocks.
func (e *Engine) tickLEDTest() error {
	var timeout time.Duration
	if e.opts.BlockingRead {
		timeout = readTimeout
	}
	// Keep the transfer ring drained so the device does not stall.
	e.dev.ReadRaw(timeout)

	if time.Since(e.ledAt) < ledInterval {
		return nil
	}
	e.ledAt = time.Now()

	state := ledStates[e.ledCounter%len(ledStates)]
	e.ledCounter++
	if err := e.dev.SetLED(state); err != nil && !errors.Is(err, device.ErrNotSupported) {
		e.logger.Warn().Err(err).Int("state", state).Msg("setting LED state")
	}
	return nil
}
