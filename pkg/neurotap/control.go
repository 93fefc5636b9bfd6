package neurotap

import (
	"fmt"

	"github.com/neurotap/neurotap/pkg/neurotap/block"
	"github.com/neurotap/neurotap/pkg/neurotap/device"
)

// Control operations mutate the pipeline configuration under the same lock
// the producer holds for each tick, so changes always land on block
// boundaries and never tear a block. On a running session the hardware is
// reprogrammed in place and the warm-up skip applies again.

// SetSampleRate switches the output rate. The rate must resolve to a base
// rate with an integer divider.
func (e *Engine) SetSampleRate(hz float64) error {
	rate, err := device.RateForHz(hz)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.opts.SampleRate = hz
	e.rate = rate
	return e.reprogram()
}

// SetReferenceChannels replaces the reference selection. Indices address
// EEG rows; with multiple false only the first valid index is honored.
func (e *Engine) SetReferenceChannels(indices []int, multiple bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opts.ReferenceChannels = append([]int(nil), indices...)
	e.opts.MultipleReference = multiple
	e.rebuildChain()
	return nil
}

// SetRecordingMode switches between normal, test signal, impedance and LED
// test mode.
func (e *Engine) SetRecordingMode(mode block.RecordingMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opts.Mode = mode
	return e.reprogram()
}

// reprogram pushes the current configuration to a running device and resets
// the processing chain. Called with e.mu held. Idle engines only record the
// configuration; Start programs the device.
func (e *Engine) reprogram() error {
	if e.state != StateRunning {
		return nil
	}

	if err := e.dev.Stop(); err != nil {
		return fmt.Errorf("stopping device: %w", err)
	}
	if err := e.dev.Setup(device.Config{
		Mode:     deviceMode(e.opts.Mode),
		BaseRate: e.rate.Base,
	}); err != nil {
		return fmt.Errorf("programming device: %w", err)
	}
	e.rebuildChain()
	if err := e.dev.Start(); err != nil {
		return fmt.Errorf("starting device: %w", err)
	}

	e.skipCounter = warmupBuffers
	e.timeoutCount = 0
	e.logger.Info().
		Float64("sample_rate", e.opts.SampleRate).
		Str("mode", e.opts.Mode.String()).
		Msg("device reprogrammed")
	return nil
}
