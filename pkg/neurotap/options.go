package neurotap

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"

	"github.com/neurotap/neurotap/pkg/neurotap/block"
	"github.com/neurotap/neurotap/pkg/neurotap/queue"
	"github.com/neurotap/neurotap/pkg/neurotap/status"
)

// Options configures a session. Zero values fall back to sensible defaults
// in New.
type Options struct {
	// SampleRate is the desired output rate in Hz. It must resolve to a
	// base rate and an integer divider (see device.RateForHz).
	SampleRate float64
	// Mode selects the recording mode programmed into the device.
	Mode block.RecordingMode
	// ReferenceChannels holds EEG row indices used to build the composite
	// reference. Empty disables re-referencing.
	ReferenceChannels []int
	// MultipleReference permits more than one reference channel. When
	// false, only the first selected index is honored.
	MultipleReference bool
	// HideReference removes the reference rows from emitted blocks.
	HideReference bool
	// BlockingRead makes device reads wait for data instead of polling.
	BlockingRead bool
}

// BlockOutput consumes acquisition blocks from a bounded queue. The engine
// hands the last registered output the original block; every other output
// receives a deep copy.
type BlockOutput interface {
	Start(ctx context.Context) error
	Queue() *queue.Bounded
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine) error

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = logger.With().Str("component", "engine").Logger()
		return nil
	}
}

// WithWriteAPI sets the InfluxDB write API used for runtime metrics.
func WithWriteAPI(writeAPI api.WriteAPI) EngineOption {
	return func(e *Engine) error {
		e.writeAPI = writeAPI
		return nil
	}
}

// WithStatusServer attaches an HTTP status server. The engine registers
// itself as a snapshot source and runs the server for the duration of the
// session.
func WithStatusServer(srv *status.Server) EngineOption {
	return func(e *Engine) error {
		e.statusServer = srv
		return nil
	}
}

// WithOutput registers a block consumer. Outputs are started with the
// session and stopped when it ends.
func WithOutput(out BlockOutput) EngineOption {
	return func(e *Engine) error {
		if out == nil {
			return fmt.Errorf("nil output")
		}
		e.outputs = append(e.outputs, out)
		return nil
	}
}
