// Package output provides block consumers for acquisition sessions. Each
// output drains its own bounded queue; the engine drops blocks for consumers
// that fall behind rather than stalling acquisition.
package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/neurotap/neurotap/pkg/neurotap/queue"
	"github.com/neurotap/neurotap/pkg/util"
)

// logEvery is the block cadence of LogOutput progress lines.
const logEvery = 100

// LogOutput summarizes the block stream: a progress line every logEvery
// blocks and a throughput point per block.
type LogOutput struct {
	q        *queue.Bounded
	logger   zerolog.Logger
	writeAPI api.WriteAPI

	blocks  uint64
	samples uint64
}

func NewLogOutput(logger zerolog.Logger, writeAPI api.WriteAPI, queueCapacity int) *LogOutput {
	if writeAPI == nil {
		writeAPI = &util.MockWriteAPI{}
	}
	return &LogOutput{
		q:        queue.NewBounded(queueCapacity),
		logger:   logger.With().Str("component", "log-output").Logger(),
		writeAPI: writeAPI,
	}
}

func (o *LogOutput) Queue() *queue.Bounded {
	return o.q
}

func (o *LogOutput) Start(ctx context.Context) error {
	for {
		blk, err := o.q.Pop(ctx)
		if err != nil {
			return err
		}

		o.blocks++
		o.samples += uint64(blk.Samples())

		if o.blocks%logEvery == 0 {
			o.logger.Info().
				Uint64("blocks", o.blocks).
				Uint64("samples", o.samples).
				Uint64("dropped", o.q.Overflows()).
				Str("mode", blk.Mode.String()).
				Time("block_time", blk.BlockTime).
				Msg("session progress")
		}

		go o.writeAPI.WritePoint(influxdb2.NewPoint("output.log",
			map[string]string{"mode": blk.Mode.String()},
			map[string]interface{}{
				"samples_written": blk.Samples(),
				"queue_depth":     o.q.Len(),
			}, time.Now()))
	}
}

// RawOutput streams block sample data to dest as sample-major little-endian
// float32 frames, one value per channel row per sample.
type RawOutput struct {
	q      *queue.Bounded
	dest   io.Writer
	logger zerolog.Logger
}

func NewRawOutput(dest io.Writer, queueCapacity int) *RawOutput {
	return &RawOutput{
		q:      queue.NewBounded(queueCapacity),
		dest:   dest,
		logger: log.With().Str("component", "raw-output").Logger(),
	}
}

func (o *RawOutput) Queue() *queue.Bounded {
	return o.q
}

func (o *RawOutput) Start(ctx context.Context) error {
	var b bytes.Buffer

	for {
		blk, err := o.q.Pop(ctx)
		if err != nil {
			return err
		}

		b.Reset()
		b.Grow(blk.Samples() * len(blk.Channels) * 4)
		frame := make([]float32, len(blk.Channels))
		for s := 0; s < blk.Samples(); s++ {
			for r, row := range blk.Channels {
				frame[r] = float32(row[s])
			}
			if err := binary.Write(&b, binary.LittleEndian, frame); err != nil {
				return err
			}
		}

		if _, err := b.WriteTo(o.dest); err != nil {
			return err
		}
	}
}
