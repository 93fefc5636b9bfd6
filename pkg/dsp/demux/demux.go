package demux

import (
	"encoding/binary"
	"fmt"
)

const wordSize = 4

// Words appended to every sample frame after the signal channels.
const (
	triggerWords = 1
	counterWords = 1
)

// MalformedBufferError reports a raw transfer that cannot be reinterpreted
// as 32-bit words. The cycle must be skipped; the demuxer discards any
// carried partial frame so the stream re-synchronizes on the next read.
type MalformedBufferError struct {
	Length int
}

func (e *MalformedBufferError) Error() string {
	return fmt.Sprintf("raw buffer length %d is not 32-bit aligned", e.Length)
}

// Result is one demultiplexed raw transfer: a channel-major sample matrix in
// physical units plus the per-sample counter and trigger words.
type Result struct {
	// Channels is channel-major, scaled to physical units (µV).
	Channels [][]float64
	// Counters is the hardware sample counter widened to 64 bits with the
	// session wrap offset applied.
	Counters []uint64
	// Triggers holds the raw trigger-bit words.
	Triggers []uint32
}

// Samples returns the number of complete frames in the result.
func (r *Result) Samples() int {
	return len(r.Counters)
}

// Demuxer converts raw interleaved transfers into typed channel rows. Frames
// are laid out sample-major: one signed 32-bit little-endian word per signal
// channel, then a trigger word, then the 32-bit hardware sample counter.
//
// The demuxer owns two pieces of per-session state: the residual bytes of a
// partial trailing frame, prepended to the next read, and the 64-bit wrap
// offset accumulated every time the 32-bit hardware counter rolls over.
// It is not safe for concurrent use.
type Demuxer struct {
	channels int
	scale    []float64

	residual   []byte
	wrapOffset uint64
	prevRaw    uint32
	havePrev   bool
}

// New creates a demuxer for the given number of signal channels. scale holds
// one multiplier per channel row (resolution V/bit × 1e6 for µV) and must
// have exactly `channels` entries.
func New(channels int, scale []float64) (*Demuxer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count %d must be positive", channels)
	}
	if len(scale) != channels {
		return nil, fmt.Errorf("got %d scale factors for %d channels", len(scale), channels)
	}
	return &Demuxer{
		channels: channels,
		scale:    append([]float64(nil), scale...),
		residual: make([]byte, 0, (channels+triggerWords+counterWords)*wordSize),
	}, nil
}

// FrameBytes returns the byte length of one complete sample frame.
func (d *Demuxer) FrameBytes() int {
	return (d.channels + triggerWords + counterWords) * wordSize
}

// WrapOffset returns the accumulated counter wrap adjustment.
func (d *Demuxer) WrapOffset() uint64 {
	return d.wrapOffset
}

// Reset clears residual bytes and wrap accounting for a new session.
func (d *Demuxer) Reset() {
	d.residual = d.residual[:0]
	d.wrapOffset = 0
	d.prevRaw = 0
	d.havePrev = false
}

// Demux consumes one raw transfer. The bytes of a trailing partial frame are
// retained and prepended to the next call. A transfer that is not 32-bit
// aligned yields a MalformedBufferError and drops the carried residual.
func (d *Demuxer) Demux(raw []byte) (*Result, error) {
	if (len(d.residual)+len(raw))%wordSize != 0 {
		d.residual = d.residual[:0]
		return nil, &MalformedBufferError{Length: len(raw)}
	}

	buf := raw
	if len(d.residual) > 0 {
		buf = append(append(make([]byte, 0, len(d.residual)+len(raw)), d.residual...), raw...)
		d.residual = d.residual[:0]
	}

	frameBytes := d.FrameBytes()
	samples := len(buf) / frameBytes
	if tail := len(buf) - samples*frameBytes; tail > 0 {
		d.residual = append(d.residual[:0], buf[len(buf)-tail:]...)
		buf = buf[:len(buf)-tail]
	}
	if samples == 0 {
		return nil, nil
	}

	res := &Result{
		Channels: make([][]float64, d.channels),
		Counters: make([]uint64, samples),
		Triggers: make([]uint32, samples),
	}
	for ch := range res.Channels {
		res.Channels[ch] = make([]float64, samples)
	}

	for s := 0; s < samples; s++ {
		frame := buf[s*frameBytes : (s+1)*frameBytes]
		for ch := 0; ch < d.channels; ch++ {
			code := int32(binary.LittleEndian.Uint32(frame[ch*wordSize:]))
			res.Channels[ch][s] = float64(code) * d.scale[ch]
		}
		res.Triggers[s] = binary.LittleEndian.Uint32(frame[d.channels*wordSize:])

		counter := binary.LittleEndian.Uint32(frame[(d.channels+triggerWords)*wordSize:])
		if counter == 0 && d.havePrev && d.prevRaw != 0 {
			// 32-bit hardware counter rolled over.
			d.wrapOffset += 1 << 32
		}
		res.Counters[s] = uint64(counter) + d.wrapOffset
		d.prevRaw = counter
		d.havePrev = true
	}

	return res, nil
}
