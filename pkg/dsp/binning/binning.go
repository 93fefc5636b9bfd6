package binning

import (
	"errors"
	"fmt"

	"github.com/neurotap/neurotap/pkg/dsp/iir"
)

// Anti-aliasing design shared by every decimation factor: a 4th-order
// Butterworth lowpass with cutoff at 2·0.333/factor of the input Nyquist.
const (
	filterOrder  = 4
	filterFactor = 0.333
)

// Decimator reduces the sample rate of a channel-major block stream by an
// integer factor: lowpass filter, then subsample with a carried offset so
// that arbitrary block boundaries never skip or double-count a sample.
// Trigger words are OR-reduced over each decimation window and the sample
// counter is strided and rescaled to output-rate units.
//
// State (filter bank and subsample offset) is owned by the acquisition
// thread; a Decimator is not safe for concurrent use.
type Decimator struct {
	factor int
	offset int
	filt   *iir.Filter

	// trigAcc carries the OR of trigger words seen since the last emitted
	// sample across block boundaries.
	trigAcc uint32
}

// New builds a decimator for the given factor and channel count. A factor
// of 1 is an explicit pass-through. If the anti-aliasing design is not
// realizable, the returned decimator is a pass-through and the design error
// is returned alongside it for the caller to report.
func New(factor, channels int) (*Decimator, error) {
	if factor <= 1 {
		return &Decimator{factor: 1}, nil
	}
	if channels <= 0 {
		return &Decimator{factor: 1}, fmt.Errorf("channel count %d must be positive", channels)
	}

	wn := 2.0 * filterFactor / float64(factor)
	coef, err := iir.Butterworth(filterOrder, wn)
	if err != nil {
		var perr *iir.InvalidParametersError
		if errors.As(err, &perr) {
			return &Decimator{factor: 1}, err
		}
		return nil, err
	}
	return &Decimator{
		factor: factor,
		filt:   iir.NewFilter(coef, channels),
	}, nil
}

// Factor returns the effective decimation factor (1 for pass-through).
func (d *Decimator) Factor() int {
	return d.factor
}

// Offset returns the carried subsample offset, exposed for tests.
func (d *Decimator) Offset() int {
	return d.offset
}

// Reset clears filter state and subsample offset for a new session.
func (d *Decimator) Reset() {
	d.offset = 0
	d.trigAcc = 0
	if d.filt != nil {
		d.filt.Reset()
	}
}

// Process consumes one block. Channel rows are filtered in place and the
// returned slices hold the decimated data. All three inputs must share the
// sample dimension. A cycle whose sample count ends before the next
// subsample position yields zero output samples; the offset keeps advancing
// so the next block continues exactly where this one left off.
func (d *Decimator) Process(channels [][]float64, triggers []uint32, counters []uint64) ([][]float64, []uint32, []uint64, error) {
	if d.factor == 1 {
		return channels, triggers, counters, nil
	}

	n := 0
	if len(channels) > 0 {
		n = len(channels[0])
	}
	if len(triggers) != n || len(counters) != n {
		return nil, nil, nil, fmt.Errorf("sample dimension mismatch: %d channels samples, %d triggers, %d counters",
			n, len(triggers), len(counters))
	}

	if err := d.filt.Apply(channels); err != nil {
		return nil, nil, nil, err
	}

	// Number of emitted samples: positions offset, offset+factor, ...
	// that fall inside this block.
	m := 0
	if n > d.offset {
		m = (n - d.offset + d.factor - 1) / d.factor
	}

	out := make([][]float64, len(channels))
	for ch, row := range channels {
		dst := make([]float64, m)
		for k := 0; k < m; k++ {
			dst[k] = row[d.offset+k*d.factor]
		}
		out[ch] = dst
	}

	outCnt := make([]uint64, m)
	for k := 0; k < m; k++ {
		outCnt[k] = counters[d.offset+k*d.factor] / uint64(d.factor)
	}

	// OR-reduce triggers so any edge inside a window survives; windows end
	// at the emitted positions and the running accumulator spans blocks.
	outTrig := make([]uint32, 0, m)
	next := d.offset
	for i := 0; i < n; i++ {
		d.trigAcc |= triggers[i]
		if i == next {
			outTrig = append(outTrig, d.trigAcc)
			d.trigAcc = 0
			next += d.factor
		}
	}

	// Carry the sub-block boundary into the next call. For m > 0 this is
	// factor - (n - offset - (m-1)*factor); for m == 0 the pending
	// position simply moves n samples closer.
	d.offset = d.offset + m*d.factor - n

	return out, outTrig, outCnt, nil
}
