package reference

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/neurotap/neurotap/pkg/neurotap/block"
)

// Compositor subtracts the averaged reference signal from the EEG channels
// of a block and drops disabled reference rows from the output. The index
// sets are resolved ahead of time by the channel configuration (including
// the single-vs-multiple reference policy); the compositor only executes
// them.
type Compositor struct {
	// refIndices selects the rows averaged into the reference signal.
	refIndices []int
	// removeIndices selects the rows deleted from the output, ascending.
	removeIndices []int
	// eegRows bounds the rows the reference is subtracted from; AUX and
	// other non-EEG rows stay untouched.
	eegRows int

	mean []float64
}

// New builds a compositor. removeIndices must be sorted ascending.
func New(refIndices, removeIndices []int, eegRows int) *Compositor {
	return &Compositor{
		refIndices:    append([]int(nil), refIndices...),
		removeIndices: append([]int(nil), removeIndices...),
		eegRows:       eegRows,
	}
}

// Active reports whether the compositor changes blocks at all.
func (c *Compositor) Active() bool {
	return len(c.refIndices) > 0
}

// Apply rewrites the channel matrix and properties snapshot of one block.
// The matrix is mutated in place; the returned slices are the block's new
// logical content (shorter when reference rows are removed). A block with no
// configured reference channels passes through unchanged.
func (c *Compositor) Apply(channels [][]float64, props []block.ChannelProperties) ([][]float64, []block.ChannelProperties, error) {
	if len(c.refIndices) == 0 {
		return channels, props, nil
	}
	for _, idx := range c.refIndices {
		if idx < 0 || idx >= len(channels) {
			return nil, nil, fmt.Errorf("reference row %d out of range (%d rows)", idx, len(channels))
		}
	}

	samples := len(channels[c.refIndices[0]])
	if cap(c.mean) < samples {
		c.mean = make([]float64, samples)
	}
	mean := c.mean[:samples]
	for i := range mean {
		mean[i] = 0
	}

	for _, idx := range c.refIndices {
		floats.Add(mean, channels[idx])
	}
	floats.Scale(1/float64(len(c.refIndices)), mean)

	rows := c.eegRows
	if rows > len(channels) {
		rows = len(channels)
	}
	for r := 0; r < rows; r++ {
		floats.Sub(channels[r], mean)
	}

	if len(c.removeIndices) == 0 {
		return channels, props, nil
	}

	outCh := channels[:0]
	outProps := make([]block.ChannelProperties, 0, len(props))
	skip := make(map[int]struct{}, len(c.removeIndices))
	for _, idx := range c.removeIndices {
		skip[idx] = struct{}{}
	}
	for r := range channels {
		if _, drop := skip[r]; drop {
			continue
		}
		outCh = append(outCh, channels[r])
		if r < len(props) {
			outProps = append(outProps, props[r])
		}
	}
	return outCh, outProps, nil
}
