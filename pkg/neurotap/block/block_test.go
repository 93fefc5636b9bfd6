package block

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPropertiesOrdering(t *testing.T) {
	props := DefaultProperties(3, 2, nil)
	require.Len(t, props, 5)

	assert.Equal(t, "Ch1", props[0].Name)
	assert.Equal(t, GroupEEG, props[2].Group)
	assert.Equal(t, 3, props[2].Input)
	assert.Equal(t, "Aux1", props[3].Name)
	assert.Equal(t, GroupAUX, props[4].Group)
	assert.Equal(t, 2, props[4].Input)
	for _, p := range props {
		assert.True(t, p.Enabled)
	}
}

func TestDefaultPropertiesNamedLayout(t *testing.T) {
	props := DefaultProperties(2, 0, []string{"Fp1", "Fp2"})
	assert.Equal(t, "Fp1", props[0].Name)
	assert.Equal(t, "Fp2", props[1].Name)

	// A layout of the wrong length is ignored.
	props = DefaultProperties(2, 0, []string{"Fp1"})
	assert.Equal(t, "Ch1", props[0].Name)
}

func TestRefName(t *testing.T) {
	props := DefaultProperties(4, 0, []string{"Fp1", "Fp2", "Cz", "Pz"})
	assert.Equal(t, "Cz", RefName(props, []int{2}))
	assert.Equal(t, "Fp1+Pz", RefName(props, []int{0, 3}))
	assert.Equal(t, "", RefName(props, nil))
	assert.Equal(t, "Fp2", RefName(props, []int{1, 9}), "out-of-range indices are skipped")
}

func TestCloneIsDeep(t *testing.T) {
	orig := &AcquisitionBlock{
		Channels:          [][]float64{{1, 2}, {3, 4}},
		Counters:          []uint64{10, 11},
		Triggers:          []uint32{0, 1},
		SampleRate:        500,
		ChannelProperties: DefaultProperties(2, 0, nil),
		BlockTime:         time.Unix(100, 0),
		Mode:              ModeTest,
		RefChannelName:    "Ch2",
	}

	c := orig.Clone()
	require.Equal(t, orig, c)

	c.Channels[0][0] = -99
	c.Counters[1] = 0
	c.Triggers[0] = 7
	c.ChannelProperties[0].Name = "mutated"

	assert.Equal(t, 1.0, orig.Channels[0][0])
	assert.Equal(t, uint64(11), orig.Counters[1])
	assert.Equal(t, uint32(0), orig.Triggers[0])
	assert.Equal(t, "Ch1", orig.ChannelProperties[0].Name)
}

func TestSamples(t *testing.T) {
	b := &AcquisitionBlock{Counters: make([]uint64, 7)}
	assert.Equal(t, 7, b.Samples())
}
