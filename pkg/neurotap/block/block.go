package block

import (
	"strconv"
	"strings"
	"time"
)

// RecordingMode selects the tick behavior of the acquisition engine.
type RecordingMode int

const (
	ModeNormal RecordingMode = iota
	ModeTest
	ModeImpedance
	ModeLEDTest
)

func (m RecordingMode) String() string {
	switch m {
	case ModeNormal:
		return "acquisition"
	case ModeTest:
		return "test signal"
	case ModeImpedance:
		return "impedance measurement"
	case ModeLEDTest:
		return "electrode LED test"
	}
	return "unknown"
}

// ChannelGroup classifies a hardware input channel.
type ChannelGroup int

const (
	GroupEEG ChannelGroup = iota
	GroupAUX
	GroupEXG
	GroupREF
)

var groupNames = []string{"EEG", "AUX", "EXG", "REF"}

func (g ChannelGroup) String() string {
	if int(g) < len(groupNames) {
		return groupNames[g]
	}
	return "unknown"
}

// Column assignment of impedance values inside a diagnostic block.
const (
	ImpedanceData = 0
	ImpedanceRef  = 1
	ImpedanceGND  = 2
)

// ImpedanceInvalid marks a disconnected electrode.
const ImpedanceInvalid = 999900

// ChannelProperties carries per-channel metadata. The ordering of a
// properties slice is the row ordering of the channel matrix it describes.
type ChannelProperties struct {
	Input       int // hardware input number within its group, 1-based
	InputGroup  ChannelGroup
	Group       ChannelGroup
	Name        string
	RefName     string
	Enabled     bool
	IsReference bool
	Lowpass     float64 // Hz, 0 = off
	Highpass    float64 // Hz, 0 = off
	NotchFilter bool
	Unit        string // empty = µV
}

// DefaultProperties builds the canonical channel ordering for a hardware
// configuration: EEG channels first, then AUX. Names may be overridden for
// devices that ship a fixed electrode layout.
func DefaultProperties(eeg, aux int, eegNames []string) []ChannelProperties {
	props := make([]ChannelProperties, 0, eeg+aux)
	for c := 0; c < eeg; c++ {
		name := "Ch" + strconv.Itoa(c+1)
		if len(eegNames) == eeg {
			name = eegNames[c]
		}
		props = append(props, ChannelProperties{
			Input:      c + 1,
			InputGroup: GroupEEG,
			Group:      GroupEEG,
			Name:       name,
			Enabled:    true,
		})
	}
	for c := 0; c < aux; c++ {
		props = append(props, ChannelProperties{
			Input:      c + 1,
			InputGroup: GroupAUX,
			Group:      GroupAUX,
			Name:       "Aux" + strconv.Itoa(c+1),
			Enabled:    true,
		})
	}
	return props
}

// RefName joins the names of the reference channels the way the combined
// reference is labeled downstream.
func RefName(props []ChannelProperties, refIndices []int) string {
	names := make([]string, 0, len(refIndices))
	for _, idx := range refIndices {
		if idx >= 0 && idx < len(props) {
			names = append(names, props[idx].Name)
		}
	}
	return strings.Join(names, "+")
}

// AcquisitionBlock is the unit exchanged between pipeline stages. Stages and
// consumers must not mutate a block they did not create; fan-out hands every
// consumer but the last an independent Clone.
type AcquisitionBlock struct {
	// Channels is channel-major: Channels[row][sample].
	Channels [][]float64
	// Counters holds one monotonic 64-bit sample counter per sample,
	// in output-rate units.
	Counters []uint64
	// Triggers holds one trigger-bit word per sample.
	Triggers []uint32

	SampleRate        float64
	ChannelProperties []ChannelProperties
	BlockTime         time.Time
	Mode              RecordingMode
	RefChannelName    string

	// ProcessTime accumulates pipeline processing spent on this block.
	ProcessTime time.Duration
}

// Samples returns the shared sample dimension of the block.
func (b *AcquisitionBlock) Samples() int {
	return len(b.Counters)
}

// Clone returns a deep copy safe to hand to another consumer.
func (b *AcquisitionBlock) Clone() *AcquisitionBlock {
	c := &AcquisitionBlock{
		Channels:          make([][]float64, len(b.Channels)),
		Counters:          append([]uint64(nil), b.Counters...),
		Triggers:          append([]uint32(nil), b.Triggers...),
		SampleRate:        b.SampleRate,
		ChannelProperties: append([]ChannelProperties(nil), b.ChannelProperties...),
		BlockTime:         b.BlockTime,
		Mode:              b.Mode,
		RefChannelName:    b.RefChannelName,
		ProcessTime:       b.ProcessTime,
	}
	for i, row := range b.Channels {
		c.Channels[i] = append([]float64(nil), row...)
	}
	return c
}

