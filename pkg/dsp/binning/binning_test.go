package binning

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/mjibson/go-dsp/fft"
	"pgregory.net/rapid"
)

func ramp(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func seqCounters(n int, start uint64) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = start + uint64(i)
	}
	return out
}

func TestFactorOnePassesThrough(t *testing.T) {
	d, err := New(1, 3)
	if err != nil {
		t.Fatal(err)
	}

	in := [][]float64{ramp(7, 0), ramp(7, 100), ramp(7, 200)}
	trig := []uint32{1, 0, 2, 0, 4, 0, 8}
	cnt := seqCounters(7, 42)

	ch, outTrig, outCnt, err := d.Process(in, trig, cnt)
	if err != nil {
		t.Fatal(err)
	}
	if len(outCnt) != 7 {
		t.Fatalf("got %d samples, want 7", len(outCnt))
	}
	for i := range cnt {
		if outCnt[i] != cnt[i] || outTrig[i] != trig[i] {
			t.Fatalf("sample %d: counter/trigger changed in pass-through", i)
		}
	}
	if ch[1][3] != 103 {
		t.Fatalf("channel data changed in pass-through: %v", ch[1][3])
	}
}

// Output counters must increment by exactly one per output sample for a
// gap-free input stream, regardless of how the stream is chunked.
func TestCountersStayConsecutive(t *testing.T) {
	const factor = 5
	d, err := New(factor, 1)
	if err != nil {
		t.Fatal(err)
	}

	var all []uint64
	next := uint64(0)
	for _, n := range []int{500, 3, 7, 490, 250} {
		_, _, outCnt, err := d.Process([][]float64{ramp(n, 0)}, make([]uint32, n), seqCounters(n, next))
		if err != nil {
			t.Fatal(err)
		}
		next += uint64(n)
		all = append(all, outCnt...)
	}

	if len(all) == 0 {
		t.Fatal("no output samples")
	}
	for i := 1; i < len(all); i++ {
		if all[i] != all[i-1]+1 {
			t.Fatalf("output counter gap at %d: %d -> %d", i, all[i-1], all[i])
		}
	}
	if all[0] != 0 {
		t.Fatalf("first output counter = %d, want 0", all[0])
	}
}

func TestZeroOutputCycleCarriesState(t *testing.T) {
	const factor = 10
	d, err := New(factor, 1)
	if err != nil {
		t.Fatal(err)
	}

	// First cycle emits the sample at offset 0 and leaves offset 3.
	_, _, out, err := d.Process([][]float64{ramp(7, 0)}, make([]uint32, 7), seqCounters(7, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d outputs, want 1", len(out))
	}

	// Too short to reach the next emission index.
	_, _, out, err = d.Process([][]float64{ramp(2, 7)}, make([]uint32, 2), seqCounters(2, 7))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d outputs from short cycle, want 0", len(out))
	}

	// The next emission lands at absolute index 10, one sample in.
	_, _, out, err = d.Process([][]float64{ramp(5, 9)}, make([]uint32, 5), seqCounters(5, 9))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("got outputs %v, want [1]", out)
	}
}

// Every trigger bit set anywhere in the input must survive into the output
// stream: bits are OR-reduced over each decimation window, never sampled.
func TestTriggerBitsNeverLost(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		factor := rapid.IntRange(2, 16).Draw(t, "factor")
		m := rapid.IntRange(1, 40).Draw(t, "windows")
		// n-1 is an emission index, so every input lands in some window.
		n := m*factor + 1

		trig := make([]uint32, n)
		var wantOR uint32
		for i := range trig {
			trig[i] = rapid.Uint32Range(0, 255).Draw(t, "trig")
			wantOR |= trig[i]
		}

		d, err := New(factor, 1)
		if err != nil {
			t.Fatal(err)
		}
		_, outTrig, _, err := d.Process([][]float64{ramp(n, 0)}, trig, seqCounters(n, 0))
		if err != nil {
			t.Fatal(err)
		}

		var gotOR uint32
		for _, v := range outTrig {
			gotOR |= v
		}
		if gotOR != wantOR {
			t.Fatalf("trigger OR mismatch: got %#x, want %#x", gotOR, wantOR)
		}
	})
}

// Chunking must not change the output stream: one call over the whole input
// and many calls over arbitrary slices of it produce identical samples,
// counters and triggers.
func TestChunkingInvariance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		factor := rapid.IntRange(2, 12).Draw(t, "factor")
		n := rapid.IntRange(1, 600).Draw(t, "n")

		signal := make([]float64, n)
		for i := range signal {
			signal[i] = math.Sin(float64(i) / 17)
		}
		trig := make([]uint32, n)
		for i := range trig {
			trig[i] = rapid.Uint32Range(0, 15).Draw(t, "trig")
		}
		cnt := seqCounters(n, 0)

		whole, err := New(factor, 1)
		if err != nil {
			t.Fatal(err)
		}
		wCh, wTrig, wCnt, err := whole.Process([][]float64{append([]float64(nil), signal...)}, append([]uint32(nil), trig...), cnt)
		if err != nil {
			t.Fatal(err)
		}

		chunked, err := New(factor, 1)
		if err != nil {
			t.Fatal(err)
		}
		var cCh []float64
		var cTrig []uint32
		var cCnt []uint64
		for off := 0; off < n; {
			size := rapid.IntRange(1, n-off).Draw(t, "chunk")
			ch, tg, cn, err := chunked.Process(
				[][]float64{append([]float64(nil), signal[off:off+size]...)},
				append([]uint32(nil), trig[off:off+size]...),
				cnt[off:off+size])
			if err != nil {
				t.Fatal(err)
			}
			cCh = append(cCh, ch[0]...)
			cTrig = append(cTrig, tg...)
			cCnt = append(cCnt, cn...)
			off += size
		}

		if len(cCnt) != len(wCnt) {
			t.Fatalf("output length: chunked %d, whole %d", len(cCnt), len(wCnt))
		}
		for i := range wCnt {
			if cCnt[i] != wCnt[i] {
				t.Fatalf("counter %d: chunked %d, whole %d", i, cCnt[i], wCnt[i])
			}
			if cTrig[i] != wTrig[i] {
				t.Fatalf("trigger %d: chunked %#x, whole %#x", i, cTrig[i], wTrig[i])
			}
			if cCh[i] != wCh[0][i] {
				t.Fatalf("sample %d: chunked %v, whole %v", i, cCh[i], wCh[0][i])
			}
		}
	})
}

// A tone above the decimated Nyquist must not alias into the output: the
// anti-aliasing filter has to leave the in-band tone dominant.
func TestAliasRejection(t *testing.T) {
	const (
		factor  = 5
		inRate  = 1000.0
		outRate = inRate / factor
		lowHz   = 10.0
		highHz  = 300.0
	)

	d, err := New(factor, 1)
	if err != nil {
		t.Fatal(err)
	}

	n := 1 << 15
	in := make([]float64, n)
	for i := range in {
		ts := float64(i) / inRate
		in[i] = math.Sin(2*math.Pi*lowHz*ts) + math.Sin(2*math.Pi*highHz*ts)
	}

	out, _, _, err := d.Process([][]float64{in}, make([]uint32, n), seqCounters(n, 0))
	if err != nil {
		t.Fatal(err)
	}

	// Drop the filter transient, window, and locate the dominant bin.
	const fftSize = 4096
	seg := out[0][len(out[0])-fftSize:]
	windowed := make([]float64, fftSize)
	for i := range seg {
		hann := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
		windowed[i] = seg[i] * hann
	}

	spectrum := fft.FFTReal(windowed)
	peakBin, peakMag := 0, 0.0
	for bin := 1; bin < fftSize/2; bin++ {
		if mag := cmplx.Abs(spectrum[bin]); mag > peakMag {
			peakBin, peakMag = bin, mag
		}
	}

	peakHz := float64(peakBin) * outRate / fftSize
	if math.Abs(peakHz-lowHz) > 2 {
		t.Fatalf("dominant tone at %.1f Hz, want ~%.0f Hz", peakHz, lowHz)
	}

	// The 300 Hz tone folds onto 100 Hz; it must sit far below the carrier.
	aliasBin := int(100.0 / outRate * fftSize)
	aliasMag := cmplx.Abs(spectrum[aliasBin])
	if aliasMag > peakMag/20 {
		t.Fatalf("alias magnitude %v vs peak %v, insufficient rejection", aliasMag, peakMag)
	}
}
