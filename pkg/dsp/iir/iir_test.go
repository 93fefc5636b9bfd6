package iir

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestButterworthRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name  string
		order int
		wn    float64
	}{
		{"zero order", 0, 0.5},
		{"negative order", -1, 0.5},
		{"zero cutoff", 4, 0},
		{"negative cutoff", 4, -0.1},
		{"cutoff at nyquist", 4, 1},
		{"cutoff above nyquist", 4, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Butterworth(tt.order, tt.wn)
			var perr *InvalidParametersError
			if !errors.As(err, &perr) {
				t.Fatalf("Butterworth(%d, %v) error = %v, want InvalidParametersError", tt.order, tt.wn, err)
			}
		})
	}
}

func TestButterworthCoefficientShape(t *testing.T) {
	for _, order := range []int{1, 2, 4, 8} {
		coef, err := Butterworth(order, 0.25)
		if err != nil {
			t.Fatalf("Butterworth(%d, 0.25): %v", order, err)
		}
		if len(coef.B) != order+1 || len(coef.A) != order+1 {
			t.Fatalf("order %d: got %d/%d coefficients, want %d", order, len(coef.B), len(coef.A), order+1)
		}
		if coef.A[0] != 1 {
			t.Fatalf("order %d: a[0] = %v, want normalized to 1", order, coef.A[0])
		}
	}
}

// A lowpass must pass DC with unit gain and block the Nyquist frequency:
// H(1) == 1 and H(-1) == 0 up to rounding.
func TestButterworthGainAtBandEdges(t *testing.T) {
	for _, wn := range []float64{0.05, 0.1332, 0.333, 0.5, 0.9} {
		coef, err := Butterworth(4, wn)
		if err != nil {
			t.Fatalf("Butterworth(4, %v): %v", wn, err)
		}

		var sumB, sumA, altB, altA float64
		for i := range coef.B {
			sumB += coef.B[i]
			sumA += coef.A[i]
			sign := 1.0
			if i%2 == 1 {
				sign = -1
			}
			altB += sign * coef.B[i]
			altA += sign * coef.A[i]
		}

		if dc := sumB / sumA; math.Abs(dc-1) > 1e-9 {
			t.Errorf("wn=%v: DC gain = %v, want 1", wn, dc)
		}
		if ny := math.Abs(altB / altA); ny > 1e-9 {
			t.Errorf("wn=%v: Nyquist gain = %v, want 0", wn, ny)
		}
	}
}

func TestFilterSettlesToDC(t *testing.T) {
	coef, err := Butterworth(4, 0.1332)
	if err != nil {
		t.Fatal(err)
	}
	f := NewFilter(coef, 1)

	in := make([]float64, 4096)
	for i := range in {
		in[i] = 1
	}
	if err := f.Apply([][]float64{in}); err != nil {
		t.Fatal(err)
	}
	if got := in[len(in)-1]; math.Abs(got-1) > 1e-9 {
		t.Fatalf("steady state output = %v, want 1", got)
	}
}

func TestFilterAttenuatesNyquist(t *testing.T) {
	coef, err := Butterworth(4, 0.1332)
	if err != nil {
		t.Fatal(err)
	}
	f := NewFilter(coef, 1)

	in := make([]float64, 4096)
	for i := range in {
		in[i] = float64(1 - 2*(i%2))
	}
	if err := f.Apply([][]float64{in}); err != nil {
		t.Fatal(err)
	}
	if got := math.Abs(in[len(in)-1]); got > 1e-9 {
		t.Fatalf("Nyquist output = %v, want ~0", got)
	}
}

func TestFilterImpulseResponseDecays(t *testing.T) {
	coef, err := Butterworth(4, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	f := NewFilter(coef, 1)

	in := make([]float64, 1024)
	in[0] = 1
	if err := f.Apply([][]float64{in}); err != nil {
		t.Fatal(err)
	}
	if got := math.Abs(in[len(in)-1]); got > 1e-9 {
		t.Fatalf("impulse tail = %v, filter unstable", got)
	}
}

func TestFilterRejectsRowMismatch(t *testing.T) {
	coef, err := Butterworth(2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	f := NewFilter(coef, 2)
	if err := f.Apply([][]float64{make([]float64, 8)}); err == nil {
		t.Fatal("expected row count mismatch error")
	}
}

// Filtering must be invariant to how a stream is chunked: carried state has
// to make N calls over slices bit-identical to one call over the whole
// signal.
func TestFilterChunkingInvariance(t *testing.T) {
	coef, err := Butterworth(4, 0.1332)
	if err != nil {
		t.Fatal(err)
	}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 512).Draw(t, "n")
		signal := make([]float64, n)
		for i := range signal {
			signal[i] = rapid.Float64Range(-1e4, 1e4).Draw(t, "sample")
		}

		whole := append([]float64(nil), signal...)
		wholeFilter := NewFilter(coef, 1)
		if err := wholeFilter.Apply([][]float64{whole}); err != nil {
			t.Fatal(err)
		}

		chunked := append([]float64(nil), signal...)
		chunkedFilter := NewFilter(coef, 1)
		for off := 0; off < n; {
			size := rapid.IntRange(1, n-off).Draw(t, "chunk")
			if err := chunkedFilter.Apply([][]float64{chunked[off : off+size]}); err != nil {
				t.Fatal(err)
			}
			off += size
		}

		for i := range whole {
			if whole[i] != chunked[i] {
				t.Fatalf("sample %d: whole %v != chunked %v", i, whole[i], chunked[i])
			}
		}
	})
}
