package iir

import (
	"fmt"
	"math"
	"math/cmplx"
)

// InvalidParametersError reports an unrealizable filter design. Callers are
// expected to fall back to pass-through instead of aborting acquisition.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid filter parameters: %s", e.Reason)
}

// Coefficients holds a digital IIR transfer function in polynomial form,
// B(z)/A(z), with A normalized so A[0] == 1.
type Coefficients struct {
	B []float64
	A []float64
}

// Order returns the filter order (length of the carried state vector).
func (c Coefficients) Order() int {
	return len(c.A) - 1
}

// Butterworth designs a digital lowpass Butterworth filter of the given
// order. wn is the cutoff frequency normalized to the Nyquist frequency,
// 0 < wn < 1. The analog prototype poles are mapped through the bilinear
// transform and expanded into (b, a) polynomials.
func Butterworth(order int, wn float64) (Coefficients, error) {
	if order < 1 {
		return Coefficients{}, &InvalidParametersError{Reason: fmt.Sprintf("order %d < 1", order)}
	}
	if math.IsNaN(wn) || wn <= 0 {
		return Coefficients{}, &InvalidParametersError{Reason: fmt.Sprintf("cutoff %v not positive", wn)}
	}
	if wn >= 1 {
		return Coefficients{}, &InvalidParametersError{Reason: fmt.Sprintf("cutoff %v at or above Nyquist", wn)}
	}

	// Frequency pre-warp for the bilinear transform, sampling rate fixed
	// at fs = 2 so wn is already in Nyquist units.
	warped := 4.0 * math.Tan(math.Pi*wn/2.0)

	// Analog prototype poles spread on the left unit semicircle, scaled to
	// the warped cutoff.
	poles := make([]complex128, order)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k-order+1) / float64(2*order)
		poles[k] = complex(warped, 0) * -cmplx.Exp(complex(0, theta))
	}
	gain := math.Pow(warped, float64(order))

	// Bilinear transform z = (4 + p) / (4 - p); the lowpass picks up
	// `order` zeros at z = -1.
	const fs2 = 4.0
	zPoles := make([]complex128, order)
	denom := complex(1, 0)
	for i, p := range poles {
		zPoles[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
		denom *= complex(fs2, 0) - p
	}
	kz := gain / real(denom)

	b := make([]float64, order+1)
	for i, c := range binomial(order) {
		b[i] = kz * c
	}
	a := realPoly(zPoles)

	return Coefficients{B: b, A: a}, nil
}

// binomial returns the coefficients of (z + 1)^n, highest power first.
func binomial(n int) []float64 {
	c := make([]float64, n+1)
	c[0] = 1
	for i := 1; i <= n; i++ {
		for j := i; j > 0; j-- {
			c[j] += c[j-1]
		}
	}
	return c
}

// realPoly expands a monic polynomial from its complex roots and returns the
// real coefficient vector, highest power first. Roots must come in conjugate
// pairs for the result to be meaningful.
func realPoly(roots []complex128) []float64 {
	coeffs := make([]complex128, len(roots)+1)
	coeffs[0] = 1
	for _, r := range roots {
		for j := len(coeffs) - 1; j > 0; j-- {
			coeffs[j] -= r * coeffs[j-1]
		}
	}
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c)
	}
	return out
}

// Filter applies an IIR transfer function across the time axis of a
// channel-major matrix, carrying one state vector per channel between calls
// so that block boundaries are seamless.
type Filter struct {
	coef Coefficients
	zi   [][]float64
}

// NewFilter builds a filter bank with zeroed initial conditions, one state
// vector per channel.
func NewFilter(coef Coefficients, channels int) *Filter {
	zi := make([][]float64, channels)
	for i := range zi {
		zi[i] = make([]float64, coef.Order())
	}
	return &Filter{coef: coef, zi: zi}
}

// Channels returns the number of per-channel state vectors.
func (f *Filter) Channels() int {
	return len(f.zi)
}

// Reset zeroes all carried state.
func (f *Filter) Reset() {
	for _, z := range f.zi {
		for i := range z {
			z[i] = 0
		}
	}
}

// Apply filters every channel row in place. The row count must match the
// channel count the filter was built for.
func (f *Filter) Apply(m [][]float64) error {
	if len(m) != len(f.zi) {
		return fmt.Errorf("filter bank has %d channels, matrix has %d rows", len(f.zi), len(m))
	}
	for ch, row := range m {
		f.applyRow(row, f.zi[ch])
	}
	return nil
}

// applyRow runs the transposed direct-form-II recurrence over one row,
// updating the carried state in place.
func (f *Filter) applyRow(x []float64, zi []float64) {
	b, a := f.coef.B, f.coef.A
	n := len(zi)
	for i, xi := range x {
		y := b[0]*xi + zi[0]
		for j := 0; j < n-1; j++ {
			zi[j] = b[j+1]*xi + zi[j+1] - a[j+1]*y
		}
		zi[n-1] = b[n]*xi - a[n]*y
		x[i] = y
	}
}
