package dsp

import "math"

const butterworthQ = math.Sqrt2 / 2

// biquad is one second-order IIR section in direct form 1.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// newHighPass builds a Butterworth high-pass section at the cutoff frequency.
func newHighPass(rate int, cutoff float64) *biquad {
	w0 := 2 * math.Pi * cutoff / float64(rate)
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)
	a0 := 1 + alpha

	return &biquad{
		b0: (1 + cosW0) / 2 / a0,
		b1: -(1 + cosW0) / a0,
		b2: (1 + cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// newLowPass builds a Butterworth low-pass section at the cutoff frequency.
func newLowPass(rate int, cutoff float64) *biquad {
	w0 := 2 * math.Pi * cutoff / float64(rate)
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)
	a0 := 1 + alpha

	return &biquad{
		b0: (1 - cosW0) / 2 / a0,
		b1: (1 - cosW0) / a0,
		b2: (1 - cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// bandPass restricts samples to the voice band with cascaded HP and LP sections.
func bandPass(samples []int16, rate int, lowHz, highHz float64) {
	hp := newHighPass(rate, lowHz)
	lp := newLowPass(rate, highHz)
	for i, s := range samples {
		samples[i] = clipSample(lp.process(hp.process(float64(s))))
	}
}
