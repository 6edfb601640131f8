// Package dsp conditions captured PCM audio ahead of recognition.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rbright/dictum/internal/config"
)

// ErrTooShort reports a capture below the minimum usable duration.
var ErrTooShort = errors.New("captured audio too short")

const (
	fullScale = 32767.0

	// preClipFraction bounds raw input before any gain stage runs.
	preClipFraction = 0.95

	tickMS            = 10
	tickAmplitude     = 0.1
	faintSpeechCutoff = 30.0
)

// Conditioned is the processed sample buffer handed to recognition.
type Conditioned struct {
	Samples       []int16
	SampleRate    int
	Duration      time.Duration
	RMS           float64
	Peak          int16
	SpeechPercent float64
}

// Condition runs the full conditioning chain over one captured episode.
//
// The input slice is never mutated. All gain stages clip at the 16-bit
// range instead of wrapping.
func Condition(samples []int16, rate int, cfg config.DSPConfig) (Conditioned, error) {
	if rate <= 0 {
		return Conditioned{}, errors.New("sample rate must be positive")
	}

	duration := durationOf(len(samples), rate)
	minDuration := time.Duration(cfg.MinDurationMS) * time.Millisecond
	if duration < minDuration {
		return Conditioned{}, fmt.Errorf("%w: %v < %v", ErrTooShort, duration, minDuration)
	}

	out := make([]int16, len(samples))
	copy(out, samples)
	preClip(out)

	rms := RMS(out)
	out, allSilent := trimSilence(out, rate, cfg, rms)

	if allSilent {
		applyGain(out, cfg.EmergencyGain)
	}

	percent := speechPercent(out, rate, cfg, RMS(out))
	if !allSilent {
		applyGain(out, speechGain(percent))
	}

	normalize(out, cfg, percent)
	bandPass(out, rate, cfg.BandLowHz, cfg.BandHighHz)
	out = pad(out, rate, cfg.PadMS)

	return Conditioned{
		Samples:       out,
		SampleRate:    rate,
		Duration:      durationOf(len(out), rate),
		RMS:           RMS(out),
		Peak:          Peak(out),
		SpeechPercent: percent,
	}, nil
}

// Concat flattens captured frames into one contiguous sample buffer.
func Concat(frames [][]int16) []int16 {
	total := 0
	for _, frame := range frames {
		total += len(frame)
	}
	out := make([]int16, 0, total)
	for _, frame := range frames {
		out = append(out, frame...)
	}
	return out
}

// RMS returns the root-mean-square energy of samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the maximum absolute sample value.
func Peak(samples []int16) int16 {
	var peak int16
	for _, s := range samples {
		a := s
		if a < 0 {
			if a == math.MinInt16 {
				a = math.MaxInt16
			} else {
				a = -a
			}
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}

// speechGain widens amplification when little of the buffer is speech.
func speechGain(percent float64) float64 {
	if percent >= 50 {
		return 2.0
	}
	if percent <= 0 {
		return 30
	}
	gain := 20 * (50 / percent)
	if gain < 8 {
		gain = 8
	}
	if gain > 30 {
		gain = 30
	}
	return gain
}

// normalize scales toward the target peak, bounded by the configured gain ceiling.
func normalize(samples []int16, cfg config.DSPConfig, percent float64) {
	peak := Peak(samples)
	if peak == 0 {
		return
	}

	limit := cfg.MaxGain
	if percent < faintSpeechCutoff {
		limit = cfg.FaintMaxGain
	}

	gain := cfg.TargetPeakFraction * fullScale / float64(peak)
	if gain > limit {
		gain = limit
	}
	applyGain(samples, gain)
}

// pad adds a silence margin on both ends and a short attention tick after the lead-in.
func pad(samples []int16, rate int, padMS int) []int16 {
	padN := rate * padMS / 1000
	tickN := rate * tickMS / 1000

	out := make([]int16, 0, 2*padN+tickN+len(samples))
	out = append(out, make([]int16, padN)...)
	for i := 0; i < tickN; i++ {
		v := math.Sin(math.Pi*float64(i)/float64(tickN)) * tickAmplitude * fullScale
		out = append(out, int16(math.Round(v)))
	}
	out = append(out, samples...)
	out = append(out, make([]int16, padN)...)
	return out
}

func preClip(samples []int16) {
	preClipBound := preClipFraction * fullScale
	bound := int16(preClipBound)
	for i, s := range samples {
		if s > bound {
			samples[i] = bound
		} else if s < -bound {
			samples[i] = -bound
		}
	}
}

func applyGain(samples []int16, gain float64) {
	for i, s := range samples {
		samples[i] = clipSample(float64(s) * gain)
	}
}

func clipSample(v float64) int16 {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

func durationOf(n, rate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(rate)
}
