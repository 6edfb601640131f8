package dsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSilenceThresholdClampsToFloorAndCeiling(t *testing.T) {
	cfg := testDSPConfig()

	tests := []struct {
		name string
		rms  float64
		want float64
	}{
		{name: "quiet clamps to floor", rms: 200, want: 100},
		{name: "loud clamps to ceiling", rms: 50000, want: 1000},
		{name: "midrange scales", rms: 5000, want: 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, silenceThreshold(tc.rms, cfg), 1e-9)
		})
	}
}

func TestTrimSilenceRemovesEdgesWithMargin(t *testing.T) {
	cfg := testDSPConfig()
	rate := 16000

	samples := Concat([][]int16{
		silence(rate / 2),
		sine(rate/2, rate, 1000, 3000),
		silence(rate / 2),
	})

	trimmed, allSilent := trimSilence(samples, rate, cfg, RMS(samples))
	require.False(t, allSilent)

	// Speech spans [8000, 16000); a 50ms margin is kept on both sides.
	require.Len(t, trimmed, 9600)
}

func TestTrimSilenceAllSilentReturnsUntrimmed(t *testing.T) {
	cfg := testDSPConfig()
	samples := sine(16000, 16000, 1000, 40)

	trimmed, allSilent := trimSilence(samples, 16000, cfg, RMS(samples))
	require.True(t, allSilent)
	require.Len(t, trimmed, len(samples))
}

func TestTrimSilenceShortSpeechCompressesRunsInstead(t *testing.T) {
	cfg := testDSPConfig()
	rate := 16000

	// 150ms of speech between two full seconds of silence: the trim window
	// would fall below the minimum duration, so long runs are compressed.
	samples := Concat([][]int16{
		silence(rate),
		sine(rate*150/1000, rate, 1000, 3000),
		silence(rate),
	})

	trimmed, allSilent := trimSilence(samples, rate, cfg, RMS(samples))
	require.False(t, allSilent)

	// Each one-second silence run collapses to 100ms.
	want := rate*100/1000 + rate*150/1000 + rate*100/1000
	require.Len(t, trimmed, want)

	minSamples := rate * cfg.MinDurationMS / 1000
	require.GreaterOrEqual(t, len(trimmed), minSamples)
}

func TestSpeechPercentMeasuresActiveShare(t *testing.T) {
	cfg := testDSPConfig()
	rate := 16000

	half := Concat([][]int16{
		sine(rate/2, rate, 1000, 3000),
		silence(rate / 2),
	})

	percent := speechPercent(half, rate, cfg, RMS(half))
	require.InDelta(t, 50, percent, 5)

	require.Zero(t, speechPercent(nil, rate, cfg, 0))
}
