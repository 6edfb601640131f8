package indicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCueSamplesPresent(t *testing.T) {
	require.NotEmpty(t, cueSamples(cueStart))
	require.NotEmpty(t, cueSamples(cueStop))
	require.NotEmpty(t, cueSamples(cueComplete))
	require.NotEmpty(t, cueSamples(cueCancel))
	require.Empty(t, cueSamples(cueKind(99)))
}

func TestSynthesizeToneDuration(t *testing.T) {
	got := synthesizeTone(toneSpec{frequencyHz: 440, duration: 100 * time.Millisecond, volume: 0.2})
	want := samplesForDuration(100 * time.Millisecond)
	require.Len(t, got, want)
}

func TestSynthesizeToneInvalidSpecReturnsEmpty(t *testing.T) {
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 0, duration: 100 * time.Millisecond, volume: 0.2}))
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 440, duration: 0, volume: 0.2}))
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 440, duration: 100 * time.Millisecond, volume: 0}))
}

func TestSynthesizeToneStaysWithinRange(t *testing.T) {
	pcm := synthesizeTone(toneSpec{frequencyHz: 880, duration: 50 * time.Millisecond, volume: 1.0})
	for _, sample := range pcm {
		require.LessOrEqual(t, sample, int16(32767))
		require.GreaterOrEqual(t, sample, int16(-32767))
	}
}

func TestSamplesForDuration(t *testing.T) {
	require.Equal(t, 0, samplesForDuration(0))
	require.Equal(t, cueSampleRate, samplesForDuration(time.Second))
	require.Greater(t, samplesForDuration(25*time.Millisecond), 0)
}

func TestEmitCueRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := emitCue(ctx, cueStart)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestMessagesLocales(t *testing.T) {
	require.Equal(t, localeEnglish, resolveLocale("en_US.UTF-8"))
	require.Equal(t, localeEnglish, resolveLocale("fr_FR.UTF-8"))
	require.Equal(t, localePortuguese, resolveLocale("pt_BR.UTF-8"))

	en := indicatorMessages(localeEnglish)
	require.Equal(t, "Recording…", en.recording)
	require.Equal(t, "Transcribing…", en.processing)

	pt := indicatorMessages(localePortuguese)
	require.Equal(t, "Gravando…", pt.recording)
	require.Equal(t, "Transcrevendo…", pt.processing)
}
