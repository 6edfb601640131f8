// Package asr runs conditioned audio through a fallback chain of speech
// recognition services and picks the strongest transcript.
package asr

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// ErrNoMatch reports that recognition produced no usable text. Callers treat
// it as "nothing to commit," not a failure.
var ErrNoMatch = errors.New("no speech recognized")

// ErrUnavailable marks a service that cannot run at all, usually missing
// credentials. The orchestrator skips such services instead of failing.
var ErrUnavailable = errors.New("recognition service unavailable")

// Audio is one conditioned utterance handed to recognizers.
type Audio struct {
	PCM        []int16
	SampleRate int
}

// Duration returns the utterance length.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)) * time.Second / time.Duration(a.SampleRate)
}

// Bytes returns the samples as little-endian s16 PCM.
func (a Audio) Bytes() []byte {
	out := make([]byte, len(a.PCM)*2)
	for i, s := range a.PCM {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Service is a single speech-recognition back-end.
type Service interface {
	Name() string
	Recognize(ctx context.Context, audio Audio, language string) (string, error)
}

// Streamer is implemented by services with a continuous, event-driven mode.
type Streamer interface {
	RecognizeStream(ctx context.Context, audio Audio, language string) (string, error)
}

// Isolator is implemented by services that can retry with a fresh, minimal
// configuration after the tuned paths produced nothing.
type Isolator interface {
	RecognizeIsolated(ctx context.Context, audio Audio, language string) (string, error)
}

// Resettable is implemented by services holding SDK handles worth recycling.
type Resettable interface {
	Reset(ctx context.Context) error
}
