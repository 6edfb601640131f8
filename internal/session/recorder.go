package session

import (
	"context"
	"errors"
	"time"

	"github.com/rbright/dictum/internal/asr"
)

// ErrPipelineUnavailable indicates the capture pipeline is not wired in.
var ErrPipelineUnavailable = errors.New("audio capture pipeline not available")

// StopResult carries one finished capture, conditioned and ready for
// recognition.
type StopResult struct {
	Audio         asr.Audio
	Duration      time.Duration
	AudioDevice   string
	BytesCaptured int64
}

// Recorder owns microphone capture for one episode at a time.
type Recorder interface {
	// Start begins capturing from the configured device.
	Start(ctx context.Context) error

	// Stop ends the capture and returns the conditioned audio. It reports
	// dsp.ErrTooShort when the capture is below the usable minimum.
	Stop(ctx context.Context) (StopResult, error)

	// Cancel ends the capture and discards everything buffered so far.
	Cancel(ctx context.Context) error
}

// PlaceholderRecorder stands in when no capture pipeline is wired.
type PlaceholderRecorder struct{}

// Start succeeds without capturing anything.
func (PlaceholderRecorder) Start(context.Context) error { return nil }

// Stop fails with ErrPipelineUnavailable.
func (PlaceholderRecorder) Stop(context.Context) (StopResult, error) {
	return StopResult{}, ErrPipelineUnavailable
}

// Cancel succeeds without doing anything.
func (PlaceholderRecorder) Cancel(context.Context) error { return nil }

// IsPipelineUnavailable reports whether an error represents missing pipeline wiring.
func IsPipelineUnavailable(err error) bool {
	return errors.Is(err, ErrPipelineUnavailable)
}
