// Package pipeline owns the capture side of one dictation episode: device
// selection, Pulse capture, frame accumulation, and signal conditioning.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/dictum/internal/asr"
	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/dsp"
	"github.com/rbright/dictum/internal/observe"
	"github.com/rbright/dictum/internal/session"
)

const (
	// queuePollTimeout bounds each consumer wait so a stalled stream never
	// blocks shutdown, and gives the loop a beat to sample queue depth.
	queuePollTimeout = 200 * time.Millisecond

	// consumerJoinTimeout bounds the wait for the frame consumer to drain
	// after capture stops.
	consumerJoinTimeout = 3 * time.Second
)

// captureClient is the capture surface the recorder drives.
type captureClient interface {
	Frames() <-chan []int16
	Stop() error
	BytesCaptured() int64
	Dropped() int64
	Format() audio.Format
}

// Recorder accumulates PCM frames for one episode and conditions them on
// stop. Frames are never processed mid-session; everything captured between
// Start and Stop feeds one conditioning pass.
type Recorder struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *observe.Metrics
	prober  *audio.Prober

	selectDevice func(ctx context.Context, input, fallback string) (audio.Selection, error)
	startCapture func(ctx context.Context, device audio.Device, format audio.Format, queueFrames int) (captureClient, error)

	mu        sync.Mutex
	started   bool
	selection audio.Selection
	capture   captureClient
	collected []int16
	done      chan struct{}
}

// NewRecorder constructs a recorder from runtime config.
func NewRecorder(cfg config.Config, logger *slog.Logger, metrics *observe.Metrics) *Recorder {
	if metrics == nil {
		metrics = observe.Noop()
	}
	return &Recorder{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		prober:       audio.NewProber(time.Duration(cfg.Audio.ProbeTTLSeconds) * time.Second),
		selectDevice: audio.SelectDevice,
		startCapture: func(ctx context.Context, device audio.Device, format audio.Format, queueFrames int) (captureClient, error) {
			return audio.StartCapture(ctx, device, format, queueFrames)
		},
	}
}

// Start resolves the input device and begins capturing frames.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("recorder already started")
	}

	selection, err := r.selectDevice(ctx, r.cfg.Audio.Input, r.cfg.Audio.Fallback)
	if err != nil {
		return err
	}
	r.selection = selection
	if selection.Warning != "" {
		r.logWarn(selection.Warning)
	}

	format := audio.Format{
		SampleRate: r.cfg.Audio.SampleRate,
		Channels:   r.cfg.Audio.Channels,
		FrameMS:    r.cfg.Audio.FrameMS,
	}
	capture, err := r.startCapture(ctx, selection.Device, format, r.cfg.Audio.QueueFrames)
	if err != nil {
		return err
	}

	r.capture = capture
	r.collected = nil
	r.done = make(chan struct{})
	go r.consume(capture, r.done)

	if r.prober != nil {
		go r.probeInput(selection.Device)
	}

	r.started = true
	return nil
}

// Stop halts capture, drains every frame that arrived before the stream
// closed, and conditions the accumulated audio.
func (r *Recorder) Stop(ctx context.Context) (session.StopResult, error) {
	r.mu.Lock()
	started := r.started
	capture := r.capture
	done := r.done
	selection := r.selection
	r.started = false
	r.capture = nil
	r.done = nil
	r.mu.Unlock()

	if !started || capture == nil {
		return session.StopResult{}, session.ErrPipelineUnavailable
	}

	if err := capture.Stop(); err != nil {
		r.logWarn(fmt.Sprintf("capture stop: %v", err))
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(consumerJoinTimeout):
			return session.StopResult{}, fmt.Errorf("capture consumer did not drain within %v", consumerJoinTimeout)
		}
	}

	r.mu.Lock()
	samples := r.collected
	r.collected = nil
	r.mu.Unlock()

	if dropped := capture.Dropped(); dropped > 0 {
		r.metrics.FramesDropped.Add(ctx, dropped)
		r.logWarn(fmt.Sprintf("capture dropped %d frames under backpressure", dropped))
	}

	rate := capture.Format().SampleRate
	result := session.StopResult{
		AudioDevice:   describeDevice(selection.Device),
		BytesCaptured: capture.BytesCaptured(),
	}

	r.writeDebugAudio("raw", samples, rate)

	conditioned, err := dsp.Condition(samples, rate, r.cfg.DSP)
	if err != nil {
		if errors.Is(err, dsp.ErrTooShort) {
			return result, err
		}
		return result, fmt.Errorf("condition capture: %w", err)
	}

	r.writeDebugAudio("conditioned", conditioned.Samples, conditioned.SampleRate)
	r.logDebug("capture conditioned",
		"duration_ms", conditioned.Duration.Milliseconds(),
		"rms", conditioned.RMS,
		"speech_percent", conditioned.SpeechPercent,
	)

	result.Audio = asr.Audio{PCM: conditioned.Samples, SampleRate: conditioned.SampleRate}
	result.Duration = conditioned.Duration
	return result, nil
}

// Cancel halts capture and discards everything collected so far.
func (r *Recorder) Cancel(_ context.Context) error {
	r.mu.Lock()
	capture := r.capture
	done := r.done
	r.started = false
	r.capture = nil
	r.done = nil
	r.mu.Unlock()

	if capture == nil {
		return nil
	}

	_ = capture.Stop()
	if done != nil {
		select {
		case <-done:
		case <-time.After(consumerJoinTimeout):
		}
	}

	r.mu.Lock()
	samples := r.collected
	r.collected = nil
	r.mu.Unlock()

	r.writeDebugAudio("raw", samples, capture.Format().SampleRate)
	return nil
}

// consume drains capture frames into the episode buffer until the stream
// closes.
func (r *Recorder) consume(capture captureClient, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	var lastDepth int64
	sampleDepth := func() {
		depth := int64(len(capture.Frames()))
		if depth != lastDepth {
			r.metrics.QueueDepth.Add(ctx, depth-lastDepth)
			lastDepth = depth
		}
	}

	for {
		select {
		case frame, ok := <-capture.Frames():
			if !ok {
				sampleDepth()
				return
			}
			r.mu.Lock()
			r.collected = append(r.collected, frame...)
			r.mu.Unlock()
			r.metrics.FramesCaptured.Add(ctx, 1)
		case <-time.After(queuePollTimeout):
			sampleDepth()
		}
	}
}

// probeInput checks the selected device in the background and warns when it
// reads silent.
func (r *Recorder) probeInput(device audio.Device) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := r.prober.Probe(ctx, device)
	if err != nil {
		r.logDebug("input probe failed", "device", device.ID, "error", err)
		return
	}
	if !result.OK {
		r.logWarn(fmt.Sprintf("input device %s reads silent (level %.3f)", device.ID, result.Level))
	}
}

// describeDevice formats device metadata for logs/session results.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

func (r *Recorder) logWarn(message string) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message)
}

func (r *Recorder) logDebug(msg string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Debug(msg, args...)
}

// writeDebugAudio dumps samples to a WAV in the state dir when
// debug.audio_dump is enabled.
func (r *Recorder) writeDebugAudio(prefix string, samples []int16, rate int) {
	if !r.cfg.Debug.AudioDump || len(samples) == 0 {
		return
	}

	path, err := debugFilePath(prefix, "wav")
	if err != nil {
		r.logWarn(fmt.Sprintf("unable to create debug audio dump: %v", err))
		return
	}
	if err := asr.WriteWAVFile(path, asr.Audio{PCM: samples, SampleRate: rate}); err != nil {
		r.logWarn(fmt.Sprintf("unable to write debug audio dump: %v", err))
		return
	}
	r.logDebug("debug audio dumped", "path", path)
}

// debugFilePath returns a timestamped artifact path under state/dictum/debug.
func debugFilePath(prefix string, extension string) (string, error) {
	stateDir, err := resolveStateDir()
	if err != nil {
		return "", err
	}
	debugDir := filepath.Join(stateDir, "dictum", "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	return filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, extension)), nil
}

// resolveStateDir returns XDG_STATE_HOME fallback path for debug artifacts.
func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}
