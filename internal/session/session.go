// Package session coordinates dictation lifecycle state, actions, and commit flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/dictum/internal/asr"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/dsp"
	"github.com/rbright/dictum/internal/fsm"
	"github.com/rbright/dictum/internal/ipc"
	"github.com/rbright/dictum/internal/observe"
	"github.com/rbright/dictum/internal/transcript"
	"github.com/rbright/dictum/internal/translate"
)

type action int

const (
	actionStart action = iota + 1
	actionStop
	actionCancel
)

// Recognizer runs the recognition chain over one conditioned capture.
type Recognizer interface {
	Recognize(ctx context.Context, audio asr.Audio, language string) (asr.Result, error)
}

// noRecognizer reports no match for every capture.
type noRecognizer struct{}

func (noRecognizer) Recognize(context.Context, asr.Audio, string) (asr.Result, error) {
	return asr.Result{}, asr.ErrNoMatch
}

// Translator rewrites a transcript from the spoken language into the
// configured target language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// noopTranslator passes transcripts through unchanged.
type noopTranslator struct{}

func (noopTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	Recording(context.Context)
	Processing(context.Context)
	Error(context.Context, string)
	CueStart(context.Context)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) Recording(context.Context)     {}
func (noopIndicator) Processing(context.Context)    {}
func (noopIndicator) Error(context.Context, string) {}
func (noopIndicator) CueStart(context.Context)      {}
func (noopIndicator) CueStop(context.Context)       {}
func (noopIndicator) CueComplete(context.Context)   {}
func (noopIndicator) CueCancel(context.Context)     {}
func (noopIndicator) Hide(context.Context)          {}

// Settings carries the per-daemon knobs applied to every episode.
type Settings struct {
	// Language is the default spoken language. Language hotkeys and the
	// IPC language command override it for subsequent episodes.
	Language  string
	Translate config.TranslateConfig
	Format    transcript.Options
}

// Controller orchestrates session state transitions and side effects. One
// episode runs at a time; hotkeys and IPC requests feed the same actions
// channel, so starts, stops, and cancels are serialized regardless of source.
type Controller struct {
	logger    *slog.Logger
	recorder  Recorder
	recognize Recognizer
	translate Translator
	commit    Committer
	indicator Indicator
	metrics   *observe.Metrics
	settings  Settings

	mu       sync.RWMutex
	state    fsm.State
	language string

	actions chan action
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(
	logger *slog.Logger,
	recorder Recorder,
	recognizer Recognizer,
	translator Translator,
	committer Committer,
	indicator Indicator,
	metrics *observe.Metrics,
	settings Settings,
) *Controller {
	if recorder == nil {
		recorder = PlaceholderRecorder{}
	}
	if recognizer == nil {
		recognizer = noRecognizer{}
	}
	if translator == nil {
		translator = noopTranslator{}
	}
	if committer == nil {
		committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}
	if metrics == nil {
		metrics = observe.Noop()
	}

	return &Controller{
		logger:    logger,
		recorder:  recorder,
		recognize: recognizer,
		translate: translator,
		commit:    committer,
		indicator: indicator,
		metrics:   metrics,
		settings:  settings,
		state:     fsm.StateIdle,
		language:  settings.Language,
		actions:   make(chan action, 1),
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Active reports whether a capture is currently running.
func (c *Controller) Active() bool {
	return c.State() == fsm.StateRecording
}

// Language returns the spoken language applied to the next episode.
func (c *Controller) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// SetLanguage switches the spoken language for subsequent episodes. Blank
// codes are ignored; an episode already in flight keeps the language it
// started with.
func (c *Controller) SetLanguage(language string) {
	language = strings.TrimSpace(language)
	if language == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = language
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Start requests a new episode. Starting while one is active is a no-op.
func (c *Controller) Start(context.Context) error {
	if resp := c.requestStart(); !resp.OK {
		c.logDebug("start request rejected", "state", resp.State, "reason", resp.Error)
	}
	return nil
}

// Stop requests that the active episode finish and commit its transcript.
// Stopping with no active episode is a no-op.
func (c *Controller) Stop(context.Context) error {
	if resp := c.requestStop("stop"); !resp.OK {
		c.logDebug("stop request rejected", "state", resp.State, "reason", resp.Error)
	}
	return nil
}

// Cancel requests that the active episode discard its capture.
func (c *Controller) Cancel(context.Context) error {
	if resp := c.requestCancel(); !resp.OK {
		c.logDebug("cancel request rejected", "state", resp.State, "reason", resp.Error)
	}
	return nil
}

// Run processes start requests until ctx is cancelled. Each accepted start
// runs one full episode before the next request is considered. Stop or
// cancel actions arriving with no episode in flight are dropped.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-c.actions:
			if a != actionStart {
				c.logDebug("dropping stale action", "action", int(a))
				continue
			}
			c.runEpisode(ctx)
		}
	}
}

// runEpisode executes one lifecycle from start to stop/cancel/failure
// completion.
func (c *Controller) runEpisode(ctx context.Context) {
	id := uuid.NewString()
	language := c.Language()
	startedAt := time.Now()

	if err := c.transition(fsm.EventStart); err != nil {
		c.logWarn("episode start rejected", "session_id", id, "error", err)
		return
	}

	c.indicator.Recording(ctx)
	c.indicator.CueStart(ctx)

	if err := c.recorder.Start(ctx); err != nil {
		c.indicator.Error(ctx, "Unable to start recording")
		c.toErrorAndReset()
		c.metrics.RecordSession(ctx, "error")
		c.logWarn("capture start failed", "session_id", id, "error", err)
		return
	}

	c.logInfo("episode started", "session_id", id, "language", language)

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		c.indicator.Hide(cleanupCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.cancelEpisode(cancelCtx, id, "shutdown")
			cancel()
			return
		case a := <-c.actions:
			switch a {
			case actionStart:
				// Already recording; repeated starts are no-ops.
			case actionCancel:
				c.cancelEpisode(ctx, id, "requested")
				return
			case actionStop:
				c.finishEpisode(ctx, id, language, startedAt)
				return
			default:
				c.toErrorAndReset()
				c.logWarn("unknown action", "session_id", id, "action", int(a))
				return
			}
		}
	}
}

// cancelEpisode discards the running capture without committing anything.
func (c *Controller) cancelEpisode(ctx context.Context, id, reason string) {
	_ = c.recorder.Cancel(ctx)
	c.indicator.CueCancel(ctx)
	_ = c.transition(fsm.EventCancel)
	c.metrics.RecordSession(ctx, "canceled")
	c.logInfo("episode cancelled", "session_id", id, "reason", reason)
}

// finishEpisode runs the stop pipeline: condition, recognize, translate,
// format, commit.
func (c *Controller) finishEpisode(ctx context.Context, id, language string, startedAt time.Time) {
	if err := c.transition(fsm.EventStop); err != nil {
		c.toErrorAndReset()
		c.logWarn("stop rejected", "session_id", id, "error", err)
		return
	}

	c.indicator.Processing(ctx)

	capture, err := c.recorder.Stop(ctx)
	c.indicator.CueStop(context.Background())
	if err != nil {
		if errors.Is(err, dsp.ErrTooShort) {
			_ = c.transition(fsm.EventCancel)
			c.metrics.RecordSession(ctx, "too_short")
			c.logInfo("capture too short, discarding", "session_id", id, "error", err)
			return
		}
		c.indicator.Error(context.Background(), "")
		c.toErrorAndReset()
		c.metrics.RecordSession(ctx, "error")
		c.logWarn("capture stop failed", "session_id", id, "error", err)
		return
	}

	c.metrics.AudioDuration.Record(ctx, capture.Duration.Seconds())

	if err := c.transition(fsm.EventConditioned); err != nil {
		c.toErrorAndReset()
		c.logWarn("conditioned transition rejected", "session_id", id, "error", err)
		return
	}

	result, err := c.recognize.Recognize(ctx, capture.Audio, language)
	if err != nil {
		// Empty and failed recognition render the same generic notice;
		// only the log records which one happened.
		if errors.Is(err, asr.ErrNoMatch) {
			c.indicator.Error(context.Background(), "")
			_ = c.transition(fsm.EventCancel)
			c.metrics.RecordSession(ctx, "no_match")
			c.logInfo("no usable transcript", "session_id", id,
				"audio_device", capture.AudioDevice,
				"audio_ms", capture.Duration.Milliseconds())
			return
		}
		c.indicator.Error(context.Background(), "")
		c.toErrorAndReset()
		c.metrics.RecordSession(ctx, "error")
		c.logWarn("recognition failed", "session_id", id, "error", err)
		return
	}

	text := result.Text
	target := c.settings.Translate.Target
	if c.settings.Translate.Enable && !translate.SameLanguage(language, target) {
		translated, terr := c.translate.Translate(ctx, text, language, target)
		if terr != nil {
			c.logWarn("translation failed, committing original",
				"session_id", id, "target", target, "error", terr)
		} else {
			text = translated
		}
	}

	text = transcript.Format(text, c.settings.Format)
	if strings.TrimSpace(text) == "" {
		c.indicator.Error(context.Background(), "")
		_ = c.transition(fsm.EventCancel)
		c.metrics.RecordSession(ctx, "empty")
		c.logInfo("empty transcript, nothing to commit", "session_id", id)
		return
	}

	if err := c.commit.Commit(ctx, text); err != nil {
		c.indicator.Error(context.Background(), "Output dispatch failed")
		c.toErrorAndReset()
		c.metrics.RecordSession(ctx, "error")
		c.logWarn("commit failed", "session_id", id, "error", err)
		return
	}
	c.indicator.CueComplete(context.Background())

	if err := c.transition(fsm.EventRecognized); err != nil {
		c.toErrorAndReset()
		c.logWarn("recognized transition rejected", "session_id", id, "error", err)
		return
	}

	c.metrics.RecordSession(ctx, "committed")
	c.logInfo("transcript committed",
		"session_id", id,
		"language", language,
		"service", result.Service,
		"strategy", result.Strategy,
		"words", result.WordCount,
		"audio_device", capture.AudioDevice,
		"bytes_captured", capture.BytesCaptured,
		"audio_ms", capture.Duration.Milliseconds(),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		return ipc.Response{OK: true, State: string(c.State()), Message: c.Language()}
	case "toggle":
		if c.Active() {
			return c.requestStop("toggle")
		}
		return c.requestStart()
	case "start":
		return c.requestStart()
	case "stop":
		return c.requestStop("stop")
	case "cancel":
		return c.requestCancel()
	case "language":
		language := strings.TrimSpace(req.Language)
		if language == "" {
			return ipc.Response{OK: false, State: string(c.State()), Error: "language command requires a language code"}
		}
		c.SetLanguage(language)
		return ipc.Response{OK: true, State: string(c.State()), Message: fmt.Sprintf("language set to %s", language)}
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// requestStart enqueues a start action when state permits it.
func (c *Controller) requestStart() ipc.Response {
	state := c.State()
	if state != fsm.StateIdle {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot start from state %s", state)}
	}

	select {
	case c.actions <- actionStart:
		return ipc.Response{OK: true, State: string(state), Message: "start requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "start already requested"}
	}
}

// requestStop enqueues a stop action when state permits it.
func (c *Controller) requestStop(source string) ipc.Response {
	state := c.State()
	switch state {
	case fsm.StateProcessing, fsm.StateRecognizing:
		return ipc.Response{OK: false, State: string(state), Error: "already processing"}
	case fsm.StateRecording:
	default:
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s from state %s", source, state)}
	}

	select {
	case c.actions <- actionStop:
		return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
}

// requestCancel enqueues a cancel action when state permits it.
func (c *Controller) requestCancel() ipc.Response {
	state := c.State()
	switch state {
	case fsm.StateProcessing, fsm.StateRecognizing:
		return ipc.Response{OK: false, State: string(state), Error: "cannot cancel while processing"}
	case fsm.StateRecording:
	default:
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot cancel from state %s", state)}
	}

	select {
	case c.actions <- actionCancel:
		return ipc.Response{OK: true, State: string(state), Message: "cancel requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "cancel already requested"}
	}
}

// toErrorAndReset transitions to error and back to idle best-effort.
func (c *Controller) toErrorAndReset() {
	_ = c.transition(fsm.EventFail)
	_ = c.transition(fsm.EventReset)
}

func (c *Controller) logDebug(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, args...)
}

func (c *Controller) logInfo(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, args...)
}

func (c *Controller) logWarn(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, args...)
}
