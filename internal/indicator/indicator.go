// Package indicator surfaces session state through desktop notifications
// and short synthesized audio cues.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rbright/dictum/internal/config"
)

// Controller is the session-facing indicator contract.
type Controller interface {
	Recording(context.Context)
	Processing(context.Context)
	Error(context.Context, string)
	CueStart(context.Context)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

// Noop satisfies Controller without side effects.
type Noop struct{}

func (Noop) Recording(context.Context)     {}
func (Noop) Processing(context.Context)    {}
func (Noop) Error(context.Context, string) {}
func (Noop) CueStart(context.Context)      {}
func (Noop) CueStop(context.Context)       {}
func (Noop) CueComplete(context.Context)   {}
func (Noop) CueCancel(context.Context)     {}
func (Noop) Hide(context.Context)          {}

// Desktop shows session state as freedesktop notifications, replacing the
// previous notification in place, and plays audio cues through pulse.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
}

// NewDesktop creates an indicator controller from config.
func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	return &Desktop{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// Recording shows the recording notification.
func (d *Desktop) Recording(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, d.messages.recording, 300000)
	})
}

// Processing shows the post-capture recognition notification.
func (d *Desktop) Processing(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, d.messages.processing, 300000)
	})
}

// Error shows an error notification with a bounded display timeout.
func (d *Desktop) Error(ctx context.Context, text string) {
	if !d.cfg.Enable {
		return
	}
	if text == "" {
		text = d.messages.errorText
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, text, timeout)
	})
}

// CueStart emits the session-start cue.
func (d *Desktop) CueStart(context.Context) {
	d.playCue(cueStart)
}

// CueStop emits the stop cue.
func (d *Desktop) CueStop(context.Context) {
	d.playCue(cueStop)
}

// CueComplete emits the successful-commit cue.
func (d *Desktop) CueComplete(context.Context) {
	d.playCue(cueComplete)
}

// CueCancel emits the cancel cue.
func (d *Desktop) CueCancel(context.Context) {
	d.playCue(cueCancel)
}

// Hide dismisses the active notification.
func (d *Desktop) Hide(ctx context.Context) {
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, d.dismiss)
}

// notify sends a replaceable desktop notification and stores its ID so the
// next state change replaces it instead of stacking.
func (d *Desktop) notify(ctx context.Context, text string, timeoutMS int) error {
	d.mu.Lock()
	replaceID := d.notificationID
	d.mu.Unlock()

	appName := strings.TrimSpace(d.cfg.AppName)
	if appName == "" {
		appName = "dictum"
	}

	out, err := runBusctl(ctx,
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"Notify",
		"susssasa{sv}i",
		appName,
		fmt.Sprintf("%d", replaceID),
		"",
		text,
		"",
		"0", // actions array length
		"0", // hints map length
		fmt.Sprintf("%d", timeoutMS),
	)
	if err != nil {
		return fmt.Errorf("desktop notify: %w", err)
	}

	id, err := parseNotificationID(out)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

// dismiss closes the current notification ID when present.
func (d *Desktop) dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}

	_, err := runBusctl(ctx,
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"CloseNotification",
		"u",
		fmt.Sprintf("%d", id),
	)
	if err != nil {
		return fmt.Errorf("desktop dismiss: %w", err)
	}
	return nil
}

// runBusctl invokes busctl on the user bus and returns its trimmed output.
func runBusctl(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{"--user"}, args...)
	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, trimmed)
	}
	return trimmed, nil
}

// parseNotificationID extracts the "u <id>" reply of the Notify call.
func parseNotificationID(out string) (uint32, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}
	value, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(value), nil
}

// run executes an indicator operation with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (d *Desktop) playCue(kind cueKind) {
	if !d.cfg.Sound {
		return
	}
	go func() {
		d.soundMu.Lock()
		defer d.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := emitCue(ctx, kind); err != nil {
			d.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (d *Desktop) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
