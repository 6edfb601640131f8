// Package hotkey turns global keyboard and mouse events into dictation
// session transitions. A Controller consumes normalized input edges from a
// Source, tracks held keys, and drives the session through push-to-talk,
// toggle, and per-language bindings. A Watchdog force-releases keys that
// stay held past a limit so a stuck key cannot record forever.
package hotkey

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/dictum/internal/config"
)

// stopSettle is how long activation waits after stopping an in-flight
// session before starting the next one, so capture teardown can finish.
const stopSettle = 100 * time.Millisecond

// EventKind distinguishes the four input edges the controller reacts to.
type EventKind int

const (
	KeyDown EventKind = iota + 1
	KeyUp
	MouseDown
	MouseUp
)

// Event is one normalized input edge delivered by a Source.
type Event struct {
	Kind EventKind
	Key  string
	At   time.Time
}

// Session is the slice of the dictation lifecycle the controller drives.
type Session interface {
	Active() bool
	SetLanguage(language string)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Controller resolves input edges against the compiled bindings and starts
// or stops the session accordingly. One coarse mutex serializes event
// handling with watchdog force-releases; input rates are far too low for
// contention to matter.
type Controller struct {
	session  Session
	tracker  *Tracker
	bindings []Binding
	debounce time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	active     *Binding
	lastEdge   map[string]time.Time
	settleWait func(time.Duration)
}

func NewController(session Session, tracker *Tracker, bindings []Binding, cfg config.HotkeysConfig, logger *slog.Logger) *Controller {
	debounce := time.Duration(cfg.DebounceMS) * time.Millisecond
	return &Controller{
		session:    session,
		tracker:    tracker,
		bindings:   bindings,
		debounce:   debounce,
		logger:     logger,
		lastEdge:   make(map[string]time.Time),
		settleWait: time.Sleep,
	}
}

// HandleEvent processes one input edge. Unknown keys and repeat edges are
// dropped here so callers can feed the raw stream without filtering.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) {
	key := NormalizeKey(ev.Key)
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case KeyDown, MouseDown:
		c.handleDown(ctx, key, ev.At)
	case KeyUp, MouseUp:
		c.handleUp(ctx, key)
	}
}

// ForceRelease reenters the key-up path for a key the watchdog judged
// stuck, stopping any session that key had activated.
func (c *Controller) ForceRelease(ctx context.Context, key string) {
	normalized := NormalizeKey(key)
	if normalized == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.logWarn("forcing key release", "key", normalized)
	c.handleUp(ctx, normalized)
}

func (c *Controller) handleDown(ctx context.Context, key string, at time.Time) {
	if !c.tracker.Press(key, at) {
		// Auto-repeat of a held key.
		return
	}

	binding := c.matchBinding(key)
	if binding == nil {
		return
	}

	if last, ok := c.lastEdge[key]; ok && at.Sub(last) < c.debounce {
		c.logDebug("activation debounced", "key", key, "kind", binding.Kind.String())
		return
	}
	c.lastEdge[key] = at

	switch binding.Kind {
	case KindToggle:
		c.handleToggle(ctx, *binding)
	default:
		c.activate(ctx, *binding)
	}
}

func (c *Controller) handleUp(ctx context.Context, key string) {
	c.tracker.Release(key)

	if c.active == nil {
		return
	}

	// Releasing the primary key always ends the activation, regardless of
	// modifier state.
	if c.active.Key == key {
		c.deactivate(ctx, "key released")
		return
	}

	// Releasing a required modifier ends the activation even though the
	// primary key is still held; the binding condition no longer holds.
	if containsKey(c.active.Modifiers, key) {
		c.deactivate(ctx, "modifier released")
	}
}

// matchBinding returns the first binding whose key matches and whose
// modifiers are all currently held. Compile order encodes precedence:
// language bindings win over push-to-talk, which wins over toggle.
func (c *Controller) matchBinding(key string) *Binding {
	for i := range c.bindings {
		b := &c.bindings[i]
		if b.Key != key {
			continue
		}
		if c.modifiersHeld(b) {
			return b
		}
	}
	return nil
}

func (c *Controller) modifiersHeld(b *Binding) bool {
	for _, mod := range b.Modifiers {
		if !c.tracker.Held(mod) {
			return false
		}
	}
	return true
}

// activate runs the push-to-talk path: stop whatever is in flight, wait for
// teardown, apply the binding's language, start. The binding is recorded as
// active before Start so the matching key-up stops the session exactly once
// even when Start failed partway.
func (c *Controller) activate(ctx context.Context, b Binding) {
	if c.session.Active() {
		c.stopSession(ctx)
		c.settleWait(stopSettle)
	}

	c.session.SetLanguage(b.Language)
	c.active = &b
	c.logInfo("activation started", "kind", b.Kind.String(), "key", b.Key, "language", b.Language)

	if err := c.session.Start(ctx); err != nil {
		c.logWarn("start session failed", "key", b.Key, "error", err.Error())
	}
}

func (c *Controller) handleToggle(ctx context.Context, b Binding) {
	if c.session.Active() {
		c.logInfo("toggle stop", "key", b.Key)
		c.stopSession(ctx)
		c.active = nil
		return
	}

	c.session.SetLanguage(b.Language)
	c.logInfo("toggle start", "key", b.Key, "language", b.Language)
	if err := c.session.Start(ctx); err != nil {
		c.logWarn("start session failed", "key", b.Key, "error", err.Error())
	}
}

func (c *Controller) deactivate(ctx context.Context, reason string) {
	b := c.active
	c.active = nil
	c.logInfo("activation ended", "kind", b.Kind.String(), "key", b.Key, "reason", reason)
	c.stopSession(ctx)
}

func (c *Controller) stopSession(ctx context.Context) {
	if err := c.session.Stop(ctx); err != nil {
		c.logWarn("stop session failed", "error", err.Error())
	}
}

func (c *Controller) logInfo(message string, fields ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(message, fields...)
}

func (c *Controller) logWarn(message string, fields ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(message, fields...)
}

func (c *Controller) logDebug(message string, fields ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(message, fields...)
}
