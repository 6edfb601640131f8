package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	hook "github.com/robotn/gohook"
)

// EventHandler receives normalized input edges.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// HookSource pumps the global gohook event stream into an EventHandler.
// It owns the native hook lifecycle; the controller never imports gohook.
type HookSource struct {
	handler EventHandler
	logger  *slog.Logger
}

func NewHookSource(handler EventHandler, logger *slog.Logger) *HookSource {
	return &HookSource{handler: handler, logger: logger}
}

// Run registers the global hook and forwards events until ctx is cancelled.
func (s *HookSource) Run(ctx context.Context) error {
	events := hook.Start()
	defer hook.End()

	if s.logger != nil {
		s.logger.Info("input hook started")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("hook event stream closed")
			}
			mapped, ok := mapHookEvent(ev)
			if !ok {
				continue
			}
			s.handler.HandleEvent(ctx, mapped)
		}
	}
}

// mapHookEvent converts a raw hook event into a normalized edge. Events
// that do not resolve to a usable key name are dropped.
func mapHookEvent(ev hook.Event) (Event, bool) {
	var kind EventKind
	var key string

	switch ev.Kind {
	case hook.KeyDown, hook.KeyHold:
		// Presses can arrive as both kinds, and auto-repeat re-sends them;
		// the tracker drops the duplicate edges.
		kind = KeyDown
		key = keyNameForRawcode(ev.Rawcode)
	case hook.KeyUp:
		kind = KeyUp
		key = keyNameForRawcode(ev.Rawcode)
	case hook.MouseDown, hook.MouseHold:
		kind = MouseDown
		key = mouseButtonName(ev.Button)
	case hook.MouseUp:
		kind = MouseUp
		key = mouseButtonName(ev.Button)
	default:
		return Event{}, false
	}

	if key == "" {
		return Event{}, false
	}
	return Event{Kind: kind, Key: key, At: time.Now()}, true
}

// rawcodeNames maps X11 keysyms, which the hook reports in Rawcode on
// Linux, to canonical key names. Left and right modifier variants fold to
// one name because bindings do not distinguish sides.
var rawcodeNames = map[uint16]string{
	32:    "space",
	65288: "backspace",
	65289: "tab",
	65293: "enter",
	65307: "escape",
	65360: "home",
	65361: "left",
	65362: "up",
	65363: "right",
	65364: "down",
	65365: "page_up",
	65366: "page_down",
	65367: "end",
	65379: "insert",
	65505: "shift",
	65506: "shift",
	65507: "ctrl",
	65508: "ctrl",
	65509: "caps_lock",
	65513: "alt",
	65514: "alt",
	65515: "cmd",
	65516: "cmd",
	65535: "delete",
}

func keyNameForRawcode(raw uint16) string {
	if name, ok := rawcodeNames[raw]; ok {
		return name
	}
	// Function keys occupy a contiguous keysym block.
	if raw >= 65470 && raw <= 65481 {
		return fmt.Sprintf("f%d", raw-65469)
	}
	// Latin-1 keysyms match their ASCII codes.
	if raw > 32 && raw < 127 {
		return strings.ToLower(string(rune(raw)))
	}
	return ""
}

// mouseButtonName follows the hook library's numbering: 1 left, 2 right,
// 3 middle, 4 and 5 the rear side buttons.
func mouseButtonName(button uint16) string {
	switch button {
	case 0:
		return ""
	case 1:
		return "mouse_left"
	case 2:
		return "mouse_right"
	case 3:
		return "mouse_middle"
	case 4:
		return "mouse_back"
	case 5:
		return "mouse_forward"
	default:
		return fmt.Sprintf("mouse_button%d", button)
	}
}
