// Package app routes CLI commands to either the long-running daemon or
// thin IPC clients against it, and owns daemon composition.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/rbright/dictum/internal/asr"
	"github.com/rbright/dictum/internal/asr/aws"
	"github.com/rbright/dictum/internal/asr/google"
	"github.com/rbright/dictum/internal/asr/localcmd"
	"github.com/rbright/dictum/internal/asr/openai"
	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/cli"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/doctor"
	"github.com/rbright/dictum/internal/hotkey"
	"github.com/rbright/dictum/internal/indicator"
	"github.com/rbright/dictum/internal/ipc"
	"github.com/rbright/dictum/internal/logging"
	"github.com/rbright/dictum/internal/observe"
	"github.com/rbright/dictum/internal/output"
	"github.com/rbright/dictum/internal/pipeline"
	"github.com/rbright/dictum/internal/session"
	"github.com/rbright/dictum/internal/transcript"
	"github.com/rbright/dictum/internal/translate"
	"github.com/rbright/dictum/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("dictum"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("dictum"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	// Provider credentials may live in a .env next to the invocation.
	_ = godotenv.Load()

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		logger.Warn("config warning", "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandRun:
		return r.runDaemon(ctx, cfgLoaded, logger, logRuntime.Path)
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandMicTest:
		return r.commandMicTest(ctx, cfgLoaded.Config)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: "stop"})
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.Request{Command: "cancel"})
	case cli.CommandToggle:
		return r.forwardOrFail(ctx, ipc.Request{Command: "toggle"})
	case cli.CommandLanguage:
		return r.forwardOrFail(ctx, ipc.Request{Command: "language", Language: parsed.Language})
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// runDaemon owns the socket for the process lifetime and supervises the
// capture, recognition, activation, and serving loops.
func (r Runner) runDaemon(ctx context.Context, loaded config.Loaded, logger *slog.Logger, logPath string) int {
	cfg := loaded.Config

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: dictum daemon is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	// The Prometheus provider mutates global state; keep it off unless the
	// diag endpoint will actually scrape it.
	diagListen := strings.TrimSpace(cfg.Diag.Listen)
	metrics := observe.Noop()
	if diagListen != "" {
		shutdownMetrics, err := observe.InitProvider(observe.ProviderConfig{
			ServiceName:    "dictum",
			ServiceVersion: version.Version,
		})
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		defer func() { _ = shutdownMetrics(context.Background()) }()

		metrics, err = observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}

	phrases, phraseWarnings, err := config.BuildSpeechPhrases(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, w := range phraseWarnings {
		logger.Warn("vocab warning", "message", w.Message)
	}
	logger.Debug("speech context plan", "phrase_count", len(phrases))

	debugSink, closeSink := openASRDumpSink(cfg, logPath, logger)
	if closeSink != nil {
		defer closeSink()
	}

	services, err := buildServices(cfg, phrases, debugSink)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	pool := asr.NewServiceHandlePool(
		services,
		cfg.ASR.Reset.MaxRecognitions,
		time.Duration(cfg.ASR.Reset.MaxAgeMinutes)*time.Minute,
	)
	orchestrator := asr.NewOrchestrator(services, pool, asr.Config{
		DirectTimeout:     time.Duration(cfg.ASR.DirectTimeoutMS) * time.Millisecond,
		ContinuousTimeout: time.Duration(cfg.ASR.ContinuousTimeoutMS) * time.Millisecond,
	}, logger, metrics)

	var translator session.Translator
	if cfg.Translate.Enable {
		tr := translate.NewOpenAI(translate.Options{Model: cfg.Translate.Model})
		pool.Attach("translate", tr)
		translator = tr
	}

	var indicatorCtl session.Indicator = indicator.Noop{}
	if cfg.Indicator.Enable {
		indicatorCtl = indicator.NewDesktop(cfg.Indicator, logger)
	}

	recorder := pipeline.NewRecorder(cfg, logger, metrics)
	committer := output.NewCommitter(cfg.Output, logger)
	controller := session.NewController(
		logger,
		recorder,
		orchestrator,
		translator,
		committer,
		indicatorCtl,
		metrics,
		session.Settings{
			Language:  cfg.ASR.Language,
			Translate: cfg.Translate,
			Format: transcript.Options{
				TrailingSpace:       cfg.Transcript.TrailingSpace,
				CapitalizeSentences: cfg.Transcript.CapitalizeSentences,
			},
		},
	)

	bindings, err := hotkey.CompileBindings(cfg.Hotkeys, cfg.ASR.Language)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	tracker := hotkey.NewTracker()
	activation := hotkey.NewController(controller, tracker, bindings, cfg.Hotkeys, logger)
	hookSource := hotkey.NewHookSource(activation, logger)
	watchdog := hotkey.NewWatchdog(
		tracker,
		activation,
		time.Duration(cfg.Hotkeys.Watchdog.IntervalSeconds)*time.Second,
		time.Duration(cfg.Hotkeys.Watchdog.MaxHoldSeconds)*time.Second,
		logger,
		metrics,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return controller.Run(groupCtx) })
	group.Go(func() error { return ipc.Serve(groupCtx, listener, controller) })
	group.Go(func() error { return hookSource.Run(groupCtx) })
	group.Go(func() error { return watchdog.Run(groupCtx) })
	if diagListen != "" {
		diag := observe.NewServer(diagListen, logger, daemonStatus(controller, pool))
		group.Go(func() error { return diag.Run(groupCtx) })
	}

	logger.Info("daemon ready",
		"socket", socketPath,
		"services", cfg.ASR.Services,
		"language", cfg.ASR.Language,
		"bindings", len(bindings),
	)
	fmt.Fprintf(r.Stdout, "dictum daemon running (socket %s)\n", socketPath)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon exited", "error", err.Error())
		return 1
	}

	logger.Info("daemon stopped")
	return 0
}

// buildServices constructs the recognizer chain in configured order.
func buildServices(cfg config.Config, phrases []config.SpeechPhrase, debugSink io.Writer) ([]asr.Service, error) {
	services := make([]asr.Service, 0, len(cfg.ASR.Services))
	for _, name := range cfg.ASR.Services {
		switch name {
		case "google":
			services = append(services, google.New(google.Options{
				Endpoint:             cfg.Providers.Google.Endpoint,
				Model:                cfg.Providers.Google.Model,
				AutomaticPunctuation: cfg.Providers.Google.AutomaticPunctuation,
				Phrases:              googlePhrases(phrases),
				DebugResponseSink:    debugSink,
			}))
		case "openai":
			services = append(services, openai.New(openai.Options{
				BaseURL: cfg.Providers.OpenAI.BaseURL,
				Model:   cfg.Providers.OpenAI.Model,
				Prompt:  vocabPrompt(phrases),
			}))
		case "aws":
			services = append(services, aws.New(aws.Options{
				Region:   cfg.Providers.AWS.Region,
				Language: cfg.Providers.AWS.Language,
			}))
		case "local":
			services = append(services, localcmd.New(cfg.Providers.Local.Cmd.Argv))
		default:
			return nil, fmt.Errorf("unknown recognition service %q", name)
		}
	}
	return services, nil
}

func googlePhrases(phrases []config.SpeechPhrase) []google.Phrase {
	if len(phrases) == 0 {
		return nil
	}
	out := make([]google.Phrase, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, google.Phrase{Text: p.Phrase, Boost: p.Boost})
	}
	return out
}

// vocabPrompt flattens the phrase plan into a Whisper bias prompt.
func vocabPrompt(phrases []config.SpeechPhrase) string {
	if len(phrases) == 0 {
		return ""
	}
	texts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		texts = append(texts, p.Phrase)
	}
	return strings.Join(texts, ", ")
}

// openASRDumpSink opens the provider response dump next to the log file.
// Failures degrade to no sink.
func openASRDumpSink(cfg config.Config, logPath string, logger *slog.Logger) (io.Writer, func()) {
	if !cfg.Debug.ASRDump {
		return nil, nil
	}

	path := filepath.Join(filepath.Dir(logPath), "debug", "asr-responses.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		logger.Warn("asr dump disabled", "error", err.Error())
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Warn("asr dump disabled", "error", err.Error())
		return nil, nil
	}
	return f, func() { _ = f.Close() }
}

// daemonStatus snapshots the daemon for the /statusz endpoint.
func daemonStatus(controller *session.Controller, pool *asr.ServiceHandlePool) observe.StateFunc {
	return func() any {
		calls, lastReset := pool.Stats()
		return map[string]any{
			"state":      string(controller.State()),
			"language":   controller.Language(),
			"pool_calls": calls,
			"last_reset": lastReset.Format(time.RFC3339),
		}
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandMicTest(ctx context.Context, cfg config.Config) int {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	selection, err := audio.SelectDevice(probeCtx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if selection.Warning != "" {
		fmt.Fprintf(r.Stdout, "warning: %s\n", selection.Warning)
	}
	fmt.Fprintf(r.Stdout, "probing %s\n", deviceLabel(selection.Device))

	prober := audio.NewProber(time.Duration(cfg.Audio.ProbeTTLSeconds) * time.Second)
	result, err := prober.Probe(probeCtx, selection.Device)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: probe failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(r.Stdout, "level %.2f %s\n", result.Level, levelBar(result.Level))
	if !result.OK {
		fmt.Fprintln(r.Stdout, "input reads silent; check the source volume")
		return 1
	}
	fmt.Fprintln(r.Stdout, "input is live")
	return 0
}

func deviceLabel(device audio.Device) string {
	if device.Description != "" {
		return fmt.Sprintf("%s (%s)", device.Description, device.ID)
	}
	return device.ID
}

// levelBar renders a 20-slot meter for a 0..1 level.
func levelBar(level float64) string {
	const width = 20
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*width + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: "status"})
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no running dictum daemon")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
