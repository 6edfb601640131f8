// Package doctor runs runtime readiness diagnostics for config, audio,
// recognition credentials, output tooling, and the daemon socket.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/ipc"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkEnv("XDG_SESSION_TYPE", func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), "wayland")
	}, "session type is wayland", "expected XDG_SESSION_TYPE=wayland"))

	checks = append(checks, checkOutput(cfg.Config.Output)...)
	checks = append(checks, checkAudioSelection(cfg.Config))
	checks = append(checks, checkServices(cfg.Config)...)

	if cfg.Config.Indicator.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications available"))
	}

	socketCheck, daemonAlive := checkSocket()
	checks = append(checks, socketCheck)

	if listen := strings.TrimSpace(cfg.Config.Diag.Listen); listen != "" {
		checks = append(checks, checkDiagListen(listen, daemonAlive))
	}

	return Report{Checks: checks}
}

// checkConfig reports where config came from, defaults included.
func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{
			Name:    "config",
			Pass:    true,
			Message: fmt.Sprintf("%q not found; using defaults", cfg.Path),
		}
	}
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if n := len(cfg.Warnings); n > 0 {
		message = fmt.Sprintf("%s (%d warnings)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkOutput validates the configured commit surface.
func checkOutput(output config.OutputConfig) []Check {
	switch output.Mode {
	case "clipboard":
		checks := []Check{checkCommand(output.ClipboardCmd.Argv, "clipboard_cmd")}
		if output.Paste.Enable {
			if len(output.Paste.Cmd.Argv) > 0 {
				checks = append(checks, checkCommand(output.Paste.Cmd.Argv, "paste_cmd"))
			} else {
				checks = append(checks, Check{
					Name:    "paste_cmd",
					Pass:    false,
					Message: "paste is enabled but output.paste.cmd is empty",
				})
			}
		}
		return checks
	case "type":
		return []Check{{Name: "output.type", Pass: true, Message: "keystroke synthesis is built in"}}
	default:
		return []Check{{Name: "output.mode", Pass: false, Message: fmt.Sprintf("unknown mode %q", output.Mode)}}
	}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkServices validates credentials for every configured recognition
// service, plus the translator when it shares the OpenAI key.
func checkServices(cfg config.Config) []Check {
	var checks []Check
	needOpenAIKey := cfg.Translate.Enable

	for _, service := range cfg.ASR.Services {
		switch service {
		case "google":
			checks = append(checks, checkGoogleCredentials(cfg.Providers.Google))
		case "openai":
			needOpenAIKey = true
		case "aws":
			checks = append(checks, checkAWSCredentials())
		case "local":
			checks = append(checks, checkLocalCommand(cfg.Providers.Local))
		default:
			checks = append(checks, Check{
				Name:    "asr." + service,
				Pass:    false,
				Message: fmt.Sprintf("unknown recognition service %q", service),
			})
		}
	}

	if needOpenAIKey {
		checks = append(checks, checkEnv("OPENAI_API_KEY", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "API key is set", "OPENAI_API_KEY is not set"))
	}

	return checks
}

// checkGoogleCredentials accepts either default application credentials or
// a plaintext endpoint override.
func checkGoogleCredentials(google config.GoogleConfig) Check {
	if endpoint := strings.TrimSpace(google.Endpoint); endpoint != "" {
		return Check{
			Name:    "asr.google",
			Pass:    true,
			Message: fmt.Sprintf("endpoint override %q configured", endpoint),
		}
	}

	credsPath := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if credsPath == "" {
		return Check{
			Name:    "asr.google",
			Pass:    false,
			Message: "set GOOGLE_APPLICATION_CREDENTIALS or providers.google.endpoint",
		}
	}
	if _, err := os.Stat(credsPath); err != nil {
		return Check{
			Name:    "asr.google",
			Pass:    false,
			Message: fmt.Sprintf("credentials file %q is not readable: %v", credsPath, err),
		}
	}
	return Check{Name: "asr.google", Pass: true, Message: fmt.Sprintf("credentials at %q", credsPath)}
}

// checkAWSCredentials resolves the default credential chain live.
func checkAWSCredentials() Check {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return Check{Name: "asr.aws", Pass: false, Message: fmt.Sprintf("load aws config: %v", err)}
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return Check{Name: "asr.aws", Pass: false, Message: fmt.Sprintf("resolve credentials: %v", err)}
	}
	if cfg.Region == "" {
		return Check{Name: "asr.aws", Pass: false, Message: "aws region is not configured"}
	}
	return Check{Name: "asr.aws", Pass: true, Message: fmt.Sprintf("credentials from %s", creds.Source)}
}

// checkLocalCommand validates the external transcription argv.
func checkLocalCommand(local config.LocalConfig) Check {
	if len(local.Cmd.Argv) == 0 {
		return Check{Name: "asr.local", Pass: false, Message: "providers.local.cmd is empty"}
	}
	return checkBinary(local.Cmd.Argv[0], "local transcription command is available")
}

// checkSocket reports daemon liveness or socket directory writability. The
// second return is true when a daemon answered the probe.
func checkSocket() (Check, bool) {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "ipc.socket", Pass: false, Message: err.Error()}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if alive, _ := ipc.Probe(ctx, path, probeTimeout); alive {
		return Check{
			Name:    "ipc.socket",
			Pass:    true,
			Message: fmt.Sprintf("daemon is running at %q", path),
		}, true
	}

	dir := filepath.Dir(path)
	probe, err := os.CreateTemp(dir, ".dictum-doctor-*")
	if err != nil {
		return Check{
			Name:    "ipc.socket",
			Pass:    false,
			Message: fmt.Sprintf("socket dir %q is not writable: %v", dir, err),
		}, false
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return Check{Name: "ipc.socket", Pass: true, Message: fmt.Sprintf("socket dir %q is writable", dir)}, false
}

// checkDiagListen bind-tests the diagnostics address unless a running
// daemon already owns it.
func checkDiagListen(listen string, daemonAlive bool) Check {
	if daemonAlive {
		return Check{Name: "diag.listen", Pass: true, Message: "daemon is serving diagnostics"}
	}

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return Check{Name: "diag.listen", Pass: false, Message: fmt.Sprintf("cannot bind %s: %v", listen, err)}
	}
	_ = listener.Close()
	return Check{Name: "diag.listen", Pass: true, Message: fmt.Sprintf("%s is bindable", listen)}
}
