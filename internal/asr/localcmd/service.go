// Package localcmd runs an external transcription command, for offline
// models the daemon should not link against directly.
package localcmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rbright/dictum/internal/asr"
)

// Service shells out to a configured command with a temp WAV path appended
// to its argv. Whatever the command prints to stdout is the transcript.
type Service struct {
	argv []string
}

// New builds a service around the configured argv.
func New(argv []string) *Service {
	return &Service{argv: argv}
}

// Name identifies the service in logs and results.
func (s *Service) Name() string { return "local" }

// Recognize writes the utterance to a temp WAV, runs the command with the
// path appended, and returns trimmed stdout. The session language is
// exported as DICTUM_LANGUAGE so scripts can switch models.
func (s *Service) Recognize(ctx context.Context, audio asr.Audio, language string) (string, error) {
	if len(s.argv) == 0 {
		return "", fmt.Errorf("%w: local transcription command is not configured", asr.ErrUnavailable)
	}

	dir, err := os.MkdirTemp("", "dictum-asr-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "utterance.wav")
	if err := asr.WriteWAVFile(path, audio); err != nil {
		return "", err
	}

	args := append(append([]string(nil), s.argv[1:]...), path)
	cmd := exec.CommandContext(ctx, s.argv[0], args...)
	cmd.Env = append(os.Environ(), "DICTUM_LANGUAGE="+language)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return "", fmt.Errorf("run %s: %w: %s", s.argv[0], err, detail)
		}
		return "", fmt.Errorf("run %s: %w", s.argv[0], err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
