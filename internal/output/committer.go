// Package output delivers the committed transcript to the focused
// application, either through the clipboard or by synthesizing keystrokes.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"

	"github.com/rbright/dictum/internal/config"
)

const commandTimeout = 2 * time.Second

// Committer applies transcript commit side effects per the output config.
type Committer struct {
	output config.OutputConfig
	logger *slog.Logger

	// typeText dispatches synthesized keystrokes. Defaults to robotgo.
	typeText func(string)
}

// NewCommitter constructs a transcript committer from runtime config.
func NewCommitter(output config.OutputConfig, logger *slog.Logger) *Committer {
	return &Committer{
		output:   output,
		logger:   logger,
		typeText: func(text string) { robotgo.TypeStr(text) },
	}
}

// Commit delivers transcript text to the focused application. Type mode
// synthesizes keystrokes; clipboard mode pipes the text to the clipboard
// command and optionally dispatches the paste command afterwards.
func (c *Committer) Commit(ctx context.Context, transcript string) error {
	if transcript == "" {
		return nil
	}

	if strings.EqualFold(strings.TrimSpace(c.output.Mode), "type") {
		c.typeText(transcript)
		return nil
	}

	clipboardCtx, clipboardCancel := context.WithTimeout(ctx, commandTimeout)
	defer clipboardCancel()
	if err := runCommandWithInput(clipboardCtx, c.output.ClipboardCmd.Argv, transcript); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}

	if !c.output.Paste.Enable {
		return nil
	}

	pasteCtx, pasteCancel := context.WithTimeout(ctx, commandTimeout)
	defer pasteCancel()
	if err := runCommandWithInput(pasteCtx, c.output.Paste.Cmd.Argv, ""); err != nil {
		c.logPasteFailure(err)
	}
	return nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}

// logPasteFailure records paste errors while preserving clipboard success semantics.
func (c *Committer) logPasteFailure(err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Error("paste dispatch failed; clipboard remains set", "error", err.Error())
}
