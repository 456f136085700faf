package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
)

// prompter reads command lines. *liner.State implements it for interactive
// use, scriptReader for piped input.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// loop reads and executes lines until "exit", end of input or ctx is done.
// Returns the number of lines that failed.
func (s *Shell) loop(ctx context.Context, o *IO, p prompter) (int, error) {
	failed := 0

	for !s.exited {
		if ctx.Err() != nil {
			return failed, nil
		}

		line, err := p.Prompt(s.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}

			if errors.Is(err, io.EOF) {
				return failed, nil
			}

			return failed, fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		p.AppendHistory(line)

		if s.Exec(ctx, o, line) != 0 {
			failed++
		}
	}

	return failed, nil
}

func (s *Shell) prompt() string {
	cwd, err := s.fsys.CurrentDir()
	if err != nil {
		cwd = "?"
	}

	return "vfsh:" + cwd + "> "
}

// scriptReader feeds lines from a non-interactive reader.
type scriptReader struct {
	sc *bufio.Scanner
}

func newScriptReader(r io.Reader) *scriptReader {
	return &scriptReader{sc: bufio.NewScanner(r)}
}

func (r *scriptReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}

	if err := r.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (r *scriptReader) AppendHistory(string) {}

// historyPath returns $XDG_STATE_HOME/vfsh/history or ~/.vfsh_history, or ""
// when neither variable is set.
func historyPath(env map[string]string) string {
	if state := env["XDG_STATE_HOME"]; state != "" {
		return filepath.Join(state, "vfsh", "history")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".vfsh_history")
	}

	return ""
}

// interactive runs the liner-backed REPL.
func (s *Shell) interactive(ctx context.Context, o *IO, histFile string) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()

	line.SetCtrlCAborts(true)
	line.SetCompleter(s.Complete)

	if histFile != "" {
		if f, err := os.Open(histFile); err == nil {
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}
	}

	o.Println("vfsh - type 'help' for commands, 'exit' or Ctrl-D to leave.")

	_, err := s.loop(ctx, o, line)

	if histFile != "" {
		if saveErr := saveHistory(line, histFile); saveErr != nil {
			o.Warn("cannot save history", saveErr.Error())
			o.Finish()
		}
	}

	return err
}

// saveHistory replaces the history file atomically.
func saveHistory(h interface{ WriteHistory(io.Writer) (int, error) }, p string) error {
	var buf bytes.Buffer

	if _, err := h.WriteHistory(&buf); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	return atomic.WriteFile(p, &buf)
}
