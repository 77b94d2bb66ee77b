// Package executor runs the native tools behind the command-line backends.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Executor runs native tools. Dry-run only suppresses commands that change the system; queries
// always run so the catalog stays accurate.
type Executor struct {
	mu          sync.RWMutex
	dryRun      bool
	interactive bool
	logger      *zap.Logger
}

// New creates an Executor.
func New(logger *zap.Logger, dryRun bool) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		dryRun: dryRun,
		logger: logger.Named("exec"),
	}
}

// SetDryRun enables or disables dry-run mode.
func (e *Executor) SetDryRun(dryRun bool) {
	e.mu.Lock()
	e.dryRun = dryRun
	e.mu.Unlock()
}

// DryRun reports whether mutating commands are suppressed.
func (e *Executor) DryRun() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dryRun
}

// SetInteractive lets sudo prompt for a password on the terminal. Without it sudo runs with -n
// and fails instead of blocking.
func (e *Executor) SetInteractive(interactive bool) {
	e.mu.Lock()
	e.interactive = interactive
	e.mu.Unlock()
}

func (e *Executor) isInteractive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.interactive
}

// LookPath reports where a tool is installed.
func (e *Executor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// CommandError is returned when a tool exits unsuccessfully.
type CommandError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if line := lastLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Output runs a read-only command and returns its stdout.
func (e *Executor) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("executing", zap.String("cmd", name), zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		return stdout.String(), e.wrap(ctx, name, args, stderr.String(), err)
	}
	return stdout.String(), nil
}

// Lines runs a read-only command and calls onLine for every output line as it is printed. Leading
// indentation is kept for parsers that rely on it.
func (e *Executor) Lines(ctx context.Context, onLine func(string), name string, args ...string) error {
	return e.stream(ctx, exec.CommandContext(ctx, name, args...), onLine, name, args, true)
}

// Run runs a command that changes the system, calling onLine for every output line. Lines are split on
// newlines and carriage returns so progress bars arrive as separate updates.
func (e *Executor) Run(ctx context.Context, onLine func(string), name string, args ...string) error {
	if e.DryRun() {
		e.logger.Info("dry-run", zap.String("cmd", name), zap.Strings("args", args))
		return nil
	}
	return e.stream(ctx, exec.CommandContext(ctx, name, args...), onLine, name, args, false)
}

// RunSudo is Run with root privileges.
func (e *Executor) RunSudo(ctx context.Context, onLine func(string), name string, args ...string) error {
	if e.DryRun() {
		e.logger.Info("dry-run", zap.String("cmd", name), zap.Strings("args", args), zap.Bool("sudo", !isRoot()))
		return nil
	}

	var cmd *exec.Cmd
	switch {
	case isRoot():
		cmd = exec.CommandContext(ctx, name, args...)
	case hasSudo():
		sudoArgs := []string{name}
		if !e.isInteractive() {
			sudoArgs = []string{"-n", name}
		}
		cmd = exec.CommandContext(ctx, "sudo", append(sudoArgs, args...)...)
		if e.isInteractive() {
			cmd.Stdin = os.Stdin
		}
	default:
		return ErrNoPrivileges
	}
	return e.stream(ctx, cmd, onLine, name, args, false)
}

// stream runs cmd and feeds onLine. Raw lines keep their indentation; others are trimmed.
func (e *Executor) stream(ctx context.Context, cmd *exec.Cmd, onLine func(string), name string, args []string, raw bool) error {
	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	cmd.Stdout = pw
	cmd.Stderr = io.MultiWriter(pw, &stderr)

	e.logger.Debug("executing", zap.String("cmd", name), zap.Strings("args", args))

	if err := cmd.Start(); err != nil {
		pw.Close()
		return e.wrap(ctx, name, args, "", err)
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		sc := bufio.NewScanner(pr)
		sc.Split(scanLines)
		for sc.Scan() {
			line := sc.Text()
			if strings.TrimSpace(line) == "" || onLine == nil {
				continue
			}
			if raw {
				onLine(strings.TrimRight(line, " \t"))
			} else {
				onLine(strings.TrimSpace(line))
			}
		}
		// Keep draining so the command never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-scanned

	if err != nil {
		return e.wrap(ctx, name, args, stderr.String(), err)
	}
	return nil
}

func (e *Executor) wrap(ctx context.Context, name string, args []string, stderr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrNotFound) {
		return &CommandError{Name: name, Args: args, Stderr: stderr, Err: err}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// scanLines is bufio.ScanLines that also splits on carriage returns.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lastLine(s string) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
