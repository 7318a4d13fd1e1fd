// Package probe runs one external command without a shell and captures its output.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const (
	defaultMaxStdout = 16 << 20
	maxStderr        = 8 * 1024
	waitDelay        = 2 * time.Second
)

// ExecutionError reports a command that could not be launched or did not finish.
// Params: argv command, timeout flag, and launch/wait cause.
// Returns: execution error.
type ExecutionError struct {
	Command  []string
	TimedOut bool
	Err      error
}

// Error formats execution failure text.
// Params: none.
// Returns: message with command and cause.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("run %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying cause.
// Params: none.
// Returns: wrapped error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Request describes one probe invocation.
// Params: argv command, optional timeout, and extra environment.
// Returns: runner input.
type Request struct {
	Command []string
	Timeout time.Duration
	Env     map[string]string
}

// Result is the captured outcome of one finished command.
// Params: exit status, stdout bytes, stderr text, and elapsed time.
// Returns: raw probe output.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

// Runner executes probe commands.
// MaxStdout caps captured stdout; extra bytes are dropped.
type Runner struct {
	MaxStdout int
}

// NewRunner creates a probe runner.
// Params: maxStdout stdout capture cap (0 uses default).
// Returns: configured runner.
func NewRunner(maxStdout int) *Runner {
	if maxStdout <= 0 {
		maxStdout = defaultMaxStdout
	}
	return &Runner{MaxStdout: maxStdout}
}

type cappedBuffer struct {
	buffer    bytes.Buffer
	max       int
	truncated bool
}

// Write appends data up to configured cap and silently drops the rest.
// Params: payload chunk bytes.
// Returns: consumed input size to keep writer contract for command pipes.
func (b *cappedBuffer) Write(payload []byte) (int, error) {
	if b.max <= 0 || b.buffer.Len() >= b.max {
		b.truncated = b.truncated || len(payload) > 0
		return len(payload), nil
	}

	remaining := b.max - b.buffer.Len()
	if len(payload) > remaining {
		_, _ = b.buffer.Write(payload[:remaining])
		b.truncated = true
		return len(payload), nil
	}

	_, _ = b.buffer.Write(payload)
	return len(payload), nil
}

// Run executes the argv command directly and waits for it to exit.
// A non-zero exit status is reported in Result, not as an error.
// Params: ctx cancels and kills the child; req command and limits.
// Returns: captured result or *ExecutionError.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Command) == 0 || strings.TrimSpace(req.Command[0]) == "" {
		return Result{}, &ExecutionError{Command: req.Command, Err: errors.New("command is empty")}
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	command := exec.CommandContext(runCtx, req.Command[0], req.Command[1:]...)
	command.Env = mergeEnvironment(req.Env)
	command.WaitDelay = waitDelay

	maxStdout := r.MaxStdout
	if maxStdout <= 0 {
		maxStdout = defaultMaxStdout
	}
	stdout := &cappedBuffer{max: maxStdout}
	stderr := &cappedBuffer{max: maxStderr}
	command.Stdout = stdout
	command.Stderr = stderr

	started := time.Now()
	err := command.Run()
	result := Result{
		Stdout:   stdout.buffer.Bytes(),
		Stderr:   strings.TrimSpace(stderr.buffer.String()),
		Duration: time.Since(started),
	}
	if stdout.truncated {
		return result, &ExecutionError{
			Command: req.Command,
			Err:     fmt.Errorf("stdout exceeds %d bytes", maxStdout),
		}
	}

	if err == nil {
		return result, nil
	}

	if runCtx.Err() != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, &ExecutionError{
				Command:  req.Command,
				TimedOut: true,
				Err:      fmt.Errorf("timed out after %s", req.Timeout),
			}
		}
		return result, &ExecutionError{Command: req.Command, Err: runCtx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return result, &ExecutionError{Command: req.Command, Err: err}
}

// mergeEnvironment builds command environment with overrides from config.
// Params: overrides key-value map.
// Returns: process environment slice.
func mergeEnvironment(overrides map[string]string) []string {
	out := make([]string, 0, len(os.Environ())+len(overrides))
	out = append(out, os.Environ()...)

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		out = append(out, key+"="+overrides[key])
	}

	return out
}
