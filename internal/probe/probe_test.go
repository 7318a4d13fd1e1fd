package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestRunner_CapturesStdoutAndStderr verifies output capture for a successful command.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_CapturesStdoutAndStderr(t *testing.T) {
	path := writeExecutableScript(t, `
printf '%s\n' '{"cpu":{"usage":"42.5"}}'
echo 'note' >&2
`)

	result, err := NewRunner(0).Run(context.Background(), Request{Command: []string{path}, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("unexpected exit code: %d", result.ExitCode)
	}
	if got := strings.TrimSpace(string(result.Stdout)); got != `{"cpu":{"usage":"42.5"}}` {
		t.Fatalf("unexpected stdout: %q", got)
	}
	if result.Stderr != "note" {
		t.Fatalf("unexpected stderr: %q", result.Stderr)
	}
}

// TestRunner_ArgumentsAreNotShellInterpreted verifies argv is passed verbatim.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_ArgumentsAreNotShellInterpreted(t *testing.T) {
	path := writeExecutableScript(t, `
printf '%s' "$1"
`)

	result, err := NewRunner(0).Run(context.Background(), Request{Command: []string{path, "$(id); echo pwned"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := string(result.Stdout); got != "$(id); echo pwned" {
		t.Fatalf("argument was rewritten: %q", got)
	}
}

// TestRunner_NonZeroExitIsNotError verifies exit status is reported in result.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_NonZeroExitIsNotError(t *testing.T) {
	path := writeExecutableScript(t, `
printf '%s\n' '{"ok":true}'
echo 'broken' >&2
exit 3
`)

	result, err := NewRunner(0).Run(context.Background(), Request{Command: []string{path}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("unexpected exit code: %d", result.ExitCode)
	}
	if result.Stderr != "broken" {
		t.Fatalf("unexpected stderr: %q", result.Stderr)
	}
	if !strings.Contains(string(result.Stdout), `"ok"`) {
		t.Fatalf("stdout lost on non-zero exit: %q", result.Stdout)
	}
}

// TestRunner_Environment verifies env overrides reach the child.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_Environment(t *testing.T) {
	path := writeExecutableScript(t, `
printf '%s' "$PROBE_FLAG"
`)

	result, err := NewRunner(0).Run(context.Background(), Request{
		Command: []string{path},
		Env:     map[string]string{"PROBE_FLAG": "on"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(result.Stdout) != "on" {
		t.Fatalf("unexpected stdout: %q", result.Stdout)
	}
}

// TestRunner_LaunchFailure verifies a missing executable is an ExecutionError.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_LaunchFailure(t *testing.T) {
	_, err := NewRunner(0).Run(context.Background(), Request{
		Command: []string{filepath.Join(t.TempDir(), "missing-probe")},
	})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.TimedOut {
		t.Fatalf("launch failure must not be reported as timeout")
	}
}

// TestRunner_EmptyCommand verifies empty argv is rejected.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_EmptyCommand(t *testing.T) {
	_, err := NewRunner(0).Run(context.Background(), Request{})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
}

// TestRunner_Timeout verifies the child is killed after timeout.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_Timeout(t *testing.T) {
	path := writeExecutableScript(t, `
sleep 5
printf '%s\n' '{}'
`)

	started := time.Now()
	_, err := NewRunner(0).Run(context.Background(), Request{Command: []string{path}, Timeout: 100 * time.Millisecond})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || !execErr.TimedOut {
		t.Fatalf("expected timeout ExecutionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout text, got: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 4*time.Second {
		t.Fatalf("timeout did not stop the child early: %s", elapsed)
	}
}

// TestRunner_CallerCancel verifies caller cancellation is not reported as timeout.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_CallerCancel(t *testing.T) {
	path := writeExecutableScript(t, `
sleep 5
`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewRunner(0).Run(ctx, Request{Command: []string{path}, Timeout: 10 * time.Second})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.TimedOut {
		t.Fatalf("caller cancellation reported as probe timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context cause, got %v", err)
	}
}

// TestRunner_StdoutCap verifies oversized output fails instead of being parsed truncated.
// Params: testing.T for assertions.
// Returns: none.
func TestRunner_StdoutCap(t *testing.T) {
	path := writeExecutableScript(t, `
printf '%s' '{"value":1234567890}'
`)

	_, err := NewRunner(8).Run(context.Background(), Request{Command: []string{path}})
	if err == nil || !strings.Contains(err.Error(), "exceeds 8 bytes") {
		t.Fatalf("expected stdout cap error, got %v", err)
	}
}

// writeExecutableScript writes shell script and marks it executable.
// Params: t test handle; body script body.
// Returns: absolute script path.
func writeExecutableScript(t *testing.T, body string) string {
	t.Helper()

	script := "#!/bin/sh\nset -eu\n" + strings.TrimSpace(body) + "\n"
	path := filepath.Join(t.TempDir(), "probe.sh")

	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatalf("chmod script: %v", err)
	}
	return path
}
