package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sysstats/internal/config"
	"sysstats/internal/pipeline"
)

type memorySink struct {
	mu     sync.Mutex
	points []pipeline.NormalizedPoint
}

// Write stores point in memory.
// Params: ctx unused; point to store.
// Returns: nil.
func (s *memorySink) Write(_ context.Context, point pipeline.NormalizedPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, point)
	return nil
}

// writeExecutableScript writes shell script and marks it executable.
// Params: t test handle; name file name; body script body.
// Returns: absolute script path.
func writeExecutableScript(t *testing.T, dir string, name string, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	script := "#!/bin/sh\nset -eu\n" + strings.TrimSpace(body) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatalf("chmod script: %v", err)
	}
	return path
}

// writeOnceConfig writes a config with one good and one broken probe.
// Params: t test handle.
// Returns: config file path.
func writeOnceConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	cpu := writeExecutableScript(t, dir, "cpu.sh", `printf '%s\n' '{"cpu": {"usage": "42.5"}}'`)
	broken := writeExecutableScript(t, dir, "broken.sh", `echo 'not json'`)

	content := `
[global]
host = "web-1"
host_tag = "host"

[influx]
url = "http://127.0.0.1:1"
org = "ops"
bucket = "hosts"

[[stats]]
name = "system"

[[stats.points]]
measurement = "cpu"
command = ["` + cpu + `"]
fields = [{ key = "usage", expression = ".cpu.usage" }]

[[stats.points]]
measurement = "broken"
command = ["` + broken + `"]
fields = [{ key = "v", expression = ".v" }]
`
	path := filepath.Join(dir, "sysstats.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestRunOnce_WritesAndPrintsResult verifies one run writes points and prints stat results.
// Params: testing.T for assertions.
// Returns: none.
func TestRunOnce_WritesAndPrintsResult(t *testing.T) {
	sink := &memorySink{}
	loggers := &fakeLoggerFactory{}
	deps := onceDeps{
		loadConfig: config.Load,
		newLogger:  loggers.create,
		newSink: func(_ context.Context, _ config.InfluxConfig) (pipeline.Sink, func(), error) {
			return sink, func() {}, nil
		},
	}

	var out bytes.Buffer
	report, err := runOnceWithDeps(context.Background(), OnceOptions{ConfigPath: writeOnceConfig(t), Output: &out}, deps)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 || report.AllFailed() {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(sink.points) != 1 || sink.points[0].Measurement != "cpu" {
		t.Fatalf("unexpected sink points: %+v", sink.points)
	}
	if loggers.closed.Load() != 1 {
		t.Fatalf("logger was not closed")
	}

	var printed map[string][]pipeline.NormalizedPoint
	if err := json.Unmarshal(out.Bytes(), &printed); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	points := printed["system"]
	if len(points) != 1 {
		t.Fatalf("unexpected printed result: %s", out.String())
	}
	if diff := cmp.Diff(map[string]string{"host": "web-1"}, points[0].Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
	if points[0].Fields["usage"] != 42.5 {
		t.Fatalf("unexpected fields: %+v", points[0].Fields)
	}
}

// TestRunOnce_DryRunSkipsSink verifies dry runs never connect to the sink.
// Params: testing.T for assertions.
// Returns: none.
func TestRunOnce_DryRunSkipsSink(t *testing.T) {
	deps := onceDeps{
		loadConfig: config.Load,
		newLogger:  (&fakeLoggerFactory{}).create,
		newSink: func(_ context.Context, _ config.InfluxConfig) (pipeline.Sink, func(), error) {
			t.Fatalf("sink must not be created in dry-run")
			return nil, nil, nil
		},
	}

	report, err := runOnceWithDeps(context.Background(), OnceOptions{ConfigPath: writeOnceConfig(t), DryRun: true}, deps)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Results["system"]) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

// TestRunOnce_StartupErrors verifies config and sink failures are classified.
// Params: testing.T for assertions.
// Returns: none.
func TestRunOnce_StartupErrors(t *testing.T) {
	deps := defaultOnceDeps()
	deps.newLogger = (&fakeLoggerFactory{}).create

	_, err := runOnceWithDeps(context.Background(), OnceOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")}, deps)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}

	deps.newSink = func(_ context.Context, _ config.InfluxConfig) (pipeline.Sink, func(), error) {
		return nil, nil, errors.New("connection refused")
	}
	_, err = runOnceWithDeps(context.Background(), OnceOptions{ConfigPath: writeOnceConfig(t)}, deps)
	if !errors.Is(err, ErrSinkInit) {
		t.Fatalf("expected ErrSinkInit, got %v", err)
	}
}
