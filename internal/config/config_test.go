package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sysstats/internal/config"
)

const minimalTOML = `
[influx]
url = "http://127.0.0.1:8086"
org = "ops"
bucket = "hosts"

[[stats]]
name = "system"

[[stats.points]]
command = ["/usr/local/bin/cpu-probe", "--json"]
fields = [{ key = "usage", expression = ".cpu.usage" }]
`

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_INFLUX_TOKEN", "s3cret")
	t.Setenv("TEST_REGION", "eu")
	defer config.SetHostname(func() (string, error) { return "probe-host", nil })()

	path := writeConfig(t, "config.toml", `
[global]
host_tag = "host"

[influx]
url = "http://127.0.0.1:8086"
token = "${TEST_INFLUX_TOKEN}"
org = "ops"
bucket = "hosts"

[[stats]]
name = "system"

[[stats.points]]
command = ["/usr/local/bin/cpu-probe"]
tags = [{ key = "region", value = "${TEST_REGION}" }]
fields = [{ key = "usage", expression = ".cpu.usage" }]
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Influx.Token != "s3cret" {
		t.Fatalf("unexpected token: %q", cfg.Influx.Token)
	}
	if cfg.Global.Host != "probe-host" {
		t.Fatalf("expected host default, got %q", cfg.Global.Host)
	}
	if !cfg.Log.Console.Enabled || cfg.Log.Console.Level != "info" || cfg.Log.Console.Format != "line" {
		t.Fatalf("unexpected console defaults: %+v", cfg.Log.Console)
	}
	if cfg.Influx.Timeout.Duration != 5*time.Second || cfg.Influx.Precision != "ns" {
		t.Fatalf("unexpected influx defaults: %+v", cfg.Influx)
	}
	if cfg.Collect.Workers != 4 || cfg.Collect.Timeout.Duration != 10*time.Second || cfg.Collect.MaxOutput != 16<<20 {
		t.Fatalf("unexpected collect defaults: %+v", cfg.Collect)
	}
	if cfg.HTTP.Listen != "0.0.0.0:2543" || cfg.HTTP.ExecuteTimeout.Duration != time.Minute {
		t.Fatalf("unexpected http defaults: %+v", cfg.HTTP)
	}

	point := cfg.Stats[0].Points[0]
	if point.Measurement != "system" {
		t.Fatalf("expected stat name as measurement, got %q", point.Measurement)
	}
	if point.Samples != 1 || point.Timeout.Duration != 10*time.Second {
		t.Fatalf("unexpected point defaults: samples=%d timeout=%s", point.Samples, point.Timeout.Duration)
	}
	if diff := cmp.Diff([]config.TagSpec{{Key: "region", Value: "eu"}}, point.Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
}

// TestLoad_HostLookupOnlyWhenTagged verifies the host lookup is skipped without host_tag.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_HostLookupOnlyWhenTagged(t *testing.T) {
	defer config.SetHostname(func() (string, error) { return "", errors.New("no host") })()

	cfg, err := config.Load(writeConfig(t, "config.toml", minimalTOML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Global.Host != "" {
		t.Fatalf("unexpected host: %q", cfg.Global.Host)
	}

	_, err = config.Load(writeConfig(t, "config.toml", "[global]\nhost_tag = \"host\"\n"+minimalTOML))
	if err == nil || !strings.Contains(err.Error(), "resolve hostname") {
		t.Fatalf("expected hostname error, got %v", err)
	}
}

// TestLoad_YAMLMatchesTOML verifies both formats decode to the same config.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_YAMLMatchesTOML(t *testing.T) {
	tomlCfg, err := config.Load(writeConfig(t, "config.toml", `
[global]
host = "db-01"
host_tag = "host"
tags = { dc = "fra" }

[influx]
url = "https://influx.example.com"
token = "t"
org = "ops"
bucket = "hosts"
timeout = "3s"

[collect]
workers = 2

[[stats]]
name = "db"

[[stats.points]]
measurement = "pg"
command = ["pg-probe", "--db", "main"]
timeout = "2s"
samples = 3
interval = "500ms"
env = { PGHOST = "localhost" }
tags = [{ key = "role", value = "primary" }]
fields = [
  { key = "connections", expression = ".conn" },
  { key = "lag", value = ".replication.lag" },
]
`))
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}

	yamlCfg, err := config.Load(writeConfig(t, "config.yaml", `
global:
  host: db-01
  host_tag: host
  tags:
    dc: fra
influx:
  url: https://influx.example.com
  token: t
  org: ops
  bucket: hosts
  timeout: 3s
collect:
  workers: 2
stats:
  - name: db
    points:
      - measurement: pg
        command: [pg-probe, --db, main]
        timeout: 2s
        samples: 3
        interval: 500ms
        env:
          PGHOST: localhost
        tags:
          - key: role
            value: primary
        fields:
          - key: connections
            expression: .conn
          - key: lag
            value: .replication.lag
`))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	if diff := cmp.Diff(tomlCfg, yamlCfg); diff != "" {
		t.Fatalf("toml/yaml mismatch (-toml +yaml):\n%s", diff)
	}

	fields := yamlCfg.Stats[0].Points[0].Fields
	if fields[1].Expression != ".replication.lag" {
		t.Fatalf("legacy value alias not applied: %+v", fields[1])
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-influx.toml": `
[influx]
url = "http://127.0.0.1:8086"
org = "ops"
bucket = "hosts"
`,
		"10-system.toml": `
[[stats]]
name = "system"

[[stats.points]]
command = ["cpu-probe"]
fields = [{ key = "usage", expression = ".usage" }]
`,
		"20-disk.toml": `
[[stats]]
name = "disk"

[[stats.points]]
command = ["disk-probe"]
fields = [{ key = "free", expression = ".free" }]
`,
		"README.md": "not toml",
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}

	names := make([]string, 0, len(cfg.Stats))
	for _, stat := range cfg.Stats {
		names = append(names, stat.Name)
	}
	if diff := cmp.Diff([]string{"system", "disk"}, names); diff != "" {
		t.Fatalf("stat order mismatch (-want +got):\n%s", diff)
	}
}

// TestLoad_ConfigDirRejectsWithoutToml verifies empty config directories fail.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRejectsWithoutToml(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{"notes.txt": "x"})

	_, err := config.Load(dir)
	if err == nil || !strings.Contains(err.Error(), "no *.toml files") {
		t.Fatalf("expected missing toml error, got %v", err)
	}
}

// TestLoad_RejectsInvalidConfig verifies path-qualified validation errors.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidConfig(t *testing.T) {
	influx := `
[influx]
url = "http://127.0.0.1:8086"
org = "ops"
bucket = "hosts"
`
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no stats",
			body: influx,
			want: "at least one [[stats]]",
		},
		{
			name: "missing influx url",
			body: strings.Replace(minimalTOML, `url = "http://127.0.0.1:8086"`, "", 1),
			want: "influx.url is required",
		},
		{
			name: "bad influx scheme",
			body: strings.Replace(minimalTOML, "http://127.0.0.1:8086", "udp://127.0.0.1:8089", 1),
			want: "influx.url must use http or https",
		},
		{
			name: "duplicate stat",
			body: minimalTOML + `
[[stats]]
name = "system"
`,
			want: `stats[1].name "system" duplicates stats[0]`,
		},
		{
			name: "empty command",
			body: influx + `
[[stats]]
name = "s"

[[stats.points]]
command = []
fields = [{ key = "v", expression = ".v" }]
`,
			want: "stats[0].points[0].command must not be empty",
		},
		{
			name: "no fields",
			body: influx + `
[[stats]]
name = "s"

[[stats.points]]
command = ["probe"]
`,
			want: "stats[0].points[0].fields must contain at least one field",
		},
		{
			name: "bad expression",
			body: influx + `
[[stats]]
name = "s"

[[stats.points]]
command = ["probe"]
fields = [{ key = "v", expression = ".a[" }]
`,
			want: "stats[0].points[0].fields[0].expression",
		},
		{
			name: "negative samples",
			body: influx + `
[[stats]]
name = "s"

[[stats.points]]
command = ["probe"]
samples = -1
fields = [{ key = "v", expression = ".v" }]
`,
			want: "stats[0].points[0].samples must be >= 1",
		},
		{
			name: "empty tag key",
			body: influx + `
[[stats]]
name = "s"

[[stats.points]]
command = ["probe"]
tags = [{ key = "", value = "x" }]
fields = [{ key = "v", expression = ".v" }]
`,
			want: "stats[0].points[0].tags[0].key is required",
		},
		{
			name: "bad log level",
			body: "[log.console]\nlevel = \"trace\"\n" + minimalTOML,
			want: "log.console.level",
		},
		{
			name: "file sink without path",
			body: "[log.file]\nenabled = true\n" + minimalTOML,
			want: "log.file.path is required",
		},
		{
			name: "bad http listen",
			body: "[http]\nlisten = \"2543\"\n" + minimalTOML,
			want: "http.listen must be host:port",
		},
		{
			name: "bad duration",
			body: "[collect]\ntimeout = \"soon\"\n" + minimalTOML,
			want: "parse duration",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, "config.toml", tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

// TestLoad_ParsesSideServers verifies grpc and pprof listen defaults apply only when enabled.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesSideServers(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "config.toml", `
[grpc]
enabled = true

[pprof]
enabled = true
listen = "127.0.0.1:6161"
`+minimalTOML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.GRPC.Listen != "127.0.0.1:2544" {
		t.Fatalf("unexpected grpc listen: %q", cfg.GRPC.Listen)
	}
	if cfg.Pprof.Listen != "127.0.0.1:6161" {
		t.Fatalf("unexpected pprof listen: %q", cfg.Pprof.Listen)
	}
}

// TestDuplicateKeys verifies repeated keys are reported without rejecting the config.
// Params: testing.T for assertions.
// Returns: none.
func TestDuplicateKeys(t *testing.T) {
	tags, fields := config.DuplicateKeys(config.PointConfig{
		Tags: []config.TagSpec{{Key: "region", Value: "us"}, {Key: "region", Value: "eu"}, {Key: "az"}},
		Fields: []config.FieldSpec{
			{Key: "v", Expression: ".a"},
			{Key: "w", Expression: ".b"},
			{Key: "v", Expression: ".c"},
		},
	})
	if diff := cmp.Diff([]string{"region"}, tags); diff != "" {
		t.Fatalf("tag duplicates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"v"}, fields); diff != "" {
		t.Fatalf("field duplicates mismatch (-want +got):\n%s", diff)
	}
}

// writeConfig creates a temp config file for tests.
// Params: t test handle; name file name selecting format; body content.
// Returns: absolute path to temp config.
func writeConfig(t *testing.T, name string, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// writeConfigDir creates a temp config directory populated with provided files.
// Params: t test handle; files map[name]body.
// Returns: absolute directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config file %q: %v", name, err)
		}
	}
	return dir
}
