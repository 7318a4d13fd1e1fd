package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shirou/gopsutil/v4/host"
	"gopkg.in/yaml.v3"

	"sysstats/internal/extract"
)

const (
	defaultLogLevel         = "info"
	defaultLogFormat        = "line"
	defaultInfluxTimeout    = 5 * time.Second
	defaultInfluxPrecision  = "ns"
	defaultCollectWorkers   = 4
	defaultCollectTimeout   = 10 * time.Second
	defaultCollectMaxOutput = 16 << 20
	defaultHTTPListen       = "0.0.0.0:2543"
	defaultExecuteTimeout   = 60 * time.Second
	defaultGRPCListen       = "127.0.0.1:2544"
	defaultPprofListen      = "127.0.0.1:6060"
	defaultSamples          = 1
)

// Duration wraps time.Duration for TOML and YAML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses YAML scalar duration values.
// Params: node is the YAML scalar node.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Config represents the root agent configuration.
// Params: TOML or YAML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Global  GlobalConfig  `toml:"global" yaml:"global"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Influx  InfluxConfig  `toml:"influx" yaml:"influx"`
	Collect CollectConfig `toml:"collect" yaml:"collect"`
	HTTP    HTTPConfig    `toml:"http" yaml:"http"`
	GRPC    GRPCConfig    `toml:"grpc" yaml:"grpc"`
	Pprof   PprofConfig   `toml:"pprof" yaml:"pprof"`
	Stats   []StatConfig  `toml:"stats" yaml:"stats"`
}

// GlobalConfig contains host identity and tags shared by every point.
// Params: configured host name, host tag key, and static tags.
// Returns: global tag settings.
type GlobalConfig struct {
	Host    string            `toml:"host" yaml:"host"`
	HostTag string            `toml:"host_tag" yaml:"host_tag"`
	Tags    map[string]string `toml:"tags" yaml:"tags"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console" yaml:"console"`
	File    LogSinkConfig `toml:"file" yaml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`
	Path    string `toml:"path" yaml:"path"`
}

// InfluxConfig contains InfluxDB v2 connection and write target settings.
// Params: server url, API token, organization, bucket, and request timeout.
// Returns: sink connection options.
type InfluxConfig struct {
	URL       string   `toml:"url" yaml:"url"`
	Token     string   `toml:"token" yaml:"token"`
	Org       string   `toml:"org" yaml:"org"`
	Bucket    string   `toml:"bucket" yaml:"bucket"`
	Timeout   Duration `toml:"timeout" yaml:"timeout"`
	Precision string   `toml:"precision" yaml:"precision"`
}

// CollectConfig defines probe execution limits shared by all points.
// Params: worker pool size, default probe timeout, and stdout cap.
// Returns: collection runtime settings.
type CollectConfig struct {
	Workers   int      `toml:"workers" yaml:"workers"`
	Timeout   Duration `toml:"timeout" yaml:"timeout"`
	MaxOutput int      `toml:"max_output" yaml:"max_output"`
}

// HTTPConfig defines the trigger HTTP endpoint.
// Params: listen address and per-request collection timeout.
// Returns: http server settings.
type HTTPConfig struct {
	Listen         string   `toml:"listen" yaml:"listen"`
	ExecuteTimeout Duration `toml:"execute_timeout" yaml:"execute_timeout"`
}

// GRPCConfig defines the optional gRPC health endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: grpc health settings.
type GRPCConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// StatConfig is one named group of points reported together.
// Params: unique stat name and ordered point list.
// Returns: stat definition.
type StatConfig struct {
	Name   string        `toml:"name" yaml:"name"`
	Points []PointConfig `toml:"points" yaml:"points"`
}

// PointConfig defines one probe command with its tags and field expressions.
// Params: measurement, argv command, tags, fields, and optional execution overrides.
// Returns: point definition.
type PointConfig struct {
	Measurement string            `toml:"measurement" yaml:"measurement"`
	Command     []string          `toml:"command" yaml:"command"`
	Tags        []TagSpec         `toml:"tags" yaml:"tags"`
	Fields      []FieldSpec       `toml:"fields" yaml:"fields"`
	Timeout     Duration          `toml:"timeout" yaml:"timeout"`
	Env         map[string]string `toml:"env" yaml:"env"`
	Samples     int               `toml:"samples" yaml:"samples"`
	Interval    Duration          `toml:"interval" yaml:"interval"`
}

// TagSpec is one literal tag copied verbatim into every point.
type TagSpec struct {
	Key   string `toml:"key" yaml:"key"`
	Value string `toml:"value" yaml:"value"`
}

// FieldSpec maps one field key to a jq expression over the probe output.
// Value is the legacy name of Expression and is only read when Expression is empty.
type FieldSpec struct {
	Key        string `toml:"key" yaml:"key"`
	Expression string `toml:"expression" yaml:"expression"`
	Value      string `toml:"value" yaml:"value"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML/YAML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, format, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(raw))), format)
	if err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", strings.ToUpper(format), path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes an already expanded config document without defaults or validation.
// Params: raw document bytes; format is "toml" or "yaml".
// Returns: decoded config or decode error.
func Parse(raw []byte, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// readConfigSource reads one config file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw bytes, detected format, or error.
func readConfigSource(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("stat config %q: %w", path, err)
	}

	if info.IsDir() {
		raw, dirErr := readConfigDir(path)
		return raw, "toml", dirErr
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read config %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return raw, "yaml", nil
	default:
		return raw, "toml", nil
	}
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// hostname resolves the local host name; replaced in tests.
var hostname = func() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(info.Hostname) == "" {
		return os.Hostname()
	}
	return info.Hostname, nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	c.Global.HostTag = strings.TrimSpace(c.Global.HostTag)
	if c.Global.HostTag != "" && strings.TrimSpace(c.Global.Host) == "" {
		name, err := hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Global.Host = name
	}

	if c.Influx.Timeout.Duration <= 0 {
		c.Influx.Timeout.Duration = defaultInfluxTimeout
	}
	c.Influx.Precision = lowerOrDefault(c.Influx.Precision, defaultInfluxPrecision)

	if c.Collect.Workers <= 0 {
		c.Collect.Workers = defaultCollectWorkers
	}
	if c.Collect.Timeout.Duration <= 0 {
		c.Collect.Timeout.Duration = defaultCollectTimeout
	}
	if c.Collect.MaxOutput <= 0 {
		c.Collect.MaxOutput = defaultCollectMaxOutput
	}

	if strings.TrimSpace(c.HTTP.Listen) == "" {
		c.HTTP.Listen = defaultHTTPListen
	}
	if c.HTTP.ExecuteTimeout.Duration <= 0 {
		c.HTTP.ExecuteTimeout.Duration = defaultExecuteTimeout
	}
	if c.GRPC.Enabled && strings.TrimSpace(c.GRPC.Listen) == "" {
		c.GRPC.Listen = defaultGRPCListen
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	for statIdx := range c.Stats {
		stat := &c.Stats[statIdx]
		stat.Name = strings.TrimSpace(stat.Name)
		for pointIdx := range stat.Points {
			applyPointDefaults(stat.Name, &stat.Points[pointIdx], c.Collect.Timeout.Duration)
		}
	}

	return nil
}

// applyPointDefaults fills measurement, timeout, sample count, and legacy field expressions.
// Params: statName used as default measurement; point pointer; timeout default probe timeout.
// Returns: none.
func applyPointDefaults(statName string, point *PointConfig, timeout time.Duration) {
	point.Measurement = strings.TrimSpace(point.Measurement)
	if point.Measurement == "" {
		point.Measurement = statName
	}
	if point.Timeout.Duration == 0 {
		point.Timeout.Duration = timeout
	}
	if point.Samples == 0 {
		point.Samples = defaultSamples
	}
	for idx := range point.Fields {
		field := &point.Fields[idx]
		if strings.TrimSpace(field.Expression) == "" {
			field.Expression = field.Value
		}
	}
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validateInfluxConfig("influx", c.Influx); err != nil {
		return err
	}
	if c.Global.HostTag != "" && strings.TrimSpace(c.Global.Host) == "" {
		return fmt.Errorf("global.host resolved to empty value")
	}
	for key := range c.Global.Tags {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("global.tags contains empty key")
		}
	}
	if c.Collect.Workers <= 0 {
		return fmt.Errorf("collect.workers must be > 0")
	}
	if err := validateListen("http.listen", c.HTTP.Listen); err != nil {
		return err
	}
	if c.GRPC.Enabled {
		if err := validateListen("grpc.listen", c.GRPC.Listen); err != nil {
			return err
		}
	}
	if c.Pprof.Enabled {
		if err := validateListen("pprof.listen", c.Pprof.Listen); err != nil {
			return err
		}
	}

	if len(c.Stats) == 0 {
		return fmt.Errorf("at least one [[stats]] section is required")
	}

	seen := make(map[string]int, len(c.Stats))
	for idx, stat := range c.Stats {
		path := fmt.Sprintf("stats[%d]", idx)
		if stat.Name == "" {
			return fmt.Errorf("%s.name is required", path)
		}
		if prev, exists := seen[stat.Name]; exists {
			return fmt.Errorf("%s.name %q duplicates stats[%d]", path, stat.Name, prev)
		}
		seen[stat.Name] = idx

		for pointIdx, point := range stat.Points {
			if err := validatePoint(fmt.Sprintf("%s.points[%d]", path, pointIdx), point); err != nil {
				return err
			}
		}
	}

	return nil
}

// validatePoint validates one point command, tags, and field expressions.
// Params: path is config path prefix; point definition.
// Returns: validation error or nil.
func validatePoint(path string, point PointConfig) error {
	if len(point.Command) == 0 || strings.TrimSpace(point.Command[0]) == "" {
		return fmt.Errorf("%s.command must not be empty", path)
	}
	if point.Timeout.Duration < 0 {
		return fmt.Errorf("%s.timeout cannot be negative", path)
	}
	if point.Samples < 1 {
		return fmt.Errorf("%s.samples must be >= 1", path)
	}
	if point.Interval.Duration < 0 {
		return fmt.Errorf("%s.interval cannot be negative", path)
	}
	for envKey := range point.Env {
		if strings.TrimSpace(envKey) == "" {
			return fmt.Errorf("%s.env contains empty key", path)
		}
	}
	for idx, tag := range point.Tags {
		if strings.TrimSpace(tag.Key) == "" {
			return fmt.Errorf("%s.tags[%d].key is required", path, idx)
		}
	}
	if len(point.Fields) == 0 {
		return fmt.Errorf("%s.fields must contain at least one field", path)
	}
	for idx, field := range point.Fields {
		fieldPath := fmt.Sprintf("%s.fields[%d]", path, idx)
		if strings.TrimSpace(field.Key) == "" {
			return fmt.Errorf("%s.key is required", fieldPath)
		}
		if strings.TrimSpace(field.Expression) == "" {
			return fmt.Errorf("%s.expression is required", fieldPath)
		}
		if _, err := extract.Compile(field.Expression); err != nil {
			return fmt.Errorf("%s.expression: %w", fieldPath, err)
		}
	}
	return nil
}

// DuplicateKeys reports tag and field keys repeated inside one point.
// Params: point definition.
// Returns: sorted duplicated tag keys and field keys.
func DuplicateKeys(point PointConfig) (tags []string, fields []string) {
	tagCount := make(map[string]int, len(point.Tags))
	for _, tag := range point.Tags {
		tagCount[tag.Key]++
	}
	fieldCount := make(map[string]int, len(point.Fields))
	for _, field := range point.Fields {
		fieldCount[field.Key]++
	}
	return repeated(tagCount), repeated(fieldCount)
}

// repeated returns sorted keys seen more than once.
// Params: counts per key.
// Returns: sorted duplicated keys.
func repeated(counts map[string]int) []string {
	var out []string
	for key, count := range counts {
		if count > 1 {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validateInfluxConfig validates InfluxDB connection settings.
// Params: path is config path prefix; cfg influx section.
// Returns: validation error for invalid sink settings.
func validateInfluxConfig(path string, cfg InfluxConfig) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("%s.url is required", path)
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", path, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s.url must use http or https scheme", path)
	}
	if strings.TrimSpace(cfg.Org) == "" {
		return fmt.Errorf("%s.org is required", path)
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return fmt.Errorf("%s.bucket is required", path)
	}
	switch cfg.Precision {
	case "ns", "us", "ms", "s":
	default:
		return fmt.Errorf("%s.precision must be one of: ns, us, ms, s", path)
	}
	return nil
}

// validateListen validates host:port listen addresses.
// Params: path is config field path; listen address.
// Returns: validation error or nil.
func validateListen(path string, listen string) error {
	if strings.TrimSpace(listen) == "" {
		return fmt.Errorf("%s cannot be empty", path)
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return fmt.Errorf("%s must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
