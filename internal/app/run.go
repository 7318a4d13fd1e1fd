package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"sysstats/internal/config"
	"sysstats/internal/logging"
)

// Runtime defines runtime inputs required to start the agent.
// Params: ConfigPath points to the TOML/YAML configuration file or directory.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Reload     <-chan struct{}
}

type serviceRunner interface {
	Run(context.Context) error
}

type runDeps struct {
	loadConfig  func(string) (*config.Config, error)
	newLogger   func(config.LogConfig) (*slog.Logger, func(), error)
	startPprof  func(context.Context, config.PprofConfig, *slog.Logger) (func(), error)
	startHealth func(context.Context, config.GRPCConfig, *slog.Logger) (func(), error)
	newService  func(context.Context, *config.Config, *slog.Logger) (serviceRunner, error)
}

// activeRuntime is one generation of the agent built from a single config snapshot.
// Side components are stopped in reverse start order.
type activeRuntime struct {
	cfg         *config.Config
	logger      *slog.Logger
	closeLogger func()
	cancel      context.CancelFunc
	done        chan error
	stops       []func()
}

// sideComponent is an optional listener started next to the trigger service.
type sideComponent struct {
	name  string
	start func(ctx context.Context) (func(), error)
}

// statDiff lists stat names changed by a config reload.
type statDiff struct {
	added     []string
	removed   []string
	changed   []string
	unchanged int
}

// Run loads configuration, starts the trigger service, and supports hot reload via Runtime.Reload.
// Params: ctx controls lifecycle; rt provides runtime inputs and optional reload trigger channel.
// Returns: error on startup/reload failure without rollback, nil on graceful stop.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

// runWithDeps executes runtime lifecycle using injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps start/reload dependencies.
// Returns: runtime error or nil on graceful stop.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	if strings.TrimSpace(rt.ConfigPath) == "" {
		return fmt.Errorf("%w: config path is required", ErrConfig)
	}

	active, err := buildRuntimeFromPath(ctx, rt.ConfigPath, deps)
	if err != nil {
		return err
	}

	reloadCh := rt.Reload
	for {
		select {
		case runErr := <-active.done:
			active.done = nil
			return active.shutdown(ctx, runErr)
		case <-ctx.Done():
			return active.shutdown(ctx, nil)
		case _, ok := <-reloadCh:
			if !ok {
				reloadCh = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}

			next, reloadErr := reloadActiveRuntime(ctx, rt.ConfigPath, active, deps)
			if next == nil {
				return reloadErr
			}
			active = next
		}
	}
}

// defaultRunDeps provides production runtime dependencies.
// Params: none.
// Returns: dependency set used by Run.
func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig:  config.Load,
		newLogger:   logging.New,
		startPprof:  startPprofServer,
		startHealth: startHealthServer,
		newService:  newCollectService,
	}
}

// buildRuntimeFromPath loads validated config and starts a runtime from it.
// Params: ctx root lifecycle context; path config file or directory; deps runtime dependency set.
// Returns: active runtime or startup error.
func buildRuntimeFromPath(ctx context.Context, path string, deps runDeps) (*activeRuntime, error) {
	cfg, err := deps.loadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load config: %w", ErrConfig, err)
	}
	return buildRuntimeFromConfig(ctx, cfg, deps, nil, nil)
}

// buildRuntimeFromConfig starts side components and the trigger service for cfg.
// A passed logger stays owned by the caller; a created one is closed on failure.
// Params: ctx root lifecycle context; cfg validated config; deps runtime dependency set; logger/closeFn optional logger override.
// Returns: active runtime or startup error.
func buildRuntimeFromConfig(
	ctx context.Context,
	cfg *config.Config,
	deps runDeps,
	logger *slog.Logger,
	closeFn func(),
) (*activeRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrConfig)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("runtime context canceled: %w", ctx.Err())
	}

	ownsLogger := logger == nil
	if ownsLogger {
		created, createdClose, err := deps.newLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("%w: init logger: %w", ErrConfig, err)
		}
		logger, closeFn = created, createdClose
	}

	runCtx, cancel := context.WithCancel(ctx)
	built := &activeRuntime{
		cfg:         cfg,
		logger:      logger,
		closeLogger: closeFn,
		cancel:      cancel,
	}
	abort := func(err error) (*activeRuntime, error) {
		built.stopComponents()
		cancel()
		if ownsLogger && closeFn != nil {
			closeFn()
		}
		return nil, err
	}

	components := []sideComponent{
		{name: "pprof", start: func(ctx context.Context) (func(), error) { return deps.startPprof(ctx, cfg.Pprof, logger) }},
		{name: "grpc health", start: func(ctx context.Context) (func(), error) { return deps.startHealth(ctx, cfg.GRPC, logger) }},
	}
	for _, component := range components {
		stop, err := component.start(runCtx)
		if err != nil {
			return abort(fmt.Errorf("start %s: %w", component.name, err))
		}
		if stop != nil {
			built.stops = append(built.stops, stop)
		}
	}

	service, err := deps.newService(runCtx, cfg, logger)
	if err != nil {
		return abort(fmt.Errorf("build service: %w", err))
	}

	built.done = make(chan error, 1)
	go func() {
		built.done <- service.Run(runCtx)
	}()

	logStartup(logger, cfg)
	return built, nil
}

// reloadActiveRuntime swaps active for a runtime built from the config at path.
// The previous runtime is rebuilt when the new one cannot start.
// Params: ctx root lifecycle context; path config file or directory; active running runtime; deps runtime dependency set.
// Returns: runtime to keep running (nil only when rollback failed) and reload error, non-fatal when a runtime is returned.
func reloadActiveRuntime(
	ctx context.Context,
	path string,
	active *activeRuntime,
	deps runDeps,
) (*activeRuntime, error) {
	active.logger.Info("config reload requested", slog.String("path", path))

	nextCfg, err := deps.loadConfig(path)
	if err != nil {
		active.logger.Error("config reload rejected", slog.String("stage", "load"), slog.String("error", err.Error()))
		return active, fmt.Errorf("reload config: %w", err)
	}

	nextLogger, nextCloseFn, err := deps.newLogger(nextCfg.Log)
	if err != nil {
		active.logger.Error("config reload rejected", slog.String("stage", "logger"), slog.String("error", err.Error()))
		return active, fmt.Errorf("init reload logger: %w", err)
	}

	diff := diffStats(active.cfg, nextCfg)
	active.stopRuntime()

	next, startErr := buildRuntimeFromConfig(ctx, nextCfg, deps, nextLogger, nextCloseFn)
	if startErr == nil {
		active.closeLoggerSink()
		next.logger.Info("config reload applied", diff.attrs()...)
		return next, nil
	}
	nextCloseFn()

	if ctx.Err() != nil {
		active.logger.Info("config reload interrupted by shutdown")
		return active, nil
	}
	return restoreRuntime(ctx, active, deps, startErr)
}

// restoreRuntime rebuilds prev after a failed reload, reusing its logger.
// Params: ctx root lifecycle context; prev stopped runtime; deps runtime dependency set; cause reload start failure.
// Returns: restored runtime and cause, or nil and a combined error when rollback fails.
func restoreRuntime(ctx context.Context, prev *activeRuntime, deps runDeps, cause error) (*activeRuntime, error) {
	prev.logger.Error("config reload apply failed, restoring previous runtime", slog.String("error", cause.Error()))

	restored, err := buildRuntimeFromConfig(ctx, prev.cfg, deps, prev.logger, prev.closeLogger)
	if err != nil {
		prev.closeLoggerSink()
		return nil, fmt.Errorf("apply reload: %w; rollback failed: %w", cause, err)
	}

	restored.logger.Warn(
		"config reload rejected, previous runtime restored",
		slog.Int("stats", len(prev.cfg.Stats)),
		slog.String("error", cause.Error()),
	)
	return restored, fmt.Errorf("apply reload: %w", cause)
}

// shutdown stops the runtime and closes its logger.
// A service exit before ctx is done is reported as an error.
// Params: ctx root lifecycle context; runErr service exit error, nil on clean return.
// Returns: nil on graceful stop or run service error.
func (r *activeRuntime) shutdown(ctx context.Context, runErr error) error {
	r.stopRuntime()
	defer r.closeLoggerSink()

	if ctx.Err() != nil {
		r.logger.Info("agent stopped", slog.String("reason", ctx.Err().Error()))
		return nil
	}

	if runErr == nil {
		runErr = errors.New("runner exited without context cancellation")
	}
	r.logger.Error("service stopped unexpectedly", slog.String("error", runErr.Error()))
	return fmt.Errorf("run service: %w", runErr)
}

// stopRuntime cancels the service, waits for it, then stops side components.
// The logger stays open.
// Params: none.
// Returns: none.
func (r *activeRuntime) stopRuntime() {
	if r == nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.done != nil {
		<-r.done
		r.done = nil
	}
	r.stopComponents()
}

// stopComponents stops side components in reverse start order.
func (r *activeRuntime) stopComponents() {
	for idx := len(r.stops) - 1; idx >= 0; idx-- {
		r.stops[idx]()
	}
	r.stops = nil
}

// closeLoggerSink closes active logger resources.
// Params: none.
// Returns: none.
func (r *activeRuntime) closeLoggerSink() {
	if r == nil {
		return
	}
	if r.closeLogger != nil {
		r.closeLogger()
		r.closeLogger = nil
	}
}

// diffStats compares stat definitions of two config snapshots by name.
// Params: prev running config; next reloaded config.
// Returns: added and changed names in next order, removed names in prev order.
func diffStats(prev *config.Config, next *config.Config) statDiff {
	before := make(map[string]config.StatConfig, len(prev.Stats))
	for _, stat := range prev.Stats {
		before[stat.Name] = stat
	}

	var diff statDiff
	kept := make(map[string]bool, len(next.Stats))
	for _, stat := range next.Stats {
		kept[stat.Name] = true
		old, exists := before[stat.Name]
		switch {
		case !exists:
			diff.added = append(diff.added, stat.Name)
		case !reflect.DeepEqual(old, stat):
			diff.changed = append(diff.changed, stat.Name)
		default:
			diff.unchanged++
		}
	}
	for _, stat := range prev.Stats {
		if !kept[stat.Name] {
			diff.removed = append(diff.removed, stat.Name)
		}
	}
	return diff
}

// attrs renders the diff as log attributes.
func (d statDiff) attrs() []any {
	return []any{
		slog.String("added", strings.Join(d.added, ",")),
		slog.String("removed", strings.Join(d.removed, ",")),
		slog.String("changed", strings.Join(d.changed, ",")),
		slog.Int("unchanged", d.unchanged),
	}
}

// logStartup emits initial startup metadata.
// Params: logger is initialized slog logger; cfg is validated runtime config.
// Returns: none.
func logStartup(logger *slog.Logger, cfg *config.Config) {
	points := 0
	for _, stat := range cfg.Stats {
		points += len(stat.Points)
	}
	logger.Info(
		"agent started",
		slog.String("host", cfg.Global.Host),
		slog.String("listen", cfg.HTTP.Listen),
		slog.String("influx", cfg.Influx.URL),
		slog.String("bucket", cfg.Influx.Bucket),
		slog.Int("stats", len(cfg.Stats)),
		slog.Int("points", points),
		slog.Int("workers", cfg.Collect.Workers),
	)
}
