package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"sysstats/internal/app"
)

const (
	exitCodeFailure   = 1
	exitCodeConfig    = 2
	exitCodeSinkInit  = 3
	exitCodeAllFailed = 4
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var errAllFailed = errors.New("every point failed")

// newApp builds the command line application.
// Params: stdout receives collection results.
// Returns: configured cli app.
func newApp(stdout io.Writer) *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "sysstats.toml",
		Usage:   "path to TOML/YAML config file or directory of *.toml files",
		EnvVars: []string{"SYSSTATS_CONFIG"},
	}

	return &cli.App{
		Name:    "sysstats",
		Usage:   "run probe commands and store their JSON metrics in InfluxDB",
		Version: fmt.Sprintf("%s commit=%s date=%s", version, commit, date),
		Writer:  stdout,
		Commands: []*cli.Command{
			{
				Name:  "once",
				Usage: "collect every stat once and print the result",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{Name: "dry-run", Usage: "log points instead of writing them to InfluxDB"},
				},
				Action: func(cCtx *cli.Context) error {
					report, err := app.RunOnce(cCtx.Context, app.OnceOptions{
						ConfigPath: cCtx.String("config"),
						DryRun:     cCtx.Bool("dry-run"),
						Output:     stdout,
					})
					if err != nil {
						return err
					}
					if report.AllFailed() {
						return errAllFailed
					}
					return nil
				},
			},
			{
				Name:  "serve",
				Usage: "serve GET /execute and reload config on SIGHUP",
				Flags: []cli.Flag{configFlag},
				Action: func(cCtx *cli.Context) error {
					return app.Run(cCtx.Context, app.Runtime{
						ConfigPath: cCtx.String("config"),
						Reload:     reloadSignals(cCtx.Context),
					})
				},
			},
		},
	}
}

// reloadSignals forwards SIGHUP into a coalescing reload channel.
// Params: ctx stops forwarding.
// Returns: reload trigger channel.
func reloadSignals(ctx context.Context) <-chan struct{} {
	reloadSignal := make(chan os.Signal, 1)
	signal.Notify(reloadSignal, syscall.SIGHUP)

	reload := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(reloadSignal)
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadSignal:
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()
	return reload
}

// exitCode maps run errors to process exit codes.
// Params: err result of the command.
// Returns: process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errAllFailed):
		return exitCodeAllFailed
	case errors.Is(err, app.ErrConfig):
		return exitCodeConfig
	case errors.Is(err, app.ErrSinkInit):
		return exitCodeSinkInit
	default:
		return exitCodeFailure
	}
}

// run starts the agent process.
// Params: args command line including program name.
// Returns: process exit code.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp(os.Stdout).RunContext(ctx, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(run(os.Args))
}
