// Command benefitctl runs the resolution pipeline from a terminal. It builds
// the same container as the API server and prints results as tables or JSON.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tuition-hub/benefit-resolver/config"
	"github.com/tuition-hub/benefit-resolver/internal/di"
	"github.com/tuition-hub/benefit-resolver/pkg/logger"
)

var Version = "dev"

// app holds state shared by every subcommand.
type app struct {
	jsonOutput bool
	verbose    bool
	noColor    bool
	timeout    time.Duration

	// manualMigrations keeps connect from migrating on startup.
	manualMigrations bool

	container *di.Container
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if a.container != nil {
		a.container.Close()
	}
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "benefitctl",
		Short:         "Resolve tuition benefits for students and family groups",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable coloured output")
	flags.DurationVar(&a.timeout, "timeout", 5*time.Minute, "Abort the command after this long")

	root.AddCommand(resolveCmd(a))
	root.AddCommand(batchCmd(a))
	root.AddCommand(familyCmd(a))
	root.AddCommand(conflictsCmd(a))
	root.AddCommand(commitCmd(a))
	root.AddCommand(benefitsCmd(a))
	root.AddCommand(catalogCmd(a))
	root.AddCommand(migrateCmd(a))

	return root
}

// connect loads configuration and wires the container on first use.
func (a *app) connect(ctx context.Context) (*di.Container, error) {
	if a.container != nil {
		return a.container, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if a.manualMigrations {
		cfg.Database.AutoMigrate = false
	}

	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = slog.LevelWarn
	if a.verbose {
		opts.Level = slog.LevelDebug
	}
	log := logger.Setup(opts)

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.container = container
	return container, nil
}

// commandContext returns the command context bounded by --timeout.
func (a *app) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}
