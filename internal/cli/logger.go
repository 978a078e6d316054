package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/msgpass/internal/collector"
	"github.com/roach88/msgpass/internal/config"
	"github.com/roach88/msgpass/internal/store"
	"github.com/roach88/msgpass/internal/transport"
)

// LoggerOptions holds flags for the logger command.
type LoggerOptions struct {
	*RootOptions
	Config string
	DB     string
}

// NewLoggerCommand creates the logger command.
func NewLoggerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoggerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logger",
		Short: "Run the passive log collector",
		Long: `Run the log collector on the logger address of the configuration.

Every message shipped with --log (and every mark) is stored in a SQLite
database. Commands: print, clear, exit.

Examples:
  msgpass logger --config testbed.yaml
  msgpass logger --config testbed.yaml --db run1.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runLogger(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "configuration file")
	cmd.Flags().StringVar(&opts.DB, "db", "msgpass-log.db", "database file")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runLogger(ctx context.Context, opts *LoggerOptions, in io.Reader, stdout io.Writer) error {
	logger := slog.Default()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot load configuration", err)
	}
	if cfg.Logger == nil {
		return NewExitError(ExitCommandError, "configuration has no logger address")
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open database", err)
	}
	defer st.Close()

	srv, err := transport.Listen(cfg.Logger.Addr(), logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot listen", err)
	}

	col := collector.New(st, collector.UUIDv7{}, logger)
	out := &lockedWriter{w: stdout}
	sh := &loggerShell{col: col, out: out}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(col.Serve(ctx, srv))
	})
	g.Go(func() error {
		defer cancel()
		return ignoreCanceled(runShell(ctx, in, out, "logger> ", sh.Exec))
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "log collector stopped", err)
	}
	return nil
}
