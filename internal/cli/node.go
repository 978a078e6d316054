package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/msgpass/internal/config"
	"github.com/roach88/msgpass/internal/metrics"
	"github.com/roach88/msgpass/internal/node"
	"github.com/roach88/msgpass/internal/transport"
)

// NodeOptions holds flags for the node command.
type NodeOptions struct {
	*RootOptions
	Config      string
	Name        string
	Logical     bool
	MetricsAddr string
	NoWatch     bool
}

// NewNodeCommand creates the node command.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one testbed node with an operator shell",
		Long: `Run one node of the testbed.

The node listens on its configured address, applies the configured fault
rules, prints every delivered message and reads operator commands from
standard input (type "help"). Rule changes in the configuration file are
picked up automatically.

Examples:
  msgpass node --config testbed.yaml --name alice
  msgpass node --config testbed.yaml --name bob --logical
  msgpass node --config testbed.yaml --name carol --metrics-addr :9100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runNode(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "configuration file")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "local node name")
	cmd.Flags().BoolVar(&opts.Logical, "logical", false, "use a Lamport clock instead of vector clocks")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "do not reload rules when the configuration file changes")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// nodeProcess is a started node: session, listener and connections.
type nodeProcess struct {
	sess    *node.Session
	server  *transport.Server
	pool    *transport.Pool
	metrics *metrics.Session
}

// startNode builds the session for name and binds its listener.
func startNode(cfg *config.Config, opts *NodeOptions, logger *slog.Logger) (*nodeProcess, error) {
	local, err := cfg.Local(opts.Name)
	if err != nil {
		return nil, err
	}

	p := &nodeProcess{pool: transport.NewPool(local.Addrs, logger)}
	ncfg := node.Config{
		Name:         local.Node.Name,
		Processes:    cfg.Processes(),
		Groups:       cfg.GroupMap(),
		MutexGroup:   local.MutexGroup,
		Logical:      opts.Logical,
		SendRules:    cfg.SendRules,
		ReceiveRules: cfg.ReceiveRules,
		Transport:    p.pool,
		Logger:       logger,
	}
	if cfg.Logger != nil {
		ncfg.LogSink = transport.NewClient(cfg.Logger.Addr())
	}
	if opts.MetricsAddr != "" {
		p.metrics = metrics.New(local.Node.Name)
		ncfg.Metrics = p.metrics
	}

	p.sess, err = node.New(ncfg)
	if err != nil {
		p.pool.Close()
		return nil, err
	}
	p.server, err = transport.Listen(local.Node.Addr(), logger)
	if err != nil {
		p.pool.Close()
		return nil, err
	}
	return p, nil
}

func runNode(ctx context.Context, opts *NodeOptions, in io.Reader, stdout io.Writer) error {
	logger := slog.Default()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot load configuration", err)
	}
	p, err := startNode(cfg, opts, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start node", err)
	}
	defer p.pool.Close()

	out := &lockedWriter{w: stdout}
	sh := &nodeShell{sess: p.sess, configPath: opts.Config, out: out}
	writeInfo(out, p.sess.Info())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.sess.Run(ctx, p.server)
	})
	g.Go(func() error {
		return printDeliveries(ctx, p.sess, out)
	})
	if !opts.NoWatch {
		g.Go(func() error {
			return ignoreCanceled(config.WatchRules(ctx, opts.Config, p.sess.SetRules, logger))
		})
	}
	if p.metrics != nil {
		g.Go(func() error {
			return ignoreCanceled(p.metrics.Serve(ctx, opts.MetricsAddr, logger))
		})
	}
	g.Go(func() error {
		defer cancel()
		return ignoreCanceled(runShell(ctx, in, out, "> ", sh.Exec))
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "node stopped", err)
	}
	return nil
}

// printDeliveries prints delivered messages until the session closes.
func printDeliveries(ctx context.Context, sess *node.Session, out io.Writer) error {
	for {
		m, err := sess.Next(ctx)
		if err != nil {
			return nil
		}
		fmt.Fprintf(out, "\ndelivered %s\n", m)
	}
}
