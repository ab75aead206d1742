// Package cli implements the bzfquery command line: one-shot queries,
// a one-pass check of the configured servers, and the serve command.
package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bzfquery/bzfquery/internal/config"
	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/query"
	"github.com/bzfquery/bzfquery/internal/scheduler"
	"github.com/bzfquery/bzfquery/internal/util"
)

// ServeFunc runs the long-lived service until ctx is cancelled.
type ServeFunc func(ctx context.Context, configDir string) error

// CLI holds the flag values shared by all commands.
type CLI struct {
	stdout io.Writer
	serve  ServeFunc

	jsonOut   bool
	timeout   time.Duration
	logLevel  string
	configDir string
}

// NewCLI creates the command line handler. serve may be nil, in which case
// the serve command is not registered.
func NewCLI(stdout io.Writer, serve ServeFunc) *CLI {
	return &CLI{
		stdout:    stdout,
		serve:     serve,
		timeout:   query.DefaultTimeout,
		logLevel:  "warn",
		configDir: config.DefaultConfigDir,
	}
}

// Execute runs the command selected by args.
func (c *CLI) Execute(ctx context.Context, args []string) error {
	root := c.Command()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Command builds the root command and its subcommands.
func (c *CLI) Command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bzfquery host[:port]",
		Short: "Query a BZFlag game server",
		Long: fmt.Sprintf("Query a BZFlag server for its game configuration, teams and players.\n"+
			"The port defaults to %d.", query.DefaultPort),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitConsoleLogger(c.logLevel)
		},
		RunE: c.queryCommand,
	}
	rootCmd.SetOut(c.stdout)
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", c.logLevel, "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&c.jsonOut, "json", false, "Print the snapshot as JSON")
	rootCmd.Flags().DurationVar(&c.timeout, "timeout", c.timeout, "Query timeout, 0 to wait indefinitely")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Query every configured server once and print a status table",
		Args:  cobra.NoArgs,
		RunE:  c.checkCommand,
	}
	checkCmd.Flags().StringVar(&c.configDir, "config", c.configDir, "Configuration directory")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(c.stdout, "bzfquery %s (protocol %s)\n", util.Version, protocol.ProtocolVersion)
			return nil
		},
	}

	rootCmd.AddCommand(checkCmd, versionCmd)

	if c.serve != nil {
		serveCmd := &cobra.Command{
			Use:   "serve",
			Short: "Poll configured servers and serve results over HTTP and MQTT",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.serve(cmd.Context(), c.configDir)
			},
		}
		serveCmd.Flags().StringVar(&c.configDir, "config", c.configDir, "Configuration directory")
		rootCmd.AddCommand(serveCmd)
	}

	return rootCmd
}

func (c *CLI) queryCommand(cmd *cobra.Command, args []string) error {
	host, port, err := query.ParseAddress(args[0], query.DefaultPort)
	if err != nil {
		return err
	}

	log.Debug().Str("host", host).Uint16("port", port).Dur("timeout", c.timeout).Msg("querying server")

	snap, err := query.NewClient(c.timeout).Query(cmd.Context(), host, port)
	if err != nil {
		return err
	}

	if c.jsonOut {
		return RenderJSON(c.stdout, snap)
	}
	RenderSnapshot(c.stdout, snap)
	return nil
}

func (c *CLI) checkCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configDir)
	if err != nil {
		return err
	}
	servers := cfg.GetServers()
	if len(servers) == 0 {
		return fmt.Errorf("no servers configured in %s", cfg.Path())
	}

	eventBus := events.NewEventBus()
	defer eventBus.Stop()

	sched := scheduler.NewScheduler(cfg, eventBus, query.NewClient(cfg.QueryTimeout()), nil)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, target := range servers {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sched.PollOnce(cmd.Context(), target); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := cmd.Context().Err(); err != nil {
		return err
	}

	RenderStatuses(c.stdout, sched.Statuses())
	if failed > 0 {
		return fmt.Errorf("%d of %d servers failed", failed, len(servers))
	}
	return nil
}
