package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gopm-io/gopm/internal/daemon"
	"github.com/gopm-io/gopm/internal/logging"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the gopm daemon in the foreground",
	Long: `Run the gopm daemon in the foreground.

The daemon supervises all managed processes and serves the IPC endpoint
the other commands talk to. Normally it is spawned detached by the
first command that needs it; running it directly is useful under a
service manager or when debugging.`,
	Example: `  # Run attached to the terminal
  gopm daemon

  # With a specific config file
  gopm daemon --config /etc/gopm/gopm.yaml`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	logger, err := logging.NewDaemonLogger(cfg.Logging)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, logger.Logger, Version)
	if err != nil {
		return err
	}

	return d.Run()
}
