package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health",
	Long: `Show daemon health: version, pid, uptime, process counts, connected
clients, log buffer usage, and request counters.

Unlike most commands, status does not start the daemon when it is not
running.`,
	Example: `  gopm status
  gopm status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print raw JSON instead of a formatted view")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		if statusJSON {
			return err
		}
		fmt.Println(render.Notice("Daemon is not running"))
		return nil
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(status)
	}

	fmt.Println(render.DaemonStatusBlock(status))
	return nil
}
