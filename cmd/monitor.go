package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gopm-io/gopm/internal/tui"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of all managed processes",
	Long: `Open a full-screen dashboard showing every managed process with live
CPU, memory, restart, and uptime figures, refreshed every second.

Keys: up/down select a process, s stops it, r restarts it, q quits.`,
	Example: `  gopm monitor`,
	Args:    cobra.NoArgs,
	RunE:    runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	return tui.Run(c)
}
