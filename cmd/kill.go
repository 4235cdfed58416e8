package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// killCmd represents the kill command
var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Stop the daemon and all managed processes",
	Long: `Stop the daemon and all managed processes.

The process list is saved before shutdown, so a later resurrect brings
everything back.`,
	Example: `  gopm kill`,
	Args:    cobra.NoArgs,
	RunE:    runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	c, err := dialDaemon()
	if err != nil {
		fmt.Println(render.Notice("Daemon is not running"))
		return nil
	}
	defer c.Close()

	msg, err := c.Shutdown()
	if err != nil {
		return err
	}

	fmt.Println(render.Success(msg))
	return nil
}
