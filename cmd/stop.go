package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running process",
	Long: `Stop a running process gracefully.

The daemon sends SIGTERM and waits for the process to exit. A process
still alive after the stop timeout is killed. The entry stays in the
registry, so restart brings it back.`,
	Example: `  gopm stop web`,
	Args:    cobra.ExactArgs(1),
	RunE:    runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	msg, err := c.Stop(args[0])
	if err != nil {
		return err
	}

	fmt.Println(render.Success(msg))
	return nil
}
