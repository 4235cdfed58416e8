package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// restartCmd represents the restart command
var restartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Restart a process",
	Long: `Restart a process.

The process is stopped gracefully and started again from its registered
spec. The restart shows up in the restart counter.`,
	Example: `  gopm restart web`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRestart,
}

func init() {
	rootCmd.AddCommand(restartCmd)
}

func runRestart(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.Restart(args[0])
	if err != nil {
		return err
	}

	fmt.Println(render.Success(fmt.Sprintf("Restarted '%s' (pid %d)", info.Name, info.PID)))
	return nil
}
