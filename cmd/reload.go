package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// reloadCmd represents the reload command
var reloadCmd = &cobra.Command{
	Use:   "reload <name>",
	Short: "Reload a process from its registered spec",
	Long: `Reload a process from its registered spec.

The process is stopped gracefully and started again with the same
command, working directory, and environment.`,
	Example: `  gopm reload web`,
	Args:    cobra.ExactArgs(1),
	RunE:    runReload,
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.Restart(args[0])
	if err != nil {
		return err
	}

	fmt.Println(render.Success(fmt.Sprintf("Reloaded '%s' (pid %d)", info.Name, info.PID)))
	return nil
}
