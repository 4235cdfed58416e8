package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a process from the registry",
	Long: `Remove a process from the registry.

A running process is stopped first. The in-memory log buffer goes away
with the entry; the log file on disk stays until retention removes it.`,
	Example: `  gopm delete web`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	msg, err := c.Delete(args[0])
	if err != nil {
		return err
	}

	fmt.Println(render.Success(msg))
	return nil
}
