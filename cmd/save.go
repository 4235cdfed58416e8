package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// saveCmd represents the save command
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the current process list",
	Long: `Save the current process list to the state snapshot.

resurrect starts every saved process again, and the daemon saves the
same snapshot on shutdown.`,
	Example: `  gopm save`,
	Args:    cobra.NoArgs,
	RunE:    runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	msg, err := c.Save()
	if err != nil {
		return err
	}

	fmt.Println(render.Success(msg))
	return nil
}
