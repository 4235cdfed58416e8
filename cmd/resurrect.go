package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// resurrectCmd represents the resurrect command
var resurrectCmd = &cobra.Command{
	Use:   "resurrect",
	Short: "Start every process from the saved snapshot",
	Long: `Start every process from the saved snapshot.

Processes already in the registry are left alone; only missing ones are
registered and started. Useful after a reboot or a daemon kill.`,
	Example: `  gopm resurrect`,
	Args:    cobra.NoArgs,
	RunE:    runResurrect,
}

func init() {
	rootCmd.AddCommand(resurrectCmd)
}

func runResurrect(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	infos, err := c.Resurrect()
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println(render.Notice("No saved processes to resurrect"))
		return nil
	}

	fmt.Println(render.Success(fmt.Sprintf("Resurrected %d processes", len(infos))))
	fmt.Println(render.ProcessTable(infos))
	return nil
}
