package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listJSON bool

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all managed processes",
	Long: `List all managed processes with status, pid, resource usage, restart
count, and uptime.`,
	Example: `  gopm list
  gopm ls --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listJSON, "json", false, "print raw JSON instead of a table")
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	infos, err := c.List()
	if err != nil {
		return err
	}

	if listJSON {
		return printJSON(infos)
	}

	fmt.Println(render.ProcessTable(infos))
	return nil
}
