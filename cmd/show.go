package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showJSON bool

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:     "show <name>",
	Aliases: []string{"info"},
	Short:   "Show detailed information about a process",
	Long: `Show detailed information about a process: command line, working
directory, environment overrides, restart policy, memory limit, log
file path, and current resource usage.`,
	Example: `  gopm show web
  gopm info web --json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().BoolVar(&showJSON, "json", false, "print raw JSON instead of a formatted view")
}

func runShow(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.Info(args[0])
	if err != nil {
		return err
	}

	if showJSON {
		return printJSON(info)
	}

	fmt.Println(render.ProcessDetails(info))
	if env := render.EnvBlock(info.Env); env != "" {
		fmt.Print(env)
	}
	return nil
}
