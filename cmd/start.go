package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/protocol"
)

var (
	// Start command flags
	startName      string
	startCwd       string
	startInstances int
	startNoRestart bool
	startMaxMemory string
	startEnv       []string
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start <command>",
	Short: "Start a process under gopm supervision",
	Long: `Start a process under gopm supervision.

The command is registered with the daemon, launched through the shell,
and restarted automatically when it exits unless --no-autorestart is
given. The process keeps running after this CLI returns.

If no name is provided, the first word of the command is used. With
--instances greater than one, N copies are started and named name-1
through name-N.`,
	Example: `  # Start a web server
  gopm start --name web "npm run serve"

  # Everything after -- is the command
  gopm start --name api -- python app.py

  # Four workers with a memory ceiling
  gopm start --name worker --instances 4 --max-memory 200MB "./worker"

  # Extra environment variables
  gopm start --name job --env PORT=8080 --env DEBUG=1 "./job"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	// Start-specific flags
	startCmd.Flags().StringVarP(&startName, "name", "n", "", "process name (first word of the command if omitted)")
	startCmd.Flags().StringVar(&startCwd, "cwd", "", "working directory for the process")
	startCmd.Flags().IntVarP(&startInstances, "instances", "i", 1, "number of instances to start")
	startCmd.Flags().BoolVar(&startNoRestart, "no-autorestart", false, "do not restart the process when it exits")
	startCmd.Flags().StringVar(&startMaxMemory, "max-memory", "", "restart when memory exceeds this size (e.g. 100MB)")
	startCmd.Flags().StringArrayVar(&startEnv, "env", nil, "environment variable as KEY=VALUE (repeatable)")
}

func runStart(cmd *cobra.Command, args []string) error {
	command := strings.Join(args, " ")

	name := startName
	if name == "" {
		name = deriveName(command)
	}

	var maxMemory int64
	if startMaxMemory != "" {
		size, err := config.ParseSize(startMaxMemory)
		if err != nil {
			return fmt.Errorf("invalid --max-memory value: %w", err)
		}
		maxMemory = size
	}

	env, err := parseEnvVars(startEnv)
	if err != nil {
		return err
	}

	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	infos, err := c.Start(protocol.ProcessSpec{
		Name:        name,
		Command:     command,
		Cwd:         startCwd,
		Instances:   startInstances,
		Autorestart: !startNoRestart,
		MaxMemory:   maxMemory,
		Env:         env,
	})
	if err != nil {
		return err
	}

	for i := range infos {
		fmt.Println(render.Success(fmt.Sprintf("Started '%s' (pid %d)", infos[i].Name, infos[i].PID)))
	}
	return nil
}

// deriveName falls back to the first word of the command line.
func deriveName(command string) string {
	if fields := strings.Fields(command); len(fields) > 0 {
		return fields[0]
	}
	return "unknown"
}

// parseEnvVars turns repeated KEY=VALUE flags into a map.
func parseEnvVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env format %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
