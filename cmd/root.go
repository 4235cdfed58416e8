package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gopm-io/gopm/internal/client"
	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/logging"
	"github.com/gopm-io/gopm/internal/ui"
)

var (
	// Global flags
	configFile string
	verbose    bool

	// Global configuration
	appConfig *config.Config

	render = ui.NewRenderer()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gopm",
	Short: "gopm - a process manager for long-running commands",
	Long: `gopm keeps long-running commands alive. A background daemon supervises
the processes you start, restarts them when they crash, captures their
output, and answers the CLI over a local IPC connection.

Processes survive the terminal that launched them: the first command
that needs the daemon spawns it detached and waits for it to come up.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, render.Failure(err.Error()))
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $GOPM_CONFIG or ./gopm.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configPath := configFile

	if configPath == "" {
		// Check for GOPM_CONFIG environment variable
		if envConfig := os.Getenv("GOPM_CONFIG"); envConfig != "" {
			configPath = envConfig
		}
		// Otherwise let config package handle auto-discovery
	}

	var err error
	appConfig, err = config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Override logging from the command line flag if provided
	if verbose {
		appConfig.Logging.Verbose = true
		appConfig.Logging.Level = "debug"
	}
}

// GetConfig returns the global configuration
// This should be called after cobra initialization
func GetConfig() *config.Config {
	if appConfig == nil {
		// Fallback to default config if not initialized
		return config.DefaultConfig()
	}
	return appConfig
}

// connectDaemon makes sure the daemon is running, spawning it detached
// if needed, and returns a connected IPC client. The caller closes it.
func connectDaemon() (*client.Client, error) {
	cfg := GetConfig()

	logger, err := logging.NewClientLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	if err := client.EnsureDaemon(cfg, configFile, logger.Logger); err != nil {
		return nil, err
	}

	c := client.New(cfg, logger.Logger)
	if err := c.ConnectWithRetry(); err != nil {
		return nil, err
	}
	return c, nil
}

// dialDaemon connects to an already running daemon without spawning
// one. Commands that must not wake the daemon use this.
func dialDaemon() (*client.Client, error) {
	cfg := GetConfig()

	logger, err := logging.NewClientLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	c := client.New(cfg, logger.Logger)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
