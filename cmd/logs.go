package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gopm-io/gopm/internal/client"
	"github.com/gopm-io/gopm/internal/logfile"
	"github.com/gopm-io/gopm/internal/protocol"
)

var (
	// Logs command flags
	logsLines  int
	logsFollow bool
	logsStream string
	logsFilter string
)

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show output of a managed process",
	Long: `Show captured output of a managed process.

Recent lines come from the daemon's in-memory buffer. With --follow the
command stays attached and prints new lines as the process writes them,
until interrupted.

When the daemon is not running, logs falls back to the persisted log
file on disk. The file holds raw lines without stream markers, so
--stream has no effect there.`,
	Example: `  # Last 20 lines
  gopm logs web

  # Stream live output
  gopm logs web --follow

  # Only stderr lines matching a pattern
  gopm logs web --stream stderr --filter "timeout|refused"`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsLines, "lines", "l", 20, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines as they arrive")
	logsCmd.Flags().StringVar(&logsStream, "stream", "both", "stream to show: stdout, stderr or both")
	logsCmd.Flags().StringVar(&logsFilter, "filter", "", "only show lines matching this regular expression")
}

func runLogs(cmd *cobra.Command, args []string) error {
	name := args[0]

	stream, err := parseStream(logsStream)
	if err != nil {
		return err
	}

	filter, err := compileFilter(logsFilter)
	if err != nil {
		return err
	}

	c, err := dialDaemon()
	if err != nil {
		return logsFromFile(name, stream, filter)
	}
	defer c.Close()

	entries, err := c.Logs(name, protocol.LogQuery{
		Lines:   logsLines,
		Stream:  stream,
		Pattern: logsFilter,
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Println(render.LogLine(e.Name, e.Stream, e.Timestamp, e.Line))
	}

	if !logsFollow {
		return nil
	}

	return followLogs(c, name, stream, filter)
}

// followLogs streams live lines over the IPC connection until the user
// interrupts.
func followLogs(c *client.Client, name string, stream protocol.StreamType, filter *regexp.Regexp) error {
	err := c.Follow(name, stream, func(msg *protocol.LogMessage) {
		if filter != nil && !filter.MatchString(msg.Line) {
			return
		}
		fmt.Println(render.LogLine(msg.Name, msg.Stream, msg.Timestamp, msg.Line))
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	c.Unfollow(name)
	return nil
}

// logsFromFile reads, and with --follow tails, the persisted log file
// directly. Used when the daemon is unreachable.
func logsFromFile(name string, stream protocol.StreamType, filter *regexp.Regexp) error {
	cfg := GetConfig()
	path := logfile.PathFor(cfg.Log.Dir, name)

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("daemon is not running and no log file exists for '%s'", name)
	}

	fmt.Println(render.Notice(fmt.Sprintf("Daemon is not running, reading %s", path)))
	if stream != protocol.StreamBoth {
		fmt.Println(render.Warn("log files carry no stream markers, --stream is ignored"))
	}

	lines, err := logfile.ReadLastLines(path, logsLines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if filter != nil && !filter.MatchString(line) {
			continue
		}
		fmt.Println(line)
	}

	if !logsFollow {
		return nil
	}

	tailer := logfile.NewTailer(path, logfile.DefaultTailerOptions())
	tailer.OnLine = func(line string) {
		if filter != nil && !filter.MatchString(line) {
			return
		}
		fmt.Println(line)
	}
	if err := tailer.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	return tailer.Stop()
}

// parseStream validates the --stream flag value.
func parseStream(value string) (protocol.StreamType, error) {
	switch value {
	case "stdout":
		return protocol.StreamStdout, nil
	case "stderr":
		return protocol.StreamStderr, nil
	case "both", "":
		return protocol.StreamBoth, nil
	default:
		return "", fmt.Errorf("invalid --stream value %q: expected stdout, stderr or both", value)
	}
}

// compileFilter compiles the --filter flag value, empty meaning no
// filter.
func compileFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	filter, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid --filter pattern: %w", err)
	}
	return filter, nil
}
