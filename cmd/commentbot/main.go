// Command commentbot forwards new student comments from a Canvas course to a
// Teams (or Telegram) channel.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "commentbot",
	Short: "Forward new Canvas student comments to a chat channel",
	Long: `commentbot watches the submission comments of one Canvas course and posts
every new comment written by a student listed in the group map to a Teams
incoming webhook (or a Telegram chat). Delivered comments are remembered in a
dedupe state file so each comment is sent once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML/JSON config file (environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded when present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (trace, debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, serveCmd, stateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}
