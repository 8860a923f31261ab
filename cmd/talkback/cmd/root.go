// Package cmd implements the talkback command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-talkback/internal/config"
	"github.com/teslashibe/go-talkback/internal/log"
)

var (
	cfgFile   string
	logLevel  string
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "talkback",
	Short: "Practice spoken English with an AI partner",
	Long: `talkback is a conversational English-practice client.

Speak (or type) a line, and the AI answers out loud and offers three
suggested replies at beginner, intermediate and advanced level.

Commands:
  serve   - browser client: the page lends its microphone and speakers
  chat    - terminal client: typed lines, local audio playback
  key     - manage the stored Gemini API key
  voices  - list local synthesizer voices`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, YAML or TOML (default: $TALKBACK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig reads configuration before any subcommand runs. Flags win over
// the file and the environment.
func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		printError("configuration", err)
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	// Logs go to stderr so stdout stays clean for the conversation.
	log.InitWriter(os.Stderr, cfg.Log.Level)
	appConfig = cfg
	return nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
}
