package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-talkback/internal/config"
	"github.com/teslashibe/go-talkback/pkg/credential"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the stored API key",
	Long: `Stores, clears or checks the Gemini API key used for replies and
for Cloud Text-to-Speech.

The key is kept in a file readable only by you. TALKBACK_API_KEY or
GEMINI_API_KEY, when set, take precedence over the stored key.`,
}

var keySetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, file, err := openCredentials(appConfig)
		if err != nil {
			return err
		}
		if err := file.Set(args[0]); err != nil {
			if errors.Is(err, credential.ErrEmpty) {
				return fmt.Errorf("the key must not be empty")
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key stored in %s\n", file.Path())
		return nil
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, file, err := openCredentials(appConfig)
		if err != nil {
			return err
		}
		if err := file.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Key removed")
		return nil
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the key comes from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, file, err := openCredentials(appConfig)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), keyStatus(config.APIKeyFromEnv() != "", file))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keySetCmd, keyClearCmd, keyStatusCmd)
}

// keyStatus describes the key sources without revealing the key.
func keyStatus(fromEnv bool, file *credential.FileStore) string {
	var b strings.Builder
	switch {
	case fromEnv:
		b.WriteString("key: set by environment")
	case file.Exists():
		b.WriteString("key: stored")
	default:
		b.WriteString("key: none (replies fall back to built-in answers)")
	}
	fmt.Fprintf(&b, "\nfile: %s", file.Path())
	if fromEnv && file.Exists() {
		b.WriteString(" (shadowed by environment)")
	}
	return b.String()
}
