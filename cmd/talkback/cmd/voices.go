package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-talkback/internal/log"
	"github.com/teslashibe/go-talkback/pkg/voice"
)

var voicesAll bool

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List local synthesizer voices",
	Long: `Lists the voices of the local synthesizer (say or espeak-ng) and
marks the one used when Cloud Text-to-Speech is unavailable.`,
	Args: cobra.NoArgs,
	RunE: runVoices,
}

func init() {
	rootCmd.AddCommand(voicesCmd)
	voicesCmd.Flags().BoolVar(&voicesAll, "all", false, "include non-English voices")
	voicesCmd.Flags().StringVar(&chatSynth, "synth", "", "local synthesizer: say, espeak-ng, espeak (default auto-detect)")
}

func runVoices(cmd *cobra.Command, args []string) error {
	synth, err := voice.NewCommandSynth(firstNonEmpty(chatSynth, appConfig.Local.Synthesizer), log.L())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	voices, err := synth.Voices(ctx)
	if err != nil {
		return fmt.Errorf("list %s voices: %w", synth.Engine(), err)
	}
	return printVoices(cmd.OutOrStdout(), synth.Engine(), voices, voicesAll)
}

func printVoices(w io.Writer, engine string, voices []voice.Voice, all bool) error {
	picked := voice.SelectVoice(voices)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ENGINE: %s\n\n", engine)
	fmt.Fprintln(tw, "\tNAME\tLANG")
	shown := 0
	for _, v := range voices {
		if !all && !isEnglish(v.Lang) {
			continue
		}
		mark := ""
		if v.Name == picked.Name && v.Lang == picked.Lang {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, v.Name, v.Lang)
		shown++
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case shown == 0:
		fmt.Fprintln(w, "no voices found")
	case picked.Name == "":
		fmt.Fprintln(w, "\nno English voice found, the engine default is used")
	default:
		fmt.Fprintf(w, "\n* used for replies: %s (%s)\n", picked.Name, picked.Lang)
	}
	return nil
}

func isEnglish(lang string) bool {
	return len(lang) >= 2 && (lang[:2] == "en" || lang[:2] == "EN")
}
