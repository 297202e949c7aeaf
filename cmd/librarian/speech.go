package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hyperengineering/librarian/internal/speech"
	"github.com/spf13/cobra"
)

var (
	speechFormat       string
	transcribeLanguage string
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Synthesize text into the audio cache and print the file path",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSpeak,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe an audio file to text",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	speakCmd.Flags().StringVar(&speakVoice, "voice", "",
		"Voice (default: speech.voice from config)")
	speakCmd.Flags().StringVar(&speechFormat, "format", "",
		"Audio format: mp3, opus, aac, flac, wav or pcm (default: speech.format from config)")
	transcribeCmd.Flags().StringVar(&transcribeLanguage, "language", "",
		"Spoken language as ISO-639-1 (default: speech.language from config)")

	rootCmd.AddCommand(speakCmd, transcribeCmd)
}

func runSpeak(cmd *cobra.Command, args []string) error {
	synth, err := newApp(cfg).synthesizer()
	if err != nil {
		return err
	}

	audio, err := synth.Synthesize(cmd.Context(), speech.Request{
		Text:   strings.Join(args, " "),
		Voice:  speakVoice,
		Format: speechFormat,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, audio)
	}

	fmt.Fprintln(out, audio.Path)
	if audio.Cached {
		fmt.Fprintln(cmd.ErrOrStderr(), "served from cache")
	}
	return nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	t, err := newApp(cfg).transcriber()
	if err != nil {
		return err
	}

	language := cfg.Speech.Language
	if transcribeLanguage != "" {
		language = transcribeLanguage
	}

	text, err := t.Transcribe(cmd.Context(), f, path, language)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"text":     text,
			"language": language,
		})
	}

	fmt.Fprintln(out, text)
	return nil
}
