package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Transcription defaults.
const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultLanguage           = "en"
)

// TranscriptionsService defines the interface for making transcription calls.
type TranscriptionsService interface {
	New(ctx context.Context, params openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// Transcriber converts recorded audio to text.
type Transcriber struct {
	transcriptions TranscriptionsService
	model          string
	policy         provider.Policy
}

// NewTranscriber creates a Transcriber on the shared OpenAI client.
func NewTranscriber(client *openai.Client, model string, policy provider.Policy) *Transcriber {
	return NewTranscriberWithService(client.Audio.Transcriptions, model, policy)
}

// NewTranscriberWithService creates a Transcriber over any TranscriptionsService.
func NewTranscriberWithService(svc TranscriptionsService, model string, policy provider.Policy) *Transcriber {
	if model == "" {
		model = DefaultTranscriptionModel
	}
	return &Transcriber{transcriptions: svc, model: model, policy: policy}
}

// Transcribe reads all of audio and returns the trimmed transcript. The file
// name tells the provider the audio format.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}
	if filename == "" {
		filename = "audio.wav"
	}
	if language == "" {
		language = DefaultLanguage
	}

	var resp *openai.Transcription
	err = t.policy.Do(ctx, "transcription", func(ctx context.Context) error {
		var err error
		resp, err = t.transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
			// Each attempt needs a fresh reader over the same bytes.
			File:     openai.FileParam(bytes.NewReader(data), filepath.Base(filename), contentType(filename)),
			Model:    openai.F(openai.AudioModel(t.model)),
			Language: openai.String(language),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text), nil
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3", ".mpga", ".mpeg":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
