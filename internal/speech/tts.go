// Package speech synthesizes summaries to cached audio files and transcribes
// spoken queries.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Synthesis defaults.
const (
	DefaultModel  = "gpt-4o-mini-tts"
	DefaultVoice  = "alloy"
	DefaultFormat = "mp3"

	// MaxChunkChars is the largest piece of text sent in one synthesis call.
	MaxChunkChars = 2500
)

// Formats lists the audio formats the provider can produce.
var Formats = []string{"mp3", "opus", "aac", "flac", "wav", "pcm"}

var cacheName = regexp.MustCompile(`^[0-9a-f]{12}\.(mp3|opus|aac|flac|wav|pcm)$`)

// SpeechService defines the interface for making speech synthesis calls.
type SpeechService interface {
	New(ctx context.Context, params openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// Request describes one synthesis. Empty fields use the Synthesizer defaults.
type Request struct {
	Text   string
	Model  string
	Voice  string
	Format string
}

// Audio is a synthesized file in the cache.
type Audio struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Format string `json:"format"`
	Cached bool   `json:"cached"`
}

// Synthesizer turns text into audio files in a content-addressed cache.
// A cache entry is written once through a temporary file and a rename, so
// readers never see partial audio. Concurrent misses for the same key only
// duplicate work.
type Synthesizer struct {
	speech SpeechService
	dir    string
	model  string
	voice  string
	format string
	voices []string
	policy provider.Policy
}

// Config holds synthesis defaults.
type Config struct {
	Dir    string
	Model  string
	Voice  string
	Format string
	Voices []string
}

// NewSynthesizer creates a Synthesizer on the shared OpenAI client.
func NewSynthesizer(client *openai.Client, cfg Config, policy provider.Policy) *Synthesizer {
	return NewSynthesizerWithService(client.Audio.Speech, cfg, policy)
}

// NewSynthesizerWithService creates a Synthesizer over any SpeechService.
func NewSynthesizerWithService(svc SpeechService, cfg Config, policy provider.Policy) *Synthesizer {
	s := &Synthesizer{
		speech: svc,
		dir:    cfg.Dir,
		model:  cfg.Model,
		voice:  cfg.Voice,
		format: cfg.Format,
		voices: cfg.Voices,
		policy: policy,
	}
	if s.model == "" {
		s.model = DefaultModel
	}
	if s.voice == "" {
		s.voice = DefaultVoice
	}
	if s.format == "" {
		s.format = DefaultFormat
	}
	if len(s.voices) == 0 {
		s.voices = []string{s.voice}
	}
	return s
}

// Voices returns the voices offered to callers.
func (s *Synthesizer) Voices() []string {
	out := make([]string, len(s.voices))
	copy(out, s.voices)
	return out
}

// Dir returns the cache directory.
func (s *Synthesizer) Dir() string {
	return s.dir
}

// Synthesize returns the cached audio for req, calling the provider only on a
// cache miss.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	model := firstNonEmpty(req.Model, s.model)
	voice := firstNonEmpty(req.Voice, s.voice)
	format := firstNonEmpty(req.Format, s.format)
	if !SupportedFormat(format) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	key := Key(req.Text, model, voice, format)
	name := FileName(key, format)
	path := filepath.Join(s.dir, name)
	audio := &Audio{Key: key, Name: name, Path: path, Format: format}

	if _, err := os.Stat(path); err == nil {
		audio.Cached = true
		return audio, nil
	}

	var buf bytes.Buffer
	for i, chunk := range ChunkText(req.Text, MaxChunkChars) {
		if err := s.synthesizeChunk(ctx, &buf, chunk, model, voice, format); err != nil {
			return nil, fmt.Errorf("synthesize chunk %d: %w", i, err)
		}
	}

	if err := writeAtomic(s.dir, name, buf.Bytes()); err != nil {
		return nil, err
	}

	slog.Info("speech synthesized",
		"component", "speech",
		"key", key,
		"voice", voice,
		"format", format,
		"bytes", buf.Len(),
	)
	return audio, nil
}

func (s *Synthesizer) synthesizeChunk(ctx context.Context, w *bytes.Buffer, text, model, voice, format string) error {
	return s.policy.Do(ctx, "speech", func(ctx context.Context) error {
		resp, err := s.speech.New(ctx, openai.AudioSpeechNewParams{
			Model:          openai.F(openai.SpeechModel(model)),
			Input:          openai.String(text),
			Voice:          openai.F(openai.AudioSpeechNewParamsVoice(voice)),
			ResponseFormat: openai.F(openai.AudioSpeechNewParamsResponseFormat(format)),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		w.Write(data)
		return nil
	})
}

// Open returns the path of a cached audio file by name.
func (s *Synthesizer) Open(name string) (string, error) {
	if !cacheName.MatchString(name) {
		return "", ErrAudioNotFound
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrAudioNotFound
		}
		return "", fmt.Errorf("stat audio: %w", err)
	}
	return path, nil
}

// Prune removes cached audio and abandoned temporary files last modified
// before cutoff. A missing cache directory prunes nothing.
func (s *Synthesizer) Prune(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read audio directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(cacheName.MatchString(name) || strings.HasSuffix(name, ".tmp")) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove audio %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// SupportedFormat reports whether format is one of Formats.
func SupportedFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// ChunkText trims text and splits it into pieces of at most max characters.
// Blank text yields no chunks.
func ChunkText(text string, max int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(runes); start += max {
		end := min(start+max, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close audio: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("publish audio: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
