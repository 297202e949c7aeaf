package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"github.com/hyperengineering/librarian/internal/api"
	"github.com/hyperengineering/librarian/internal/chat"
	"github.com/hyperengineering/librarian/internal/config"
	"github.com/hyperengineering/librarian/internal/corpus"
	"github.com/hyperengineering/librarian/internal/embedding"
	"github.com/hyperengineering/librarian/internal/index"
	"github.com/hyperengineering/librarian/internal/librarian"
	"github.com/hyperengineering/librarian/internal/moderation"
	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/hyperengineering/librarian/internal/retrieval"
	"github.com/hyperengineering/librarian/internal/speech"
	"github.com/hyperengineering/librarian/internal/summary"
)

// errNoProvider is returned when a command needs the OpenAI client but no
// key is configured (only possible in dev mode).
var errNoProvider = errors.New("OPENAI_API_KEY is not set")

// app builds the collaborators a command needs from configuration. The
// index and embedder are opened lazily so commands that only read the
// corpus never touch the database.
type app struct {
	cfg      *config.Config
	client   *openai.Client
	policy   provider.Policy
	idx      *index.SQLiteIndex
	embedder embedding.Embedder
}

func newApp(cfg *config.Config) *app {
	a := &app{cfg: cfg, policy: providerPolicy(cfg.OpenAI)}
	if cfg.OpenAI.APIKey != "" {
		a.client = provider.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	}
	return a
}

func providerPolicy(oc config.OpenAIConfig) provider.Policy {
	p := provider.DefaultPolicy()
	if oc.Timeout > 0 {
		p.Timeout = time.Duration(oc.Timeout)
	}
	if oc.Retries >= 0 {
		p.Retries = uint64(oc.Retries)
	}
	return p
}

// Close releases the index if it was opened.
func (a *app) Close() {
	if a.idx == nil {
		return
	}
	if err := a.idx.Close(); err != nil {
		slog.Error("index close error", "error", err)
	}
	a.idx = nil
}

func (a *app) requireClient(what string) error {
	if a.client == nil {
		return fmt.Errorf("%s: %w", what, errNoProvider)
	}
	return nil
}

func (a *app) openIndex() (*index.SQLiteIndex, error) {
	if a.idx != nil {
		return a.idx, nil
	}
	idx, err := index.NewSQLiteIndex(a.cfg.Index.Path)
	if err != nil {
		return nil, err
	}
	slog.Debug("index opened", "path", a.cfg.Index.Path)
	a.idx = idx
	return idx, nil
}

func (a *app) loadEmbedder() (embedding.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	switch a.cfg.Embedding.Provider {
	case "hashing":
		a.embedder = embedding.NewHashing(a.cfg.Embedding.Dimensions)
	default:
		if err := a.requireClient("embedding provider openai"); err != nil {
			return nil, err
		}
		a.embedder = embedding.NewOpenAI(a.client, a.cfg.Embedding.Model, a.policy)
	}
	slog.Debug("embedder initialized", "model", a.embedder.ModelName())
	return a.embedder, nil
}

func (a *app) retriever() (*retrieval.Retriever, error) {
	embedder, err := a.loadEmbedder()
	if err != nil {
		return nil, err
	}
	idx, err := a.openIndex()
	if err != nil {
		return nil, err
	}
	return retrieval.New(embedder, idx, retrieval.Config{
		Collection:  a.cfg.Index.Collection,
		TopK:        a.cfg.Retrieval.TopK,
		MaxDistance: a.cfg.Retrieval.MaxDistance,
	}), nil
}

func (a *app) resolver() (*summary.Resolver, error) {
	records, err := corpus.Load(a.cfg.Corpus.Path)
	if err != nil {
		return nil, err
	}
	return summary.NewResolver(records), nil
}

func (a *app) chatClient() (*chat.Client, error) {
	if err := a.requireClient("chat"); err != nil {
		return nil, err
	}
	return chat.NewClient(a.client, a.cfg.OpenAI.ChatModel, a.policy), nil
}

// gate builds the moderation gate. Without a client the external tier is
// absent and the gate runs local only.
func (a *app) gate() (*moderation.Gate, error) {
	mode, err := moderation.ParseMode(a.cfg.ModerationMode())
	if err != nil {
		return nil, err
	}
	var external moderation.Classifier
	if mode == moderation.ModeCombined && a.client != nil {
		external = moderation.NewOpenAI(a.client, a.cfg.Moderation.Model, a.policy)
	}
	gate := moderation.NewGate(mode, external)
	if gate.Mode() != mode {
		slog.Warn("moderation downgraded to local, no provider key",
			"component", "moderation",
		)
	}
	return gate, nil
}

func (a *app) synthesizer() (*speech.Synthesizer, error) {
	if err := a.requireClient("speech"); err != nil {
		return nil, err
	}
	sc := a.cfg.Speech
	return speech.NewSynthesizer(a.client, speech.Config{
		Dir:    sc.AudioDir,
		Model:  sc.TTSModel,
		Voice:  sc.Voice,
		Format: sc.Format,
		Voices: sc.Voices,
	}, a.policy), nil
}

func (a *app) transcriber() (*speech.Transcriber, error) {
	if err := a.requireClient("transcription"); err != nil {
		return nil, err
	}
	return speech.NewTranscriber(a.client, a.cfg.Speech.STTModel, a.policy), nil
}

// newLibrarian wires a full recommendation turn. The summary tool call
// shares the chat client.
func (a *app) newLibrarian(gate *moderation.Gate, resolver *summary.Resolver, speaker *speech.Synthesizer) (*librarian.Librarian, error) {
	searcher, err := a.retriever()
	if err != nil {
		return nil, err
	}
	completer, err := a.chatClient()
	if err != nil {
		return nil, err
	}
	return librarian.New(gate, searcher, completer, summary.NewToolCaller(completer, resolver), speaker), nil
}

// services assembles everything the HTTP surface serves.
func (a *app) services() (api.Services, *speech.Synthesizer, error) {
	resolver, err := a.resolver()
	if err != nil {
		return api.Services{}, nil, err
	}
	gate, err := a.gate()
	if err != nil {
		return api.Services{}, nil, err
	}
	synth, err := a.synthesizer()
	if err != nil {
		return api.Services{}, nil, err
	}
	transcriber, err := a.transcriber()
	if err != nil {
		return api.Services{}, nil, err
	}
	lib, err := a.newLibrarian(gate, resolver, synth)
	if err != nil {
		return api.Services{}, nil, err
	}
	searcher, err := a.retriever()
	if err != nil {
		return api.Services{}, nil, err
	}

	return api.Services{
		Turns:       lib,
		Searcher:    searcher,
		Summaries:   resolver,
		Moderator:   gate,
		Speech:      synth,
		Transcriber: transcriber,
		Index:       a.idx,
	}, synth, nil
}
