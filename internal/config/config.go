package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Index      IndexConfig      `yaml:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Moderation ModerationConfig `yaml:"moderation"`
	Speech     SpeechConfig     `yaml:"speech"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig contains authentication settings. An empty key disables auth.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// OpenAIConfig contains the shared provider client and call policy.
type OpenAIConfig struct {
	APIKey    string   `yaml:"-"` // env-only, never in YAML
	BaseURL   string   `yaml:"base_url"`
	ChatModel string   `yaml:"chat_model"`
	Timeout   Duration `yaml:"timeout"`
	Retries   int      `yaml:"retries"`
}

// EmbeddingConfig selects the embedding provider. The same provider and
// model must be used for ingest and queries.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai | hashing
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"` // hashing only
}

// CorpusConfig locates the curated book corpus.
type CorpusConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig locates the vector index.
type IndexConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// RetrievalConfig contains query-time settings.
type RetrievalConfig struct {
	TopK        int     `yaml:"top_k"`
	MaxDistance float64 `yaml:"max_distance"`
}

// IngestConfig contains corpus rebuild settings.
type IngestConfig struct {
	StrictSlugs bool `yaml:"strict_slugs"`
}

// ModerationConfig contains moderation gate settings.
type ModerationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // openai | local
	Model    string `yaml:"model"`
}

// SpeechConfig contains synthesis and transcription settings.
type SpeechConfig struct {
	TTSModel string   `yaml:"tts_model"`
	Voice    string   `yaml:"voice"`
	Format   string   `yaml:"format"`
	Voices   []string `yaml:"voices"`
	AudioDir string   `yaml:"audio_dir"`
	STTModel string   `yaml:"stt_model"`
	Language string   `yaml:"language"`

	// Cached audio older than CacheTTL is pruned every PruneInterval.
	// A zero CacheTTL keeps audio forever.
	CacheTTL      Duration `yaml:"cache_ttl"`
	PruneInterval Duration `yaml:"prune_interval"`
}

// SnapshotConfig contains S3-compatible storage settings for index
// snapshots. An empty bucket disables uploads.
type SnapshotConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	Prefix    string   `yaml:"prefix"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// RateLimitConfig limits generation endpoints per process.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModerationMode returns the gate mode implied by the moderation settings.
func (c *Config) ModerationMode() string {
	if !c.Moderation.Enabled {
		return "disabled"
	}
	if c.Moderation.Provider == "local" {
		return "local"
	}
	return "combined"
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → .env →
// env vars. Variables from .env never override the real environment.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("LIBRARIAN_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("LIBRARIAN_CONFIG_PATH", "config/librarian.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used by tests and the --config flag.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(90 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		OpenAI: OpenAIConfig{
			ChatModel: "gpt-4o-mini",
			Timeout:   Duration(30 * time.Second),
			Retries:   1,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 512,
		},
		Corpus: CorpusConfig{
			Path: "data/book_summaries.json",
		},
		Index: IndexConfig{
			Path:       "data/librarian.db",
			Collection: "books",
		},
		Retrieval: RetrievalConfig{
			TopK:        5,
			MaxDistance: 0.8,
		},
		Ingest: IngestConfig{
			StrictSlugs: true,
		},
		Moderation: ModerationConfig{
			Enabled:  true,
			Provider: "openai",
			Model:    "omni-moderation-latest",
		},
		Speech: SpeechConfig{
			TTSModel:      "gpt-4o-mini-tts",
			Voice:         "alloy",
			Format:        "mp3",
			Voices:        []string{"alloy", "verse"},
			AudioDir:      "data/audio",
			STTModel:      "whisper-1",
			Language:      "en",
			CacheTTL:      Duration(7 * 24 * time.Hour),
			PruneInterval: Duration(time.Hour),
		},
		Snapshot: SnapshotConfig{
			Prefix:    "librarian",
			URLExpiry: Duration(15 * time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadDotEnv loads variables from a .env file if it exists. Variables
// already present in the environment keep their values.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("parsing env file: %w", err)
	}
	return nil
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LIBRARIAN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LIBRARIAN_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LIBRARIAN_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("LIBRARIAN_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// OpenAI (OPENAI_* names are industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_CHAT_MODEL"); v != "" {
		cfg.OpenAI.ChatModel = v
	}
	if v := os.Getenv("LIBRARIAN_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OpenAI.Timeout = Duration(d)
		}
	}

	// Embedding
	if v := os.Getenv("OPENAI_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LIBRARIAN_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}

	// Corpus and index
	if v := os.Getenv("BOOK_SUMMARIES_PATH"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := os.Getenv("LIBRARIAN_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("LIBRARIAN_COLLECTION"); v != "" {
		cfg.Index.Collection = v
	}

	// Retrieval
	if v := os.Getenv("RETRIEVER_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("LIBRARIAN_MAX_DISTANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.MaxDistance = f
		}
	}

	// Ingest
	if v := os.Getenv("LIBRARIAN_STRICT_SLUGS"); v != "" {
		cfg.Ingest.StrictSlugs = parseBool(v)
	}

	// Moderation
	if v := os.Getenv("MODERATION_ENABLED"); v != "" {
		cfg.Moderation.Enabled = parseBool(v)
	}
	if v := os.Getenv("MODERATION_PROVIDER"); v != "" {
		cfg.Moderation.Provider = strings.ToLower(strings.TrimSpace(v))
	}

	// Speech
	if v := os.Getenv("OPENAI_TTS_MODEL"); v != "" {
		cfg.Speech.TTSModel = v
	}
	if v := os.Getenv("OPENAI_TTS_VOICE"); v != "" {
		cfg.Speech.Voice = v
	}
	if v := os.Getenv("OPENAI_TTS_FORMAT"); v != "" {
		cfg.Speech.Format = v
	}
	if v := os.Getenv("OPENAI_TTS_VOICES"); v != "" {
		cfg.Speech.Voices = splitList(v)
	}
	if v := os.Getenv("OPENAI_STT_MODEL"); v != "" {
		cfg.Speech.STTModel = v
	}
	if v := os.Getenv("LIBRARIAN_AUDIO_DIR"); v != "" {
		cfg.Speech.AudioDir = v
	}
	if v := os.Getenv("LIBRARIAN_AUDIO_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Speech.CacheTTL = Duration(d)
		}
	}

	// Snapshot storage
	if v := os.Getenv("LIBRARIAN_SNAPSHOT_BUCKET"); v != "" {
		cfg.Snapshot.Bucket = v
	}
	if v := os.Getenv("LIBRARIAN_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.Endpoint = v
	}
	if v := os.Getenv("LIBRARIAN_S3_REGION"); v != "" {
		cfg.Snapshot.Region = v
	}
	if v := os.Getenv("LIBRARIAN_S3_ACCESS_KEY"); v != "" {
		cfg.Snapshot.AccessKey = v
	}
	if v := os.Getenv("LIBRARIAN_S3_SECRET_KEY"); v != "" {
		cfg.Snapshot.SecretKey = v
	}
	if v := os.Getenv("LIBRARIAN_S3_USE_SSL"); v != "" {
		b := parseBool(v)
		cfg.Snapshot.UseSSL = &b
	}

	// Log
	if v := os.Getenv("LIBRARIAN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LIBRARIAN_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set and in range.
// In dev mode (LIBRARIAN_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxDistance <= 0 || c.Retrieval.MaxDistance > 2 {
		return fmt.Errorf("retrieval.max_distance must be in (0, 2], got %g", c.Retrieval.MaxDistance)
	}
	if c.Index.Collection == "" {
		return errors.New("index.collection is required")
	}
	switch c.Embedding.Provider {
	case "openai", "hashing":
	default:
		return fmt.Errorf("embedding.provider must be openai or hashing, got %q", c.Embedding.Provider)
	}
	switch c.Moderation.Provider {
	case "openai", "local":
	default:
		return fmt.Errorf("moderation.provider must be openai or local, got %q", c.Moderation.Provider)
	}
	if c.Speech.CacheTTL < 0 {
		return fmt.Errorf("speech.cache_ttl must not be negative, got %s", time.Duration(c.Speech.CacheTTL))
	}
	if c.Speech.CacheTTL > 0 && c.Speech.PruneInterval <= 0 {
		return errors.New("speech.prune_interval must be positive when speech.cache_ttl is set")
	}
	if c.OpenAI.Retries < 0 {
		return fmt.Errorf("openai.retries must not be negative, got %d", c.OpenAI.Retries)
	}

	// Dev mode bypasses API key validation
	if os.Getenv("LIBRARIAN_DEV_MODE") == "true" {
		return nil
	}

	if c.OpenAI.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	return nil
}

// parseBool accepts the usual truthy spellings; anything else is false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
