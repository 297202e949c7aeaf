package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// configEnvVars lists every variable the loader reads.
var configEnvVars = []string{
	"LIBRARIAN_PORT",
	"LIBRARIAN_READ_TIMEOUT",
	"LIBRARIAN_WRITE_TIMEOUT",
	"LIBRARIAN_API_KEY",
	"OPENAI_API_KEY",
	"OPENAI_BASE_URL",
	"OPENAI_CHAT_MODEL",
	"LIBRARIAN_PROVIDER_TIMEOUT",
	"OPENAI_EMBED_MODEL",
	"LIBRARIAN_EMBEDDING_PROVIDER",
	"BOOK_SUMMARIES_PATH",
	"LIBRARIAN_INDEX_PATH",
	"LIBRARIAN_COLLECTION",
	"RETRIEVER_TOP_K",
	"LIBRARIAN_MAX_DISTANCE",
	"LIBRARIAN_STRICT_SLUGS",
	"MODERATION_ENABLED",
	"MODERATION_PROVIDER",
	"OPENAI_TTS_MODEL",
	"OPENAI_TTS_VOICE",
	"OPENAI_TTS_FORMAT",
	"OPENAI_TTS_VOICES",
	"OPENAI_STT_MODEL",
	"LIBRARIAN_AUDIO_DIR",
	"LIBRARIAN_AUDIO_CACHE_TTL",
	"LIBRARIAN_SNAPSHOT_BUCKET",
	"LIBRARIAN_S3_ENDPOINT",
	"LIBRARIAN_S3_REGION",
	"LIBRARIAN_S3_ACCESS_KEY",
	"LIBRARIAN_S3_SECRET_KEY",
	"LIBRARIAN_S3_USE_SSL",
	"LIBRARIAN_LOG_LEVEL",
	"LIBRARIAN_LOG_FORMAT",
	"LIBRARIAN_CONFIG_PATH",
	"LIBRARIAN_ENV_FILE",
	"LIBRARIAN_DEV_MODE",
}

// clearEnv unsets every config variable for the duration of the test and
// points the loader at files that do not exist.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range configEnvVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	dir := t.TempDir()
	t.Setenv("LIBRARIAN_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("LIBRARIAN_ENV_FILE", filepath.Join(dir, "missing.env"))
}

func setDevModeEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LIBRARIAN_DEV_MODE", "true")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// dur converts Duration to time.Duration for comparison
func dur(d Duration) time.Duration {
	return time.Duration(d)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if dur(cfg.Server.ShutdownTimeout) != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" {
		t.Errorf("OpenAI.ChatModel = %q", cfg.OpenAI.ChatModel)
	}
	if dur(cfg.OpenAI.Timeout) != 30*time.Second || cfg.OpenAI.Retries != 1 {
		t.Errorf("OpenAI policy = %v/%d, want 30s/1", cfg.OpenAI.Timeout, cfg.OpenAI.Retries)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Corpus.Path != "data/book_summaries.json" {
		t.Errorf("Corpus.Path = %q", cfg.Corpus.Path)
	}
	if cfg.Index.Path != "data/librarian.db" || cfg.Index.Collection != "books" {
		t.Errorf("Index = %+v", cfg.Index)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.MaxDistance != 0.8 {
		t.Errorf("Retrieval = %+v, want top_k 5 and max_distance 0.8", cfg.Retrieval)
	}
	if !cfg.Ingest.StrictSlugs {
		t.Error("Ingest.StrictSlugs should default to true")
	}
	if !cfg.Moderation.Enabled || cfg.Moderation.Provider != "openai" {
		t.Errorf("Moderation = %+v", cfg.Moderation)
	}
	if cfg.ModerationMode() != "combined" {
		t.Errorf("ModerationMode() = %q, want combined", cfg.ModerationMode())
	}
	wantSpeech := SpeechConfig{
		TTSModel:      "gpt-4o-mini-tts",
		Voice:         "alloy",
		Format:        "mp3",
		Voices:        []string{"alloy", "verse"},
		AudioDir:      "data/audio",
		STTModel:      "whisper-1",
		Language:      "en",
		CacheTTL:      Duration(7 * 24 * time.Hour),
		PruneInterval: Duration(time.Hour),
	}
	if !reflect.DeepEqual(cfg.Speech, wantSpeech) {
		t.Errorf("Speech = %+v, want %+v", cfg.Speech, wantSpeech)
	}
	if cfg.Snapshot.Bucket != "" {
		t.Errorf("Snapshot.Bucket = %q, want empty", cfg.Snapshot.Bucket)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad_ValidationFailsWithoutAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("Load() error = %v, want OPENAI_API_KEY error", err)
	}
}

func TestLoad_ValidationPassesWithAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-openai-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-test-openai-key" {
		t.Errorf("OpenAI.APIKey = %q", cfg.OpenAI.APIKey)
	}
	if cfg.Auth.APIKey != "" {
		t.Errorf("Auth.APIKey = %q, want empty (auth is optional)", cfg.Auth.APIKey)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	t.Setenv("LIBRARIAN_PORT", "9090")
	t.Setenv("LIBRARIAN_API_KEY", "secret")
	t.Setenv("OPENAI_CHAT_MODEL", "gpt-4o")
	t.Setenv("OPENAI_EMBED_MODEL", "text-embedding-3-large")
	t.Setenv("BOOK_SUMMARIES_PATH", "/books.json")
	t.Setenv("LIBRARIAN_INDEX_PATH", "/idx.db")
	t.Setenv("RETRIEVER_TOP_K", "3")
	t.Setenv("LIBRARIAN_MAX_DISTANCE", "0.65")
	t.Setenv("LIBRARIAN_STRICT_SLUGS", "false")
	t.Setenv("MODERATION_PROVIDER", "LOCAL")
	t.Setenv("OPENAI_TTS_VOICES", " alloy , echo,, nova ")
	t.Setenv("LIBRARIAN_S3_USE_SSL", "no")
	t.Setenv("LIBRARIAN_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "secret" {
		t.Errorf("Auth.APIKey = %q", cfg.Auth.APIKey)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o" || cfg.Embedding.Model != "text-embedding-3-large" {
		t.Errorf("models = %q, %q", cfg.OpenAI.ChatModel, cfg.Embedding.Model)
	}
	if cfg.Corpus.Path != "/books.json" || cfg.Index.Path != "/idx.db" {
		t.Errorf("paths = %q, %q", cfg.Corpus.Path, cfg.Index.Path)
	}
	if cfg.Retrieval.TopK != 3 || cfg.Retrieval.MaxDistance != 0.65 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Ingest.StrictSlugs {
		t.Error("Ingest.StrictSlugs should be overridden to false")
	}
	if cfg.ModerationMode() != "local" {
		t.Errorf("ModerationMode() = %q, want local", cfg.ModerationMode())
	}
	if !reflect.DeepEqual(cfg.Speech.Voices, []string{"alloy", "echo", "nova"}) {
		t.Errorf("Speech.Voices = %v", cfg.Speech.Voices)
	}
	if cfg.Snapshot.UseSSL == nil || *cfg.Snapshot.UseSSL {
		t.Errorf("Snapshot.UseSSL = %v, want false", cfg.Snapshot.UseSSL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_ModerationDisabled(t *testing.T) {
	for _, v := range []string{"0", "false", "off", "nope"} {
		t.Run(v, func(t *testing.T) {
			clearEnv(t)
			setDevModeEnv(t)
			t.Setenv("MODERATION_ENABLED", v)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.ModerationMode() != "disabled" {
				t.Errorf("ModerationMode() = %q, want disabled", cfg.ModerationMode())
			}
		})
	}
}

func TestLoad_EmptyEnvVarDoesNotOverride(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	t.Setenv("LIBRARIAN_PORT", "")
	t.Setenv("RETRIEVER_TOP_K", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Retrieval.TopK != 5 {
		t.Errorf("defaults overridden by empty values: port %d top_k %d", cfg.Server.Port, cfg.Retrieval.TopK)
	}
}

func TestLoad_MalformedEnvVarIgnored(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	t.Setenv("RETRIEVER_TOP_K", "many")
	t.Setenv("LIBRARIAN_MAX_DISTANCE", "far")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.MaxDistance != 0.8 {
		t.Errorf("Retrieval = %+v, want defaults", cfg.Retrieval)
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	configPath := writeFile(t, "config.yaml", `
server:
  port: 9999
  read_timeout: 60s
openai:
  timeout: 10s
  retries: 0
index:
  path: /yaml/index.db
  collection: novels
retrieval:
  top_k: 8
  max_distance: 0.5
ingest:
  strict_slugs: false
speech:
  voices: [nova, shimmer]
snapshot:
  bucket: backups
  endpoint: localhost:9000
  use_ssl: false
log:
  level: warn
`)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Port != 9999 || dur(cfg.Server.ReadTimeout) != 60*time.Second {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if dur(cfg.OpenAI.Timeout) != 10*time.Second || cfg.OpenAI.Retries != 0 {
		t.Errorf("OpenAI = %+v", cfg.OpenAI)
	}
	if cfg.Index.Path != "/yaml/index.db" || cfg.Index.Collection != "novels" {
		t.Errorf("Index = %+v", cfg.Index)
	}
	if cfg.Retrieval.TopK != 8 || cfg.Retrieval.MaxDistance != 0.5 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Ingest.StrictSlugs {
		t.Error("explicit false in YAML should override the default")
	}
	if !reflect.DeepEqual(cfg.Speech.Voices, []string{"nova", "shimmer"}) {
		t.Errorf("Speech.Voices = %v", cfg.Speech.Voices)
	}
	if cfg.Speech.Voice != "alloy" {
		t.Errorf("Speech.Voice = %q, unset YAML keys keep defaults", cfg.Speech.Voice)
	}
	if cfg.Snapshot.Bucket != "backups" || cfg.Snapshot.UseSSL == nil || *cfg.Snapshot.UseSSL {
		t.Errorf("Snapshot = %+v", cfg.Snapshot)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	configPath := writeFile(t, "config.yaml", `
server:
  port: 9000
log:
  level: warn
`)
	t.Setenv("LIBRARIAN_CONFIG_PATH", configPath)
	t.Setenv("LIBRARIAN_PORT", "8888")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888 (env override)", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q (from YAML)", cfg.Log.Level, "warn")
	}
}

func TestLoad_DotEnvFillsButNeverOverrides(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	envPath := writeFile(t, ".env", "OPENAI_CHAT_MODEL=gpt-from-dotenv\nRETRIEVER_TOP_K=2\n")
	t.Setenv("LIBRARIAN_ENV_FILE", envPath)
	t.Setenv("RETRIEVER_TOP_K", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAI.ChatModel != "gpt-from-dotenv" {
		t.Errorf("OpenAI.ChatModel = %q, want value from .env", cfg.OpenAI.ChatModel)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("Retrieval.TopK = %d, real environment must win over .env", cfg.Retrieval.TopK)
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	configPath := writeFile(t, "invalid.yaml", `
server:
  port: not_a_number
  this is invalid yaml [
`)
	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("LoadFromFile() expected error for invalid YAML, got nil")
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFromFile() expected error for a missing file")
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	configPath := writeFile(t, "bad.yaml", "openai:\n  timeout: soon\n")
	_, err := LoadFromFile(configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("LoadFromFile() error = %v, want invalid duration", err)
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }, "top_k"},
		{"zero distance", func(c *Config) { c.Retrieval.MaxDistance = 0 }, "max_distance"},
		{"distance above two", func(c *Config) { c.Retrieval.MaxDistance = 2.5 }, "max_distance"},
		{"empty collection", func(c *Config) { c.Index.Collection = "" }, "collection"},
		{"unknown embedder", func(c *Config) { c.Embedding.Provider = "bert" }, "embedding.provider"},
		{"unknown moderation", func(c *Config) { c.Moderation.Provider = "azure" }, "moderation.provider"},
		{"negative retries", func(c *Config) { c.OpenAI.Retries = -1 }, "retries"},
		{"negative cache ttl", func(c *Config) { c.Speech.CacheTTL = Duration(-time.Hour) }, "cache_ttl"},
		{"ttl without interval", func(c *Config) { c.Speech.PruneInterval = 0 }, "prune_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setDevModeEnv(t)
			cfg := newDefaults()
			tt.mutate(cfg)

			err := cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	type wrapper struct {
		D Duration `yaml:"d"`
	}

	out, err := yaml.Marshal(wrapper{D: Duration(90 * time.Second)})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), "1m30s") {
		t.Errorf("Marshal() = %q, want 1m30s", out)
	}

	var w wrapper
	if err := yaml.Unmarshal(out, &w); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if dur(w.D) != 90*time.Second {
		t.Errorf("D = %v, want 90s", w.D)
	}
}

func TestConfig_SecretsNeverInYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	configPath := writeFile(t, "secrets.yaml", `
auth:
  apikey: from-yaml
openai:
  apikey: from-yaml
`)
	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Auth.APIKey != "" || cfg.OpenAI.APIKey != "" {
		t.Error("API keys must only come from the environment")
	}
}

func TestLoad_AudioCacheTTLFromEnv(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	t.Setenv("LIBRARIAN_AUDIO_CACHE_TTL", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if dur(cfg.Speech.CacheTTL) != 48*time.Hour {
		t.Errorf("Speech.CacheTTL = %v, want 48h", dur(cfg.Speech.CacheTTL))
	}
}
