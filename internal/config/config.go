package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Vector    VectorConfig
	Broker    BrokerConfig
	Blob      BlobConfig
	Cluster   ClusterConfig
	Flashcard FlashcardConfig
	Composer  ComposerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	// APIToken guards the HTTP API. Empty disables bearer auth.
	APIToken string
}

type EngineConfig struct {
	Provider        string
	OllamaURL       string
	GeminiAPIKey    string
	ChatModel       string
	EmbedModel      string
	EmbedDimensions int
	EmbedRateLimit  float64
}

type StorageConfig struct {
	DataDir string
}

type VectorConfig struct {
	Backend     string
	PostgresURL string
	TopK        int
}

type BrokerConfig struct {
	Backend      string
	KafkaBrokers string
	KafkaAsync   bool
	PollInterval string
}

type BlobConfig struct {
	Backend     string
	LocalPath   string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

type ClusterConfig struct {
	K          int
	Dimensions int
}

type FlashcardConfig struct {
	Policy       string
	CardsPerPage int
}

type ComposerConfig struct {
	MaxContextTokens int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Engine: EngineConfig{
			Provider:   "ollama",
			OllamaURL:  "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Vector: VectorConfig{
			Backend: "sqlite",
			TopK:    5,
		},
		Broker: BrokerConfig{
			Backend:      "sqlite",
			KafkaBrokers: "localhost:9092",
			PollInterval: "250ms",
		},
		Blob: BlobConfig{
			Backend: "local",
		},
		Cluster: ClusterConfig{
			K:          5,
			Dimensions: 2,
		},
		Flashcard: FlashcardConfig{
			Policy:       "fail_fast",
			CardsPerPage: 3,
		},
		Composer: ComposerConfig{
			MaxContextTokens: 4000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in this order, later sources winning: defaults,
// the config file, a .env file in the working directory, and DOCINTEL_*
// environment variables.
//
// The config file is DOCINTEL_CONFIG when set; otherwise config.yaml (or
// config.json) under $XDG_CONFIG_HOME/docintel. Files ending in .yaml or .yml
// are read as YAML.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate rejects backend names and modes outside their closed sets and
// missing credentials for the backends that need them.
func validate(cfg Config) error {
	checks := []struct {
		key, val string
		allowed  []string
	}{
		{"engine.provider", cfg.Engine.Provider, []string{"ollama", "gemini"}},
		{"vector.backend", cfg.Vector.Backend, []string{"sqlite", "postgres", "memory"}},
		{"broker.backend", cfg.Broker.Backend, []string{"sqlite", "kafka"}},
		{"blob.backend", cfg.Blob.Backend, []string{"local", "s3"}},
		{"log.level", strings.ToLower(cfg.Log.Level), []string{"debug", "info", "warn", "error"}},
		{"flashcard.policy", strings.ToLower(cfg.Flashcard.Policy), []string{"fail_fast", "best_effort"}},
	}
	for _, c := range checks {
		if !oneOf(c.val, c.allowed) {
			return fmt.Errorf("invalid %s %q (want one of %s)", c.key, c.val, strings.Join(c.allowed, ", "))
		}
	}

	if d := cfg.Cluster.Dimensions; d != 2 && d != 3 {
		return fmt.Errorf("invalid cluster.dimensions %d (want 2 or 3)", d)
	}

	if cfg.Engine.Provider == "gemini" && cfg.Engine.GeminiAPIKey == "" {
		return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable DOCINTEL_GEMINI_API_KEY")
	}
	if cfg.Vector.Backend == "postgres" && cfg.Vector.PostgresURL == "" {
		return fmt.Errorf("missing required config: Postgres URL. Set it via environment variable DOCINTEL_POSTGRES_URL")
	}
	if cfg.Blob.Backend == "s3" && cfg.Blob.S3Bucket == "" {
		return fmt.Errorf("missing required config: blob.s3_bucket")
	}
	if cfg.Broker.Backend == "kafka" && strings.TrimSpace(cfg.Broker.KafkaBrokers) == "" {
		return fmt.Errorf("missing required config: broker.kafka_brokers")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// KafkaBrokerList splits broker.kafka_brokers on commas.
func (c BrokerConfig) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
