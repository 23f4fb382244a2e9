package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DOCINTEL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "DOCINTEL_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.api_token", typ: kString, env: "DOCINTEL_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "engine.provider", typ: kString, env: "DOCINTEL_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.ollama_url", typ: kString, env: "DOCINTEL_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OllamaURL },
	},
	{
		key: "engine.gemini_api_key", typ: kString, env: "DOCINTEL_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Engine.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.GeminiAPIKey },
	},
	{
		key: "engine.chat_model", typ: kString, env: "DOCINTEL_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "DOCINTEL_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.embed_dimensions", typ: kInt, env: "DOCINTEL_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedDimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedDimensions },
	},
	{
		key: "engine.embed_rate_limit", typ: kFloat, env: "DOCINTEL_EMBED_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedRateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedRateLimit },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCINTEL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "vector.backend", typ: kString, env: "DOCINTEL_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "vector.postgres_url", typ: kString, env: "DOCINTEL_POSTGRES_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Vector.PostgresURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.PostgresURL },
	},
	{
		key: "vector.top_k", typ: kInt, env: "DOCINTEL_VECTOR_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Vector.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Vector.TopK },
	},
	{
		key: "broker.backend", typ: kString, env: "DOCINTEL_BROKER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Broker.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Broker.Backend },
	},
	{
		key: "broker.kafka_brokers", typ: kString, env: "DOCINTEL_KAFKA_BROKERS",
		apply:   func(cfg *Config, v any) { cfg.Broker.KafkaBrokers = v.(string) },
		extract: func(cfg Config) any { return cfg.Broker.KafkaBrokers },
	},
	{
		key: "broker.kafka_async", typ: kBool, env: "DOCINTEL_KAFKA_ASYNC",
		apply:   func(cfg *Config, v any) { cfg.Broker.KafkaAsync = v.(bool) },
		extract: func(cfg Config) any { return cfg.Broker.KafkaAsync },
	},
	{
		key: "broker.poll_interval", typ: kString, env: "DOCINTEL_BROKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Broker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Broker.PollInterval },
	},
	{
		key: "blob.backend", typ: kString, env: "DOCINTEL_BLOB_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Blob.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Backend },
	},
	{
		key: "blob.local_path", typ: kString, env: "DOCINTEL_BLOB_LOCAL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Blob.LocalPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.LocalPath },
	},
	{
		key: "blob.s3_bucket", typ: kString, env: "DOCINTEL_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Bucket },
	},
	{
		key: "blob.s3_region", typ: kString, env: "DOCINTEL_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Region },
	},
	{
		key: "blob.s3_endpoint", typ: kString, env: "DOCINTEL_S3_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Endpoint },
	},
	{
		key: "blob.s3_access_key", typ: kString, env: "DOCINTEL_S3_ACCESS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Blob.S3AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3AccessKey },
	},
	{
		key: "blob.s3_secret_key", typ: kString, env: "DOCINTEL_S3_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Blob.S3SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3SecretKey },
	},
	{
		key: "cluster.k", typ: kInt, env: "DOCINTEL_CLUSTER_K",
		apply:   func(cfg *Config, v any) { cfg.Cluster.K = v.(int) },
		extract: func(cfg Config) any { return cfg.Cluster.K },
	},
	{
		key: "cluster.dimensions", typ: kInt, env: "DOCINTEL_CLUSTER_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Cluster.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Cluster.Dimensions },
	},
	{
		key: "flashcard.policy", typ: kString, env: "DOCINTEL_FLASHCARD_POLICY",
		apply:   func(cfg *Config, v any) { cfg.Flashcard.Policy = v.(string) },
		extract: func(cfg Config) any { return cfg.Flashcard.Policy },
	},
	{
		key: "flashcard.cards_per_page", typ: kInt, env: "DOCINTEL_FLASHCARD_CARDS_PER_PAGE",
		apply:   func(cfg *Config, v any) { cfg.Flashcard.CardsPerPage = v.(int) },
		extract: func(cfg Config) any { return cfg.Flashcard.CardsPerPage },
	},
	{
		key: "composer.max_context_tokens", typ: kInt, env: "DOCINTEL_COMPOSER_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Composer.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.MaxContextTokens },
	},
	{
		key: "log.level", typ: kString, env: "DOCINTEL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	default:
		return "string"
	}
}

// coerce converts a raw value from a config file, the environment or the
// command line into the Go type apply expects. Numeric strings are accepted
// for every numeric kind.
func (t keyType) coerce(raw any) (any, error) {
	switch t {
	case kString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case int, int64, float64, bool:
			return fmt.Sprint(v), nil
		}
	case kInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) || v < math.MinInt || v > math.MaxInt {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), nil
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		}
	case kFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
	case kBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		}
	}
	return nil, fmt.Errorf("want %s, got %T", t, raw)
}

// applyBackend copies every non-secret key present in b onto cfg. A value of
// the wrong type fails the load.
func applyBackend(cfg *Config, b backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Get(s.key)
		if !ok {
			continue
		}
		v, err := s.typ.coerce(raw)
		if err != nil {
			return fmt.Errorf("config key %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides applies DOCINTEL_* variables. Unparseable values are
// logged and skipped so the file or default value stays in effect.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.typ.coerce(raw)
		if err != nil {
			slog.Warn("ignoring environment override", "var", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
