package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"policy-claims/backend/internal/embedding"
	"policy-claims/backend/internal/reasoner"
	"policy-claims/backend/internal/retrieval"
)

// Config is the process configuration assembled from the environment.
type Config struct {
	Port           string
	DataDir        string
	DBPath         string
	UploadDir      string
	RulesPath      string
	TopK           int
	DisableAI      bool
	AllowedOrigins []string
	AI             reasoner.Config
	Embedding      embedding.Config
}

// Load reads a .env file from the working directory when present and then
// builds the configuration from the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("load .env file")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from getenv. Unset or malformed values fall
// back to defaults.
func FromEnv(getenv func(string) string) Config {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{
		Port:      "2000",
		DataDir:   "data",
		TopK:      retrieval.DefaultTopK,
		RulesPath: get("RULES_CONFIG"),
		DisableAI: strings.EqualFold(get("DISABLE_AI"), "true") || get("DISABLE_AI") == "1",
		AI: reasoner.Config{
			APIKey:  get("OPENAI_API_KEY"),
			Model:   get("OPENAI_MODEL"),
			BaseURL: get("OPENAI_BASE_URL"),
		},
		Embedding: embedding.Config{
			Provider: get("EMBEDDING_PROVIDER"),
			Model:    get("EMBEDDING_MODEL"),
			APIKey:   get("OPENAI_API_KEY"),
			BaseURL:  get("OPENAI_BASE_URL"),
		},
	}

	if port := get("PORT"); port != "" {
		cfg.Port = port
	}
	if dir := get("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "claims.db")
	if path := get("DB_PATH"); path != "" {
		cfg.DBPath = path
	}
	cfg.UploadDir = filepath.Join(cfg.DataDir, "uploads")

	if temp := get("OPENAI_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil && v >= 0 {
			cfg.AI.Temperature = &v
		}
	}
	if maxTokens := get("OPENAI_MAX_TOKENS"); maxTokens != "" {
		if v, err := strconv.Atoi(maxTokens); err == nil && v > 0 {
			cfg.AI.MaxTokens = v
		}
	}
	if size := get("EMBEDDING_CACHE_SIZE"); size != "" {
		if v, err := strconv.Atoi(size); err == nil && v > 0 {
			cfg.Embedding.CacheSize = v
		}
	}
	if k := get("RETRIEVAL_TOP_K"); k != "" {
		if v, err := strconv.Atoi(k); err == nil && v > 0 {
			cfg.TopK = v
		}
	}
	if origins := get("ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	return cfg
}
