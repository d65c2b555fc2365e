package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// Config holds the bmae configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	ChunkStore  ChunkStoreConfig  `yaml:"chunk_store"`
	Cache       CacheConfig       `yaml:"cache"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Session     SessionConfig     `yaml:"session"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	RDF         RDFConfig         `yaml:"rdf"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds the admin surface password. Empty disables the admin routes.
type AuthConfig struct {
	AdminPassword string `yaml:"admin_password"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int64 `yaml:"max_upload_mb"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Collection string `yaml:"collection"`

	// QueryInstruction is prepended to questions before they are embedded.
	QueryInstruction string `yaml:"query_instruction"`

	Budget    BudgetConfig    `yaml:"budget"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// RateLimitConfig paces embedding requests. Zero disables pacing.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LLMConfig holds chat model settings.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// VectorStoreConfig holds the persistent vector store location.
type VectorStoreConfig struct {
	Dir string `yaml:"dir"`
}

// ChunkStoreConfig holds the chunk store location.
type ChunkStoreConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// CacheConfig holds the embedding cache settings. No redis addrs means no cache.
type CacheConfig struct {
	Redis  RedisConfig `yaml:"redis"`
	TTLSec int         `yaml:"ttl_sec"` // 0 = no expiry
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// RetrievalConfig tunes hybrid retrieval.
type RetrievalConfig struct {
	K             int     `yaml:"k"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight"`
	Fusion        string  `yaml:"fusion"` // "weighted" (default) | "rrf"
	RRFK          int     `yaml:"rrf_k"`
	Contextualize *bool   `yaml:"contextualize"`
	Limit         int     `yaml:"limit"` // 0 = whole union
}

// ContextualizeEnabled reports whether follow-up questions are rewritten.
func (r RetrievalConfig) ContextualizeEnabled() bool {
	return r.Contextualize == nil || *r.Contextualize
}

// SessionConfig holds conversation settings.
type SessionConfig struct {
	HistoryK int `yaml:"history_k"`
	// IdleTTLSec evicts sessions unused for this long. Negative disables eviction.
	IdleTTLSec int `yaml:"idle_ttl_sec"`
}

// IdleTTL returns the eviction threshold, zero when eviction is disabled.
func (s SessionConfig) IdleTTL() time.Duration {
	if s.IdleTTLSec <= 0 {
		return 0
	}
	return time.Duration(s.IdleTTLSec) * time.Second
}

// IndexingConfig holds batch indexing settings.
type IndexingConfig struct {
	BatchSize        int    `yaml:"batch_size"`
	CursorDir        string `yaml:"cursor_dir"`
	DropPartialBatch bool   `yaml:"drop_partial_batch"`
}

// RDFConfig holds RDF normalization settings.
type RDFConfig struct {
	ThumbnailPrefix string `yaml:"thumbnail_prefix"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from path. A .env file in the working directory,
// when present, is loaded into the environment first.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 64
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-large"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 3072
	}
	if c.Embedding.Collection == "" {
		c.Embedding.Collection = domain.DefaultCollection
	}
	if c.Embedding.Budget.Action == "" {
		c.Embedding.Budget.Action = "warn"
	}
	if c.Embedding.RateLimit.RequestsPerSecond > 0 && c.Embedding.RateLimit.Burst <= 0 {
		c.Embedding.RateLimit.Burst = 1
	}

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = c.Embedding.APIKey
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = c.Embedding.BaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4-turbo"
	}

	if c.VectorStore.Dir == "" {
		c.VectorStore.Dir = "./vectordb"
	}
	if c.ChunkStore.Dir == "" {
		c.ChunkStore.Dir = "./chunks"
	}
	if c.Cache.Redis.ReadinessTimeout <= 0 {
		c.Cache.Redis.ReadinessTimeout = 10
	}

	if c.Retrieval.K <= 0 {
		c.Retrieval.K = 5
	}
	if c.Retrieval.LexicalWeight == 0 && c.Retrieval.VectorWeight == 0 {
		c.Retrieval.LexicalWeight = 0.5
		c.Retrieval.VectorWeight = 0.5
	}
	if c.Retrieval.Fusion == "" {
		c.Retrieval.Fusion = "weighted"
	}
	if c.Retrieval.RRFK <= 0 {
		c.Retrieval.RRFK = 60
	}

	if c.Session.HistoryK <= 0 {
		c.Session.HistoryK = 4
	}
	if c.Session.IdleTTLSec == 0 {
		c.Session.IdleTTLSec = 24 * 60 * 60
	}
	if c.Indexing.BatchSize <= 0 {
		c.Indexing.BatchSize = 100
	}
	if c.Indexing.CursorDir == "" {
		c.Indexing.CursorDir = c.VectorStore.Dir
	}
	if c.RDF.ThumbnailPrefix == "" {
		c.RDF.ThumbnailPrefix = "http://balat.kikirpa.be/image/thumbnail/"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Embedding.Budget.Action {
	case "", "warn", "reject":
	default:
		return fmt.Errorf("embedding.budget.action must be \"warn\" or \"reject\", got %q", c.Embedding.Budget.Action)
	}
	if c.Embedding.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("embedding.rate_limit.requests_per_second must not be negative")
	}
	switch c.Retrieval.Fusion {
	case "", "weighted", "rrf":
	default:
		return fmt.Errorf("retrieval.fusion must be \"weighted\" or \"rrf\", got %q", c.Retrieval.Fusion)
	}
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.VectorWeight < 0 {
		return fmt.Errorf("retrieval weights must not be negative")
	}
	if c.Retrieval.Limit < 0 {
		return fmt.Errorf("retrieval.limit must not be negative, got %d", c.Retrieval.Limit)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
