package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Classifier failure policies.
const (
	ClassifierPolicyOpen   = "open"
	ClassifierPolicyClosed = "closed"
	ClassifierPolicyFail   = "fail"
)

// LLM providers.
const (
	LLMProviderOpenAI     = "openai"
	LLMProviderCompatible = "compatible"
	LLMProviderOllama     = "ollama"
)

// Config holds the healthrec configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Recommend RecommendConfig `yaml:"recommend"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds vector store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey (default: redis)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds the embedding provider and cache settings.
type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// LLMConfig holds chat model settings shared by all generative stages.
type LLMConfig struct {
	Provider   string        `yaml:"provider"` // openai, compatible, ollama
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	MaxRetries int           `yaml:"max_retries"`
	Timeouts   StageTimeouts `yaml:"timeouts"`
}

// StageTimeouts bounds each generative call.
type StageTimeouts struct {
	Classify  time.Duration `yaml:"classify"`
	Rerank    time.Duration `yaml:"rerank"`
	Compose   time.Duration `yaml:"compose"`
	Questions time.Duration `yaml:"questions"`
}

// CatalogConfig holds the service catalog index settings.
type CatalogConfig struct {
	Collection      string `yaml:"collection"`
	KeyPrefix       string `yaml:"key_prefix"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
	IngestWorkers   int    `yaml:"ingest_workers"`
}

// RecommendConfig holds pipeline tuning knobs.
type RecommendConfig struct {
	RelevancyWeight         float64 `yaml:"relevancy_weight"`
	CandidatePoolSize       int     `yaml:"candidate_pool_size"`
	RerankTopK              int     `yaml:"rerank_top_k"`
	DefaultRadius           float64 `yaml:"default_radius"`
	MaxRefinementRounds     int     `yaml:"max_refinement_rounds"`
	ClassifierFailurePolicy string  `yaml:"classifier_failure_policy"`
	RerankMaxWords          int     `yaml:"rerank_max_words"`
	ComposeMaxWords         int     `yaml:"compose_max_words"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes raw YAML, expanding ${VAR} references, then applies defaults and validates.
func Parse(data []byte) (Config, error) {
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

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
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
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	c.Embedding.applyDefaults()
	c.LLM.applyDefaults()

	if c.Catalog.Collection == "" {
		c.Catalog.Collection = "211_gta"
	}
	if c.Catalog.KeyPrefix == "" {
		c.Catalog.KeyPrefix = "healthrec:"
	}
	if c.Catalog.HNSWM <= 0 {
		c.Catalog.HNSWM = 16
	}
	if c.Catalog.HNSWEFConstruct <= 0 {
		c.Catalog.HNSWEFConstruct = 200
	}
	if c.Catalog.IngestWorkers <= 0 {
		c.Catalog.IngestWorkers = 4
	}

	c.Recommend.applyDefaults()
}

func (e *EmbeddingConfig) applyDefaults() {
	if e.Model == "" {
		e.Model = "text-embedding-3-small"
	}
	if e.Dimensions <= 0 {
		e.Dimensions = 1536
	}
	if e.Timeout <= 0 {
		e.Timeout = 10 * time.Second
	}
	if e.CacheTTL <= 0 {
		e.CacheTTL = 24 * time.Hour
	}
}

func (l *LLMConfig) applyDefaults() {
	if l.Provider == "" {
		l.Provider = LLMProviderOpenAI
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.Timeouts.Classify <= 0 {
		l.Timeouts.Classify = 10 * time.Second
	}
	if l.Timeouts.Rerank <= 0 {
		l.Timeouts.Rerank = 20 * time.Second
	}
	if l.Timeouts.Compose <= 0 {
		l.Timeouts.Compose = 30 * time.Second
	}
	if l.Timeouts.Questions <= 0 {
		l.Timeouts.Questions = 15 * time.Second
	}
}

func (r *RecommendConfig) applyDefaults() {
	if r.RelevancyWeight == 0 {
		r.RelevancyWeight = 0.5
	}
	if r.CandidatePoolSize <= 0 {
		r.CandidatePoolSize = 20
	}
	if r.RerankTopK <= 0 {
		r.RerankTopK = 5
	}
	if r.DefaultRadius <= 0 {
		r.DefaultRadius = 5000
	}
	if r.MaxRefinementRounds <= 0 {
		r.MaxRefinementRounds = 5
	}
	if r.ClassifierFailurePolicy == "" {
		r.ClassifierFailurePolicy = ClassifierPolicyOpen
	}
	if r.RerankMaxWords <= 0 {
		r.RerankMaxWords = 150
	}
	if r.ComposeMaxWords <= 0 {
		r.ComposeMaxWords = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Database.Driver {
	case "redis", "valkey":
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	switch c.LLM.Provider {
	case LLMProviderOpenAI, LLMProviderCompatible, LLMProviderOllama:
	default:
		return fmt.Errorf("llm.provider must be one of openai, compatible, ollama, got %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	if w := c.Recommend.RelevancyWeight; w < 0 || w > 1 {
		return fmt.Errorf("recommend.relevancy_weight must be within [0, 1], got %g", w)
	}
	if c.Recommend.RerankTopK > c.Recommend.CandidatePoolSize {
		return fmt.Errorf("recommend.rerank_top_k (%d) must not exceed recommend.candidate_pool_size (%d)",
			c.Recommend.RerankTopK, c.Recommend.CandidatePoolSize)
	}
	switch c.Recommend.ClassifierFailurePolicy {
	case ClassifierPolicyOpen, ClassifierPolicyClosed, ClassifierPolicyFail:
	default:
		return fmt.Errorf(
			"recommend.classifier_failure_policy must be \"open\", \"closed\" or \"fail\", got %q",
			c.Recommend.ClassifierFailurePolicy,
		)
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

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
