package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clearsrc/scadex/internal/domain"
)

// Config holds the scadex configuration shared by the API server and the
// indexer.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Metastore   MetastoreConfig   `yaml:"metastore"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Licenses    LicensesConfig    `yaml:"licenses"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AuthConfig holds API authentication settings. An empty key list disables
// authentication.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// VectorIndexConfig holds vector index connection settings.
type VectorIndexConfig struct {
	Driver              string   `yaml:"driver"` // qdrant, redis (default: qdrant)
	URL                 string   `yaml:"url"`    // qdrant base URL
	Addrs               []string `yaml:"addrs"`  // redis addresses
	Password            string   `yaml:"password"`
	APIKey              string   `yaml:"api_key"`
	Collection          string   `yaml:"collection"`
	ReadinessTimeoutSec int      `yaml:"readiness_timeout_sec"`
}

// MetastoreConfig holds the SQLite metadata store settings.
type MetastoreConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig holds the embedding retry policy.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string      `yaml:"provider"` // ollama, openai (default: ollama)
	BaseURL    string      `yaml:"base_url"`
	APIKey     string      `yaml:"api_key"`
	Model      string      `yaml:"model"`
	TimeoutSec int         `yaml:"timeout_sec"`
	Retry      RetryConfig `yaml:"retry"`
}

// IndexerConfig holds ingestion pipeline settings.
type IndexerConfig struct {
	Root                    string   `yaml:"root"`
	Workers                 int      `yaml:"workers"`
	QueueSize               int      `yaml:"queue_size"`
	BatchSize               int      `yaml:"batch_size"`
	MaxFileBytes            int64    `yaml:"max_file_bytes"`
	MaxFilesPerPackage      int      `yaml:"max_files_per_package"`
	MaxPackagesPerEcosystem int      `yaml:"max_packages_per_ecosystem"`
	MaxCharsPerChunk        int      `yaml:"max_chars_per_chunk"`
	MaxChunksPerFile        int      `yaml:"max_chunks_per_file"`
	Overflow                string   `yaml:"overflow"` // truncate, extend, reject
	Extensions              []string `yaml:"extensions"`
	ExcludeDirs             []string `yaml:"exclude_dirs"`
}

// LicensesConfig holds the license seed file location.
type LicensesConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
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
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.VectorIndex.Driver == "" {
		c.VectorIndex.Driver = "qdrant"
	}
	if c.VectorIndex.URL == "" {
		c.VectorIndex.URL = "http://localhost:6333"
	}
	if c.VectorIndex.Collection == "" {
		c.VectorIndex.Collection = "oss_code_embeddings"
	}
	if c.VectorIndex.ReadinessTimeoutSec <= 0 {
		c.VectorIndex.ReadinessTimeoutSec = 10
	}
	if c.Metastore.Path == "" {
		c.Metastore.Path = "sca_metadata.db"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == "ollama" {
		c.Embedding.BaseURL = "http://localhost:11434"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "mxbai-embed-large:latest"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 120
	}
	if c.Embedding.Retry.MaxAttempts <= 0 {
		c.Embedding.Retry.MaxAttempts = 3
	}
	if c.Embedding.Retry.BaseDelayMs <= 0 {
		c.Embedding.Retry.BaseDelayMs = 200
	}
	if c.Embedding.Retry.MaxDelayMs <= 0 {
		c.Embedding.Retry.MaxDelayMs = 5000
	}
	if c.Embedding.Retry.Multiplier <= 1 {
		c.Embedding.Retry.Multiplier = 2.0
	}
	if c.Indexer.Workers <= 0 {
		c.Indexer.Workers = 8
	}
	if c.Indexer.QueueSize <= 0 {
		c.Indexer.QueueSize = c.Indexer.Workers * 4
	}
	if c.Indexer.BatchSize <= 0 {
		c.Indexer.BatchSize = 64
	}
	if c.Indexer.MaxFileBytes <= 0 {
		c.Indexer.MaxFileBytes = 300 * 1024
	}
	if c.Indexer.MaxFilesPerPackage == 0 {
		c.Indexer.MaxFilesPerPackage = 200
	}
	if c.Indexer.MaxCharsPerChunk <= 0 {
		c.Indexer.MaxCharsPerChunk = 800
	}
	if c.Indexer.MaxChunksPerFile == 0 {
		c.Indexer.MaxChunksPerFile = 10
	}
	if c.Indexer.Overflow == "" {
		c.Indexer.Overflow = string(domain.OverflowTruncate)
	}
	if len(c.Indexer.Extensions) == 0 {
		c.Indexer.Extensions = []string{
			".py", ".js", ".ts", ".c", ".cpp", ".cc", ".h", ".hpp", ".java",
		}
	}
	if len(c.Indexer.ExcludeDirs) == 0 {
		c.Indexer.ExcludeDirs = []string{
			"tests", "test", "docs", "doc", "examples", "example", "benchmarks",
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.VectorIndex.Driver {
	case "qdrant":
		if c.VectorIndex.URL == "" {
			return fmt.Errorf("vector_index.url is required for the qdrant driver")
		}
	case "redis":
		if len(c.VectorIndex.Addrs) == 0 {
			return fmt.Errorf("vector_index.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("vector_index.driver must be \"qdrant\" or \"redis\", got %q", c.VectorIndex.Driver)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
		// ok
	default:
		return fmt.Errorf("embedding.provider must be \"ollama\" or \"openai\", got %q", c.Embedding.Provider)
	}
	if _, err := domain.ParseOverflowPolicy(c.Indexer.Overflow); err != nil {
		return fmt.Errorf("indexer.overflow: %w", err)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
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
