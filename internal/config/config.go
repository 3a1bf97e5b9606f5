package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	rderrors "github.com/rdscope/rdscope-go/internal/errors"
)

// Config holds all configuration settings
type Config struct {
	// Company name used in generated reports
	Company string `yaml:"company"`

	// Storage configuration (audit store for judgments and activities)
	Storage StorageConfig `yaml:"storage"`

	// GitHub configuration
	GitHub GitHubConfig `yaml:"github"`

	// API configuration (LLM + embeddings)
	API APIConfig `yaml:"api"`

	// Classification and aggregation settings
	Analysis AnalysisConfig `yaml:"analysis"`

	// Criteria store settings
	Criteria CriteriaConfig `yaml:"criteria"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "sqlite", "postgres"
	PostgresDSN string `yaml:"postgres_dsn"`
	LocalPath   string `yaml:"local_path"`
}

type GitHubConfig struct {
	Token     string `yaml:"token"`
	RateLimit int    `yaml:"rate_limit"` // Requests per second
}

type APIConfig struct {
	Provider       string `yaml:"provider"` // "openai", "gemini"
	OpenAIKey      string `yaml:"openai_key"`
	OpenAIModel    string `yaml:"openai_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	GeminiKey      string `yaml:"gemini_key"`
	GeminiModel    string `yaml:"gemini_model"`
	UseKeychain    bool   `yaml:"use_keychain"`
}

type AnalysisConfig struct {
	MonthsBack          int           `yaml:"months_back"`
	MinConfidence       int           `yaml:"min_confidence"`       // Activity inclusion threshold (0-100)
	ConfidenceFloor     int           `yaml:"confidence_floor"`     // Below this a judgment counts as not qualifying
	ConfidenceTolerance int           `yaml:"confidence_tolerance"` // Allowed drift between re-runs
	TopK                int           `yaml:"top_k"`                // Criteria passages retrieved per unit
	WindowDays          int           `yaml:"window_days"`          // Temporal clustering window
	CorroborationBonus  int           `yaml:"corroboration_bonus"`  // Confidence boost per corroborating judgment
	Workers             int           `yaml:"workers"`              // Concurrent classification calls
	RetryAttempts       int           `yaml:"retry_attempts"`       // Retries on service unavailability
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	DiffBudget          int           `yaml:"diff_budget"` // Character budget for diff excerpts
}

type CriteriaConfig struct {
	CorpusPath string `yaml:"corpus_path"` // Optional YAML override for the built-in corpus
	CachePath  string `yaml:"cache_path"`  // Optional bbolt embedding cache
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".rdscope", "local.db"),
		},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		API: APIConfig{
			Provider:       "openai",
			OpenAIModel:    "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			GeminiModel:    "gemini-2.0-flash",
		},
		Analysis: AnalysisConfig{
			MonthsBack:          12,
			MinConfidence:       50,
			ConfidenceFloor:     20,
			ConfidenceTolerance: 10,
			TopK:                5,
			WindowDays:          14,
			CorroborationBonus:  5,
			Workers:             4,
			RetryAttempts:       3,
			RetryBaseDelay:      time.Second,
			DiffBudget:          4000,
		},
		Criteria: CriteriaConfig{
			CachePath: filepath.Join(homeDir, ".rdscope", "embeddings.db"),
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("company", cfg.Company)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("api", cfg.API)
	v.SetDefault("analysis", cfg.Analysis)
	v.SetDefault("criteria", cfg.Criteria)

	v.SetEnvPrefix("RDSCOPE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".rdscope")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".rdscope"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, rderrors.Wrap(err, rderrors.ErrorTypeConfig, rderrors.SeverityCritical, "failed to read config")
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, rderrors.Wrap(err, rderrors.ErrorTypeConfig, rderrors.SeverityCritical, "failed to unmarshal config")
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".rdscope", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config.
// Precedence for API keys: 1. Env var 2. Keychain 3. Config file.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	} else if cfg.GitHub.Token == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if stored, err := km.GetGitHubToken(); err == nil && stored != "" {
				cfg.GitHub.Token = stored
			}
		}
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rps, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rps
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.API.OpenAIKey = key
	} else if cfg.API.UseKeychain || cfg.API.OpenAIKey == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if keychainKey, err := km.GetAPIKey(); err == nil && keychainKey != "" {
				cfg.API.OpenAIKey = keychainKey
			}
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.API.GeminiKey = key
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.API.Provider = provider
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.API.OpenAIModel = model
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		cfg.API.EmbeddingModel = model
	}

	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	if path := os.Getenv("CRITERIA_CORPUS_PATH"); path != "" {
		cfg.Criteria.CorpusPath = expandPath(path)
	}
	if path := os.Getenv("EMBEDDING_CACHE_PATH"); path != "" {
		cfg.Criteria.CachePath = expandPath(path)
	}

	if workers := os.Getenv("RDSCOPE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.Analysis.Workers = n
		}
	}
	if company := os.Getenv("RDSCOPE_COMPANY"); company != "" {
		cfg.Company = company
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate checks settings the pipeline cannot run without
func (c *Config) Validate() error {
	if c.Analysis.TopK <= 0 {
		return rderrors.ConfigError("analysis.top_k must be positive")
	}
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 100 {
		return rderrors.ConfigError("analysis.min_confidence must be in [0,100]")
	}
	if c.Analysis.Workers <= 0 {
		return rderrors.ConfigError("analysis.workers must be positive")
	}
	if c.Analysis.WindowDays <= 0 {
		return rderrors.ConfigError("analysis.window_days must be positive")
	}
	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("company", c.Company)
	v.Set("storage", c.Storage)
	v.Set("github", c.GitHub)
	v.Set("api", c.API)
	v.Set("analysis", c.Analysis)
	v.Set("criteria", c.Criteria)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
