package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config structure
type Config struct {
	LLMProvider string `json:"llmProvider"` // "OpenAI" or any OpenAI-compatible endpoint (Groq etc.)
	APIKey      string `json:"apiKey"`
	BaseURL     string `json:"baseUrl"`
	ModelName   string `json:"modelName"`

	Engine string `json:"engine"` // "mysql", "sqlite" or "snowflake"
	DSN    string `json:"dsn"`    // connection string for the engine

	MaxAttempts      int `json:"maxAttempts"`      // total attempts per stage, including the first
	SampleRows       int `json:"sampleRows"`       // rows embedded into synthesis prompts
	RowLimit         int `json:"rowLimit"`         // LIMIT injected into generated queries
	StatementTimeout int `json:"statementTimeout"` // seconds
	RenderTimeout    int `json:"renderTimeout"`    // seconds, wall clock for generated plot code

	LogDir      string `json:"logDir"`
	DetailedLog bool   `json:"detailedLog"`
}

// Default returns a Config with every tunable set to its default value.
// The retry bound, sample-row limit and timeouts are tuning knobs, not
// behavioral contracts; callers may override them freely.
func Default() Config {
	return Config{
		LLMProvider:      "OpenAI",
		Engine:           "mysql",
		MaxAttempts:      3,
		SampleRows:       3,
		RowLimit:         1000,
		StatementTimeout: 60,
		RenderTimeout:    30,
	}
}

// Load reads a JSON config file and applies environment overrides on top.
// A missing file is not an error; defaults plus environment are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// .env in the working directory is optional.
	_ = godotenv.Load()
	cfg.applyEnv()

	cfg.fillDefaults()
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SQLCHART_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("SQLCHART_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("SQLCHART_MODEL"); v != "" {
		c.ModelName = v
	}
	if v := os.Getenv("SQLCHART_DSN"); v != "" {
		c.DSN = v
	}
	if v := os.Getenv("SQLCHART_ENGINE"); v != "" {
		c.Engine = v
	}
	if v := os.Getenv("SQLCHART_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxAttempts = n
		}
	}
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.SampleRows <= 0 {
		c.SampleRows = def.SampleRows
	}
	if c.RowLimit <= 0 {
		c.RowLimit = def.RowLimit
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = def.StatementTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = def.RenderTimeout
	}
}
