// Package config provides configuration for the orchestrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigPath names the environment variable holding an optional YAML
// config file path.
const EnvConfigPath = "SHOTRIO_CONFIG"

// Config holds the orchestrator configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Cost     CostConfig     `mapstructure:"cost"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTPPort     int `mapstructure:"http_port"`
	InternalPort int `mapstructure:"internal_port"`
}

// DatabaseConfig selects the SQLite driver and DSN.
// Driver is "sqlite3" (mattn, cgo) or "sqlite" (modernc, pure Go).
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// LLMConfig configures the streaming model client.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
}

// LoopConfig bounds the orchestration loop.
type LoopConfig struct {
	MaxIterations        int           `mapstructure:"max_iterations"`
	MaxValidationRetries int           `mapstructure:"max_validation_retries"`
	CheckpointInterval   time.Duration `mapstructure:"checkpoint_interval"`
}

// ToolsConfig holds dispatch settings.
type ToolsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ApprovalConfig controls pending action expiry.
type ApprovalConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PolicyConfig configures the gate policy.
type PolicyConfig struct {
	File             string  `mapstructure:"file"`
	MaxActionCredits float64 `mapstructure:"max_action_credits"`
}

// CostConfig holds per-operation unit rates in credits.
type CostConfig struct {
	Currency string             `mapstructure:"currency"`
	Rates    map[string]float64 `mapstructure:"rates"`
}

// LogConfig selects the log level and output format (json or text).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.internal_port", 8081)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "file:shotrio.db?cache=shared&mode=rwc")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "http://localhost:4000")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 5*time.Minute)
	v.SetDefault("llm.system_prompt", DefaultSystemPrompt)
	v.SetDefault("loop.max_iterations", 10)
	v.SetDefault("loop.max_validation_retries", 2)
	v.SetDefault("loop.checkpoint_interval", 500*time.Millisecond)
	v.SetDefault("tools.timeout", 60*time.Second)
	v.SetDefault("approval.timeout", 30*time.Minute)
	v.SetDefault("approval.sweep_interval", 30*time.Second)
	v.SetDefault("policy.file", "")
	v.SetDefault("policy.max_action_credits", 500.0)
	v.SetDefault("cost.currency", "credits")
	v.SetDefault("cost.rates", map[string]float64{
		"generate_image": 2,
		"generate_video": 3,
		"generate_audio": 1,
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from defaults, an optional YAML file named by
// SHOTRIO_CONFIG, and SHOTRIO_* environment variables, in increasing priority.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHOTRIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Loop.MaxIterations <= 0 {
		return nil, fmt.Errorf("loop.max_iterations must be positive, got %d", cfg.Loop.MaxIterations)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// DefaultSystemPrompt instructs the model about the project workspace.
const DefaultSystemPrompt = `You are the Shotrio editing assistant. You help the user plan and edit a video project.
Use the provided operations to inspect the project, generate media and edit the timeline.
Generation and deletion operations ask the user for confirmation before they run, so describe what you are about to do before calling them.
When an operation fails, read the error, fix the arguments and try again, or explain the problem to the user.`
