package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	General struct {
		Provider string `koanf:"provider"`
		Model    string `koanf:"model"`
	} `koanf:"general"`

	GitLab struct {
		URL   string `koanf:"url"`
		Token string `koanf:"token"`
	} `koanf:"gitlab"`

	Model struct {
		APIKey            string  `koanf:"api_key"`
		Temperature       float64 `koanf:"temperature"`
		ContextWindow     int     `koanf:"context_window"`
		InputCostPerMTok  float64 `koanf:"input_cost_per_mtok"`
		OutputCostPerMTok float64 `koanf:"output_cost_per_mtok"`
	} `koanf:"model"`

	Session struct {
		MaxTurns              int `koanf:"max_turns"`
		MaxDelegateIterations int `koanf:"max_delegate_iterations"`
	} `koanf:"session"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"general.provider":                "gitlab",
		"general.model":                   "gemini-2.5-flash",
		"model.temperature":               0.2,
		"model.context_window":            200000,
		"model.input_cost_per_mtok":       0.30,
		"model.output_cost_per_mtok":      2.50,
		"session.max_turns":               50,
		"session.max_delegate_iterations": 10,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./reviewpilot.toml", "$HOME/.reviewpilot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix REVIEWPILOT_
	k.Load(env.Provider("REVIEWPILOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# ReviewPilot Configuration

[general]
provider = "gitlab"
model = "gemini-2.5-flash"

[gitlab]
url = "https://gitlab.example.com"
token = "your-gitlab-token"

[model]
api_key = "your-api-key"
temperature = 0.2
context_window = 200000
input_cost_per_mtok = 0.30
output_cost_per_mtok = 2.50

[session]
max_turns = 50
max_delegate_iterations = 10
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.General.Provider == "" {
		return fmt.Errorf("provider is required")
	}

	switch config.General.Provider {
	case "gitlab":
		if config.GitLab.URL == "" {
			return fmt.Errorf("gitlab url is required")
		}
		if config.GitLab.Token == "" {
			return fmt.Errorf("gitlab token is required")
		}
	default:
		return fmt.Errorf("unsupported provider %s", config.General.Provider)
	}

	if config.Model.APIKey == "" {
		return fmt.Errorf("model api_key is required")
	}
	if config.Model.ContextWindow <= 0 {
		return fmt.Errorf("model context_window must be positive")
	}

	return nil
}
