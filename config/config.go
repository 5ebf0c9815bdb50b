package config

import (
	"os"
	"path/filepath"

	"github.com/chatloop/chatloop/errors"
	"gopkg.in/yaml.v3"
)

// ModelRate is the price of one million tokens, input and output, for a model.
type ModelRate struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

type Features struct {
	AutoSave             bool `yaml:"auto_save"`
	ShowTokens           bool `yaml:"show_tokens"`
	ShowDuration         bool `yaml:"show_duration"`
	ShowDetailedThinking bool `yaml:"show_detailed_thinking"`
}

type Paths struct {
	SaveLocation string `yaml:"save_location"`
}

type Config struct {
	LLMClient string               `yaml:"llm"`
	Model     string               `yaml:"model"`
	Features  Features             `yaml:"features"`
	Paths     Paths                `yaml:"paths"`
	Pricing   map[string]ModelRate `yaml:"pricing"`
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Features: Features{
			ShowTokens:   true,
			ShowDuration: true,
		},
	}

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".chatloop", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".chatloop", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if cfg.Paths.SaveLocation == "" {
		cfg.Paths.SaveLocation = filepath.Join(".chatloop", "sessions")
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}
