package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajramos/mailsweep/internal/services"
)

// LLMConfig holds all LLM-related configuration
type LLMConfig struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider"` // ollama, bedrock
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
	Region   string `json:"region"` // For AWS Bedrock
	Timeout  string `json:"timeout"`

	// Template file path (relative to config dir or absolute)
	ClassifyTemplate string `json:"classify_template"`

	// Inline prompt, used when no template file is configured or readable
	ClassifyPrompt string `json:"classify_prompt,omitempty"`
}

// FetchConfig bounds how much of the mailbox a single sweep may pull
type FetchConfig struct {
	PageSize          int `json:"page_size"`
	GlobalCap         int `json:"global_cap"`
	MaxFolders        int `json:"max_folders"`
	MinPerFolder      int `json:"min_per_folder"`
	MaxPerFolder      int `json:"max_per_folder"`
	MaxPagesPerFolder int `json:"max_pages_per_folder"`
}

// GraphConfig configures the Graph-style REST backend
type GraphConfig struct {
	BaseURL string `json:"base_url"`
	// Token is a static bearer token. Leave empty to use captured tokens.
	Token string `json:"token,omitempty"`
}

// GmailConfig configures the Gmail API backend
type GmailConfig struct {
	Credentials string `json:"credentials"`
	Token       string `json:"token"`
}

// Config holds all configuration for mailsweep
type Config struct {
	// Account identifies whose mailbox is being swept, used as the
	// persistence key for run results.
	Account string `json:"account"`

	// Backend selects the mail store: "graph" or "gmail"
	Backend string `json:"backend"`

	Graph GraphConfig `json:"graph"`
	Gmail GmailConfig `json:"gmail"`

	Fetch FetchConfig `json:"fetch"`

	// DuplicatesFolder is the display name of the duplicate destination
	DuplicatesFolder string `json:"duplicates_folder"`

	// IncludeSubfolders extends sweeps to inbox child folders
	IncludeSubfolders bool `json:"include_subfolders"`

	// CriteriaFile points at the YAML triage criteria
	CriteriaFile string `json:"criteria_file"`

	LLM LLMConfig `json:"llm"`

	// DBPath overrides the local database location
	DBPath string `json:"db_path"`

	LogFile string `json:"log_file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	limits := services.DefaultFetchLimits()
	return &Config{
		Backend: "graph",
		Graph:   GraphConfig{},
		Fetch: FetchConfig{
			PageSize:          limits.PageSize,
			GlobalCap:         limits.GlobalCap,
			MaxFolders:        limits.MaxFolders,
			MinPerFolder:      limits.MinPerFolder,
			MaxPerFolder:      limits.MaxPerFolder,
			MaxPagesPerFolder: limits.MaxPagesPerFolder,
		},
		DuplicatesFolder: services.DefaultDuplicatesFolder,
		LLM:              DefaultLLMConfig(),
	}
}

// DefaultLLMConfig returns default LLM configuration
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Enabled:  true,
		Provider: "ollama",
		Model:    "llama3.2:latest",
		Endpoint: "http://localhost:11434/api/generate",
		Timeout:  "30s",
	}
}

// LoadConfig loads configuration, applying defaults for missing fields
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mailsweep", "config.json")
}

// DefaultCredentialPaths returns the default paths for Gmail credentials and token
func DefaultCredentialPaths() (string, string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}

	configDir := filepath.Join(home, ".config", "mailsweep")
	credentialsPath := filepath.Join(configDir, "credentials.json")
	tokenPath := filepath.Join(configDir, "token.json")

	return credentialsPath, tokenPath
}

// DefaultDBPath returns the default local database path
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mailsweep", "mailsweep.db")
}

// DefaultLogDir returns the default log directory path
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mailsweep")
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// FetchLimits converts the configured caps into service limits, falling
// back to defaults for zero or negative values.
func (c *Config) FetchLimits() services.FetchLimits {
	limits := services.DefaultFetchLimits()
	if c.Fetch.PageSize > 0 {
		limits.PageSize = c.Fetch.PageSize
	}
	if c.Fetch.GlobalCap > 0 {
		limits.GlobalCap = c.Fetch.GlobalCap
	}
	if c.Fetch.MaxFolders > 0 {
		limits.MaxFolders = c.Fetch.MaxFolders
	}
	if c.Fetch.MinPerFolder > 0 {
		limits.MinPerFolder = c.Fetch.MinPerFolder
	}
	if c.Fetch.MaxPerFolder > 0 {
		limits.MaxPerFolder = c.Fetch.MaxPerFolder
	}
	if c.Fetch.MaxPagesPerFolder > 0 {
		limits.MaxPagesPerFolder = c.Fetch.MaxPagesPerFolder
	}
	return limits
}

// GetLLMTimeout returns parsed timeout for LLM calls
func (c *Config) GetLLMTimeout() time.Duration {
	if c.LLM.Timeout != "" {
		if d, err := time.ParseDuration(c.LLM.Timeout); err == nil {
			return d
		}
	}
	return 30 * time.Second
}

// GetClassifyPrompt loads the classify prompt with proper priority:
// template file first, then inline override, then the built-in default.
func (c *LLMConfig) GetClassifyPrompt() string {
	if strings.TrimSpace(c.ClassifyTemplate) != "" {
		fullPath := c.ClassifyTemplate
		if !filepath.IsAbs(fullPath) {
			fullPath = filepath.Join(filepath.Dir(DefaultConfigPath()), fullPath)
		}
		if data, err := os.ReadFile(fullPath); err == nil {
			if prompt := strings.TrimSpace(string(data)); prompt != "" {
				return prompt
			}
		}
	}
	if strings.TrimSpace(c.ClassifyPrompt) != "" {
		return c.ClassifyPrompt
	}
	return ""
}
