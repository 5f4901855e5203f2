// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HeyGen   HeyGenConfig   `yaml:"heygen"`
	Avatar   AvatarConfig   `yaml:"avatar"`
	Voice    VoiceConfig    `yaml:"voice"`
	Messages MessagesConfig `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr         string      `yaml:"addr" default:":8080"`
	ControlToken string      `yaml:"control_token" validate:"required"`
	Hooks        HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// HeyGenConfig represents streaming API configuration.
type HeyGenConfig struct {
	APIKey    string `yaml:"api_key" validate:"required"`
	BaseURL   string `yaml:"base_url" default:"https://api.heygen.com" validate:"url"`
	TimeoutMs int    `yaml:"timeout_ms" default:"10000" validate:"gte=1000,lte=120000"`
}

// Timeout returns the HTTP timeout as a duration.
func (c HeyGenConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// AvatarConfig represents the fixed session configuration.
type AvatarConfig struct {
	Quality            string `yaml:"quality" default:"high" validate:"oneof=low medium high"`
	AvatarName         string `yaml:"avatar_name" default:"Santa_Fireplace_Front_public" validate:"required"`
	Language           string `yaml:"language" default:"ru" validate:"required"`
	KnowledgeID        string `yaml:"knowledge_id" default:"8077218ed0724a82991899b47fe66ddd"`
	DisableIdleTimeout *bool  `yaml:"disable_idle_timeout" default:"true"`
	TaskType           string `yaml:"task_type" default:"talk" validate:"oneof=talk repeat"`
}

// StartRequest builds the session start request.
func (c AvatarConfig) StartRequest() avatar.StartRequest {
	return avatar.StartRequest{
		Quality:            avatar.Quality(c.Quality),
		AvatarName:         c.AvatarName,
		Language:           c.Language,
		KnowledgeID:        c.KnowledgeID,
		DisableIdleTimeout: c.DisableIdleTimeout != nil && *c.DisableIdleTimeout,
	}
}

// VoiceConfig represents voice chat configuration.
type VoiceConfig struct {
	UseSilencePrompt bool `yaml:"use_silence_prompt"`
}

// MessagesConfig represents user-facing status texts.
type MessagesConfig struct {
	Listening       string `yaml:"listening" default:"Listening..."`
	Processing      string `yaml:"processing" default:"Processing..."`
	AvatarSpeaking  string `yaml:"avatar_speaking" default:"Avatar is speaking..."`
	WaitingForUser  string `yaml:"waiting_for_user" default:"Waiting for you to speak..."`
	VoiceChatFailed string `yaml:"voice_chat_failed" default:"Error starting voice chat"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("HEYGEN_API_KEY"); v != "" {
		c.HeyGen.APIKey = v
	}
	if v := os.Getenv("HEYGEN_BASE_URL"); v != "" {
		c.HeyGen.BaseURL = v
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Server.ControlToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
