// Package config resolves DbRheo's layered configuration: environment
// variables override a system file, which overrides a workspace file,
// which overrides a user file, which overrides built-in defaults. Reads
// go through dotted-path lookups backed by koanf; unknown keys are
// preserved verbatim rather than dropped on unmarshal.
package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the resolved, read-mostly configuration. It pairs a typed
// view (for the well-known fields DbRheo itself consults) with the
// underlying koanf tree (for dotted-path Get/unknown-key passthrough).
type Config struct {
	k *koanf.Koanf

	Model                string                         `yaml:"model"`
	MaxTurns             int                            `yaml:"max_turns"`
	Debug                bool                            `yaml:"debug"`
	AllowDangerous       bool                            `yaml:"allow_dangerous"`
	AutoExecute          bool                            `yaml:"auto_execute"`
	CompressionThreshold float64                        `yaml:"compression_threshold"`
	ContextWindow        int                            `yaml:"context_window"`
	MaxConcurrentTools   int                            `yaml:"max_concurrent_tools"`
	RiskThreshold        string                         `yaml:"risk_threshold"`
	WorkspaceRoot        string                         `yaml:"workspace_root"`

	LLMs        map[string]*LLMProviderConfig  `yaml:"llms"`
	Databases   map[string]*DatabaseConfig     `yaml:"databases"`
	Retry       RetryConfig                    `yaml:"retry"`
	Prompts     PromptsConfig                  `yaml:"prompts"`
	DefaultLLM  string                         `yaml:"default_llm"`
}

// RetryConfig configures transport-level retry/backoff for LLM calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Factor      float64       `yaml:"factor"`
}

// PromptsConfig holds the prompt templates the spec treats as
// configuration rather than fixed behavior: system instruction, the
// compression prompt, and the next-speaker classification prompt.
type PromptsConfig struct {
	System      string `yaml:"system"`
	Compression string `yaml:"compression"`
	NextSpeaker string `yaml:"next_speaker"`
}

// Defaults returns the built-in, lowest-precedence configuration layer.
func Defaults() *Config {
	return &Config{
		Model:                "gemini-2.0-flash",
		MaxTurns:             25,
		Debug:                false,
		AllowDangerous:       false,
		AutoExecute:          false,
		CompressionThreshold: 0.8,
		ContextWindow:        128000,
		MaxConcurrentTools:   4,
		RiskThreshold:        "medium",
		WorkspaceRoot:        ".",
		LLMs:                 map[string]*LLMProviderConfig{},
		Databases:            map[string]*DatabaseConfig{},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   2 * time.Second,
			MaxDelay:    60 * time.Second,
			Factor:      2,
		},
		Prompts: PromptsConfig{
			System:      defaultSystemPrompt,
			Compression: defaultCompressionPrompt,
			NextSpeaker: defaultNextSpeakerPrompt,
		},
	}
}

const defaultSystemPrompt = "You are DbRheo, a conversational database agent. " +
	"Use the available tools to inspect schemas and run queries on the user's behalf."

const defaultCompressionPrompt = "Summarize the conversation so far in a few dense paragraphs, " +
	"preserving any facts, decisions, and outstanding tasks a continuation would need."

const defaultNextSpeakerPrompt = "Given the last tool results, should the assistant continue " +
	"without waiting for new user input? Answer yes or no."

// Get returns the raw value at a dotted path, or def if absent. Backed
// directly by the koanf tree so unknown keys survive even though they
// have no field on Config.
func (c *Config) Get(path string, def any) any {
	if c.k == nil || !c.k.Exists(path) {
		return def
	}
	return c.k.Get(path)
}

// GetString is a typed convenience over Get.
func (c *Config) GetString(path, def string) string {
	if c.k == nil || !c.k.Exists(path) {
		return def
	}
	return c.k.String(path)
}

// GetBool is a typed convenience over Get.
func (c *Config) GetBool(path string, def bool) bool {
	if c.k == nil || !c.k.Exists(path) {
		return def
	}
	return c.k.Bool(path)
}

// GetInt is a typed convenience over Get.
func (c *Config) GetInt(path string, def int) int {
	if c.k == nil || !c.k.Exists(path) {
		return def
	}
	return c.k.Int(path)
}
