package config

// LLMProviderConfig configures a single LLM provider entry. Grounded on
// pkg/config/llm.go and pkg/llms/openai.go's createHTTPClient in the
// teacher repo: the same timeout/retry/TLS knobs feed the transport
// every provider shares.
type LLMProviderConfig struct {
	Type               string            `yaml:"type"` // "gemini", "anthropic", "openai"
	Model              string            `yaml:"model"`
	APIKey             string            `yaml:"api_key"`
	BaseURL            string            `yaml:"base_url,omitempty"`
	Timeout            int               `yaml:"timeout,omitempty"` // seconds
	MaxRetries         int               `yaml:"max_retries,omitempty"`
	RetryDelay         int               `yaml:"retry_delay,omitempty"` // seconds
	InsecureSkipVerify *bool             `yaml:"insecure_skip_verify,omitempty"`
	CACertificate      string            `yaml:"ca_certificate,omitempty"`
	Temperature        *float64          `yaml:"temperature,omitempty"`
	MaxTokens          *int              `yaml:"max_tokens,omitempty"`
	ExtraHeaders       map[string]string `yaml:"extra_headers,omitempty"`
}

// SetDefaults fills zero-valued fields with sane defaults.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}
