package config

// Typed convenience accessors, named per spec §4.A: model(), maxTurns(),
// debug(), allowsDangerous(), autoExecute(), compressionThreshold().

func (c *Config) ModelName() string             { return c.Model }
func (c *Config) MaxTurnsAllowed() int           { return c.MaxTurns }
func (c *Config) DebugEnabled() bool             { return c.Debug }
func (c *Config) AllowsDangerous() bool          { return c.AllowDangerous }
func (c *Config) AutoExecuteEnabled() bool       { return c.AutoExecute }
func (c *Config) CompressionThresholdFrac() float64 {
	if c.CompressionThreshold <= 0 || c.CompressionThreshold > 1 {
		return 0.8
	}
	return c.CompressionThreshold
}
