package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// expandEnvVars substitutes ${VAR}, ${VAR:-default}, and bare $VAR
// references in a string with environment variable values. Ported from
// the teacher's config/env.go expandEnvVars.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// expandEnvVarsInData walks a decoded YAML tree (as produced by koanf's
// file provider) and expands environment variable references in every
// string leaf. Ported from the teacher's config/env.go ExpandEnvVarsInData.
func expandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		return expandEnvVars(v)
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[key] = expandEnvVarsInData(value)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = expandEnvVarsInData(item)
		}
		return result
	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// ported from the teacher's config/env.go LoadEnvFiles. Missing files are
// not an error; malformed ones are.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// recognizedEnvVars maps the spec's §6 environment variables to dotted
// config paths understood by Config.Get/typed accessors.
var recognizedEnvVars = map[string]string{
	"GOOGLE_API_KEY":      "llms.default.api_key",
	"GEMINI_API_KEY":      "llms.default.api_key",
	"ANTHROPIC_API_KEY":   "llms.default.api_key",
	"OPENAI_API_KEY":      "llms.default.api_key",
	"OPENAI_API_BASE":     "llms.default.base_url",
	"DBRHEO_MODEL":        "model",
	"DBRHEO_MAX_TURNS":    "max_turns",
	"DBRHEO_AUTO_EXECUTE": "auto_execute",
	"DBRHEO_ALLOW_DANGEROUS": "allow_dangerous",
	"DBRHEO_DEBUG":        "debug",
	"DATABASE_URL":        "databases.default.url",
}
