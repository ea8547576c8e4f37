package config

import (
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
)

const (
	systemConfigPath = "/etc/dbrheo/config.yaml"
	workspaceRelPath  = ".dbrheo/config.yaml"
	userRelPath       = ".dbrheo/config.yaml"
)

// Load resolves layered configuration: built-in defaults, then the user
// file (~/.dbrheo/config.yaml), then the workspace file (./.dbrheo/
// config.yaml), then the system file (/etc/dbrheo/config.yaml), then
// environment variables — each layer loaded on top of the last so a
// higher-precedence layer's keys win, exactly as spec §4.A orders them
// (env > system > workspace > user > defaults). Grounded on the teacher's
// koanf_loader.go Loader, generalized from its single-source design to
// koanf's natural multi-Load layering.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "loading .env files", err)
	}

	k := koanf.New(".")
	yamlParser := yaml.Parser()

	defaultsMap, err := structToMap(Defaults())
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "encoding defaults", err)
	}
	if err := k.Load(confmap.Provider(defaultsMap, "."), nil); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "loading defaults", err)
	}

	for _, path := range []string{userConfigPath(), workspaceConfigPath(), systemConfigPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yamlParser); err != nil {
			return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "loading config file "+path, err)
		}
	}

	if err := expandEnvVarsInKoanf(k); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "expanding environment variables", err)
	}

	if err := loadRecognizedEnvVars(k); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "applying environment variables", err)
	}

	// koanf's env.Provider lets DBRHEO_-prefixed vars address arbitrary
	// dotted paths directly (DBRHEO_LLMS__DEFAULT__MODEL -> llms.default.model).
	if err := k.Load(env.Provider("DBRHEO_", ".", envKeyTransform), nil); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "loading environment overlay", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "unmarshalling config", err)
	}
	cfg.k = k
	return cfg, nil
}

func envKeyTransform(s string) string {
	// DBRHEO_LLMS__DEFAULT__MODEL -> llms.default.model
	out := []rune{}
	prev := rune(0)
	for _, r := range s[len("DBRHEO_"):] {
		if r == '_' && prev == '_' {
			out = out[:len(out)-1]
			out = append(out, '.')
			prev = 0
			continue
		}
		out = append(out, toLower(r))
		prev = r
	}
	return string(out)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func expandEnvVarsInKoanf(k *koanf.Koanf) error {
	expanded := expandEnvVarsInData(k.Raw())
	expandedMap, ok := expanded.(map[string]any)
	if !ok {
		return nil
	}
	return k.Load(confmap.Provider(expandedMap, "."), nil)
}

func loadRecognizedEnvVars(k *koanf.Koanf) error {
	overlay := map[string]any{}
	for envVar, path := range recognizedEnvVars {
		val := os.Getenv(envVar)
		if val == "" {
			continue
		}
		overlay[path] = val
	}
	if len(overlay) == 0 {
		return nil
	}
	return k.Load(confmap.Provider(overlay, "."), nil)
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, userRelPath)
}

func workspaceConfigPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(wd, workspaceRelPath)
}

func structToMap(cfg *Config) (map[string]any, error) {
	// yaml round-trip is the simplest faithful way to turn the typed
	// defaults into the map[string]any shape confmap.Provider expects,
	// honoring the same `yaml` tags UnmarshalWithConf reads back.
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, err
	}
	return k.Raw(), nil
}
