package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
)

// Scope identifies which file an explicit interactive save writes to.
type Scope string

const (
	ScopeUser      Scope = "user"
	ScopeWorkspace Scope = "workspace"
)

// Save writes the current config to the given scope's file. This is the
// only path through which Config is ever written — reads never trigger an
// implicit write, per spec §4.A ("writes only occur via an explicit
// save(scope) from an interactive command").
func (c *Config) Save(scope Scope) error {
	var path string
	switch scope {
	case ScopeUser:
		path = userConfigPath()
	case ScopeWorkspace:
		path = workspaceConfigPath()
	default:
		return dbrheoerrors.New(dbrheoerrors.KindConfig, "unknown config scope: "+string(scope))
	}
	if path == "" {
		return dbrheoerrors.New(dbrheoerrors.KindConfig, "could not resolve path for scope "+string(scope))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "creating config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "marshalling config", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return dbrheoerrors.Wrap(dbrheoerrors.KindConfig, "writing config file", err)
	}
	return nil
}
