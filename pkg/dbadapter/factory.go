package dbadapter

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
)

// Constructor builds a fresh, unconnected Adapter from a database config.
// Dialect subpackages register one of these via RegisterConstructor from
// an init() func, the same self-registration shape the teacher's llms and
// databases registries use for their constructors.
type Constructor func(cfg *dbrheoconfig.DatabaseConfig) (Adapter, error)

var (
	constructorsMu sync.RWMutex
	constructors   = map[Dialect]Constructor{}
)

// RegisterConstructor registers the constructor for a dialect. Called from
// dialect subpackages' init(); a second registration for the same dialect
// overwrites the first, mirroring the teacher's registry Register semantics.
func RegisterConstructor(d Dialect, ctor Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[d] = ctor
}

// Factory builds and caches Adapters keyed by the database config's DSN, so
// repeated lookups for the same logical database (e.g. the same named
// connection referenced by several tool calls within one turn) share a
// single underlying connection pool. Generalizes the teacher's DBPool from
// a single *sql.DB cache into a cache of fully connected Adapters across
// three dialects, and coalesces concurrent first-opens of the same DSN with
// singleflight rather than a mutex held across the dial.
type Factory struct {
	mu      sync.RWMutex
	cache   map[string]Adapter
	group   singleflight.Group
}

// NewFactory constructs an empty Factory.
func NewFactory() *Factory {
	return &Factory{cache: make(map[string]Adapter)}
}

// Get returns a connected Adapter for cfg, creating and connecting one if
// this is the first request for cfg's DSN. Concurrent Get calls for the
// same DSN block behind a single dial. A cfg with URL set is first parsed
// with ParseConnectionString, and the URL takes precedence over its
// structured connection fields.
func (f *Factory) Get(ctx context.Context, cfg *dbrheoconfig.DatabaseConfig) (Adapter, error) {
	if cfg.URL != "" {
		parsed, err := ParseConnectionString(cfg.URL)
		if err != nil {
			return nil, err
		}
		parsed.ReadOnly = cfg.ReadOnly
		parsed.DefaultSchema = cfg.DefaultSchema
		parsed.Credentials = cfg.Credentials
		if cfg.Pool != (dbrheoconfig.PoolConfig{}) {
			parsed.Pool = cfg.Pool
		}
		cfg = parsed
	}
	dialect := cfg.EffectiveDialect()
	dsn := cfg.DSN()

	f.mu.RLock()
	if a, ok := f.cache[dsn]; ok {
		f.mu.RUnlock()
		return a, nil
	}
	f.mu.RUnlock()

	result, err, _ := f.group.Do(dsn, func() (any, error) {
		f.mu.RLock()
		if a, ok := f.cache[dsn]; ok {
			f.mu.RUnlock()
			return a, nil
		}
		f.mu.RUnlock()

		constructorsMu.RLock()
		ctor, ok := constructors[Dialect(dialect)]
		constructorsMu.RUnlock()
		if !ok {
			return nil, dbrheoerrors.New(dbrheoerrors.KindUnsupportedDialect,
				fmt.Sprintf("no adapter registered for dialect %q", dialect))
		}

		a, err := ctor(cfg)
		if err != nil {
			return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConnect, "constructing adapter", err)
		}
		if err := a.Connect(ctx); err != nil {
			return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConnect, "connecting adapter for "+dsn, err)
		}

		f.mu.Lock()
		f.cache[dsn] = a
		f.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(Adapter), nil
}

// CloseAll closes every cached adapter, collecting errors rather than
// stopping at the first failure, per the teacher's DBPool.Close.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for dsn, a := range f.cache {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", dsn, err))
		}
	}
	f.cache = make(map[string]Adapter)
	if len(errs) > 0 {
		return fmt.Errorf("errors closing adapters: %v", errs)
	}
	return nil
}
