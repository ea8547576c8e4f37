package dbadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
)

// ActiveConnection is a named, opened database session managed by
// ConnectionManager, per spec §3's ActiveConnection data model entry.
type ActiveConnection struct {
	Alias      string
	Adapter    Adapter
	CreatedAt  time.Time
	LastUsedAt time.Time
	InTx       bool
}

// defaultHealthTimeout bounds the cheap "SELECT 1"-style probe the manager
// runs before handing back a possibly-stale connection.
const defaultHealthTimeout = 3 * time.Second

// ConnectionManager owns a mapping alias->ActiveConnection plus a "current
// alias" pointer, per spec §4.D. It is a thin, alias-keyed layer over
// Factory — Factory owns pooling/caching by DSN, ConnectionManager owns
// "which alias is the caller talking about right now" plus the
// probe-and-evict-once health policy spec §4.D requires. It also carries
// the set of databases named in config.Config.Databases, so OpenConfigured
// (and Get, for the default database) can open a configured alias without
// callers re-stating the DatabaseConfig for a name they already declared.
type ConnectionManager struct {
	mu        sync.RWMutex
	conns     map[string]*ActiveConnection
	current   string
	databases map[string]*dbrheoconfig.DatabaseConfig
	def       string

	factory       *Factory
	group         singleflight.Group
	healthTimeout time.Duration
}

// NewConnectionManager constructs a ConnectionManager backed by factory,
// over the configured databases map (config.Config.Databases) and a
// default database name used when OpenDefault/Get are called with no
// alias selected yet.
func NewConnectionManager(databases map[string]*dbrheoconfig.DatabaseConfig, def string, factory *Factory) *ConnectionManager {
	return &ConnectionManager{
		conns:         make(map[string]*ActiveConnection),
		databases:     databases,
		def:           def,
		factory:       factory,
		healthTimeout: defaultHealthTimeout,
	}
}

// Names returns the configured database names known to this manager,
// independent of whether they are currently open.
func (m *ConnectionManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.databases))
	for n := range m.databases {
		names = append(names, n)
	}
	return names
}

// Default returns the configured default database name.
func (m *ConnectionManager) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.def
}

// Open connects (or returns the cached connection for) alias under cfg. A
// newly opened alias becomes current unless use=false. Concurrent Open
// calls for the same alias are coalesced: the second caller awaits the
// first's result rather than dialing twice.
func (m *ConnectionManager) Open(ctx context.Context, alias string, cfg *dbrheoconfig.DatabaseConfig, use bool) (*ActiveConnection, error) {
	if alias == "" {
		return nil, dbrheoerrors.New(dbrheoerrors.KindConfig, "connection alias cannot be empty")
	}

	result, err, _ := m.group.Do(alias, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.conns[alias]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		adapter, err := m.factory.Get(ctx, cfg)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		conn := &ActiveConnection{Alias: alias, Adapter: adapter, CreatedAt: now, LastUsedAt: now}

		m.mu.Lock()
		m.conns[alias] = conn
		if m.databases == nil {
			m.databases = make(map[string]*dbrheoconfig.DatabaseConfig)
		}
		m.databases[alias] = cfg
		m.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	conn := result.(*ActiveConnection)

	if use {
		m.mu.Lock()
		m.current = alias
		m.mu.Unlock()
	}
	return conn, nil
}

// OpenConfigured opens alias using its pre-registered DatabaseConfig from
// the databases map supplied at construction (config.Config.Databases in
// cmd/dbrheo). Get calls it lazily for the default database.
func (m *ConnectionManager) OpenConfigured(ctx context.Context, alias string, use bool) (*ActiveConnection, error) {
	m.mu.RLock()
	cfg, ok := m.databases[alias]
	m.mu.RUnlock()
	if !ok {
		return nil, dbrheoerrors.New(dbrheoerrors.KindConfig, fmt.Sprintf("unknown database %q", alias))
	}
	return m.Open(ctx, alias, cfg, use)
}

// Use selects alias as the current connection. Returns ConfigError if
// alias has not been opened.
func (m *ConnectionManager) Use(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[alias]; !ok {
		return dbrheoerrors.New(dbrheoerrors.KindConfig, fmt.Sprintf("connection %q is not open", alias))
	}
	m.current = alias
	return nil
}

// Get returns the current connection after a bounded health probe. On
// probe failure the connection is evicted and reopened at most once per
// call, per spec §4.D. If no connection is open yet and a default
// database is configured, it is opened and used lazily.
func (m *ConnectionManager) Get(ctx context.Context) (*ActiveConnection, error) {
	m.mu.RLock()
	alias := m.current
	m.mu.RUnlock()

	if alias == "" {
		if m.Default() == "" {
			return nil, dbrheoerrors.New(dbrheoerrors.KindConfig, "no current connection selected")
		}
		return m.OpenConfigured(ctx, m.Default(), true)
	}
	return m.GetNamed(ctx, alias)
}

// GetNamed returns the named connection after a bounded health probe,
// evicting and reopening it at most once on failure. A connection with an
// open transaction (InTx) is returned without a probe.
func (m *ConnectionManager) GetNamed(ctx context.Context, alias string) (*ActiveConnection, error) {
	m.mu.RLock()
	conn, ok := m.conns[alias]
	m.mu.RUnlock()
	if !ok {
		return nil, dbrheoerrors.New(dbrheoerrors.KindConfig, fmt.Sprintf("connection %q is not open", alias))
	}
	if conn.InTx || m.healthy(ctx, conn) {
		m.touch(conn)
		return conn, nil
	}
	reopened, err := m.reopen(ctx, alias, conn)
	if err != nil {
		return nil, err
	}
	m.touch(reopened)
	return reopened, nil
}

func (m *ConnectionManager) healthy(ctx context.Context, conn *ActiveConnection) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.healthTimeout)
	defer cancel()
	_, err := conn.Adapter.ExecuteQuery(probeCtx, "SELECT 1", nil, QueryOptions{Timeout: m.healthTimeout})
	return err == nil
}

func (m *ConnectionManager) reopen(ctx context.Context, alias string, stale *ActiveConnection) (*ActiveConnection, error) {
	stale.Adapter.Close()
	if err := stale.Adapter.Connect(ctx); err != nil {
		m.mu.Lock()
		delete(m.conns, alias)
		m.mu.Unlock()
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindConnect, "reopening connection "+alias, err)
	}

	m.mu.Lock()
	fresh := &ActiveConnection{Alias: alias, Adapter: stale.Adapter, CreatedAt: time.Now(), LastUsedAt: time.Now()}
	m.conns[alias] = fresh
	m.mu.Unlock()
	return fresh, nil
}

func (m *ConnectionManager) touch(conn *ActiveConnection) {
	m.mu.Lock()
	conn.LastUsedAt = time.Now()
	m.mu.Unlock()
}

// List returns every open connection.
func (m *ConnectionManager) List() []*ActiveConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ActiveConnection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Current returns the current alias, or "" if none is selected.
func (m *ConnectionManager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Close closes and forgets the named connection. If it was current, the
// current pointer is cleared.
func (m *ConnectionManager) Close(alias string) error {
	m.mu.Lock()
	conn, ok := m.conns[alias]
	if !ok {
		m.mu.Unlock()
		return dbrheoerrors.New(dbrheoerrors.KindConfig, fmt.Sprintf("connection %q is not open", alias))
	}
	delete(m.conns, alias)
	if m.current == alias {
		m.current = ""
	}
	m.mu.Unlock()
	return conn.Adapter.Close()
}

// CloseAll closes every open connection, collecting errors rather than
// stopping at the first failure.
func (m *ConnectionManager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*ActiveConnection)
	m.current = ""
	m.mu.Unlock()

	var errs []error
	for alias, c := range conns {
		if err := c.Adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", alias, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}
