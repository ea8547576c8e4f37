package config

import "fmt"

// Dialect is the closed enum of SQL dialects DbRheo's adapter layer supports.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// PoolConfig configures a connection pool. Grounded on the spec's
// DatabaseConfig.pool shape and the teacher's DBPool MaxConns/MaxIdle knobs
// (pkg/config/dbpool.go), renamed to the spec's vocabulary.
type PoolConfig struct {
	Size        int `yaml:"size,omitempty"`
	MaxOverflow int `yaml:"max_overflow,omitempty"`
	TimeoutSecs int `yaml:"timeout,omitempty"`
}

// DatabaseConfig holds everything needed to connect to one SQL database,
// either via a single connection string/URL or via structured fields.
// Ported and extended from the teacher's config.DatabaseConfig (driver,
// host, port, database, username, password, ssl_mode, max_conns, max_idle)
// to add the spec's url/dialect/pool/readOnly/defaultSchema/credentials.
type DatabaseConfig struct {
	// URL is a full connection string (sqlite://, postgresql://, mysql://).
	// When set it takes precedence over the structured fields below.
	URL string `yaml:"url,omitempty"`

	// Driver/Dialect: "postgres", "mysql", or "sqlite". Dialect is an
	// optional explicit override when it cannot be inferred from Driver
	// or URL scheme alone (kept distinct per spec's DatabaseConfig.dialect?).
	Driver  string `yaml:"driver,omitempty"`
	Dialect string `yaml:"dialect,omitempty"`

	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`

	Pool             PoolConfig        `yaml:"pool,omitempty"`
	ReadOnly         bool              `yaml:"read_only,omitempty"`
	DefaultSchema    string            `yaml:"default_schema,omitempty"`
	Credentials      map[string]string `yaml:"credentials,omitempty"`
}

// SetDefaults applies default values to the database config, ported from
// the teacher's DatabaseConfig.SetDefaults with the spec's pool vocabulary.
func (c *DatabaseConfig) SetDefaults() {
	if c.Pool.Size == 0 {
		c.Pool.Size = 10
	}
	if c.Pool.MaxOverflow == 0 {
		c.Pool.MaxOverflow = 5
	}
	if c.Pool.TimeoutSecs == 0 {
		c.Pool.TimeoutSecs = 10
	}

	switch c.EffectiveDialect() {
	case DialectPostgres:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DialectMySQL:
		if c.Port == 0 {
			c.Port = 3306
		}
	}
}

// Validate checks the database configuration, ported from the teacher's
// DatabaseConfig.Validate.
func (c *DatabaseConfig) Validate() error {
	if c.URL == "" && c.Driver == "" && c.Dialect == "" {
		return fmt.Errorf("one of url, driver, or dialect is required")
	}
	if c.URL != "" {
		return nil
	}
	d := c.EffectiveDialect()
	if d == "" {
		return fmt.Errorf("unsupported driver/dialect %q/%q", c.Driver, c.Dialect)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if d != DialectSQLite && c.Host == "" {
		return fmt.Errorf("host is required for %s", d)
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must be non-negative")
	}
	return nil
}

// EffectiveDialect normalizes Driver/Dialect aliases ("postgresql",
// "mariadb", "sqlite3") to the canonical Dialect enum.
func (c *DatabaseConfig) EffectiveDialect() Dialect {
	v := c.Dialect
	if v == "" {
		v = c.Driver
	}
	switch v {
	case "postgres", "postgresql":
		return DialectPostgres
	case "mysql", "mariadb":
		return DialectMySQL
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return ""
	}
}

// DriverName returns the database/sql driver name to pass to sql.Open,
// ported from the teacher's DatabaseConfig.DriverName.
func (c *DatabaseConfig) DriverName() string {
	switch c.EffectiveDialect() {
	case DialectSQLite:
		return "sqlite3"
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	default:
		return ""
	}
}

// DSN builds the driver-specific data source name, ported from the
// teacher's DatabaseConfig.DSN with mariadb/postgresql aliasing folded in.
func (c *DatabaseConfig) DSN() string {
	switch c.EffectiveDialect() {
	case DialectPostgres:
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case DialectMySQL:
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s", c.Host, c.Port, c.Database)
	case DialectSQLite:
		return c.Database
	default:
		return ""
	}
}
