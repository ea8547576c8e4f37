package dbadapter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
)

// ParseConnectionString recognizes the schemes spec §6 lists (sqlite,
// postgresql/postgres, mysql/mariadb) and maps them to a DatabaseConfig,
// inverting the DSN-building logic in config.DatabaseConfig.DSN. Unknown
// schemes fail with UnsupportedDialectError, matching AdapterFactory's
// contract in spec §4.C.
func ParseConnectionString(raw string) (*dbrheoconfig.DatabaseConfig, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, dbrheoerrors.New(dbrheoerrors.KindUnsupportedDialect,
			fmt.Sprintf("connection string %q has no scheme", raw))
	}

	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return parseSQLiteConnString(raw, rest)
	case "postgresql", "postgres":
		return parseNetConnString(raw, dbrheoconfig.DialectPostgres)
	case "mysql", "mariadb":
		return parseNetConnString(raw, dbrheoconfig.DialectMySQL)
	default:
		return nil, dbrheoerrors.New(dbrheoerrors.KindUnsupportedDialect,
			fmt.Sprintf("unsupported connection string scheme %q", scheme))
	}
}

// parseSQLiteConnString implements spec §6's "three slashes = relative,
// four = absolute on POSIX" rule: sqlite:///rel/path.db yields the
// relative path rel/path.db with no leading slash, sqlite:////abs/path.db
// keeps the fourth slash as the start of the absolute path /abs/path.db.
func parseSQLiteConnString(raw, rest string) (*dbrheoconfig.DatabaseConfig, error) {
	if rest == ":memory:" || rest == "" {
		return &dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}, nil
	}
	// raw already consumed two slashes in "://"; rest carries the third
	// (relative) and, for an absolute path, a fourth. Strip exactly the
	// one leading slash "://" always leaves behind — a second leading
	// slash in rest (the fourth overall) survives into path and marks
	// the path absolute.
	path := strings.TrimPrefix(rest, "/")
	return &dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: path}, nil
}

func parseNetConnString(raw string, dialect dbrheoconfig.Dialect) (*dbrheoconfig.DatabaseConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindUnsupportedDialect, "parsing connection string", err)
	}

	cfg := &dbrheoconfig.DatabaseConfig{
		Dialect:  string(dialect),
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, dbrheoerrors.Wrap(dbrheoerrors.KindUnsupportedDialect, "parsing port", err)
		}
		cfg.Port = port
	}

	q := u.Query()
	if dialect == dbrheoconfig.DialectPostgres {
		cfg.SSLMode = q.Get("sslmode")
	}
	cfg.SetDefaults()
	return cfg, nil
}

// FormatConnectionString serializes cfg back to its canonical connection
// string form. Format then Parse then Format returns the same string, but
// a raw string is not always returned unchanged by Parse then Format: the
// scheme is normalized (postgres:// -> postgresql://, mariadb:// ->
// mysql://), default ports and sslmode=disable are filled in, and mysql
// query parameters are dropped.
func FormatConnectionString(cfg *dbrheoconfig.DatabaseConfig) (string, error) {
	switch cfg.EffectiveDialect() {
	case dbrheoconfig.DialectSQLite:
		db := cfg.Database
		if db == "" {
			db = cfg.URL
		}
		if db == ":memory:" {
			return "sqlite://" + db, nil
		}
		// db already carries its own leading slash when absolute, so
		// this single form yields three slashes for a relative path
		// and four for an absolute one, the inverse of
		// parseSQLiteConnString's stripping.
		return "sqlite:///" + db, nil
	case dbrheoconfig.DialectPostgres:
		u := &url.URL{Scheme: "postgresql", Host: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Path: "/" + cfg.Database}
		if cfg.Username != "" {
			if cfg.Password != "" {
				u.User = url.UserPassword(cfg.Username, cfg.Password)
			} else {
				u.User = url.User(cfg.Username)
			}
		}
		if cfg.SSLMode != "" {
			q := u.Query()
			q.Set("sslmode", cfg.SSLMode)
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	case dbrheoconfig.DialectMySQL:
		u := &url.URL{Scheme: "mysql", Host: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Path: "/" + cfg.Database}
		if cfg.Username != "" {
			if cfg.Password != "" {
				u.User = url.UserPassword(cfg.Username, cfg.Password)
			} else {
				u.User = url.User(cfg.Username)
			}
		}
		return u.String(), nil
	default:
		return "", dbrheoerrors.New(dbrheoerrors.KindUnsupportedDialect,
			fmt.Sprintf("cannot format connection string for dialect %q", cfg.Dialect))
	}
}
