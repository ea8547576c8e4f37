// Package sqlite registers the sqlite dialect constructor with
// pkg/dbadapter, backed by mattn/go-sqlite3 (the teacher's dbpool.go
// driver of choice, including its WAL/busy_timeout pragmas).
package sqlite

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
)

func init() {
	dbadapter.RegisterConstructor(dbadapter.DialectSQLite, New)
}

// New builds an unconnected sqlite Adapter from cfg.
func New(cfg *dbrheoconfig.DatabaseConfig) (dbadapter.Adapter, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = cfg.DSN()
	}
	return dbadapter.NewSQLAdapter("sqlite3", dsn, dbadapter.DialectSQLite, cfg.ReadOnly, introspect), nil
}

func introspect(ctx context.Context, db *sql.DB) (*dbadapter.Schema, error) {
	tableRows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer tableRows.Close()

	var names []string
	for tableRows.Next() {
		var n string
		if err := tableRows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	schema := &dbadapter.Schema{}
	for _, name := range names {
		table := dbadapter.Table{Name: name}

		colRows, err := db.QueryContext(ctx, `PRAGMA table_info(`+quoteIdent(name)+`)`)
		if err != nil {
			return nil, err
		}
		for colRows.Next() {
			var cid int
			var colName, colType string
			var notNull, pk int
			var dflt sql.NullString
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				colRows.Close()
				return nil, err
			}
			table.Columns = append(table.Columns, dbadapter.Column{
				Name:     colName,
				Type:     colType,
				Nullable: notNull == 0,
				PK:       pk > 0,
				Default:  dflt.String,
			})
		}
		colRows.Close()

		fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_list(`+quoteIdent(name)+`)`)
		if err != nil {
			return nil, err
		}
		for fkRows.Next() {
			var id, seq int
			var refTable, from, to string
			var onUpdate, onDelete, match string
			if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
				fkRows.Close()
				return nil, err
			}
			table.ForeignKeys = append(table.ForeignKeys, dbadapter.ForeignKey{
				Column:           from,
				ReferencedTable:  refTable,
				ReferencedColumn: to,
			})
		}
		fkRows.Close()

		idxRows, err := db.QueryContext(ctx, `PRAGMA index_list(`+quoteIdent(name)+`)`)
		if err != nil {
			return nil, err
		}
		for idxRows.Next() {
			var seq int
			var idxName, origin string
			var unique, partial int
			if err := idxRows.Scan(&seq, &idxName, &unique, &origin, &partial); err != nil {
				idxRows.Close()
				return nil, err
			}
			table.Indexes = append(table.Indexes, dbadapter.Index{Name: idxName, Unique: unique == 1})
		}
		idxRows.Close()

		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
