// Package postgres registers the postgres dialect constructor with
// pkg/dbadapter, backed by lib/pq (the teacher's dbpool.go driver choice
// for Postgres).
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
)

func init() {
	dbadapter.RegisterConstructor(dbadapter.DialectPostgres, New)
}

// New builds an unconnected postgres Adapter from cfg.
func New(cfg *dbrheoconfig.DatabaseConfig) (dbadapter.Adapter, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = cfg.DSN()
	}
	return dbadapter.NewSQLAdapter("postgres", dsn, dbadapter.DialectPostgres, cfg.ReadOnly, introspect), nil
}

const tablesQuery = `
SELECT table_name FROM information_schema.tables
WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
ORDER BY table_name`

const columnsQuery = `
SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
       EXISTS (
         SELECT 1 FROM information_schema.key_column_usage k
         JOIN information_schema.table_constraints tc
           ON tc.constraint_name = k.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
         WHERE k.table_name = c.table_name AND k.column_name = c.column_name
       ) AS is_pk
FROM information_schema.columns c
WHERE c.table_schema = 'public' AND c.table_name = $1
ORDER BY c.ordinal_position`

const foreignKeysQuery = `
SELECT kcu.column_name, ccu.table_name AS referenced_table, ccu.column_name AS referenced_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name
JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public' AND tc.table_name = $1`

const indexesQuery = `
SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = 'public' AND tablename = $1`

func introspect(ctx context.Context, db *sql.DB) (*dbadapter.Schema, error) {
	tableRows, err := db.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, err
	}
	var names []string
	for tableRows.Next() {
		var n string
		if err := tableRows.Scan(&n); err != nil {
			tableRows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	schema := &dbadapter.Schema{}
	for _, name := range names {
		table := dbadapter.Table{Name: name}

		colRows, err := db.QueryContext(ctx, columnsQuery, name)
		if err != nil {
			return nil, err
		}
		for colRows.Next() {
			var colName, dataType, isNullable string
			var dflt sql.NullString
			var isPK bool
			if err := colRows.Scan(&colName, &dataType, &isNullable, &dflt, &isPK); err != nil {
				colRows.Close()
				return nil, err
			}
			table.Columns = append(table.Columns, dbadapter.Column{
				Name:     colName,
				Type:     dataType,
				Nullable: isNullable == "YES",
				PK:       isPK,
				Default:  dflt.String,
			})
		}
		colRows.Close()

		fkRows, err := db.QueryContext(ctx, foreignKeysQuery, name)
		if err != nil {
			return nil, err
		}
		for fkRows.Next() {
			var col, refTable, refCol string
			if err := fkRows.Scan(&col, &refTable, &refCol); err != nil {
				fkRows.Close()
				return nil, err
			}
			table.ForeignKeys = append(table.ForeignKeys, dbadapter.ForeignKey{
				Column: col, ReferencedTable: refTable, ReferencedColumn: refCol,
			})
		}
		fkRows.Close()

		idxRows, err := db.QueryContext(ctx, indexesQuery, name)
		if err != nil {
			return nil, err
		}
		for idxRows.Next() {
			var idxName, def string
			if err := idxRows.Scan(&idxName, &def); err != nil {
				idxRows.Close()
				return nil, err
			}
			table.Indexes = append(table.Indexes, dbadapter.Index{Name: idxName})
		}
		idxRows.Close()

		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}
