// Package mysql registers the mysql dialect constructor with
// pkg/dbadapter, backed by go-sql-driver/mysql (the teacher's dbpool.go
// driver choice for MySQL/MariaDB).
package mysql

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
)

func init() {
	dbadapter.RegisterConstructor(dbadapter.DialectMySQL, New)
}

// New builds an unconnected mysql Adapter from cfg.
func New(cfg *dbrheoconfig.DatabaseConfig) (dbadapter.Adapter, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = cfg.DSN()
	}
	return dbadapter.NewSQLAdapter("mysql", dsn, dbadapter.DialectMySQL, cfg.ReadOnly, introspectFor(cfg.Database)), nil
}

func introspectFor(database string) dbadapter.IntrospectFunc {
	return func(ctx context.Context, db *sql.DB) (*dbadapter.Schema, error) {
		tableRows, err := db.QueryContext(ctx,
			`SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'`, database)
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

			colRows, err := db.QueryContext(ctx,
				`SELECT column_name, column_type, is_nullable, column_default, column_key
				 FROM information_schema.columns
				 WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`, database, name)
			if err != nil {
				return nil, err
			}
			for colRows.Next() {
				var colName, colType, isNullable, key string
				var dflt sql.NullString
				if err := colRows.Scan(&colName, &colType, &isNullable, &dflt, &key); err != nil {
					colRows.Close()
					return nil, err
				}
				table.Columns = append(table.Columns, dbadapter.Column{
					Name:     colName,
					Type:     colType,
					Nullable: isNullable == "YES",
					PK:       key == "PRI",
					Default:  dflt.String,
				})
			}
			colRows.Close()

			fkRows, err := db.QueryContext(ctx,
				`SELECT column_name, referenced_table_name, referenced_column_name
				 FROM information_schema.key_column_usage
				 WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL`, database, name)
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

			idxRows, err := db.QueryContext(ctx,
				`SELECT DISTINCT index_name, non_unique FROM information_schema.statistics
				 WHERE table_schema = ? AND table_name = ?`, database, name)
			if err != nil {
				return nil, err
			}
			for idxRows.Next() {
				var idxName string
				var nonUnique int
				if err := idxRows.Scan(&idxName, &nonUnique); err != nil {
					idxRows.Close()
					return nil, err
				}
				table.Indexes = append(table.Indexes, dbadapter.Index{Name: idxName, Unique: nonUnique == 0})
			}
			idxRows.Close()

			schema.Tables = append(schema.Tables, table)
		}
		return schema, nil
	}
}
