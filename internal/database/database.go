package database

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"sqlrunner/internal/config"
)

// New opens the warehouse connection described by the configuration. SQLite
// is the default driver so the server can run self-contained; Postgres is
// available for shared warehouses.
func New(conf *config.SRConfig) (*sqlx.DB, error) {
	switch conf.Database.Driver {
	case "sqlite":
		db, err := sqlx.Connect("sqlite", conf.Database.Path)
		if err != nil {
			return nil, err
		}
		// modernc.org/sqlite serialises writes itself but a single pooled
		// connection keeps in-memory databases coherent across queries.
		db.SetMaxOpenConns(1)
		return db, nil
	case "postgres":
		return sqlx.Connect("pgx", conf.GetDatabaseURL())
	default:
		return nil, fmt.Errorf("unknown database driver %q", conf.Database.Driver)
	}
}
