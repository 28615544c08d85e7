package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/h3xium/nx/internal/history/sqlstore"
)

var dialect = sqlstore.Dialect{
	Placeholder: sqlstore.Question,
	IDColumn:    "INTEGER PRIMARY KEY AUTOINCREMENT",
	TimeType:    "TIMESTAMP",
}

// Sink writes history events to a SQLite database.
type Sink struct{ *sqlstore.Sink }

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A second connection to :memory: would see a different database.
	db.SetMaxOpenConns(1)

	s, err := sqlstore.New(context.Background(), db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{s}, nil
}
