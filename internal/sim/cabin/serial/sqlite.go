package serial

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"shipcabin.ai/internal/sim/cabin/model"
)

// SQLiteCounter keeps named sequences in a SQLite table. Allocation is a single
// upsert-returning statement, so concurrent callers never observe the same value.
type SQLiteCounter struct {
	db   *sql.DB
	name string
	own  bool
}

func OpenSQLiteCounter(path, name string) (*SQLiteCounter, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &model.ConfigError{What: "create serial db directory", Path: path, Err: err}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &model.ConfigError{What: "open serial db", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)
	c, err := NewSQLiteCounter(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.own = true
	return c, nil
}

// NewSQLiteCounter uses an existing handle; Close leaves it open.
func NewSQLiteCounter(db *sql.DB, name string) (*SQLiteCounter, error) {
	if name == "" {
		name = "ship_serial"
	}
	stmts := []string{
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS serials (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return nil, &model.ConfigError{What: "init serial db", Err: err}
		}
	}
	return &SQLiteCounter{db: db, name: name}, nil
}

func (c *SQLiteCounter) Allocate(ctx context.Context) (uint64, error) {
	var v int64
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO serials(name,value) VALUES(?,1)
		 ON CONFLICT(name) DO UPDATE SET value=value+1
		 RETURNING value`, c.name).Scan(&v)
	if err != nil {
		return 0, &model.ConfigError{What: "allocate serial", Err: err}
	}
	if v <= 0 {
		return 0, &model.ConfigError{What: fmt.Sprintf("serial sequence %s is corrupt: %d", c.name, v)}
	}
	return uint64(v), nil
}

func (c *SQLiteCounter) Peek(ctx context.Context) (uint64, error) {
	var v int64
	err := c.db.QueryRowContext(ctx, `SELECT value FROM serials WHERE name=?`, c.name).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &model.ConfigError{What: "read serial", Err: err}
	}
	return uint64(v), nil
}

func (c *SQLiteCounter) Set(ctx context.Context, v uint64) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO serials(name,value) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET value=excluded.value`, c.name, int64(v))
	if err != nil {
		return &model.ConfigError{What: "set serial", Err: err}
	}
	return nil
}

func (c *SQLiteCounter) Close() error {
	if c == nil || !c.own {
		return nil
	}
	return c.db.Close()
}
