// Package db stores customer snapshots in a local sqlite database for offline
// analysis.
//
// Each query is held in a runnable sql file in the embedded `sql` directory.
// Parameters are marked inline (see parameterize.go) so the same files serve
// as sqlx prepared statements and can be run on the sqlite command line.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// SQLFS is the embedded sql directory.
var SQLFS = mustSub(sqlFiles, "sql")

const (
	schemaSQL         = "schema.sql"
	customerUpsertSQL = "customer_upsert.sql"
	customersSQL      = "customers.sql"
)

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// parameterizedStmt is an sql file prepared as an sqlx NamedStmt expecting the
// listed args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs checks every expected argument is supplied.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	for _, a := range p.args {
		if _, ok := args[a]; !ok {
			return fmt.Errorf("named statement from %q missing argument %q", p.sqlFile, a)
		}
	}
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf("argument length to named statement from %q incorrect: got %d want %d", p.sqlFile, got, want)
	}
	return nil
}

// DB provides a wrapper around the sqlx connection for snapshot operations.
type DB struct {
	*sqlx.DB
	log *slog.Logger

	customerUpsertStmt *parameterizedStmt
	customersGetStmt   *parameterizedStmt
}

// NewConnection opens (creating if needed) the sqlite database at dbPath,
// ensures the schema exists and prepares the named statements.
func NewConnection(ctx context.Context, dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	dataSource := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	if strings.Contains(dbPath, ":memory:") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain '?cache=shared'", dbPath)
		}
		dataSource = dbPath
	}
	sqlDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	db := &DB{
		DB:  sqlx.NewDb(sqlDB, "sqlite"),
		log: logger,
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.prepareNamedStatements(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}
	logger.Debug(fmt.Sprintf("NewConnection: opened %s", dbPath))
	return db, nil
}

// InitSchema creates the tables if they don't already exist. The schema file
// can be run idempotently.
func (db *DB) InitSchema(ctx context.Context) error {
	schema, err := fs.ReadFile(SQLFS, schemaSQL)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", schemaSQL, err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

func (db *DB) prepareNamedStatements(ctx context.Context) error {
	var err error
	db.customerUpsertStmt, err = db.prepNamedStatement(ctx, customerUpsertSQL)
	if err != nil {
		return fmt.Errorf("customer upsert statement error: %w", err)
	}
	db.customersGetStmt, err = db.prepNamedStatement(ctx, customersSQL)
	if err != nil {
		return fmt.Errorf("get customers statement error: %w", err)
	}
	return nil
}

func (db *DB) prepNamedStatement(ctx context.Context, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(SQLFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}
	stmt, err := db.PrepareNamedContext(ctx, string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{filePath, query.Parameters, stmt}, nil
}

// Close closes the prepared statements and the connection.
func (db *DB) Close() error {
	for _, s := range []*parameterizedStmt{db.customerUpsertStmt, db.customersGetStmt} {
		if s != nil {
			_ = s.Close()
		}
	}
	return db.DB.Close()
}
