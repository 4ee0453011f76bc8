package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DB is the Postgres-backed Store. Documents live in a single JSONB table
// keyed by path.
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string, logger *zap.Logger) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		logger.Info("running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	logger.Info("migrations complete", zap.Int("count", len(sqlFiles)))
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Get retrieves one document by path
func (db *DB) Get(ctx context.Context, path string) (Document, error) {
	if err := checkDocPath(path); err != nil {
		return Document{}, err
	}

	var raw []byte
	err := db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get %s: %w", path, err)
	}

	doc := Document{Path: path}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return Document{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return doc, nil
}

// Set merges top-level fields into a document, inserting it if missing
func (db *DB) Set(ctx context.Context, path string, data map[string]any) error {
	if err := checkDocPath(path); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	query := `
		INSERT INTO documents (path, collection, data, updated_at)
		VALUES ($1, $2, $3::jsonb, CURRENT_TIMESTAMP)
		ON CONFLICT (path) DO UPDATE
		SET data = documents.data || EXCLUDED.data,
		    updated_at = CURRENT_TIMESTAMP
	`
	if _, err := db.ExecContext(ctx, query, path, parentCollection(path), string(raw)); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// DeleteBatch removes every path in one statement inside a transaction
func (db *DB) DeleteBatch(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	for _, p := range paths {
		if err := checkDocPath(p); err != nil {
			return err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete batch: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ANY($1)`, pq.Array(paths)); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete batch: %w", err)
	}
	return nil
}

// Query returns documents in one collection matching every filter
func (db *DB) Query(ctx context.Context, q Query) ([]Document, error) {
	query, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc Document
			raw []byte
		)
		if err := rows.Scan(&doc.Path, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", doc.Path, err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// buildQuery renders q as SQL. Field names are bound as parameters. Strings
// compare in byte order so stored timestamps sort chronologically.
func buildQuery(q Query) (string, []any, error) {
	if err := checkQuery(q); err != nil {
		return "", nil, err
	}

	var (
		sb   strings.Builder
		args = []any{q.Collection}
	)
	sb.WriteString("SELECT path, data FROM documents WHERE collection = $1")

	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	bindField := func(name string) string {
		return bind(name) + "::text"
	}

	for _, f := range q.Filters {
		field := bindField(f.Field)
		op := string(f.Op)
		if f.Op == OpEq {
			op = "="
		}

		switch v := f.Value.(type) {
		case string:
			fmt.Fprintf(&sb, " AND (data->>%s) COLLATE \"C\" %s %s", field, op, bind(v))
		case int, int32, int64, float32, float64:
			fmt.Fprintf(&sb, " AND jsonb_typeof(data->%s) = 'number' AND (data->>%s)::numeric %s %s", field, field, op, bind(v))
		case bool:
			if f.Op != OpEq {
				return "", nil, fmt.Errorf("operator %q not supported for bool field %q", f.Op, f.Field)
			}
			fmt.Fprintf(&sb, " AND data->%s = %s::jsonb", field, bind(fmt.Sprintf("%t", v)))
		default:
			return "", nil, fmt.Errorf("unsupported filter value %T for field %q", f.Value, f.Field)
		}
	}

	if q.OrderBy != "" {
		field := bindField(q.OrderBy)
		fmt.Fprintf(&sb, " AND jsonb_typeof(data->%s) = 'string'", field)
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY (data->>%s) COLLATE \"C\" %s, path ASC", field, dir)
	} else {
		sb.WriteString(" ORDER BY path ASC")
	}

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", bind(q.Limit))
	}

	return sb.String(), args, nil
}
