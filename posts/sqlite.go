package posts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"launchsite/pkg/site"
)

// SQLite reads posts from a local SQLite database with the same columns as the
// hosted posts table.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	table  string
}

// OpenSQLite opens the database at path. The file must already exist.
func OpenSQLite(path, table string, logger *slog.Logger) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLite{db: db, logger: logger, table: table}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// List returns every post ordered like the hosted query: updated_at descending,
// NULLs first.
func (s *SQLite) List(ctx context.Context) ([]*site.Post, error) {
	query := fmt.Sprintf(`SELECT slug, updated_at, created_at FROM %s ORDER BY updated_at IS NULL DESC, updated_at DESC`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	var posts []*site.Post
	for rows.Next() {
		var slug, updated, created sql.NullString
		if err := rows.Scan(&slug, &updated, &created); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		p := &site.Post{Slug: slug.String}
		if p.UpdatedAt, err = parseTimestamp(updated.String); err != nil {
			s.logger.Warn("Ignoring unparsable updated_at", "slug", slug.String, "error", err)
		}
		if p.CreatedAt, err = parseTimestamp(created.String); err != nil {
			s.logger.Warn("Ignoring unparsable created_at", "slug", slug.String, "error", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	return posts, nil
}
