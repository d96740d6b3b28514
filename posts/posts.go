// Package posts reads blog post records from the hosted data store or, during
// local development, from a SQLite file.
package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"launchsite/pkg/site"
)

// ErrNotConfigured is returned when no post source has been configured.
var ErrNotConfigured = errors.New("posts: data store not configured")

var tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Lister returns post records, most recently modified first.
type Lister interface {
	List(ctx context.Context) ([]*site.Post, error)
}

// Options selects and configures a post source.
type Options struct {
	Client     *http.Client
	URL        string // Hosted data store base URL
	Key        string // Read key sent as apikey and bearer token
	Table      string
	SQLitePath string // Local development source; takes precedence over URL
}

// Source is a Lister that may hold resources.
type Source interface {
	Lister
	Close() error
}

// Open returns the configured post source. It returns ErrNotConfigured when
// neither a SQLite path nor hosted data store credentials are set.
func Open(opts Options, logger *slog.Logger) (Source, error) {
	table := opts.Table
	if table == "" {
		table = "posts"
	}
	if !tableNameRegex.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	if opts.SQLitePath != "" {
		logger.Info("Using local SQLite post source", "path", opts.SQLitePath, "table", table)
		return OpenSQLite(opts.SQLitePath, table, logger)
	}

	if opts.URL == "" || opts.Key == "" {
		return nil, ErrNotConfigured
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return NewREST(client, opts.URL, opts.Key, table, logger), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp accepts the timestamp shapes Postgres and SQLite hand back.
// Empty input yields nil.
func parseTimestamp(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", raw)
}
