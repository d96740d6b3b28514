package posts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	jsoniter "github.com/json-iterator/go"

	"launchsite/pkg/site"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusError reports a non-2xx response from the data store.
type StatusError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsClientError reports whether err is a 4xx response, which retrying cannot fix.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// REST reads posts from a PostgREST endpoint (the hosted data store's REST API).
type REST struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	key      string
	table    string
	attempts uint
	delay    time.Duration
}

// NewREST creates a client for the hosted data store.
func NewREST(client *http.Client, baseURL, key, table string, logger *slog.Logger) *REST {
	return &REST{
		client:   client,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		key:      key,
		table:    table,
		attempts: 3,
		delay:    time.Second,
	}
}

type row struct {
	Slug      string  `json:"slug"`
	UpdatedAt *string `json:"updated_at"`
	CreatedAt *string `json:"created_at"`
}

// Close is a no-op; the HTTP client is owned by the caller.
func (r *REST) Close() error {
	return nil
}

// List fetches slug, updated_at and created_at for every post, ordered by
// updated_at descending.
func (r *REST) List(ctx context.Context) ([]*site.Post, error) {
	q := url.Values{}
	q.Set("select", "slug,updated_at,created_at")
	q.Set("order", "updated_at.desc")
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", r.baseURL, r.table, q.Encode())

	var rows []row
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("apikey", r.key)
			req.Header.Set("Authorization", "Bearer "+r.key)
			req.Header.Set("Accept", "application/json")

			start := time.Now()
			resp, err := r.client.Do(req)
			if err != nil {
				r.logger.Warn("Data store request failed", "table", r.table, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					r.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			r.logger.Info("Data store request completed",
				"table", r.table,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				se := &StatusError{URL: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
				if IsClientError(se) {
					return retry.Unrecoverable(se)
				}
				return se
			}

			var decoded []row
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode rows: %w", err))
			}
			rows = decoded
			return nil
		},
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(r.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Info("Retrying data store query after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.table, err)
	}

	posts := make([]*site.Post, 0, len(rows))
	for _, rw := range rows {
		p := &site.Post{Slug: rw.Slug}
		if rw.UpdatedAt != nil {
			if p.UpdatedAt, err = parseTimestamp(*rw.UpdatedAt); err != nil {
				r.logger.Warn("Ignoring unparsable updated_at", "slug", rw.Slug, "error", err)
			}
		}
		if rw.CreatedAt != nil {
			if p.CreatedAt, err = parseTimestamp(*rw.CreatedAt); err != nil {
				r.logger.Warn("Ignoring unparsable created_at", "slug", rw.Slug, "error", err)
			}
		}
		posts = append(posts, p)
	}
	return posts, nil
}
