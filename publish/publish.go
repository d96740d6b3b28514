// Package publish mirrors a build directory to Cloud Storage or a local directory.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Store publishes files to a bucket or, when localPath is set, to a directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	prefix    string
}

// Stats summarizes one Mirror call.
type Stats struct {
	Uploaded int
	Removed  int
	Bytes    int64
}

// New creates a publisher. client may be nil in local mode.
func New(client *storage.Client, bucket, prefix, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
	}
}

// NewClient creates a Cloud Storage client. Explicit credentials JSON wins;
// otherwise Application Default Credentials are used (the service account on
// Cloud Run).
func NewClient(ctx context.Context, credentialsJSON string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// ObjectKey maps a slash-separated path relative to the build root to its
// destination key under prefix.
func ObjectKey(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

// Mirror copies every regular file under srcDir to the destination and then
// removes destination files that no longer exist in srcDir.
func (s *Store) Mirror(ctx context.Context, srcDir string) (Stats, error) {
	files, err := walk(srcDir)
	if err != nil {
		return Stats{}, err
	}
	if s.localPath != "" {
		return s.mirrorLocal(ctx, srcDir, files)
	}
	if s.client == nil || s.bucket == "" {
		return Stats{}, errors.New("no publish destination configured")
	}
	return s.mirrorBucket(ctx, srcDir, files)
}

// walk returns slash-separated paths of regular files under root.
func walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk build directory: %w", err)
	}
	return files, nil
}

func (s *Store) mirrorLocal(ctx context.Context, srcDir string, files []string) (Stats, error) {
	if inside(srcDir, s.localPath) || inside(s.localPath, srcDir) {
		return Stats{}, fmt.Errorf("publish directory %s and build directory %s overlap", s.localPath, srcDir)
	}

	var stats Stats
	keep := make(map[string]bool, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		key := ObjectKey(s.prefix, rel)
		keep[key] = true
		dst := filepath.Join(s.localPath, filepath.FromSlash(key))
		n, err := copyFile(filepath.Join(srcDir, filepath.FromSlash(rel)), dst)
		if err != nil {
			return stats, fmt.Errorf("copy %s: %w", rel, err)
		}
		stats.Uploaded++
		stats.Bytes += n
	}

	root := filepath.Join(s.localPath, filepath.FromSlash(s.prefix))
	existing, err := walk(root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return stats, err
	}
	for _, rel := range existing {
		key := ObjectKey(s.prefix, rel)
		if keep[key] {
			continue
		}
		p := filepath.Join(s.localPath, filepath.FromSlash(key))
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return stats, fmt.Errorf("remove stale file: %w", err)
		}
		removeEmptyParents(filepath.Dir(p), root)
		s.logger.Debug("Removed stale file", "path", p)
		stats.Removed++
	}

	s.logger.Info("Build mirrored to local directory", "path", s.localPath, "files", stats.Uploaded, "removed", stats.Removed)
	return stats, nil
}

func (s *Store) mirrorBucket(ctx context.Context, srcDir string, files []string) (Stats, error) {
	var stats Stats
	keep := make(map[string]bool, len(files))
	for _, rel := range files {
		key := ObjectKey(s.prefix, rel)
		keep[key] = true
		n, err := s.upload(ctx, filepath.Join(srcDir, filepath.FromSlash(rel)), key)
		if err != nil {
			return stats, err
		}
		stats.Uploaded++
		stats.Bytes += n
	}

	q := &storage.Query{}
	if s.prefix != "" {
		q.Prefix = s.prefix + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("iterate storage: %w", err)
		}
		if keep[attrs.Name] {
			continue
		}
		if err := s.delete(ctx, attrs.Name); err != nil {
			return stats, err
		}
		stats.Removed++
	}

	s.logger.Info("Build mirrored to bucket", "bucket", s.bucket, "prefix", s.prefix, "files", stats.Uploaded, "removed", stats.Removed)
	return stats, nil
}

func (s *Store) upload(ctx context.Context, src, key string) (int64, error) {
	var written int64
	err := retry.Do(
		func() error {
			f, err := os.Open(src)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("open %s: %w", src, err))
			}
			defer f.Close() //nolint:errcheck // read-only

			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = ContentType(key)
			w.CacheControl = CacheControl(key)
			n, copyErr := io.Copy(w, f)
			if copyErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", copyErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			written = n
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying upload after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("upload %s after retries: %w", key, err)
	}
	s.logger.Debug("Uploaded", "key", key, "bytes", written)
	return written, nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	err := retry.Do(
		func() error {
			if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
				if errors.Is(err, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete %s after retries: %w", key, err)
	}
	s.logger.Debug("Deleted stale object", "key", key)
	return nil
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// CacheControl keeps documents fresh and lets hashed assets be cached.
func CacheControl(name string) string {
	switch path.Ext(name) {
	case ".html", ".xml", ".txt":
		return "no-cache"
	default:
		return "public, max-age=31536000, immutable"
	}
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close() //nolint:errcheck // read-only

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// inside reports whether target is dir or lies beneath it.
func inside(dir, target string) bool {
	a, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	b, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(a, b)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func removeEmptyParents(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
