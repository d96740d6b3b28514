package prerender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"
)

// StaticHandler serves a built single-page app. Existing files are served as-is;
// every other path gets the app shell. There is no clean-URL rewriting and no
// trailing-slash or index.html redirect.
type StaticHandler struct {
	dir     string
	shell   []byte
	shellAt time.Time
}

// NewStaticHandler snapshots dir/index.html as the app shell. Taking the copy up
// front keeps fallback responses stable while snapshots overwrite index.html.
func NewStaticHandler(dir string) (*StaticHandler, error) {
	shellPath := filepath.Join(dir, "index.html")
	shell, err := os.ReadFile(shellPath)
	if err != nil {
		return nil, fmt.Errorf("read app shell: %w", err)
	}
	info, err := os.Stat(shellPath)
	if err != nil {
		return nil, fmt.Errorf("stat app shell: %w", err)
	}
	return &StaticHandler{dir: dir, shell: shell, shellAt: info.ModTime()}, nil
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	full := filepath.Join(h.dir, filepath.FromSlash(clean))
	if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
		f, err := os.Open(full)
		if err == nil {
			defer f.Close()
			http.ServeContent(w, r, info.Name(), info.ModTime(), f)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", h.shellAt, bytes.NewReader(h.shell))
}

// StaticServer is a local HTTP server bound to a fixed port for the duration of a render.
type StaticServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	done   chan error
}

// StartStaticServer binds 127.0.0.1:port and serves dir until Close. Port 0 picks a free port.
func StartStaticServer(dir string, port int, logger *slog.Logger) (*StaticServer, error) {
	handler, err := NewStaticHandler(dir)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}

	s := &StaticServer{
		srv: &http.Server{
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info("Static server started", "addr", ln.Addr().String(), "dir", dir)
	return s, nil
}

// URL returns the base URL of the server without a trailing slash.
func (s *StaticServer) URL() string {
	return "http://" + s.ln.Addr().String()
}

// Close shuts the server down and releases the port.
func (s *StaticServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	if err != nil {
		err = errors.Join(err, s.srv.Close())
	}
	if serveErr := <-s.done; serveErr != nil {
		err = errors.Join(err, serveErr)
	}
	s.logger.Info("Static server stopped", "addr", s.ln.Addr().String())
	return err
}
