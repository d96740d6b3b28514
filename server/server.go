// Package server serves the built site for preview together with the launch
// countdown API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"launchsite/countdown"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server handles HTTP requests.
type Server struct {
	static       http.Handler
	logger       *slog.Logger
	now          func() time.Time
	launchAt     time.Time
	timerOptions []countdown.Option
}

// Config holds server configuration.
type Config struct {
	Static   http.Handler // serves the build; unmatched paths get the app shell
	Logger   *slog.Logger
	LaunchAt time.Time
	Now      func() time.Time // defaults to time.Now

	// TimerOptions are applied to every streaming client's countdown.Timer.
	TimerOptions []countdown.Option
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		static:       cfg.Static,
		logger:       cfg.Logger,
		now:          now,
		launchAt:     cfg.LaunchAt,
		timerOptions: cfg.TimerOptions,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/countdown", s.handleCountdown)
	mux.HandleFunc("/api/countdown/stream", s.handleCountdownStream)
	if s.static != nil {
		mux.Handle("/", s.static)
	}
	return mux
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// WriteTimeout stays zero; the countdown stream extends its own deadline per event.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

type countdownResponse struct {
	countdown.State
	LaunchAt string `json:"launch_at"`
	Launched bool   `json:"launched"`
}

func (s *Server) snapshot(st countdown.State) countdownResponse {
	return countdownResponse{
		State:    st,
		LaunchAt: s.launchAt.UTC().Format(time.RFC3339),
		Launched: !s.now().Before(s.launchAt),
	}
}

func (s *Server) handleCountdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.snapshot(countdown.Remaining(s.launchAt, s.now()))); err != nil {
		s.logger.Warn("Failed to write countdown response", "error", err)
	}
}

// handleCountdownStream mounts one countdown.Timer for the connected client and
// sends one server-sent event per tick until the client goes away.
func (s *Server) handleCountdownStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("Streaming not supported", "error", err)
		return
	}

	// Latest state wins when the client falls behind.
	events := make(chan countdown.State, 1)
	onTick := func(st countdown.State) {
		for {
			select {
			case events <- st:
				return
			default:
			}
			select {
			case <-events:
			default:
			}
		}
	}

	opts := append([]countdown.Option{countdown.WithClock(s.now)}, s.timerOptions...)
	timer := countdown.New(s.launchAt, onTick, opts...)
	timer.Start()
	defer timer.Stop()

	s.logger.Debug("Countdown stream opened", "remote_addr", r.RemoteAddr)
	defer s.logger.Debug("Countdown stream closed", "remote_addr", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-events:
			data, err := json.Marshal(s.snapshot(st))
			if err != nil {
				s.logger.Error("Failed to encode countdown event", "error", err)
				return
			}
			if err := rc.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil && !errors.Is(err, http.ErrNotSupported) {
				s.logger.Debug("Failed to set write deadline", "error", err)
			}
			if _, err := fmt.Fprintf(w, "event: countdown\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
