package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"launchsite/countdown"
)

var launch = time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type chanTicker struct{ ch chan time.Time }

func (t *chanTicker) C() <-chan time.Time { return t.ch }
func (t *chanTicker) Stop()               {}

func newTestServer(t *testing.T, now time.Time, opts ...countdown.Option) (*httptest.Server, *clock) {
	t.Helper()
	c := &clock{now: now}
	static := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.WriteString(w, "shell:"+r.URL.Path); err != nil {
			t.Error(err)
		}
	})
	s := New(&Config{Static: static, Logger: testLogger(), LaunchAt: launch, Now: c.Now, TimerOptions: opts})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, c
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, launch.Add(-time.Hour))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // test
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"healthy"}` {
		t.Errorf("GET /health = %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestCountdown(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want countdownResponse
	}{
		{
			name: "before launch",
			now:  launch.Add(-90061 * time.Second),
			want: countdownResponse{
				State:    countdown.State{Days: "01", Hours: "01", Minutes: "01", Seconds: "01"},
				LaunchAt: "2026-12-01T09:00:00Z",
			},
		},
		{
			name: "final second",
			now:  launch.Add(-500 * time.Millisecond),
			want: countdownResponse{State: countdown.Zero, LaunchAt: "2026-12-01T09:00:00Z"},
		},
		{
			name: "exactly at launch",
			now:  launch,
			want: countdownResponse{State: countdown.Zero, LaunchAt: "2026-12-01T09:00:00Z", Launched: true},
		},
		{
			name: "after launch",
			now:  launch.Add(time.Minute),
			want: countdownResponse{State: countdown.Zero, LaunchAt: "2026-12-01T09:00:00Z", Launched: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, tt.now)
			resp, err := http.Get(ts.URL + "/api/countdown")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			var got countdownResponse
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("GET /api/countdown = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, launch)
	for _, p := range []string{"/health", "/api/countdown", "/api/countdown/stream"} {
		resp, err := http.Post(ts.URL+p, "text/plain", strings.NewReader(""))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d, want 405", p, resp.StatusCode)
		}
	}
}

func TestStaticFallthrough(t *testing.T) {
	ts, _ := newTestServer(t, launch)
	resp, err := http.Get(ts.URL + "/blog/hello-world")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // test
	if string(body) != "shell:/blog/hello-world" {
		t.Errorf("body = %q", body)
	}
}

// readEvent returns the data line of the next server-sent event.
func readEvent(t *testing.T, r *bufio.Reader) countdownResponse {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
	var got countdownResponse
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return got
}

func TestCountdownStream(t *testing.T) {
	ticker := &chanTicker{ch: make(chan time.Time)}
	ts, c := newTestServer(t, launch.Add(-90061*time.Second),
		countdown.WithTicker(func(time.Duration) countdown.Ticker { return ticker }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/countdown/stream", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	first := readEvent(t, r)
	if want := (countdown.State{Days: "01", Hours: "01", Minutes: "01", Seconds: "01"}); first.State != want {
		t.Errorf("first event = %+v, want %+v", first.State, want)
	}

	c.Advance(2 * time.Second)
	ticker.ch <- time.Time{}
	second := readEvent(t, r)
	if second.Seconds != "59" || second.Minutes != "00" {
		t.Errorf("second event = %+v, want 01/01/00/59", second.State)
	}

	c.Advance(26 * time.Hour)
	for i := range 2 {
		ticker.ch <- time.Time{}
		ev := readEvent(t, r)
		if !ev.Launched || ev.State != countdown.Zero {
			t.Errorf("event %d after launch = %+v, want zero and launched", i, ev)
		}
	}
}
