package httpserver

import (
	"bufio"
	"context"
	"html/template"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/ssebroadcast/internal/broadcast"
	"github.com/pscheid92/ssebroadcast/internal/platform/config"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockProducer struct {
	channel string
	calls   atomic.Int32
}

func (m *mockProducer) Channel() string {
	return m.channel
}

func (m *mockProducer) EnsureRunning(_ context.Context) bool {
	return m.calls.Add(1) == 1
}

type mockSampler struct {
	usage []float64
	err   error
}

func (m *mockSampler) CPUUsage(_ context.Context) ([]float64, error) {
	return m.usage, m.err
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:               "test",
		CPUChannel:           "cpu",
		SweepInterval:        10 * time.Second,
		MaxStreamConnections: 100,
		MaxStreamsPerIP:      10,
		StreamConnectRate:    100,
		StreamConnectBurst:   100,
		PublishRateLimit:     100,
		PublishRateBurst:     100,
	}
}

func newTestServer(t *testing.T, opts ...func(*Server)) (*Server, *broadcast.Hub) {
	t.Helper()

	clock := clockwork.NewRealClock()
	hub := broadcast.NewHub(clock, broadcast.Options{})
	t.Cleanup(func() { hub.Shutdown(context.Background()) })

	tmpl := template.Must(template.New("index.html").Parse(`Index {{.CPUChannel}}`))

	srv := &Server{
		echo:       echo.New(),
		config:     testConfig(),
		clock:      clock,
		hub:        hub,
		producer:   &mockProducer{channel: "cpu"},
		sampler:    &mockSampler{usage: []float64{12.5, 50}},
		background: context.Background(),
		upgrader:   newUpgrader(false),
		templates:  tmpl,
		startTime:  clock.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	cfg := srv.config
	srv.limits = newStreamLimits(clock, int64(cfg.MaxStreamConnections), cfg.MaxStreamsPerIP, cfg.StreamConnectRate, cfg.StreamConnectBurst)

	// Register routes so endpoints are available for testing
	srv.registerRoutes()

	return srv, hub
}

func withConfig(mutate func(*config.Config)) func(*Server) {
	return func(s *Server) {
		mutate(s.config)
	}
}

func withProducer(p producer) func(*Server) {
	return func(s *Server) {
		s.producer = p
	}
}

func withSampler(sampler usageSampler) func(*Server) {
	return func(s *Server) {
		s.sampler = sampler
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// startHTTPServer serves srv on a real listener. Streams are ended before the listener closes.
func startHTTPServer(t *testing.T, srv *Server, hub *broadcast.Hub) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		hub.Shutdown(context.Background())
		ts.Close()
	})
	return ts
}

func newRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = testRemoteAddr
	return req
}

// serve runs a request through the full middleware stack.
func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// readEvent reads one SSE frame (up to the blank line) and returns its lines.
func readEvent(t *testing.T, r *bufio.Reader) []string {
	t.Helper()

	type result struct {
		lines []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var lines []string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				done <- result{lines, err}
				return
			}
			line = strings.TrimSuffix(line, "\n")
			if line == "" {
				done <- result{lines, nil}
				return
			}
			lines = append(lines, line)
		}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.lines
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE event")
		return nil
	}
}

func openStream(t *testing.T, ts *httptest.Server, channel string) (*http.Response, *bufio.Reader) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/events/"+channel, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp, bufio.NewReader(resp.Body)
}
