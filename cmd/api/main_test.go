// Package main contains integration tests for the API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/onnwee/trustrank/internal/auth"
	"github.com/onnwee/trustrank/internal/config"
)

const testSecret = "test-secret-at-least-32-characters-long"

// newTestConfig returns an in-memory configuration whose geo provider
// answers 404 to everything, so lookups degrade to unknown.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	geoSrv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(geoSrv.Close)

	return &config.Config{
		Env:                "test",
		JWTSecret:          testSecret,
		GeoProviderURL:     geoSrv.URL,
		GeoProviderTimeout: time.Second,
		GeoCacheTTL:        time.Hour,
		GeoCacheMaxEntries: 100,
		RankingPoolSize:    50,
		PreferenceCacheTTL: time.Minute,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() {
		if err := a.close(); err != nil {
			t.Errorf("close() error = %v", err)
		}
	})
	return a
}

func TestNewApp_InMemory(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))

	if len(a.sweeps) != 3 {
		t.Fatalf("len(sweeps) = %d, want 3", len(a.sweeps))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(ctx)
	for i, j := range a.sweeps {
		if !j.IsRunning() {
			t.Errorf("sweeps[%d].IsRunning() = false, want true", i)
		}
	}
	if err := a.close(); err != nil {
		t.Fatalf("close() error = %v", err)
	}
	for i, j := range a.sweeps {
		if j.IsRunning() {
			t.Errorf("sweeps[%d] still running after close", i)
		}
	}
}

func TestNewApp_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := newTestConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	a := newTestApp(t, cfg)
	if a.redis == nil {
		t.Fatal("expected redis client")
	}
	if len(a.sweeps) != 0 {
		t.Errorf("len(sweeps) = %d, want 0 with redis", len(a.sweeps))
	}

	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /ready status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := map[string]string{"database": "not_configured", "redis": "ok", "geo_provider": "ok"}
	for name, status := range want {
		if resp.Checks[name] != status {
			t.Errorf("checks[%q] = %q, want %q", name, resp.Checks[name], status)
		}
	}
}

func TestNewApp_InvalidRedisURL(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RedisURL = "not-a-url"
	if _, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("newApp() error = nil, want error for invalid redis URL")
	}
}

func TestNewApp_Routes(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	token, err := auth.NewJWTService(testSecret).GenerateAccessToken("user-1", auth.RoleUser)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		token      string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/health", "", "", http.StatusOK, `"status"`},
		{"root", http.MethodGet, "/", "", "", http.StatusOK, `"trustrank-api"`},
		{"unknown path", http.MethodGet, "/nope", "", "", http.StatusNotFound, `"not_found"`},
		{"metrics", http.MethodGet, "/metrics", "", "", http.StatusOK, "go_goroutines"},
		{"feed anonymous", http.MethodGet, "/v1/feed?mode=nearby", "", "", http.StatusOK, `"algorithm_version"`},
		{
			"assess", http.MethodPost, "/v1/risk/assess",
			`{"action_type":"login","context":{"ip_address":"203.0.113.7"}}`, token,
			http.StatusOK, `"user_id":"user-1"`,
		},
		{
			"activity requires auth", http.MethodPost, "/v1/activity",
			`{"type":"profile_viewed","target_id":"p1"}`, "",
			http.StatusUnauthorized, `"auth_failed"`,
		},
		{"audit requires analyst", http.MethodGet, "/v1/audit/export", "", token, http.StatusForbidden, `"forbidden"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			a.handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rr.Body.String(), tt.wantBody)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

// TestGracefulShutdown_InFlightRequests tests that in-flight requests complete before shutdown.
func TestGracefulShutdown_InFlightRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	var mu sync.Mutex
	var requestCompleted bool
	handlerStarted := make(chan struct{})
	handlerCanContinue := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-handlerCanContinue

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"completed"}`))

		mu.Lock()
		requestCompleted = true
		mu.Unlock()
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverStopped := make(chan struct{})
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(serverStopped)
	}()

	requestDone := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/slow")
		if err != nil {
			t.Errorf("request error: %v", err)
		}
		requestDone <- resp
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler failed to start in time")
	}

	logger.Info("shutting down server...")
	shutdownDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("shutdown error: %v", err)
		}
		close(shutdownDone)
	}()

	// Give shutdown a moment to begin
	time.Sleep(50 * time.Millisecond)
	close(handlerCanContinue)

	var response *http.Response
	select {
	case response = <-requestDone:
	case <-time.After(5 * time.Second):
		t.Fatal("request failed to complete in time")
	}
	select {
	case <-shutdownDone:
	case <-time.After(15 * time.Second):
		t.Fatal("shutdown failed to complete in time")
	}
	<-serverStopped
	logger.Info("server stopped")

	mu.Lock()
	if !requestCompleted {
		t.Error("expected request to have completed")
	}
	mu.Unlock()

	if response != nil {
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", response.StatusCode, http.StatusOK)
		}
	}

	logs := logBuf.String()
	startIdx := strings.Index(logs, "starting server")
	shutdownIdx := strings.Index(logs, "shutting down server")
	stoppedIdx := strings.Index(logs, "server stopped")
	if startIdx == -1 || shutdownIdx == -1 || stoppedIdx == -1 {
		t.Fatalf("missing lifecycle log lines: %s", logs)
	}
	if startIdx > shutdownIdx || shutdownIdx > stoppedIdx {
		t.Error("expected lifecycle logs in start, shutdown, stopped order")
	}
}

func TestSignalNotify(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = syscall.Kill(syscall.Getpid(), sig)
			}()

			select {
			case got := <-quit:
				if got != sig {
					t.Errorf("received %v, want %v", got, sig)
				}
			case <-time.After(2 * time.Second):
				t.Errorf("did not receive %v in time", sig)
			}
		})
	}
}
