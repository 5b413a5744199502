package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

func TestMetricsServer_Endpoints(t *testing.T) {
	healthHandler := healthcheck.NewHandler("ordering", version.GetVersion())
	srv := newMetricsServer("127.0.0.1:0", healthHandler)

	testCases := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/metrics", http.StatusOK, ""},
		{"/healthz", http.StatusOK, `"status":"healthy"`},
		{"/livez", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))

			if w.Code != tc.wantCode {
				t.Fatalf("expected status %d for %s, got %d", tc.wantCode, tc.path, w.Code)
			}
			if w.Body.Len() == 0 {
				t.Fatalf("%s should return non-empty response", tc.path)
			}
			if tc.wantBody != "" && !strings.Contains(w.Body.String(), tc.wantBody) {
				t.Fatalf("%s: expected %q in %q", tc.path, tc.wantBody, w.Body.String())
			}
		})
	}
}

func TestMetricsServer_ReadyzReflectsChecks(t *testing.T) {
	healthHandler := healthcheck.NewHandler("ordering", "dev")
	healthHandler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", func(context.Context) error {
		return errors.New("down")
	}))
	srv := newMetricsServer("127.0.0.1:0", healthHandler)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /readyz, got %d", w.Code)
	}
}

func TestServeHTTP_StopsOnShutdown(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}

	done := make(chan error, 1)
	go func() { done <- serveHTTP(srv, "test", quietLogger()) }()

	time.Sleep(50 * time.Millisecond)
	shutdownHTTP(srv, quietLogger())
	shutdownHTTP(nil, quietLogger())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveHTTP must return nil after shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serveHTTP did not return after shutdown")
	}
}

func TestServeHTTP_ListenError(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:-1", ReadHeaderTimeout: time.Second}
	if err := serveHTTP(srv, "test", quietLogger()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestGRPCHealth_ServeAndStop(t *testing.T) {
	g := newGRPCHealth(quietLogger())
	g.SetServing("", true)
	g.SetServing("ordering", false)

	done := make(chan error, 1)
	go func() { done <- g.serve("127.0.0.1:0", quietLogger()) }()

	time.Sleep(50 * time.Millisecond)
	g.stop(quietLogger())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("grpc serve must return nil after stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("grpc server did not stop")
	}
}
