package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "livewatch/pkg/logx"
)

func testSources(ready bool) Sources {
	return Sources{
		Ready: func() (bool, string) {
			if ready {
				return true, ""
			}
			return false, "last cycle failed"
		},
		Status: func() any { return map[string]any{"broadcasters": []string{"alice"}} },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("livewatch_cycles_total 1\n"))
		}),
	}
}

func get(t *testing.T, h http.Handler, path, token string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	h := New(Config{}, testSources(true), logx.Nop()).Router()

	tests := []struct {
		path string
		code int
		want string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
		{"/status", http.StatusOK, `"alice"`},
		{"/metrics", http.StatusOK, "livewatch_cycles_total"},
		{"/debug/pprof/", http.StatusOK, "goroutine"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.path, "")
		if code != tt.code {
			t.Fatalf("%s: code=%d want %d", tt.path, code, tt.code)
		}
		if !strings.Contains(body, tt.want) {
			t.Fatalf("%s: body %q missing %q", tt.path, body, tt.want)
		}
	}
}

func TestReadyzNotReady(t *testing.T) {
	t.Parallel()
	h := New(Config{}, testSources(false), logx.Nop()).Router()
	code, body := get(t, h, "/readyz", "")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "last cycle failed") {
		t.Fatalf("code=%d body=%q", code, body)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, testSources(true), logx.Nop()).Router()

	if code, _ := get(t, h, "/healthz", ""); code != http.StatusOK {
		t.Fatalf("healthz must stay open: %d", code)
	}
	if code, _ := get(t, h, "/status", ""); code != http.StatusUnauthorized {
		t.Fatalf("status without token: %d", code)
	}
	if code, _ := get(t, h, "/status", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token: %d", code)
	}
	if code, _ := get(t, h, "/status", "s3cret"); code != http.StatusOK {
		t.Fatalf("status with token: %d", code)
	}
	if code, _ := get(t, h, "/metrics?token=s3cret", ""); code != http.StatusOK {
		t.Fatalf("metrics with query token: %d", code)
	}
}

func TestTrigger(t *testing.T) {
	t.Parallel()
	src := testSources(true)
	var calls atomic.Int32
	var fail atomic.Bool
	src.Trigger = func() error {
		calls.Add(1)
		if fail.Load() {
			return errors.New("scheduler not running")
		}
		return nil
	}
	h := New(Config{Token: "s3cret"}, src, logx.Nop()).Router()

	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(""); code != http.StatusUnauthorized {
		t.Fatalf("trigger without token: %d", code)
	}
	if code := post("s3cret"); code != http.StatusAccepted {
		t.Fatalf("trigger: %d", code)
	}
	fail.Store(true)
	if code := post("s3cret"); code != http.StatusServiceUnavailable {
		t.Fatalf("trigger while stopped: %d", code)
	}
	if code, _ := get(t, h, "/trigger", "s3cret"); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /trigger: %d", code)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("trigger calls=%d want 2", n)
	}
}

func TestTriggerRouteAbsentWithoutSource(t *testing.T) {
	t.Parallel()
	h := New(Config{}, testSources(true), logx.Nop()).Router()
	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code=%d want 404", rec.Code)
	}
}

func TestServeRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, testSources(true), logx.Nop())
	if err := s.Serve(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err=%v", err)
	}
}

func TestServeLoopback(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, testSources(true), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("serve returned %v", err)
	}
}
