package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	logx "livewatch/pkg/logx"
)

// fakeHelix serves /oauth2/token, /helix/users and /helix/streams.
type fakeHelix struct {
	mu    sync.Mutex
	users map[string]string // login -> id
	live  map[string]fakeStream

	tokenCalls   atomic.Int32
	usersCalls   atomic.Int32
	streamsCalls atomic.Int32

	tokenStatus int
	// rejectTokens lists tokens answered with 401.
	rejectTokens map[string]bool
	usersStatus  int
	streamStatus int
	lastStreamQ  url.Values
}

type fakeStream struct {
	id, login, name, game, title string
	viewers                      int
}

func (f *fakeHelix) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/oauth2/token":
		n := f.tokenCalls.Add(1)
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"status":400,"message":"invalid client"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	case strings.HasPrefix(r.URL.Path, "/helix/"):
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		reject := f.rejectTokens[tok]
		f.mu.Unlock()
		if r.URL.Path == "/helix/users" {
			f.usersCalls.Add(1)
		} else {
			f.streamsCalls.Add(1)
		}
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`))
			return
		}
		switch r.URL.Path {
		case "/helix/users":
			f.serveUsers(w, r)
		case "/helix/streams":
			f.serveStreams(w, r)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeHelix) serveUsers(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.usersStatus
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error","status":500,"message":"boom"}`))
		return
	}
	var data []map[string]any
	for _, login := range r.URL.Query()["login"] {
		if id, ok := f.users[login]; ok {
			data = append(data, map[string]any{"id": id, "login": login, "display_name": strings.ToUpper(login)})
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeHelix) serveStreams(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.lastStreamQ = r.URL.Query()
	status := f.streamStatus
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error","status":500,"message":"boom"}`))
		return
	}
	data := []map[string]any{}
	for _, id := range r.URL.Query()["user_id"] {
		s, ok := f.live[id]
		if !ok {
			continue
		}
		data = append(data, map[string]any{
			"id": "s" + id, "user_id": id, "user_login": s.login, "user_name": s.name,
			"game_name": s.game, "type": "live", "title": s.title, "viewer_count": s.viewers,
			"started_at": "2026-01-02T15:04:05Z",
		})
	}
	// an id nobody asked for must be ignored
	data = append(data, map[string]any{"id": "x", "user_id": "999999", "user_login": "stranger", "type": "live"})
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func newFake(t *testing.T, f *fakeHelix) (*API, *CredentialManager) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	cfg := Config{
		ClientID:       "cid",
		ClientSecret:   "secret",
		HTTPClient:     &http.Client{Transport: rewriteTransport{target: u}},
		RequestTimeout: 5 * time.Second,
	}
	creds := NewCredentialManager(cfg, logx.Nop(), WithClock(clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	return NewAPI(cfg, creds, logx.Nop()), creds
}

func TestNormalizeNames(t *testing.T) {
	t.Parallel()
	got := NormalizeNames([]string{" Alice", "bob", "", "ALICE", "  ", "carol "})
	want := []string{"alice", "bob", "carol"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := SplitNames("a, B,,a"); strings.Join(got, ",") != "a,b" {
		t.Fatalf("split: %v", got)
	}
}

func TestAcquireCoalescesAndCaches(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{}
	_, creds := newFake(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := creds.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := f.tokenCalls.Load(); n != 1 {
		t.Fatalf("token exchanges=%d want 1", n)
	}
	tok, _ := creds.Acquire(context.Background())
	if tok.Value != "tok-1" || !tok.ObtainedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected token %+v", tok)
	}

	creds.Invalidate()
	tok, err := creds.Acquire(context.Background())
	if err != nil || tok.Value != "tok-2" {
		t.Fatalf("after invalidate: %+v %v", tok, err)
	}
}

func TestAcquireFailureIsAuthError(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{tokenStatus: http.StatusBadRequest}
	_, creds := newFake(t, f)

	_, err := creds.Acquire(context.Background())
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %T %v", err, err)
	}
	if ae.Status != http.StatusBadRequest {
		t.Fatalf("status=%d", ae.Status)
	}
	if !creds.Current().IsZero() {
		t.Fatalf("failed exchange must not leave a token")
	}
}

func TestResolvePartitionsInput(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{users: map[string]string{"alice": "1", "bob": "2"}}
	api, _ := newFake(t, f)

	res, err := NewResolver(api).Resolve(context.Background(), []string{"Alice", "bob", "ghost", "alice", ""})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Resolved["alice"] != "1" || res.Resolved["bob"] != "2" || len(res.Resolved) != 2 {
		t.Fatalf("resolved=%v", res.Resolved)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "ghost" {
		t.Fatalf("unresolved=%v", res.Unresolved)
	}
	var nf *NotFoundError
	if !errors.As(res.NotFound(), &nf) || nf.Names[0] != "ghost" {
		t.Fatalf("NotFound()=%v", res.NotFound())
	}
}

func TestResolveBatches(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{users: map[string]string{}}
	names := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		n := fmt.Sprintf("user%03d", i)
		names = append(names, n)
		if i%2 == 0 {
			f.users[n] = fmt.Sprint(i)
		}
	}
	api, _ := newFake(t, f)

	res, err := NewResolver(api).Resolve(context.Background(), names)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if n := f.usersCalls.Load(); n != 3 {
		t.Fatalf("user requests=%d want 3", n)
	}
	if len(res.Resolved)+len(res.Unresolved) != len(names) {
		t.Fatalf("partition broken: %d + %d", len(res.Resolved), len(res.Unresolved))
	}
	for _, n := range res.Unresolved {
		if _, ok := res.Resolved[n]; ok {
			t.Fatalf("%s in both sets", n)
		}
	}
}

func TestResolveRefreshesTokenOnce(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{
		users:        map[string]string{"alice": "1"},
		rejectTokens: map[string]bool{"tok-1": true},
	}
	api, creds := newFake(t, f)

	res, err := NewResolver(api).Resolve(context.Background(), []string{"alice"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Resolved["alice"] != "1" {
		t.Fatalf("retry result lost: %v", res.Resolved)
	}
	if n := f.tokenCalls.Load(); n != 2 {
		t.Fatalf("token exchanges=%d want 2", n)
	}
	if n := f.usersCalls.Load(); n != 2 {
		t.Fatalf("user requests=%d want 2", n)
	}
	if creds.Current().Value != "tok-2" {
		t.Fatalf("token=%q want tok-2", creds.Current().Value)
	}
}

func TestResolveUpstreamFailureIsError(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{users: map[string]string{"alice": "1"}, usersStatus: http.StatusInternalServerError}
	api, _ := newFake(t, f)

	res, err := NewResolver(api).Resolve(context.Background(), []string{"alice", "ghost"})
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Status != http.StatusInternalServerError {
		t.Fatalf("expected NetworkError 500, got %v", err)
	}
	if res.Resolved != nil || res.Unresolved != nil {
		t.Fatalf("failed resolve must not return a partial partition: %+v", res)
	}
}

func TestPollReturnsLiveOnly(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{live: map[string]fakeStream{
		"1": {login: "alice", name: "Alice", game: "Chess", title: "Openings", viewers: 42},
		"3": {login: "carol", name: "Carol", title: "no game"},
	}}
	api, _ := newFake(t, f)

	snap, err := NewPoller(api).Poll(context.Background(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("snapshot=%v", snap)
	}
	a := snap["1"]
	if a.Login != "alice" || a.DisplayName != "Alice" || a.Category != "Chess" || a.Title != "Openings" || a.ViewerCount != 42 {
		t.Fatalf("alice=%+v", a)
	}
	if snap["3"].Category != UnknownCategory {
		t.Fatalf("category default: %q", snap["3"].Category)
	}
	if _, ok := snap["999999"]; ok {
		t.Fatalf("unrequested id leaked into snapshot")
	}
	if n := f.streamsCalls.Load(); n != 1 {
		t.Fatalf("stream requests=%d want 1", n)
	}
	f.mu.Lock()
	first := f.lastStreamQ.Get("first")
	ids := f.lastStreamQ["user_id"]
	f.mu.Unlock()
	sort.Strings(ids)
	if first != "100" || strings.Join(ids, ",") != "1,2,3" {
		t.Fatalf("query first=%q ids=%v", first, ids)
	}
}

func TestPollEmptyAndOversized(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{}
	api, _ := newFake(t, f)
	p := NewPoller(api)

	snap, err := p.Poll(context.Background(), nil)
	if err != nil || len(snap) != 0 {
		t.Fatalf("empty poll: %v %v", snap, err)
	}
	ids := make([]string, MaxBatch+1)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	if _, err := p.Poll(context.Background(), ids); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if f.streamsCalls.Load() != 0 || f.tokenCalls.Load() != 0 {
		t.Fatalf("no request expected")
	}
}

func TestPollRefreshesTokenOnce(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{
		live:         map[string]fakeStream{"1": {login: "alice", name: "Alice", game: "Chess"}},
		rejectTokens: map[string]bool{"tok-1": true},
	}
	api, creds := newFake(t, f)

	snap, err := NewPoller(api).Poll(context.Background(), []string{"1"})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if _, ok := snap["1"]; !ok {
		t.Fatalf("retry result lost: %v", snap)
	}
	if n := f.tokenCalls.Load(); n != 2 {
		t.Fatalf("token exchanges=%d want 2", n)
	}
	if n := f.streamsCalls.Load(); n != 2 {
		t.Fatalf("stream requests=%d want 2", n)
	}
	if creds.Current().Value != "tok-2" {
		t.Fatalf("token=%q want tok-2", creds.Current().Value)
	}
}

func TestPollPersistentUnauthorized(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{rejectTokens: map[string]bool{"tok-1": true, "tok-2": true, "tok-3": true}}
	api, _ := newFake(t, f)

	_, err := NewPoller(api).Poll(context.Background(), []string{"1"})
	var ae *AuthError
	if !errors.As(err, &ae) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized AuthError, got %v", err)
	}
	if n := f.streamsCalls.Load(); n != 2 {
		t.Fatalf("stream requests=%d want exactly one retry", n)
	}
}

func TestPollUpstreamFailureIsNetworkError(t *testing.T) {
	t.Parallel()
	f := &fakeHelix{streamStatus: http.StatusInternalServerError}
	api, _ := newFake(t, f)

	_, err := NewPoller(api).Poll(context.Background(), []string{"1"})
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Status != http.StatusInternalServerError {
		t.Fatalf("expected NetworkError 500, got %v", err)
	}
}
