// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/tomtom215/guildsync/internal/credential"
	"github.com/tomtom215/guildsync/internal/middleware"
	"github.com/tomtom215/guildsync/internal/provider"
	"github.com/tomtom215/guildsync/internal/session"
	"github.com/tomtom215/guildsync/internal/transport/transporttest"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

type testEnv struct {
	session *session.Session
	dialer  *transporttest.Dialer
	handler http.Handler
}

func newTestEnv(t *testing.T, mw *ChiMiddlewareConfig) *testEnv {
	t.Helper()
	dialer := transporttest.NewDialer()
	s, err := session.New(session.Config{
		ServerURL:      "https://app.example.test/api/v1",
		Source:         credential.NewStatic("tok", "guild-1"),
		Dialer:         dialer,
		Clock:          clock.NewMock(),
		Provider:       provider.Options{DisplayName: "api-tester"},
		DisableUpdates: true,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(s.Logout)

	if mw == nil {
		mw = DefaultChiMiddlewareConfig()
		mw.RateLimitRequests = 0
	}
	return &testEnv{
		session: s,
		dialer:  dialer,
		handler: NewRouter(NewHandler(s, nil), mw).SetupChi(),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !body.Success {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if body.Meta == nil || body.Meta.RequestID != rec.Header().Get(middleware.RequestIDHeader) {
		t.Errorf("meta request id = %+v", body.Meta)
	}

	env.session.Logout()
	rec, body = env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz after logout = %d, want 503", rec.Code)
	}
	if body.Error == nil || body.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestConnect_CreatesAndListsProvider(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/providers/doc-1/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("connect = %d %s", rec.Code, rec.Body.String())
	}
	var view ProviderView
	if err := json.Unmarshal(body.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.DocumentID != "doc-1" || view.Local.Name != "api-tester" {
		t.Errorf("view = %+v", view)
	}

	sock := env.dialer.Next(t)
	if sock.URL() != "wss://app.example.test/api/v1/documents/doc-1/collaborate" {
		t.Errorf("dialed %q", sock.URL())
	}

	// A second connect reuses the same provider and socket.
	rec, _ = env.do(t, http.MethodPost, "/api/v1/providers/doc-1/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second connect = %d", rec.Code)
	}
	env.dialer.ExpectNoDial(t, 20*time.Millisecond)

	_, body = env.do(t, http.MethodGet, "/api/v1/providers", "")
	var list []ProviderView
	if err := json.Unmarshal(body.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].DocumentID != "doc-1" {
		t.Errorf("list = %+v", list)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/providers/doc-1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get = %d", rec.Code)
	}
}

func TestProvider_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/providers/missing"},
		{http.MethodPost, "/api/v1/providers/missing/disconnect"},
		{http.MethodPost, "/api/v1/providers/missing/release"},
		{http.MethodDelete, "/api/v1/providers/missing/cursor"},
	} {
		rec, body := env.do(t, tc.method, tc.path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, rec.Code)
		}
		if body.Error == nil || body.Error.Code != ErrCodeNotFound {
			t.Errorf("%s %s error = %+v", tc.method, tc.path, body.Error)
		}
	}
}

func TestSetCursor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/providers/doc-1/connect", "")

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"malformed", `{"anchor":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing anchor", `{"head":3}`, http.StatusBadRequest, ErrCodeValidationFailed},
		{"negative", `{"anchor":-1}`, http.StatusBadRequest, ErrCodeValidationFailed},
		{"anchor only", `{"anchor":4}`, http.StatusOK, ""},
		{"range", `{"anchor":2,"head":9}`, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodPut, "/api/v1/providers/doc-1/cursor", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" && (body.Error == nil || body.Error.Code != tt.wantErr) {
				t.Errorf("error = %+v, want %s", body.Error, tt.wantErr)
			}
		})
	}

	p, _ := env.session.Provider("doc-1")
	if c := p.LocalPresence().Cursor; c == nil || c.Anchor != 2 || c.Head != 9 {
		t.Errorf("cursor = %+v, want 2..9", c)
	}

	env.do(t, http.MethodDelete, "/api/v1/providers/doc-1/cursor", "")
	if p.LocalPresence().Cursor != nil {
		t.Error("cursor not cleared")
	}
}

func TestDisconnectAndRelease(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/providers/doc-1/connect", "")
	sock := env.dialer.Next(t)
	p, _ := env.session.Provider("doc-1")
	transporttest.WaitFor(t, "connected", func() bool { return p.Status() == provider.StatusConnected })

	_, body := env.do(t, http.MethodPost, "/api/v1/providers/doc-1/disconnect", "")
	var view ProviderView
	if err := json.Unmarshal(body.Data, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != provider.StatusDisconnected {
		t.Errorf("status = %v, want disconnected", view.Status)
	}
	transporttest.WaitFor(t, "socket closed", sock.Closed)

	_, body = env.do(t, http.MethodPost, "/api/v1/providers/doc-1/release", "")
	if err := json.Unmarshal(body.Data, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Releasing {
		t.Error("release did not schedule teardown")
	}
}

func TestLogout_RejectsFurtherConnects(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/session/logout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	if !env.session.LoggedOut() {
		t.Fatal("session still logged in")
	}

	rec, body := env.do(t, http.MethodPost, "/api/v1/providers/doc-1/connect", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("connect after logout = %d, want 503", rec.Code)
	}
	if body.Error == nil || body.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestUpdatesAndCache(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.Cache().Set("tasks", []int{1})
	env.session.Cache().Set("projects:3", true)

	_, body := env.do(t, http.MethodGet, "/api/v1/updates", "")
	var u UpdatesView
	if err := json.Unmarshal(body.Data, &u); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u.Enabled {
		t.Error("updates reported enabled")
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/cache", "")
	var c CacheView
	if err := json.Unmarshal(body.Data, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(c.Keys) != 2 || c.Keys[0] != "projects:3" || c.Keys[1] != "tasks" {
		t.Errorf("keys = %v", c.Keys)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/v1/providers", "")

	rec, _ := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "guildsync_api_requests_total") {
		t.Error("api request counter not exported")
	}
}

func TestCORS_Preflight(t *testing.T) {
	mw := DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = []string{"http://localhost:5173"}
	env := newTestEnv(t, mw)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/providers/doc-1/connect", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/providers", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin %q", got)
	}
}

func TestRateLimit_MutatingEndpoints(t *testing.T) {
	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitRequests = 2
	mw.RateLimitWindow = time.Minute
	env := newTestEnv(t, mw)

	for i := 0; i < 2; i++ {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/providers/doc-1/connect", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec, body := env.do(t, http.MethodPost, "/api/v1/providers/doc-1/connect", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if body.Error == nil || body.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("error = %+v", body.Error)
	}

	// Reads are not limited.
	rec, _ = env.do(t, http.MethodGet, "/api/v1/providers", "")
	if rec.Code != http.StatusOK {
		t.Errorf("read after limit = %d", rec.Code)
	}
}
