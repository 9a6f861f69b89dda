package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/moviecritics/internal/gate"
	"github.com/hitoshi/moviecritics/internal/middleware"
	"github.com/hitoshi/moviecritics/internal/model"
	"golang.org/x/time/rate"
)

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func newTestRouterDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(100))
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Sessions: sessionResolverFunc(func(ctx context.Context, browserID, raw string) (*model.Session, error) {
			return nil, nil
		}),
		AuthService:   &mockAuthService{},
		Encoder:       &mockEncoder{},
		Gates:         gate.NewTracker(time.Hour, nil),
		Movies:        &mockMovieService{},
		Renderer:      newTestRenderer(t),
		HealthChecker: &mockHealthChecker{},
	}
}

// withCSRF はCSRFトークンのCookieとヘッダーを付与する。
func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "router-test-token"})
	req.Header.Set(middleware.CSRFHeaderName, "router-test-token")
	return req
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"unavailable", errors.New("connection refused"), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestRouterDeps(t)
			deps.HealthChecker = &mockHealthChecker{pingFn: func(ctx context.Context) error { return tt.pingErr }}
			router := NewRouter(deps)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantBody)
			}
			if c := responseCookie(w.Result(), middleware.BrowserCookieName); c != nil {
				t.Error("/health should not issue a browser cookie")
			}
		})
	}
}

func TestRouter_Health_ReportsBackend(t *testing.T) {
	tests := []struct {
		name        string
		pingErr     error
		wantBackend string
	}{
		{"reachable", nil, "ok"},
		{"unreachable", errors.New("connection refused"), "unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestRouterDeps(t)
			deps.BackendChecker = &mockHealthChecker{pingFn: func(ctx context.Context) error { return tt.pingErr }}
			router := NewRouter(deps)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			// バックエンドの障害ではBFF自体は停止扱いにしない
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != "ok" || body["backend"] != tt.wantBackend {
				t.Errorf("body = %v, want status=ok backend=%s", body, tt.wantBackend)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	t.Run("mounted when handler is set", func(t *testing.T) {
		deps := newTestRouterDeps(t)
		deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics")
		})
		router := NewRouter(deps)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
			t.Errorf("status = %d, body = %q", w.Code, w.Body.String())
		}
	})

	t.Run("absent when handler is nil", func(t *testing.T) {
		router := NewRouter(newTestRouterDeps(t))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestRouter_Landing_SetsCookiesAndSecurityHeaders(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if responseCookie(resp, middleware.BrowserCookieName) == nil {
		t.Error("expected browser cookie")
	}
	csrf := responseCookie(resp, "csrf_token")
	if csrf == nil {
		t.Fatal("expected CSRF cookie")
	}
	if !strings.Contains(bodyString(t, resp), `value="`+csrf.Value+`"`) {
		t.Error("login form should embed the CSRF token")
	}
	if resp.Header.Get("Content-Security-Policy") == "" {
		t.Error("expected Content-Security-Policy header")
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRouter_StateChangingRequestsRequireCSRF(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.AuthService = &mockAuthService{
		loginWithPasswordFn: func(ctx context.Context, browserID string, creds model.Credentials) (*model.Session, error) {
			t.Fatal("login should not be reached without a CSRF token")
			return nil, nil
		},
	}
	router := NewRouter(deps)

	for _, path := range []string{"/auth/login", "/auth/logout", "/movies", "/movies/1/delete"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, postForm(path, url.Values{"email": {"a@example.com"}, "password": {"x"}}))
		if w.Code != http.StatusForbidden {
			t.Errorf("POST %s: status = %d, want %d", path, w.Code, http.StatusForbidden)
		}
	}
}

func TestRouter_Login_FormTokenAccepted(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.AuthService = &mockAuthService{
		loginWithPasswordFn: func(ctx context.Context, browserID string, creds model.Credentials) (*model.Session, error) {
			return fullSession(), nil
		},
	}
	router := NewRouter(deps)

	req := postForm("/auth/login", url.Values{
		"email":      {"alice@example.com"},
		"password":   {"secret"},
		"csrf_token": {"form-token"},
	})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "form-token"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
}

func TestRouter_Login_RateLimited(t *testing.T) {
	deps := newTestRouterDeps(t)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		LoginRate:       rate.Every(time.Hour),
		LoginBurst:      1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)
	deps.RateLimiter = rl

	calls := 0
	deps.AuthService = &mockAuthService{
		loginWithPasswordFn: func(ctx context.Context, browserID string, creds model.Credentials) (*model.Session, error) {
			calls++
			return nil, model.NewInvalidCredentialsError()
		},
	}
	router := NewRouter(deps)

	send := func() *httptest.ResponseRecorder {
		req := withCSRF(postForm("/auth/login", url.Values{"email": {"a@example.com"}, "password": {"x"}}))
		req.AddCookie(&http.Cookie{Name: middleware.BrowserCookieName, Value: testBrowserID})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if calls != 1 {
		t.Errorf("login calls = %d, want 1", calls)
	}
}

func TestRouter_API_CORSPreflight(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/movies", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, middleware.CSRFHeaderName) {
		t.Errorf("Allow-Headers = %q, want to include %s", got, middleware.CSRFHeaderName)
	}
}

func TestRouter_API_CSRFToken(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := responseCookie(w.Result(), "csrf_token")
	if c == nil || body["token"] != c.Value {
		t.Errorf("token = %q, cookie = %+v", body["token"], c)
	}
}

func TestRouter_API_MoviesUnauthenticated(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.Movies = &mockMovieService{
		listFn: func(ctx context.Context, sess *model.Session) ([]model.Movie, error) {
			if sess == nil {
				return nil, model.NewNotAuthorizedError(nil)
			}
			return nil, nil
		},
	}
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/movies", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_API_DeleteWithHeaderToken(t *testing.T) {
	deps := newTestRouterDeps(t)
	var deleted int64
	deps.Movies = &mockMovieService{
		deleteFn: func(ctx context.Context, sess *model.Session, id int64) error {
			deleted = id
			return nil
		},
	}
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withCSRF(httptest.NewRequest(http.MethodDelete, "/api/movies/42", nil)))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != 42 {
		t.Errorf("deleted = %d, want 42", deleted)
	}
}

func TestRouter_Movies_RedirectsWithoutSession(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/movies", nil))

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
}

func TestRouter_PanicRecovered(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.Movies = &mockMovieService{
		listFn: func(ctx context.Context, sess *model.Session) ([]model.Movie, error) {
			panic("boom")
		},
	}
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/movies", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestRouter_PanicRecovered_HTMLPage(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.Movies = &mockMovieService{
		listFn: func(ctx context.Context, sess *model.Session) ([]model.Movie, error) {
			panic("boom")
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/movies", nil)
	req = withContext(req, fullSession())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}
