package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/moviecritics/internal/middleware"
	"github.com/hitoshi/moviecritics/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Cookie            middleware.CookieConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Sessions          middleware.SessionResolver

	// 認証
	AuthService AuthServiceInterface
	Encoder     SessionEncoder
	Gates       GateTracker

	// 映画
	Movies MovieServiceInterface

	Renderer       *Renderer
	HealthChecker  HealthChecker
	BackendChecker HealthChecker // nilの場合は/healthでバックエンドを確認しない
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → Browser → Session → CSRF
//
// /healthと/metricsはブラウザコンテキストを必要としないためチェーンの外に配置する。
// /api/*にはCORSを追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger, func(w http.ResponseWriter, r *http.Request) {
		if deps.Renderer == nil || strings.HasPrefix(r.URL.Path, "/api/") {
			middleware.WriteInternalServerError(w)
			return
		}
		deps.Renderer.RenderError(w, r, model.NewInternalError(nil))
	}))
	r.Use(middleware.NewLoggingMiddleware(logger))

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.BackendChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Encoder, deps.Gates, deps.Renderer, AuthHandlerConfig{Cookie: deps.Cookie})
	movieHandler := NewMovieHandler(deps.Movies, deps.Gates, deps.Renderer, deps.Cookie, deps.AuthService.OAuthEnabled())
	apiHandler := NewMovieAPIHandler(deps.Movies)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewBrowserMiddleware(deps.Cookie))
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Cookie))
		r.Use(middleware.NewCSRFMiddleware(deps.Cookie))

		r.Get("/", authHandler.Landing)

		// 認証ルート
		r.Route("/auth", func(r chi.Router) {
			limited := r.With(deps.RateLimiter.LoginMiddleware())
			limited.Post("/login", authHandler.Login)
			r.Get("/google/login", authHandler.GoogleLogin)
			limited.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// 映画ページ
		r.Route("/movies", func(r chi.Router) {
			r.Get("/", movieHandler.List)
			r.Post("/", movieHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/", movieHandler.Update)
				r.Get("/edit", movieHandler.Edit)
				r.Post("/delete", movieHandler.Delete)
			})
		})

		// JSON API
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.Cookie).ServeHTTP)

			r.Route("/movies", func(r chi.Router) {
				r.Get("/", apiHandler.List)
				r.Post("/", apiHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", apiHandler.Get)
					r.Put("/", apiHandler.Update)
					r.Delete("/", apiHandler.Delete)
				})
			})
		})
	})

	return r
}
