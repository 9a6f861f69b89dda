// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/moviecritics/internal/auth"
	"github.com/hitoshi/moviecritics/internal/gate"
	"github.com/hitoshi/moviecritics/internal/middleware"
	"github.com/hitoshi/moviecritics/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	OAuthEnabled() bool
	LoginWithPassword(ctx context.Context, browserID string, creds model.Credentials) (*model.Session, error)
	GoogleLoginURL(state string) (string, error)
	CompleteGoogleLogin(ctx context.Context, browserID, code string) (*auth.GoogleLoginResult, error)
	Logout(ctx context.Context, browserID string) error
}

// SessionEncoder はセッションをCookie値にエンコードする。session.Storeが実装する。
type SessionEncoder interface {
	Encode(sess *model.Session) (string, error)
}

// GateTracker はブラウザコンテキストごとのSession Gateを管理する。gate.Trackerが実装する。
type GateTracker interface {
	Resolve(browserID string, status model.AuthStatus) gate.Transition
	Reset(browserID string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie middleware.CookieConfig
}

// AuthHandler はランディングページとログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	encoder  SessionEncoder
	gates    GateTracker
	renderer *Renderer
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, encoder SessionEncoder, gates GateTracker, renderer *Renderer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		encoder:  encoder,
		gates:    gates,
		renderer: renderer,
		config:   config,
	}
}

// Landing はSession Gateの状態に応じてランディングページを表示する。
// GET /
// authenticatedに遷移した最初の1回だけ/moviesへリダイレクトする。
func (h *AuthHandler) Landing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	browserID := middleware.BrowserIDFromContext(ctx)

	// レジストリ障害時は状態を確定させず、loadingのまま再読み込みを促す
	state := gate.StateLoading
	if middleware.SessionErrorFromContext(ctx) == nil {
		sess := middleware.SessionFromContext(ctx)
		tr := h.gates.Resolve(browserID, sess.Status())
		if tr.EnteredAuthenticated() {
			if !sess.ExchangeFailed {
				setFlash(w, h.config.Cookie, "success", LoginSuccessMessage)
			}
			http.Redirect(w, r, "/movies", http.StatusSeeOther)
			return
		}
		state = tr.To
	}

	h.renderLanding(w, r, http.StatusOK, LandingView{
		Page:  newPage(r, "", popFlash(w, r, h.config.Cookie)),
		State: state,
	})
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	browserID := middleware.BrowserIDFromContext(ctx)
	creds := model.Credentials{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}

	sess, err := h.service.LoginWithPassword(ctx, browserID, creds)
	if err != nil {
		apiErr := middleware.AsAPIError(err)
		status := middleware.StatusForCode(apiErr.Code)
		if status >= http.StatusInternalServerError {
			slog.Error("password login failed", slog.String("error", err.Error()))
		}
		h.renderLanding(w, r, status, LandingView{
			Page:  newPage(r, "Sign in", nil),
			State: gate.StateUnauthenticated,
			Error: apiErr.Message,
			Email: creds.Email,
		})
		return
	}

	if !h.setSessionCookie(w, r, sess) {
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthEnabled() {
		h.renderer.RenderError(w, r, model.NewOAuthDisabledError())
		return
	}

	state, err := generateState()
	if err != nil {
		h.renderer.RenderError(w, r, model.NewInternalError(err))
		return
	}

	url, err := h.service.GoogleLoginURL(state)
	if err != nil {
		h.renderer.RenderError(w, r, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusFound)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		h.renderer.Render(w, http.StatusBadRequest, pageError, ErrorView{
			Page:    newPage(r, "Sign in", nil),
			Message: "Invalid sign-in state",
			Action:  "Start the Google sign-in again.",
		})
		return
	}
	h.clearStateCookie(w)

	// 2. プロバイダー側でキャンセルされた場合
	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		slog.Info("google sign-in cancelled", slog.String("reason", providerErr))
		setFlash(w, h.config.Cookie, "error", "Google sign-in was cancelled")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.renderer.Render(w, http.StatusBadRequest, pageError, ErrorView{
			Page:    newPage(r, "Sign in", nil),
			Message: "Missing authorization code",
			Action:  "Start the Google sign-in again.",
		})
		return
	}

	// 3. ハンドシェイクとトークン交換
	browserID := middleware.BrowserIDFromContext(ctx)
	result, err := h.service.CompleteGoogleLogin(ctx, browserID, code)
	if err != nil {
		if !model.HasCode(err, model.ErrCodeStaleSessionWrite) {
			slog.Error("google login failed", slog.String("error", err.Error()))
		}
		h.renderer.RenderError(w, r, err)
		return
	}

	// 4. teardownポリシーで交換に失敗した場合はログインページでエラーを表示する
	if result.Session == nil {
		middleware.ClearSessionCookie(w, h.config.Cookie)
		h.gates.Reset(browserID)
		apiErr := middleware.AsAPIError(result.ExchangeErr)
		h.renderLanding(w, r, middleware.StatusForCode(apiErr.Code), LandingView{
			Page:  newPage(r, "Sign in", nil),
			State: gate.StateUnauthenticated,
			Error: apiErr.Message,
		})
		return
	}

	if !h.setSessionCookie(w, r, result.Session) {
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	browserID := middleware.BrowserIDFromContext(r.Context())
	if err := h.service.Logout(r.Context(), browserID); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	h.gates.Reset(browserID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// meResponse はGET /auth/meのレスポンス。
type meResponse struct {
	ID             string           `json:"id"`
	Email          string           `json:"email"`
	Name           string           `json:"name,omitempty"`
	Status         model.AuthStatus `json:"status"`
	TokenPreview   string           `json:"tokenPreview"`
	ExchangeFailed bool             `json:"exchangeFailed"`
	ExpiresAt      string           `json:"expiresAt"`
}

// Me は現在のセッション情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		if err := middleware.SessionErrorFromContext(r.Context()); err != nil {
			middleware.WriteError(w, err)
			return
		}
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthorizedError(nil))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		ID:             sess.SubjectID,
		Email:          sess.Email,
		Name:           sess.DisplayName,
		Status:         sess.Status(),
		TokenPreview:   sess.TokenPreview(),
		ExchangeFailed: sess.ExchangeFailed,
		ExpiresAt:      sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandler) renderLanding(w http.ResponseWriter, r *http.Request, status int, view LandingView) {
	view.OAuthEnabled = h.service.OAuthEnabled()
	h.renderer.Render(w, status, pageLanding, view)
}

// setSessionCookie はセッションをエンコードしてCookieに設定する。失敗時はエラーページを表示してfalseを返す。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, r *http.Request, sess *model.Session) bool {
	value, err := h.encoder.Encode(sess)
	if err != nil {
		h.renderer.RenderError(w, r, model.NewInternalError(err))
		return false
	}
	middleware.SetSessionCookie(w, value, sess.ExpiresAt, h.config.Cookie)
	return true
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
