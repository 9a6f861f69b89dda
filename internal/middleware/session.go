// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/moviecritics/internal/model"
)

const (
	// BrowserCookieName はブラウザコンテキストを識別するCookieの名前。
	BrowserCookieName = "mc_browser"
	// SessionCookieName は署名済みセッショントークンを保持するCookieの名前。
	SessionCookieName = "mc_session"

	browserCookieMaxAge = 365 * 24 * time.Hour
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	browserIDContextKey  = contextKey("browser_id")
	sessionContextKey    = contextKey("session")
	sessionErrContextKey = contextKey("session_error")
	csrfTokenContextKey  = contextKey("csrf_token")
)

// CookieConfig はミドルウェアとハンドラーが発行するCookieの共通属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// SessionResolver はセッションCookieの検証に必要なインターフェース。
// session.Storeが実装する。
type SessionResolver interface {
	Get(ctx context.Context, browserID, raw string) (*model.Session, error)
}

// NewBrowserMiddleware はブラウザコンテキストIDをCookieから読み取り、
// 未設定または不正な場合は新しいIDを発行するミドルウェアを返す。
func NewBrowserMiddleware(config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			browserID := ""
			if c, err := r.Cookie(BrowserCookieName); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					browserID = id.String()
				}
			}
			if browserID == "" {
				browserID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     BrowserCookieName,
					Value:    browserID,
					Path:     "/",
					Domain:   config.Domain,
					MaxAge:   int(browserCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   config.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(ContextWithBrowserID(r.Context(), browserID)))
		})
	}
}

// NewSessionMiddleware はセッションCookieを検証し、有効なセッションをコンテキストに注入する。
// 未認証でもリクエストは拒否しない。認可の判断はハンドラーとMovie Directoryが行う。
// 無効なCookieは削除する。レジストリの障害時はエラーをコンテキストに記録する。
func NewSessionMiddleware(resolver SessionResolver, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			browserID := BrowserIDFromContext(ctx)
			if browserID == "" {
				ClearSessionCookie(w, config)
				next.ServeHTTP(w, r)
				return
			}

			session, err := resolver.Get(ctx, browserID, cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("browser_id", browserID),
					slog.String("error", err.Error()),
				)
				ctx = context.WithValue(ctx, sessionErrContextKey, err)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if session == nil {
				ClearSessionCookie(w, config)
				next.ServeHTTP(w, r)
				return
			}

			recordSubject(ctx, session.SubjectID)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, session)))
		})
	}
}

// SetSessionCookie はエンコード済みセッションをCookieに設定する。
func SetSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time, config CookieConfig) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// BrowserIDFromContext はリクエストコンテキストからブラウザコンテキストIDを取得する。
// ブラウザミドルウェアを通過していない場合は空文字を返す。
func BrowserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(browserIDContextKey).(string)
	return id
}

// ContextWithBrowserID はコンテキストにブラウザコンテキストIDを注入する。
func ContextWithBrowserID(ctx context.Context, browserID string) context.Context {
	return context.WithValue(ctx, browserIDContextKey, browserID)
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// 未認証の場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionContextKey).(*model.Session)
	return s
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionErrorFromContext はセッション解決時に発生したエラーを返す。
// エラーがある場合、認証状態は未確定（loading）として扱う。
func SessionErrorFromContext(ctx context.Context) error {
	err, _ := ctx.Value(sessionErrContextKey).(error)
	return err
}
