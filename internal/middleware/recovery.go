package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicResponder はpanic回復後のレスポンスを書き込む。
type PanicResponder func(w http.ResponseWriter, r *http.Request)

// NewRecoveryMiddleware はハンドラーのpanicを回復してログに記録し、respondでレスポンスを返す。
// respondがnilの場合はJSONの500レスポンスを返す。
// http.ErrAbortHandlerは回復せずに再送出する。
func NewRecoveryMiddleware(logger *slog.Logger, respond PanicResponder) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if respond == nil {
		respond = func(w http.ResponseWriter, _ *http.Request) { WriteInternalServerError(w) }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				respond(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
