package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、subject_id（セッションがある場合）を含む。
// セッションは内側のセッションミドルウェアがlogSlotに書き込む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			slot := &logSlot{}
			r = r.WithContext(contextWithLogSlot(r.Context(), slot))

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			subjectID := slot.subjectID
			if s := SessionFromContext(r.Context()); s != nil {
				subjectID = s.SubjectID
			}
			if subjectID != "" {
				args = append(args, slog.String("subject_id", subjectID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

var logSlotContextKey = contextKey("log_slot")

// logSlot は内側のミドルウェアがリクエストログに残す値を受け渡す。
type logSlot struct {
	subjectID string
}

func contextWithLogSlot(ctx context.Context, slot *logSlot) context.Context {
	return context.WithValue(ctx, logSlotContextKey, slot)
}

func recordSubject(ctx context.Context, subjectID string) {
	if slot, ok := ctx.Value(logSlotContextKey).(*logSlot); ok {
		slot.subjectID = subjectID
	}
}
