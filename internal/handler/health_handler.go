package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker は依存先の疎通確認を行う。session.Storeとbackend.Clientが実装する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// GET /health
//
// セッションレジストリに到達できない場合は503を返す。
// バックエンドはbackendフィールドで報告するのみで、到達できなくても200を返す。
// backendがnilの場合はbackendフィールドを省略する。
func NewHealthHandler(registry, backend HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := registry.Ping(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}

		body := map[string]string{"status": "ok"}
		if backend != nil {
			body["backend"] = "ok"
			if err := backend.Ping(ctx); err != nil {
				slog.Warn("backend unreachable", slog.String("error", err.Error()))
				body["backend"] = "unreachable"
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}
