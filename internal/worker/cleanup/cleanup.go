// Package cleanup は期限切れのセッションレジストリレコードの自動削除ジョブを提供する。
// サインアウト済みや有効期限を過ぎたブラウザコンテキストのレコードを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れレコードの削除を行うインターフェース。
// repository.SessionRegistryの実装が満たす。
type Purger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Observer は削除件数を受け取るインターフェース。metrics.Collectorが実装する。
type Observer interface {
	RecordRegistryCleanup(deleted int64)
}

// CleanupJob は期限切れセッションレコードの削除ジョブ。
// 冪等な削除処理であり、複数プロセスから同時に実行されても安全。
type CleanupJob struct {
	registry Purger
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。observerはnilでもよい。
func NewCleanupJob(registry Purger, logger *slog.Logger, observer Observer) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		registry: registry,
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
}

// Run は現在時刻で期限切れのレコードを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.registry.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションレジストリのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションレジストリのクリーンアップに失敗: %w", err)
	}

	if j.observer != nil {
		j.observer.RecordRegistryCleanup(deleted)
	}

	j.logger.Info("セッションレジストリのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後interval間隔でRunを繰り返す。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("セッションレジストリのクリーンアップを開始します",
		slog.Duration("interval", interval),
	)

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
