// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/moviecritics/internal/model"
)

// SessionRegistry はブラウザコンテキストごとのセッション状態の永続化インターフェース。
// セッション本体は署名付きCookieに保持し、レジストリは試行シーケンスと有効なセッションIDのみを管理する。
// retainUntil はレコードを保持すべき期限で、既存の期限より短くはならない。
type SessionRegistry interface {
	// NextSeq はログイン試行のシーケンス番号を採番する。レコードがなければ作成する。
	NextSeq(ctx context.Context, browserID string, retainUntil time.Time) (uint64, error)

	// Find はブラウザコンテキストのレコードを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, browserID string) (*model.SessionRecord, error)

	// Commit はLatestSeqがseqと一致する場合のみ有効なセッションIDを書き込む。
	// 適用されたかどうかを返す。
	Commit(ctx context.Context, browserID string, seq uint64, sessionID string, retainUntil time.Time) (bool, error)

	// Adopt はレコードが存在しない場合のみ、Cookieのセッションを有効なセッションとして登録する。
	Adopt(ctx context.Context, browserID string, seq uint64, sessionID string, retainUntil time.Time) (bool, error)

	// Clear は有効なセッションIDを消去し、LatestSeqを進める。進行中の試行は以降すべて失効する。
	Clear(ctx context.Context, browserID string, retainUntil time.Time) error

	// DeleteExpired はnow時点で期限切れのレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Ping はレジストリの疎通を確認する。
	Ping(ctx context.Context) error
}
