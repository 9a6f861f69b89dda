package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/moviecritics/internal/model"
)

// PostgresSessionRegistry はPostgreSQLを使用したセッションレジストリ。
// 複数インスタンスで同じブラウザコンテキストを扱う場合もシーケンスの比較はDB上で行う。
type PostgresSessionRegistry struct {
	db *sql.DB
}

// NewPostgresSessionRegistry はPostgresSessionRegistryを生成する。
func NewPostgresSessionRegistry(db *sql.DB) *PostgresSessionRegistry {
	return &PostgresSessionRegistry{db: db}
}

// NextSeq はlatest_seqをインクリメントして返す。
func (r *PostgresSessionRegistry) NextSeq(ctx context.Context, browserID string, retainUntil time.Time) (uint64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO browser_sessions (browser_id, latest_seq, active_session_id, expires_at, updated_at)
		 VALUES ($1, 1, '', $2, now())
		 ON CONFLICT (browser_id) DO UPDATE
		 SET latest_seq = browser_sessions.latest_seq + 1,
		     expires_at = GREATEST(browser_sessions.expires_at, EXCLUDED.expires_at),
		     updated_at = now()
		 RETURNING latest_seq`,
		browserID, retainUntil,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to issue attempt sequence: %w", err)
	}
	return uint64(seq), nil
}

// Find はブラウザコンテキストのレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRegistry) Find(ctx context.Context, browserID string) (*model.SessionRecord, error) {
	var seq int64
	rec := &model.SessionRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT browser_id, latest_seq, active_session_id, expires_at
		 FROM browser_sessions
		 WHERE browser_id = $1`,
		browserID,
	).Scan(&rec.BrowserID, &seq, &rec.ActiveSessionID, &rec.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session record: %w", err)
	}

	rec.LatestSeq = uint64(seq)
	return rec, nil
}

// Commit はlatest_seqが一致する場合のみactive_session_idを更新する。
func (r *PostgresSessionRegistry) Commit(ctx context.Context, browserID string, seq uint64, sessionID string, retainUntil time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE browser_sessions
		 SET active_session_id = $3,
		     expires_at = GREATEST(expires_at, $4),
		     updated_at = now()
		 WHERE browser_id = $1 AND latest_seq = $2`,
		browserID, int64(seq), sessionID, retainUntil,
	)
	if err != nil {
		return false, fmt.Errorf("failed to commit session: %w", err)
	}
	return affectedOne(result)
}

// Adopt はレコードが存在しない場合のみCookieのセッションを登録する。
func (r *PostgresSessionRegistry) Adopt(ctx context.Context, browserID string, seq uint64, sessionID string, retainUntil time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO browser_sessions (browser_id, latest_seq, active_session_id, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (browser_id) DO NOTHING`,
		browserID, int64(seq), sessionID, retainUntil,
	)
	if err != nil {
		return false, fmt.Errorf("failed to adopt session: %w", err)
	}
	return affectedOne(result)
}

// Clear はactive_session_idを消去し、latest_seqを進める。
// レコードがない場合も作成して以降の古い書き込みを拒否できるようにする。
func (r *PostgresSessionRegistry) Clear(ctx context.Context, browserID string, retainUntil time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO browser_sessions (browser_id, latest_seq, active_session_id, expires_at, updated_at)
		 VALUES ($1, 1, '', $2, now())
		 ON CONFLICT (browser_id) DO UPDATE
		 SET latest_seq = browser_sessions.latest_seq + 1,
		     active_session_id = '',
		     expires_at = GREATEST(browser_sessions.expires_at, EXCLUDED.expires_at),
		     updated_at = now()`,
		browserID, retainUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// DeleteExpired はexpires_atを過ぎたレコードを削除する。
func (r *PostgresSessionRegistry) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired session records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// Ping はDBの疎通を確認する。
func (r *PostgresSessionRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ SessionRegistry = (*PostgresSessionRegistry)(nil)
