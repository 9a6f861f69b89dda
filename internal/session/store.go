// Package session はブラウザコンテキストごとのセッションの保存と取得を提供する。
// セッション本体は署名付きCookieに、有効なセッションIDと試行シーケンスはレジストリに保持する。
// すべての書き込みはログイン試行のシーケンス番号で比較され、追い越された試行の書き込みは拒否される。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/moviecritics/internal/model"
	"github.com/hitoshi/moviecritics/internal/repository"
)

// DefaultMaxAge はセッションの有効期間のデフォルト値（30日）。
const DefaultMaxAge = 30 * 24 * time.Hour

// Identity はセッションを作成する主体の識別情報。
type Identity struct {
	SubjectID   string
	Email       string
	DisplayName string
}

// StaleWriteObserver は拒否された書き込みを受け取るインターフェース。
type StaleWriteObserver interface {
	RecordStaleSessionWrite(operation string)
}

// StoreConfig はStoreの設定。
type StoreConfig struct {
	MaxAge   time.Duration // ゼロの場合はDefaultMaxAge
	Logger   *slog.Logger
	Observer StaleWriteObserver // 任意
	Now      func() time.Time   // テスト用
}

// Store はSession Store。
type Store struct {
	registry repository.SessionRegistry
	codec    *Codec
	maxAge   time.Duration
	logger   *slog.Logger
	observer StaleWriteObserver
	now      func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(registry repository.SessionRegistry, codec *Codec, config StoreConfig) *Store {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	codec.now = config.Now
	return &Store{
		registry: registry,
		codec:    codec,
		maxAge:   config.MaxAge,
		logger:   config.Logger,
		observer: config.Observer,
		now:      config.Now,
	}
}

// Begin はログイン試行を開始し、シーケンス番号を返す。
// 以降、より古いシーケンス番号による書き込みは拒否される。
func (s *Store) Begin(ctx context.Context, browserID string) (uint64, error) {
	seq, err := s.registry.NextSeq(ctx, browserID, s.now().Add(s.maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to begin sign-in attempt: %w", err)
	}
	return seq, nil
}

// Create は新しいセッションを作成し、ブラウザコンテキストの有効なセッションとして登録する。
// seqが最新の試行でない場合はSTALE_SESSION_WRITEを返し、既存のセッションは変更しない。
// tokenは空でもよく、その場合はpartially-authenticatedのセッションになる。
func (s *Store) Create(ctx context.Context, browserID string, seq uint64, id Identity, token model.BackendToken) (*model.Session, error) {
	if id.SubjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	now := s.now()
	sess := &model.Session{
		ID:           uuid.NewString(),
		BrowserID:    browserID,
		SubjectID:    id.SubjectID,
		Email:        id.Email,
		DisplayName:  id.DisplayName,
		BackendToken: token,
		Seq:          seq,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.maxAge),
	}

	ok, err := s.registry.Commit(ctx, browserID, seq, sess.ID, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		s.rejectStale("create", browserID, seq)
		return nil, model.NewStaleSessionWriteError()
	}

	s.logger.Debug("session created",
		slog.String("browser_id", browserID),
		slog.String("subject_id", sess.SubjectID),
		slog.String("status", string(sess.Status())),
	)
	return sess, nil
}

// UpdateToken はセッションのバックエンドトークンのみを置き換えたセッションを返す。
// 主体、メールアドレス、表示名、有効期限は変更しない。
// セッションが有効でないか、seqが最新でない場合はSTALE_SESSION_WRITEを返す。
func (s *Store) UpdateToken(ctx context.Context, current *model.Session, seq uint64, token model.BackendToken) (*model.Session, error) {
	if err := s.checkCurrent(ctx, "update_token", current, seq); err != nil {
		return nil, err
	}
	next := *current
	next.BackendToken = token
	next.ExchangeFailed = false
	return &next, nil
}

// MarkExchangeFailed はトークン交換に失敗したことを記録したセッションを返す。
// UpdateTokenと同じ条件で書き込みを拒否する。
func (s *Store) MarkExchangeFailed(ctx context.Context, current *model.Session, seq uint64) (*model.Session, error) {
	if err := s.checkCurrent(ctx, "mark_exchange_failed", current, seq); err != nil {
		return nil, err
	}
	next := *current
	next.BackendToken = ""
	next.ExchangeFailed = true
	return &next, nil
}

func (s *Store) checkCurrent(ctx context.Context, op string, current *model.Session, seq uint64) error {
	if current == nil {
		return fmt.Errorf("session is required")
	}
	rec, err := s.registry.Find(ctx, current.BrowserID)
	if err != nil {
		return fmt.Errorf("failed to load session record: %w", err)
	}
	if rec == nil || rec.LatestSeq != seq || rec.ActiveSessionID != current.ID {
		s.rejectStale(op, current.BrowserID, seq)
		return model.NewStaleSessionWriteError()
	}
	return nil
}

// Get はCookie値からセッションを復元する。
// Cookieが空、不正、期限切れ、またはブラウザコンテキストの有効なセッションでない場合はnilを返す。
// レジストリの参照に失敗した場合のみエラーを返す。
func (s *Store) Get(ctx context.Context, browserID, raw string) (*model.Session, error) {
	if raw == "" || browserID == "" {
		return nil, nil
	}

	sess, err := s.codec.Decode(raw)
	if err != nil {
		s.logger.Debug("session cookie rejected",
			slog.String("browser_id", browserID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if sess.BrowserID != browserID || sess.IsExpired(s.now()) {
		return nil, nil
	}

	rec, err := s.registry.Find(ctx, browserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}

	if rec == nil {
		adopted, err := s.registry.Adopt(ctx, browserID, sess.Seq, sess.ID, sess.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to adopt session: %w", err)
		}
		if adopted {
			s.logger.Info("session adopted from cookie",
				slog.String("browser_id", browserID),
				slog.String("subject_id", sess.SubjectID),
			)
			return sess, nil
		}
		// 並行する書き込みに先を越された
		if rec, err = s.registry.Find(ctx, browserID); err != nil {
			return nil, fmt.Errorf("failed to load session record: %w", err)
		}
		if rec == nil {
			return nil, nil
		}
	}

	if rec.ActiveSessionID != sess.ID {
		return nil, nil
	}
	return sess, nil
}

// Destroy はブラウザコンテキストのセッションを破棄する。
// 進行中のログイン試行も失効させる。セッションがない場合も成功する。
func (s *Store) Destroy(ctx context.Context, browserID string) error {
	if browserID == "" {
		return nil
	}
	if err := s.registry.Clear(ctx, browserID, s.now().Add(s.maxAge)); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Encode はセッションをCookie値に変換する。
func (s *Store) Encode(sess *model.Session) (string, error) {
	return s.codec.Encode(sess)
}

// Ping はレジストリの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.registry.Ping(ctx)
}

func (s *Store) rejectStale(op, browserID string, seq uint64) {
	s.logger.Warn("stale session write rejected",
		slog.String("operation", op),
		slog.String("browser_id", browserID),
		slog.Uint64("seq", seq),
	)
	if s.observer != nil {
		s.observer.RecordStaleSessionWrite(op)
	}
}
