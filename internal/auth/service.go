// Package auth はパスワードログインとOAuthログインのフロー、バックエンドトークンの取得を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/moviecritics/internal/config"
	"github.com/hitoshi/moviecritics/internal/model"
	"github.com/hitoshi/moviecritics/internal/session"
)

// ログイン方式（メトリクスのラベル）
const (
	MethodPassword = "password"
	MethodGoogle   = "google"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// Handshake は認可コードをプロバイダートークンに交換し、ユーザー情報を取得する。
	Handshake(ctx context.Context, code string) (*model.ProviderProfile, error)
}

// Validator はパスワードログインの検証を行うインターフェース。
type Validator interface {
	Validate(ctx context.Context, creds model.Credentials) (model.BackendToken, error)
}

// Exchanger はOAuthトークン交換を行うインターフェース。
type Exchanger interface {
	Exchange(ctx context.Context, identity model.ProviderIdentity, claimedEmail string) (model.BackendToken, error)
}

// SessionStore はログインフローが使用するSession Storeの操作。
type SessionStore interface {
	Begin(ctx context.Context, browserID string) (uint64, error)
	Create(ctx context.Context, browserID string, seq uint64, id session.Identity, token model.BackendToken) (*model.Session, error)
	UpdateToken(ctx context.Context, current *model.Session, seq uint64, token model.BackendToken) (*model.Session, error)
	MarkExchangeFailed(ctx context.Context, current *model.Session, seq uint64) (*model.Session, error)
	Destroy(ctx context.Context, browserID string) error
}

// Observer はログイン結果を受け取るインターフェース。
type Observer interface {
	RecordLogin(method, result string)
	RecordExchange(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ExchangeFailurePolicy config.ExchangeFailurePolicy
	Logger                *slog.Logger
	Observer              Observer // 任意
}

// Service はログインとサインアウトのフローを組み立てる。
type Service struct {
	validator Validator
	exchanger Exchanger
	oauth     OAuthProvider // nilの場合はOAuthログイン無効
	store     SessionStore
	policy    config.ExchangeFailurePolicy
	logger    *slog.Logger
	observer  Observer
}

// NewService はServiceを生成する。oauthがnilの場合、Googleログインは無効になる。
func NewService(validator Validator, exchanger Exchanger, oauth OAuthProvider, store SessionStore, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ExchangeFailurePolicy == "" {
		cfg.ExchangeFailurePolicy = config.ExchangeFailureKeep
	}
	return &Service{
		validator: validator,
		exchanger: exchanger,
		oauth:     oauth,
		store:     store,
		policy:    cfg.ExchangeFailurePolicy,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
	}
}

// OAuthEnabled はGoogleログインが利用可能かどうかを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// LoginWithPassword はパスワードログインを行い、成功した場合は新しいセッションを返す。
// 失敗した場合、既存のセッションは変更されない。
func (s *Service) LoginWithPassword(ctx context.Context, browserID string, creds model.Credentials) (*model.Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		s.recordLogin(MethodPassword, "missing")
		return nil, model.NewMissingCredentialsError()
	}

	seq, err := s.store.Begin(ctx, browserID)
	if err != nil {
		s.recordLogin(MethodPassword, "error")
		return nil, fmt.Errorf("failed to begin password login: %w", err)
	}

	token, err := s.validator.Validate(ctx, creds)
	if err != nil {
		s.recordLogin(MethodPassword, resultFromError(err))
		return nil, err
	}

	sess, err := s.store.Create(ctx, browserID, seq, session.Identity{
		SubjectID:   creds.Email,
		Email:       creds.Email,
		DisplayName: creds.Email,
	}, token)
	if err != nil {
		s.recordLogin(MethodPassword, resultFromError(err))
		return nil, err
	}

	s.recordLogin(MethodPassword, "success")
	s.logger.Info("user logged in",
		slog.String("subject_id", sess.SubjectID),
		slog.String("method", MethodPassword),
	)
	return sess, nil
}

// GoogleLoginURL はGoogleの認証URLを返す。
func (s *Service) GoogleLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", model.NewOAuthDisabledError()
	}
	return s.oauth.GetLoginURL(state), nil
}

// GoogleLoginResult はGoogleログインの結果。
type GoogleLoginResult struct {
	// Session は確立されたセッション。teardownポリシーで交換に失敗した場合はnil。
	Session *model.Session
	// ExchangeErr はトークン交換に失敗した場合のEXCHANGE_FAILEDエラー。
	// keepポリシーではSessionは縮退状態で残る。
	ExchangeErr error
}

// CompleteGoogleLogin はOAuthコールバックを処理する。
// ハンドシェイク完了後に暫定セッションを作成し、トークン交換の結果でバックエンドトークンを上書きする。
func (s *Service) CompleteGoogleLogin(ctx context.Context, browserID, code string) (*GoogleLoginResult, error) {
	if s.oauth == nil {
		return nil, model.NewOAuthDisabledError()
	}

	profile, err := s.oauth.Handshake(ctx, code)
	if err != nil {
		s.recordLogin(MethodGoogle, "error")
		return nil, fmt.Errorf("google handshake failed: %w", err)
	}

	seq, err := s.store.Begin(ctx, browserID)
	if err != nil {
		s.recordLogin(MethodGoogle, "error")
		return nil, fmt.Errorf("failed to begin google login: %w", err)
	}

	provisional, err := s.store.Create(ctx, browserID, seq, session.Identity{
		SubjectID:   profile.Identity.ProviderAccountID,
		Email:       profile.Email,
		DisplayName: profile.Name,
	}, "")
	if err != nil {
		s.recordLogin(MethodGoogle, resultFromError(err))
		return nil, err
	}

	token, exchangeErr := s.exchanger.Exchange(ctx, profile.Identity, profile.Email)
	if exchangeErr == nil {
		s.recordExchange("success")
		sess, err := s.store.UpdateToken(ctx, provisional, seq, token)
		if err != nil {
			s.recordLogin(MethodGoogle, resultFromError(err))
			return nil, err
		}
		s.recordLogin(MethodGoogle, "success")
		s.logger.Info("user logged in",
			slog.String("subject_id", sess.SubjectID),
			slog.String("method", MethodGoogle),
		)
		return &GoogleLoginResult{Session: sess}, nil
	}

	s.recordExchange("failure")

	if s.policy == config.ExchangeFailureTeardown {
		if err := s.store.Destroy(ctx, browserID); err != nil {
			return nil, fmt.Errorf("failed to tear down session after exchange failure: %w", err)
		}
		s.recordLogin(MethodGoogle, "exchange_failed")
		s.logger.Warn("session torn down after exchange failure",
			slog.String("subject_id", provisional.SubjectID),
		)
		return &GoogleLoginResult{ExchangeErr: exchangeErr}, nil
	}

	degraded, err := s.store.MarkExchangeFailed(ctx, provisional, seq)
	if err != nil {
		s.recordLogin(MethodGoogle, resultFromError(err))
		return nil, err
	}
	s.recordLogin(MethodGoogle, "degraded")
	s.logger.Warn("user logged in without backend token",
		slog.String("subject_id", degraded.SubjectID),
		slog.String("method", MethodGoogle),
	)
	return &GoogleLoginResult{Session: degraded, ExchangeErr: exchangeErr}, nil
}

// Logout はセッションを破棄する。セッションがない場合も成功する。
func (s *Service) Logout(ctx context.Context, browserID string) error {
	if err := s.store.Destroy(ctx, browserID); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	s.logger.Info("user logged out", slog.String("browser_id", browserID))
	return nil
}

func (s *Service) recordLogin(method, result string) {
	if s.observer != nil {
		s.observer.RecordLogin(method, result)
	}
}

func (s *Service) recordExchange(result string) {
	if s.observer != nil {
		s.observer.RecordExchange(result)
	}
}

// resultFromError はエラーをメトリクスの結果ラベルに変換する。
func resultFromError(err error) string {
	switch {
	case model.HasCode(err, model.ErrCodeInvalidCredentials):
		return "invalid"
	case model.HasCode(err, model.ErrCodeNetworkFailure):
		return "network_failure"
	case model.HasCode(err, model.ErrCodeStaleSessionWrite):
		return "stale"
	default:
		return "error"
	}
}
