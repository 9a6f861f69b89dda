// Package model はドメインモデルを定義する。
package model

import "time"

// BackendToken はBackend Auth Gatewayが発行する不透明なアクセストークン。
// クライアント側では構造も有効期限も解釈しない。
type BackendToken string

// AuthStatus はセッションの認証状態を表す。
type AuthStatus string

const (
	// AuthStatusUnauthenticated はセッションが存在しない状態。
	AuthStatusUnauthenticated AuthStatus = "unauthenticated"
	// AuthStatusPartial は本人確認済みだがバックエンドトークンを持たない状態。
	// OAuthトークン交換に失敗した場合に発生する。
	AuthStatusPartial AuthStatus = "partially-authenticated"
	// AuthStatusFull はバックエンドトークンを保持し、API呼び出しが可能な状態。
	AuthStatusFull AuthStatus = "fully-authenticated"
)

// Session はブラウザコンテキストごとの認証済みユーザーを表す。
// Session Storeのみが生成・更新する。
type Session struct {
	ID          string // セッションID（Cookieのjti）
	BrowserID   string
	SubjectID   string
	Email       string
	DisplayName string
	// BackendToken が空の場合、バックエンドAPIの呼び出しは許可されない。
	BackendToken BackendToken
	// ExchangeFailed はOAuthトークン交換が失敗して縮退したセッションであることを示す。
	ExchangeFailed bool
	Seq            uint64 // セッションを書き込んだログイン試行のシーケンス番号
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Status はセッションの3状態分類を返す。nilセッションはunauthenticated。
func (s *Session) Status() AuthStatus {
	if s == nil || s.SubjectID == "" {
		return AuthStatusUnauthenticated
	}
	if s.BackendToken == "" {
		return AuthStatusPartial
	}
	return AuthStatusFull
}

// IsExpired は指定時刻でセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenPreview はアクセストークンの表示用プレビューを返す。
// 16文字を超える場合は先頭8文字と末尾8文字のみ表示する。
func (s *Session) TokenPreview() string {
	if s == nil || s.BackendToken == "" {
		return "-"
	}
	t := string(s.BackendToken)
	if len(t) > 16 {
		return t[:8] + "..." + t[len(t)-8:]
	}
	return t
}

// SessionRecord はブラウザコンテキストごとのセッションレジストリの状態を表す。
// LatestSeqは最後に開始されたログイン試行、ActiveSessionIDは有効なセッションのID（なければ空）。
type SessionRecord struct {
	BrowserID       string
	LatestSeq       uint64
	ActiveSessionID string
	ExpiresAt       time.Time // この時刻を過ぎたレコードは削除対象
}
