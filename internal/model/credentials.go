package model

import "time"

// Credentials はパスワードログインの入力値。ログイン試行の間だけ存在し、永続化しない。
type Credentials struct {
	Email    string
	Password string
}

// Provider はOAuthプロバイダーの種別。
type Provider string

const (
	// ProviderGoogle はGoogle OAuth 2.0。
	ProviderGoogle Provider = "google"
)

// ProviderIdentity はOAuthハンドシェイクで得られたプロバイダー側の識別情報とトークン。
// OAuth Exchangerが一度だけ消費し、その後は破棄される。
type ProviderIdentity struct {
	Provider             Provider
	ProviderAccountID    string
	ProviderAccessToken  string
	ProviderRefreshToken string     // 任意
	ExpiresAt            *time.Time // 任意
}

// ProviderProfile はハンドシェイク完了時にプロバイダーから取得したユーザー情報。
type ProviderProfile struct {
	Identity ProviderIdentity
	Email    string
	Name     string
}
