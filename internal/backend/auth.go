package backend

import (
	"context"
	"net/http"
)

// LoginRequest はPOST /api/Auth/loginのリクエストボディ。
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleLoginRequest はPOST /api/Auth/googleのリクエストボディ。
// ExpiresInはプロバイダートークンの有効期限（UNIX秒）。不明な場合は0。
// RefreshTokenはプロバイダーが返さなかった場合も空文字として必ず送る。
type GoogleLoginRequest struct {
	Email        string `json:"email"`
	GoogleID     string `json:"googleId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// LoginResponse はログイン系エンドポイントのレスポンス。
type LoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email,omitempty"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/Auth/login
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, "login", http.MethodPost, "/api/Auth/login", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangeGoogle はGoogleの識別情報とトークンをバックエンドのトークンに交換する。
// POST /api/Auth/google
func (c *Client) ExchangeGoogle(ctx context.Context, req GoogleLoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, "exchange_google", http.MethodPost, "/api/Auth/google", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
