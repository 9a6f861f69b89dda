package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/moviecritics/internal/backend"
	"github.com/hitoshi/moviecritics/internal/model"
)

// ExchangeGateway はBackend Auth GatewayのOAuthトークン交換を抽象化する。
type ExchangeGateway interface {
	ExchangeGoogle(ctx context.Context, req backend.GoogleLoginRequest) (*backend.LoginResponse, error)
}

// OAuthExchanger はプロバイダーの識別情報とトークンをバックエンドトークンに交換する。
// 1回のサインインにつき1回だけ呼ばれ、自動リトライは行わない。
type OAuthExchanger struct {
	gateway ExchangeGateway
	logger  *slog.Logger
}

// NewOAuthExchanger はOAuthExchangerを生成する。
func NewOAuthExchanger(gateway ExchangeGateway, logger *slog.Logger) *OAuthExchanger {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthExchanger{gateway: gateway, logger: logger}
}

// Exchange はプロバイダーの識別情報をバックエンドに送信し、バックエンドトークンを返す。
// 失敗応答、不正な応答、通信失敗、トークンを含まない応答はすべてEXCHANGE_FAILEDになる。
func (e *OAuthExchanger) Exchange(ctx context.Context, identity model.ProviderIdentity, claimedEmail string) (model.BackendToken, error) {
	if identity.Provider != model.ProviderGoogle {
		return "", model.NewExchangeFailedError(fmt.Errorf("unsupported provider %q", identity.Provider))
	}

	req := backend.GoogleLoginRequest{
		Email:        claimedEmail,
		GoogleID:     identity.ProviderAccountID,
		AccessToken:  identity.ProviderAccessToken,
		RefreshToken: identity.ProviderRefreshToken,
	}
	if identity.ExpiresAt != nil {
		req.ExpiresIn = identity.ExpiresAt.Unix()
	}

	resp, err := e.gateway.ExchangeGoogle(ctx, req)
	if err != nil {
		attrs := []any{
			slog.String("email", claimedEmail),
			slog.String("error", err.Error()),
		}
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			attrs = append(attrs, slog.Int("http_status", statusErr.StatusCode))
		}
		e.logger.Warn("oauth token exchange failed", attrs...)
		return "", model.NewExchangeFailedError(err)
	}

	if resp == nil || resp.Token == "" {
		e.logger.Warn("oauth token exchange returned no token", slog.String("email", claimedEmail))
		return "", model.NewExchangeFailedError(errors.New("missing token in exchange response"))
	}

	return model.BackendToken(resp.Token), nil
}
