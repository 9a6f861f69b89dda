package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/moviecritics/internal/backend"
	"github.com/hitoshi/moviecritics/internal/model"
)

// LoginGateway はBackend Auth Gatewayのパスワードログインを抽象化する。
type LoginGateway interface {
	Login(ctx context.Context, req backend.LoginRequest) (*backend.LoginResponse, error)
}

// CredentialValidator はメールアドレスとパスワードをバックエンドに照会し、バックエンドトークンを得る。
// セッションの状態は変更しない。
type CredentialValidator struct {
	gateway LoginGateway
	logger  *slog.Logger
}

// NewCredentialValidator はCredentialValidatorを生成する。
func NewCredentialValidator(gateway LoginGateway, logger *slog.Logger) *CredentialValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialValidator{gateway: gateway, logger: logger}
}

// Validate は認証情報を検証する。
// 未入力の場合はバックエンドを呼ばずにMISSING_CREDENTIALSを返す。
// 2xx以外の応答、またはトークンを含まない応答はINVALID_CREDENTIALS、
// 通信失敗や不正な応答はNETWORK_FAILUREを返す。リトライは行わない。
func (v *CredentialValidator) Validate(ctx context.Context, creds model.Credentials) (model.BackendToken, error) {
	email := strings.TrimSpace(creds.Email)
	if email == "" || creds.Password == "" {
		return "", model.NewMissingCredentialsError()
	}

	resp, err := v.gateway.Login(ctx, backend.LoginRequest{Email: email, Password: creds.Password})
	if err != nil {
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			v.logger.Info("credential login rejected",
				slog.String("email", email),
				slog.Int("http_status", statusErr.StatusCode),
			)
			return "", model.NewInvalidCredentialsError()
		}
		v.logger.Warn("credential login failed",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return "", model.NewNetworkFailureError(err)
	}

	if resp == nil || resp.Token == "" {
		v.logger.Info("credential login response without token", slog.String("email", email))
		return "", model.NewInvalidCredentialsError()
	}

	return model.BackendToken(resp.Token), nil
}
