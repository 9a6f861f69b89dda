package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, movie, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodeNetworkFailure     = "NETWORK_FAILURE"
	ErrCodeExchangeFailed     = "EXCHANGE_FAILED"
	ErrCodeNotAuthorized      = "NOT_AUTHORIZED"
	ErrCodeMovieNotFound      = "MOVIE_NOT_FOUND"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeStaleSessionWrite  = "STALE_SESSION_WRITE"
	ErrCodeOAuthDisabled      = "OAUTH_DISABLED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// HasCode はerrチェーンに指定コードのAPIErrorが含まれるかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidCredentialsError は認証情報不正エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "Check your email and password and try again.",
	}
}

// NewMissingCredentialsError はメールアドレスまたはパスワード未入力エラーを生成する。
func NewMissingCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredentials,
		Message:  "Email and password are required",
		Category: "validation",
		Action:   "Enter both your email and password.",
	}
}

// NewNetworkFailureError はバックエンドとの通信失敗エラーを生成する。
// 自動リトライは行わない。
func NewNetworkFailureError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkFailure,
		Message:  "Could not reach the movie service",
		Category: "system",
		Action:   "Check your connection and try again.",
		Err:      cause,
	}
}

// NewExchangeFailedError はOAuthトークン交換失敗エラーを生成する。
// 致命的ではなく、縮退セッションとして扱われる。
func NewExchangeFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeExchangeFailed,
		Message:  "Signed in with Google, but the movie service did not accept the sign-in",
		Category: "auth",
		Action:   "Retry Google sign-in to enable movie management.",
		Err:      cause,
	}
}

// NewNotAuthorizedError はバックエンドトークンなし、またはバックエンドが認可を拒否した場合のエラーを生成する。
func NewNotAuthorizedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  "You are not authorized to use the movie service",
		Category: "auth",
		Action:   "Sign in again.",
		Err:      cause,
	}
}

// NewMovieNotFoundError は映画が見つからない場合のエラーを生成する。
func NewMovieNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeMovieNotFound,
		Message:  fmt.Sprintf("Movie not found: %d", id),
		Category: "movie",
		Action:   "Reload the movie list.",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  reason,
		Category: "validation",
		Action:   "Correct the highlighted fields and submit again.",
	}
}

// NewStaleSessionWriteError は後続のログイン試行に追い越された書き込みのエラーを生成する。
func NewStaleSessionWriteError() *APIError {
	return &APIError{
		Code:     ErrCodeStaleSessionWrite,
		Message:  "A newer sign-in replaced this one",
		Category: "auth",
		Action:   "Reload the page.",
	}
}

// NewOAuthDisabledError はOAuthプロバイダー未設定時のエラーを生成する。
func NewOAuthDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthDisabled,
		Message:  "Google sign-in is not available",
		Category: "auth",
		Action:   "Sign in with your email and password.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many sign-in attempts",
		Category: "system",
		Action:   "Wait a moment and try again.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong",
		Category: "system",
		Action:   "Try again later.",
		Err:      cause,
	}
}
