package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSession_Status(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		want    AuthStatus
	}{
		{"nil", nil, AuthStatusUnauthenticated},
		{"no subject", &Session{Email: "a@b.com"}, AuthStatusUnauthenticated},
		{"identity only", &Session{SubjectID: "a@b.com", Email: "a@b.com"}, AuthStatusPartial},
		{"with token", &Session{SubjectID: "a@b.com", BackendToken: "tok123"}, AuthStatusFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}

	if s.IsExpired(now) {
		t.Error("session should not be expired before ExpiresAt")
	}
	if !s.IsExpired(now.Add(time.Minute)) {
		t.Error("session should be expired at ExpiresAt")
	}
}

func TestSession_TokenPreview(t *testing.T) {
	tests := []struct {
		token BackendToken
		want  string
	}{
		{"", "-"},
		{"tok123", "tok123"},
		{"abcdefgh12345678ZZZZ", "abcdefgh...5678ZZZZ"},
	}

	for _, tt := range tests {
		s := &Session{SubjectID: "x", BackendToken: tt.token}
		if got := s.TokenPreview(); got != tt.want {
			t.Errorf("TokenPreview(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestHasCode_WrappedAPIError(t *testing.T) {
	err := fmt.Errorf("login failed: %w", NewInvalidCredentialsError())

	if !HasCode(err, ErrCodeInvalidCredentials) {
		t.Error("expected HasCode to find INVALID_CREDENTIALS")
	}
	if HasCode(err, ErrCodeNetworkFailure) {
		t.Error("expected HasCode to reject NETWORK_FAILURE")
	}
	if HasCode(errors.New("plain"), ErrCodeInvalidCredentials) {
		t.Error("plain error should not match any code")
	}
}

func TestAPIError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkFailureError(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}
