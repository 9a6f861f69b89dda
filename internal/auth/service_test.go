package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/moviecritics/internal/config"
	"github.com/hitoshi/moviecritics/internal/model"
	"github.com/hitoshi/moviecritics/internal/session"
)

// --- モック定義 ---

type mockValidator struct {
	validateFn func(ctx context.Context, creds model.Credentials) (model.BackendToken, error)
	calls      int
}

func (m *mockValidator) Validate(ctx context.Context, creds model.Credentials) (model.BackendToken, error) {
	m.calls++
	if m.validateFn != nil {
		return m.validateFn(ctx, creds)
	}
	return "", nil
}

type mockExchanger struct {
	exchangeFn func(ctx context.Context, identity model.ProviderIdentity, email string) (model.BackendToken, error)
	calls      int
}

func (m *mockExchanger) Exchange(ctx context.Context, identity model.ProviderIdentity, email string) (model.BackendToken, error) {
	m.calls++
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, identity, email)
	}
	return "", nil
}

type mockOAuthProvider struct {
	getLoginURLFn func(state string) string
	handshakeFn   func(ctx context.Context, code string) (*model.ProviderProfile, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) Handshake(ctx context.Context, code string) (*model.ProviderProfile, error) {
	if m.handshakeFn != nil {
		return m.handshakeFn(ctx, code)
	}
	return nil, nil
}

type mockObserver struct {
	mu        sync.Mutex
	logins    []string
	exchanges []string
}

func (m *mockObserver) RecordLogin(method, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, method+":"+result)
}

func (m *mockObserver) RecordExchange(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, result)
}

// --- compile-time interface checks ---
var _ Validator = (*mockValidator)(nil)
var _ Exchanger = (*mockExchanger)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ Validator = (*CredentialValidator)(nil)
var _ Exchanger = (*OAuthExchanger)(nil)
var _ SessionStore = (*session.Store)(nil)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	codec, err := session.NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return session.NewStore(session.NewMemoryRegistry(), codec, session.StoreConfig{Logger: discardLogger()})
}

func googleProfile() *model.ProviderProfile {
	expiry := time.Now().Add(time.Hour)
	return &model.ProviderProfile{
		Identity: model.ProviderIdentity{
			Provider:            model.ProviderGoogle,
			ProviderAccountID:   "google-sub-1",
			ProviderAccessToken: "ya29.provider",
			ExpiresAt:           &expiry,
		},
		Email: "user@gmail.com",
		Name:  "Google User",
	}
}

func successfulHandshake() *mockOAuthProvider {
	return &mockOAuthProvider{
		handshakeFn: func(ctx context.Context, code string) (*model.ProviderProfile, error) {
			return googleProfile(), nil
		},
	}
}

// --- テスト ---

func TestLoginWithPassword_Success_SeedsSession(t *testing.T) {
	store := newTestStore(t)
	obs := &mockObserver{}
	validator := &mockValidator{
		validateFn: func(ctx context.Context, creds model.Credentials) (model.BackendToken, error) {
			if creds.Email != "a@b.com" || creds.Password != "secret" {
				t.Errorf("unexpected credentials: %+v", creds)
			}
			return "tok123", nil
		},
	}
	svc := NewService(validator, &mockExchanger{}, nil, store, ServiceConfig{Logger: discardLogger(), Observer: obs})

	sess, err := svc.LoginWithPassword(context.Background(), "browser-1", model.Credentials{Email: "a@b.com", Password: "secret"})
	if err != nil {
		t.Fatalf("LoginWithPassword() error = %v", err)
	}

	if sess.SubjectID != "a@b.com" || sess.Email != "a@b.com" || sess.DisplayName != "a@b.com" {
		t.Errorf("session identity = %q/%q/%q, want a@b.com", sess.SubjectID, sess.Email, sess.DisplayName)
	}
	if sess.BackendToken != "tok123" {
		t.Errorf("token = %q, want tok123", sess.BackendToken)
	}
	if sess.Status() != model.AuthStatusFull {
		t.Errorf("status = %q, want fully-authenticated", sess.Status())
	}

	raw, err := store.Encode(sess)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := store.Get(context.Background(), "browser-1", raw)
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if len(obs.logins) != 1 || obs.logins[0] != "password:success" {
		t.Errorf("observed logins = %v", obs.logins)
	}
}

func TestLoginWithPassword_InvalidCredentials_LeavesSessionUntouched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seq, _ := store.Begin(ctx, "browser-1")
	existing, err := store.Create(ctx, "browser-1", seq, session.Identity{SubjectID: "old@b.com", Email: "old@b.com"}, "old-tok")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	raw, _ := store.Encode(existing)

	validator := &mockValidator{
		validateFn: func(ctx context.Context, creds model.Credentials) (model.BackendToken, error) {
			return "", model.NewInvalidCredentialsError()
		},
	}
	svc := NewService(validator, &mockExchanger{}, nil, store, ServiceConfig{Logger: discardLogger()})

	_, err = svc.LoginWithPassword(ctx, "browser-1", model.Credentials{Email: "a@b.com", Password: "wrong"})
	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("error = %v, want INVALID_CREDENTIALS", err)
	}

	got, err := store.Get(ctx, "browser-1", raw)
	if err != nil || got == nil {
		t.Fatalf("existing session should remain: %v, %v", got, err)
	}
}

func TestLoginWithPassword_InvalidCredentials_NoSession(t *testing.T) {
	store := newTestStore(t)
	validator := &mockValidator{
		validateFn: func(ctx context.Context, creds model.Credentials) (model.BackendToken, error) {
			return "", model.NewInvalidCredentialsError()
		},
	}
	obs := &mockObserver{}
	svc := NewService(validator, &mockExchanger{}, nil, store, ServiceConfig{Logger: discardLogger(), Observer: obs})

	sess, err := svc.LoginWithPassword(context.Background(), "browser-1", model.Credentials{Email: "a@b.com", Password: "wrong"})
	if sess != nil {
		t.Errorf("session = %+v, want nil", sess)
	}
	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("error = %v, want INVALID_CREDENTIALS", err)
	}
	if obs.logins[0] != "password:invalid" {
		t.Errorf("observed logins = %v", obs.logins)
	}
}

func TestLoginWithPassword_MissingCredentials_SkipsValidator(t *testing.T) {
	validator := &mockValidator{}
	svc := NewService(validator, &mockExchanger{}, nil, newTestStore(t), ServiceConfig{Logger: discardLogger()})

	_, err := svc.LoginWithPassword(context.Background(), "browser-1", model.Credentials{Email: " ", Password: "x"})
	if !model.HasCode(err, model.ErrCodeMissingCredentials) {
		t.Fatalf("error = %v, want MISSING_CREDENTIALS", err)
	}
	if validator.calls != 0 {
		t.Errorf("validator calls = %d, want 0", validator.calls)
	}
}

// 先に開始したログインが後から完了しても、新しいセッションを上書きしない。
func TestLoginWithPassword_SupersededAttempt_IsStale(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	started := make(chan struct{})

	slow := &mockValidator{
		validateFn: func(ctx context.Context, creds model.Credentials) (model.BackendToken, error) {
			close(started)
			<-release
			return "tok-slow", nil
		},
	}
	fast := &mockValidator{
		validateFn: func(ctx context.Context, creds model.Credentials) (model.BackendToken, error) {
			return "tok-fast", nil
		},
	}
	slowSvc := NewService(slow, &mockExchanger{}, nil, store, ServiceConfig{Logger: discardLogger()})
	fastSvc := NewService(fast, &mockExchanger{}, nil, store, ServiceConfig{Logger: discardLogger()})

	errCh := make(chan error, 1)
	go func() {
		_, err := slowSvc.LoginWithPassword(context.Background(), "browser-1", model.Credentials{Email: "slow@b.com", Password: "x"})
		errCh <- err
	}()
	<-started

	fastSess, err := fastSvc.LoginWithPassword(context.Background(), "browser-1", model.Credentials{Email: "fast@b.com", Password: "x"})
	if err != nil {
		t.Fatalf("fast login error = %v", err)
	}
	close(release)

	if err := <-errCh; !model.HasCode(err, model.ErrCodeStaleSessionWrite) {
		t.Fatalf("slow login error = %v, want STALE_SESSION_WRITE", err)
	}

	raw, _ := store.Encode(fastSess)
	got, err := store.Get(context.Background(), "browser-1", raw)
	if err != nil || got == nil || got.Email != "fast@b.com" {
		t.Fatalf("final session = %+v, %v; want fast@b.com", got, err)
	}
}

func TestGoogleLoginURL_Disabled(t *testing.T) {
	svc := NewService(&mockValidator{}, &mockExchanger{}, nil, newTestStore(t), ServiceConfig{Logger: discardLogger()})

	if svc.OAuthEnabled() {
		t.Error("OAuthEnabled() = true, want false")
	}
	if _, err := svc.GoogleLoginURL("state"); !model.HasCode(err, model.ErrCodeOAuthDisabled) {
		t.Errorf("error = %v, want OAUTH_DISABLED", err)
	}
	if _, err := svc.CompleteGoogleLogin(context.Background(), "browser-1", "code"); !model.HasCode(err, model.ErrCodeOAuthDisabled) {
		t.Errorf("error = %v, want OAUTH_DISABLED", err)
	}
}

func TestGoogleLoginURL_DelegatesToProvider(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := NewService(&mockValidator{}, &mockExchanger{}, provider, newTestStore(t), ServiceConfig{Logger: discardLogger()})

	url, err := svc.GoogleLoginURL("test-state")
	if err != nil {
		t.Fatalf("GoogleLoginURL() error = %v", err)
	}
	if url != "https://accounts.google.com/o/oauth2/auth?state=test-state" {
		t.Errorf("url = %q", url)
	}
}

// 交換成功時、最終的なトークンはプロバイダーのトークンではなくバックエンドのトークンになる。
func TestCompleteGoogleLogin_Success_UsesBackendToken(t *testing.T) {
	obs := &mockObserver{}
	exchanger := &mockExchanger{
		exchangeFn: func(ctx context.Context, identity model.ProviderIdentity, email string) (model.BackendToken, error) {
			if identity.ProviderAccountID != "google-sub-1" || email != "user@gmail.com" {
				t.Errorf("unexpected exchange input: %+v %q", identity, email)
			}
			return "backend-tok", nil
		},
	}
	svc := NewService(&mockValidator{}, exchanger, successfulHandshake(), newTestStore(t), ServiceConfig{Logger: discardLogger(), Observer: obs})

	result, err := svc.CompleteGoogleLogin(context.Background(), "browser-1", "code")
	if err != nil {
		t.Fatalf("CompleteGoogleLogin() error = %v", err)
	}
	if result.ExchangeErr != nil {
		t.Errorf("ExchangeErr = %v, want nil", result.ExchangeErr)
	}
	sess := result.Session
	if sess.BackendToken != "backend-tok" {
		t.Errorf("token = %q, want backend-tok", sess.BackendToken)
	}
	if sess.SubjectID != "google-sub-1" || sess.Email != "user@gmail.com" || sess.DisplayName != "Google User" {
		t.Errorf("identity = %+v", sess)
	}
	if sess.Status() != model.AuthStatusFull {
		t.Errorf("status = %q, want fully-authenticated", sess.Status())
	}
	if exchanger.calls != 1 {
		t.Errorf("exchange calls = %d, want 1", exchanger.calls)
	}
	if len(obs.exchanges) != 1 || obs.exchanges[0] != "success" {
		t.Errorf("observed exchanges = %v", obs.exchanges)
	}
}

func TestCompleteGoogleLogin_ExchangeFailure_KeepPolicy_Degraded(t *testing.T) {
	store := newTestStore(t)
	exchanger := &mockExchanger{
		exchangeFn: func(ctx context.Context, identity model.ProviderIdentity, email string) (model.BackendToken, error) {
			return "", model.NewExchangeFailedError(errors.New("400"))
		},
	}
	svc := NewService(&mockValidator{}, exchanger, successfulHandshake(), store, ServiceConfig{
		ExchangeFailurePolicy: config.ExchangeFailureKeep,
		Logger:                discardLogger(),
	})

	result, err := svc.CompleteGoogleLogin(context.Background(), "browser-1", "code")
	if err != nil {
		t.Fatalf("CompleteGoogleLogin() error = %v", err)
	}
	if !model.HasCode(result.ExchangeErr, model.ErrCodeExchangeFailed) {
		t.Errorf("ExchangeErr = %v, want EXCHANGE_FAILED", result.ExchangeErr)
	}
	sess := result.Session
	if sess == nil {
		t.Fatal("session should be kept")
	}
	if sess.Status() != model.AuthStatusPartial {
		t.Errorf("status = %q, want partially-authenticated", sess.Status())
	}
	if !sess.ExchangeFailed {
		t.Error("ExchangeFailed = false, want true")
	}
	if sess.BackendToken != "" {
		t.Errorf("token = %q, want empty (provider token must not leak)", sess.BackendToken)
	}
	if exchanger.calls != 1 {
		t.Errorf("exchange calls = %d, want 1 (no retry)", exchanger.calls)
	}

	raw, _ := store.Encode(sess)
	got, err := store.Get(context.Background(), "browser-1", raw)
	if err != nil || got == nil {
		t.Fatalf("degraded session should be retrievable: %v, %v", got, err)
	}
}

func TestCompleteGoogleLogin_ExchangeFailure_TeardownPolicy(t *testing.T) {
	store := newTestStore(t)
	exchanger := &mockExchanger{
		exchangeFn: func(ctx context.Context, identity model.ProviderIdentity, email string) (model.BackendToken, error) {
			return "", model.NewExchangeFailedError(errors.New("timeout"))
		},
	}
	svc := NewService(&mockValidator{}, exchanger, successfulHandshake(), store, ServiceConfig{
		ExchangeFailurePolicy: config.ExchangeFailureTeardown,
		Logger:                discardLogger(),
	})

	result, err := svc.CompleteGoogleLogin(context.Background(), "browser-1", "code")
	if err != nil {
		t.Fatalf("CompleteGoogleLogin() error = %v", err)
	}
	if result.Session != nil {
		t.Errorf("session = %+v, want nil", result.Session)
	}
	if !model.HasCode(result.ExchangeErr, model.ErrCodeExchangeFailed) {
		t.Errorf("ExchangeErr = %v, want EXCHANGE_FAILED", result.ExchangeErr)
	}
}

func TestCompleteGoogleLogin_HandshakeFailure_NoSession(t *testing.T) {
	provider := &mockOAuthProvider{
		handshakeFn: func(ctx context.Context, code string) (*model.ProviderProfile, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	exchanger := &mockExchanger{}
	svc := NewService(&mockValidator{}, exchanger, provider, newTestStore(t), ServiceConfig{Logger: discardLogger()})

	if _, err := svc.CompleteGoogleLogin(context.Background(), "browser-1", "bad"); err == nil {
		t.Fatal("expected error on handshake failure")
	}
	if exchanger.calls != 0 {
		t.Errorf("exchange calls = %d, want 0", exchanger.calls)
	}
}

// トークン交換中にサインアウトされた場合、遅れて届いたトークンでセッションは復活しない。
func TestCompleteGoogleLogin_LogoutDuringExchange_IsStale(t *testing.T) {
	store := newTestStore(t)
	var svc *Service
	exchanger := &mockExchanger{
		exchangeFn: func(ctx context.Context, identity model.ProviderIdentity, email string) (model.BackendToken, error) {
			if err := svc.Logout(ctx, "browser-1"); err != nil {
				t.Errorf("Logout() error = %v", err)
			}
			return "late-tok", nil
		},
	}
	svc = NewService(&mockValidator{}, exchanger, successfulHandshake(), store, ServiceConfig{Logger: discardLogger()})

	_, err := svc.CompleteGoogleLogin(context.Background(), "browser-1", "code")
	if !model.HasCode(err, model.ErrCodeStaleSessionWrite) {
		t.Fatalf("error = %v, want STALE_SESSION_WRITE", err)
	}
}

func TestLogout_Twice_NoError(t *testing.T) {
	svc := NewService(&mockValidator{}, &mockExchanger{}, nil, newTestStore(t), ServiceConfig{Logger: discardLogger()})

	if err := svc.Logout(context.Background(), "browser-1"); err != nil {
		t.Fatalf("first Logout() error = %v", err)
	}
	if err := svc.Logout(context.Background(), "browser-1"); err != nil {
		t.Fatalf("second Logout() error = %v", err)
	}
}
