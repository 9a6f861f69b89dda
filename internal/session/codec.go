package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/moviecritics/internal/model"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer = "moviecritics"

	signingInfo = "moviecritics session signing key"
	sealingInfo = "moviecritics session sealing key"

	minSecretLength = 32
)

// ErrInvalidSession は署名、有効期限、形式のいずれかが不正なセッションCookieのエラー。
var ErrInvalidSession = errors.New("invalid session cookie")

// claims はセッションCookieのJWTクレーム。
// バックエンドトークンは暗号化した上でatに格納する。
type claims struct {
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	BrowserID      string `json:"bid"`
	Seq            uint64 `json:"seq"`
	SealedToken    string `json:"at,omitempty"`
	ExchangeFailed bool   `json:"xf,omitempty"`
	jwt.RegisteredClaims
}

// Codec はセッションを署名付きCookie値に変換する。
// 署名鍵と暗号鍵はシークレットからHKDFで導出する。
type Codec struct {
	signingKey []byte
	aead       cipher.AEAD
	now        func() time.Time
}

// NewCodec はCodecを生成する。secretは32バイト以上が必要。
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLength)
	}

	signingKey, err := deriveKey(secret, signingInfo, 32)
	if err != nil {
		return nil, err
	}
	sealingKey, err := deriveKey(secret, sealingInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(sealingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &Codec{
		signingKey: signingKey,
		aead:       aead,
		now:        time.Now,
	}, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Encode はセッションをHS256で署名したJWTに変換する。
func (c *Codec) Encode(s *model.Session) (string, error) {
	sealed, err := c.seal(s)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:          s.Email,
		Name:           s.DisplayName,
		BrowserID:      s.BrowserID,
		Seq:            s.Seq,
		SealedToken:    sealed,
		ExchangeFailed: s.ExchangeFailed,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   s.SubjectID,
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// Decode は署名と有効期限を検証し、セッションを復元する。
// 検証に失敗した場合はErrInvalidSessionを返す。
func (c *Codec) Decode(raw string) (*model.Session, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl,
		func(t *jwt.Token) (any, error) { return c.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if cl.Subject == "" || cl.ID == "" || cl.BrowserID == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalidSession)
	}

	s := &model.Session{
		ID:             cl.ID,
		BrowserID:      cl.BrowserID,
		SubjectID:      cl.Subject,
		Email:          cl.Email,
		DisplayName:    cl.Name,
		ExchangeFailed: cl.ExchangeFailed,
		Seq:            cl.Seq,
		ExpiresAt:      cl.ExpiresAt.Time,
	}
	if cl.IssuedAt != nil {
		s.CreatedAt = cl.IssuedAt.Time
	}

	token, err := c.open(s, cl.SealedToken)
	if err != nil {
		return nil, err
	}
	s.BackendToken = token
	return s, nil
}

// seal はバックエンドトークンを暗号化する。ブラウザIDとセッションIDを追加認証データに含める。
func (c *Codec) seal(s *model.Session) (string, error) {
	if s.BackendToken == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(s.BackendToken)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(s.BackendToken), additionalData(s))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (c *Codec) open(s *model.Session, sealed string) (model.BackendToken, error) {
	if sealed == "" {
		return "", nil
	}
	b, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(b) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: malformed token claim", ErrInvalidSession)
	}
	nonce, ciphertext := b[:c.aead.NonceSize()], b[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, additionalData(s))
	if err != nil {
		return "", fmt.Errorf("%w: token claim authentication failed", ErrInvalidSession)
	}
	return model.BackendToken(plain), nil
}

func additionalData(s *model.Session) []byte {
	return []byte(s.BrowserID + "." + s.ID)
}
