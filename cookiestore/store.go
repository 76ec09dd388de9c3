// Package cookiestore keeps the session payload in a browser cookie. The
// payload is encrypted with XChaCha20-Poly1305 and the cookie is a signed JWT,
// so the stored tokens can't be read or altered without the secret key base.
package cookiestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keyLength        = 32
	minSecretLength  = 32
	keyDerivationTag = "identity session cookie"
	encryptionTag    = "identity session cookie encryption"
)

var (
	ErrNoSession     = errors.New("no session cookie")
	ErrInvalidCookie = errors.New("invalid session cookie")
)

// sessionClaims carries the sealed session next to the standard JWT claims.
// The jti identifies the browser session and changes on every sign-in.
type sessionClaims struct {
	Session string `json:"session"`
	jwt.RegisteredClaims
}

// Store signs session cookies with HMAC-SHA256 and seals their payload.
type Store struct {
	key        []byte
	sealKey    []byte
	cookieName string
	secure     bool
	maxAge     time.Duration
	nowTime    func() time.Time
}

type Option func(*Store)

func WithCookieName(name string) Option {
	return func(s *Store) {
		s.cookieName = name
	}
}

func WithSecure(secure bool) Option {
	return func(s *Store) {
		s.secure = secure
	}
}

func WithMaxAge(maxAge time.Duration) Option {
	return func(s *Store) {
		s.maxAge = maxAge
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// DeriveKey derives the cookie signing key from the application secret.
func DeriveKey(secretKeyBase string) ([]byte, error) {
	return deriveKey(secretKeyBase, keyDerivationTag)
}

func deriveKey(secretKeyBase, info string) ([]byte, error) {
	if len(secretKeyBase) < minSecretLength {
		return nil, autherrors.New("secret key base must be at least %d characters", minSecretLength)
	}

	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secretKeyBase), nil, []byte(info)), key); err != nil {
		return nil, autherrors.Wrapf(err, "[DeriveKey] key derivation failed")
	}
	return key, nil
}

func New(secretKeyBase string, options ...Option) (*Store, error) {
	key, err := DeriveKey(secretKeyBase)
	if err != nil {
		return nil, err
	}
	sealKey, err := deriveKey(secretKeyBase, encryptionTag)
	if err != nil {
		return nil, err
	}

	s := &Store{
		key:        key,
		sealKey:    sealKey,
		cookieName: "identity_session",
		maxAge:     30 * 24 * time.Hour,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func NewFromConfig(cfg config.CookieConfig, options ...Option) (*Store, error) {
	options = append([]Option{
		WithCookieName(cfg.GetCookieName()),
		WithSecure(cfg.GetSecureCookies()),
		WithMaxAge(cfg.GetMaxSessionAge()),
	}, options...)
	return New(cfg.GetSecretKeyBase(), options...)
}

func (s *Store) CookieName() string { return s.cookieName }

// Encode seals and signs the payload under sessionID.
func (s *Store) Encode(payload map[string]any, sessionID string) (string, error) {
	sealed, err := s.seal(payload, sessionID)
	if err != nil {
		return "", err
	}

	now := s.nowTime()
	claims := sessionClaims{
		Session: sealed,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", autherrors.Wrapf(err, "[Encode] signing failed")
	}
	return signed, nil
}

// Decode verifies a cookie value and returns the payload and session id.
func (s *Store) Decode(value string) (map[string]any, string, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.nowTime),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, "", errors.Join(ErrInvalidCookie, err)
	}
	if claims.Session == "" || claims.ID == "" {
		return nil, "", ErrInvalidCookie
	}

	payload, err := s.open(claims.Session, claims.ID)
	if err != nil {
		return nil, "", errors.Join(ErrInvalidCookie, err)
	}
	return payload, claims.ID, nil
}

// seal encrypts the JSON payload as nonce || ciphertext, bound to the session id.
func (s *Store) seal(payload map[string]any, sessionID string) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", autherrors.Wrapf(err, "[Encode] unencodable payload")
	}

	aead, err := chacha20poly1305.NewX(s.sealKey)
	if err != nil {
		return "", autherrors.Wrapf(err, "[Encode] cipher setup failed")
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", autherrors.Wrapf(err, "[Encode] nonce generation failed")
	}
	return base64.RawURLEncoding.EncodeToString(aead.Seal(nonce, nonce, plaintext, []byte(sessionID))), nil
}

func (s *Store) open(sealed, sessionID string) (map[string]any, error) {
	data, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	if len(data) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errors.New("sealed session too short")
	}

	aead, err := chacha20poly1305.NewX(s.sealKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:], []byte(sessionID))
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("empty session")
	}
	return payload, nil
}

// Read returns the stored payload and session id of the request. It returns
// ErrNoSession when the cookie is absent.
func (s *Store) Read(r *http.Request) (map[string]any, string, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, "", ErrNoSession
	}
	return s.Decode(cookie.Value)
}

// Write stores the payload under an existing session id.
func (s *Store) Write(w http.ResponseWriter, payload map[string]any, sessionID string) error {
	value, err := s.Encode(payload, sessionID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.maxAge.Seconds()),
	})
	return nil
}

// Rotate stores the payload under a new session id, so a session id seen
// before sign-in is never reused afterwards.
func (s *Store) Rotate(w http.ResponseWriter, payload map[string]any) (string, error) {
	sessionID := uuid.NewString()
	return sessionID, s.Write(w, payload, sessionID)
}

// Clear removes the session cookie.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
