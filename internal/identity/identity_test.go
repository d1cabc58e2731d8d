package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bytekart/internal/domain/account"
)

const testSecret = "test-hmac-secret"

type jwksServer struct {
	key      *rsa.PrivateKey
	kid      string
	requests atomic.Int32
	url      string
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := &jwksServer{key: key, kid: "key-1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &s.key.PublicKey,
			KeyID:     s.kid,
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(srv.Close)
	s.url = srv.URL
	return s
}

func (s *jwksServer) sign(t *testing.T, kid string, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

func hs256(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "https://auth.example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func TestVerifier_RS256(t *testing.T) {
	srv := newJWKSServer(t)
	v, err := NewVerifier(Config{KeySet: NewKeySet(srv.url, nil), Issuer: "https://auth.example.com"})
	require.NoError(t, err)

	sub := uuid.New()
	for range 3 {
		got, err := v.Verify(context.Background(), srv.sign(t, srv.kid, validClaims(sub.String())))
		require.NoError(t, err)
		assert.Equal(t, sub, got)
	}
	assert.EqualValues(t, 1, srv.requests.Load(), "keys are cached")

	_, err = v.Verify(context.Background(), srv.sign(t, "rotated", validClaims(sub.String())))
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.EqualValues(t, 2, srv.requests.Load(), "unknown kid triggers one refresh")
}

func TestVerifier_Rejections(t *testing.T) {
	srv := newJWKSServer(t)
	v, err := NewVerifier(Config{
		KeySet:     NewKeySet(srv.url, nil),
		HMACSecret: testSecret,
		Issuer:     "https://auth.example.com",
		Leeway:     time.Minute,
	})
	require.NoError(t, err)

	sub := uuid.NewString()
	expired := validClaims(sub)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Minute))
	withinLeeway := validClaims(sub)
	withinLeeway.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-30 * time.Second))
	wrongIssuer := validClaims(sub)
	wrongIssuer.Issuer = "https://evil.example.com"
	noExpiry := validClaims(sub)
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{name: "hs256", token: hs256(t, testSecret, validClaims(sub)), ok: true},
		{name: "expired within leeway", token: hs256(t, testSecret, withinLeeway), ok: true},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong hmac secret", token: hs256(t, "other", validClaims(sub))},
		{name: "expired", token: hs256(t, testSecret, expired)},
		{name: "missing exp", token: hs256(t, testSecret, noExpiry)},
		{name: "wrong issuer", token: srv.sign(t, srv.kid, wrongIssuer)},
		{name: "missing sub", token: hs256(t, testSecret, validClaims(""))},
		{name: "sub not uuid", token: hs256(t, testSecret, validClaims("user-42"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestVerifier_HS256OnlyRejectsRS256(t *testing.T) {
	srv := newJWKSServer(t)
	v, err := NewVerifier(Config{HMACSecret: testSecret})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), srv.sign(t, srv.kid, validClaims(uuid.NewString())))
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, srv.requests.Load())
}

func TestNewVerifier_RequiresKey(t *testing.T) {
	_, err := NewVerifier(Config{})
	require.Error(t, err)
}

func TestKeySet_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := NewKeySet(srv.URL, nil).Key(context.Background(), "key-1")
	require.ErrorIs(t, err, ErrKeysUnavailable)
}

func TestMaxAge(t *testing.T) {
	assert.Equal(t, time.Hour, maxAge("public, max-age=3600"))
	assert.Equal(t, 5*time.Second, maxAge("MAX-AGE=5"))
	assert.Zero(t, maxAge("no-store"))
	assert.Zero(t, maxAge("max-age=abc"))
}

type stubAccounts map[uuid.UUID]account.Account

func (s stubAccounts) Get(_ context.Context, id uuid.UUID) (*account.Account, error) {
	a, ok := s[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return &a, nil
}

func (s stubAccounts) GetCheckoutDetails(context.Context, uuid.UUID) (*account.CheckoutDetails, error) {
	return nil, account.ErrNotFound
}

func TestAuthenticator(t *testing.T) {
	v, err := NewVerifier(Config{HMACSecret: testSecret})
	require.NoError(t, err)

	known := account.Account{ID: uuid.New(), Email: "asha@example.com", Role: account.RoleAdmin}
	auth := NewAuthenticator(v, stubAccounts{known.ID: known})

	token, err := IssueHS256(testSecret, known.ID, time.Hour)
	require.NoError(t, err)

	got, err := auth.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, known.Email, got.Email)
	assert.True(t, got.IsAdmin())

	_, err = auth.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = auth.Authenticate(context.Background(), "Basic "+token)
	require.ErrorIs(t, err, ErrUnauthenticated)

	stranger, err := IssueHS256(testSecret, uuid.New(), time.Hour)
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background(), "Bearer "+stranger)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAccountContext(t *testing.T) {
	_, ok := AccountFrom(context.Background())
	assert.False(t, ok)

	a := &account.Account{ID: uuid.New()}
	got, ok := AccountFrom(WithAccount(context.Background(), a))
	require.True(t, ok)
	assert.Same(t, a, got)
}
