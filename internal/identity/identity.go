// Package identity verifies bearer tokens issued by the external identity
// provider and resolves them to local accounts.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/xenking/bytekart/internal/domain/account"
)

var (
	// ErrUnauthenticated is returned for a missing, malformed, expired or
	// unverifiable token. The wrapped message says which.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the account lacks the required role.
	ErrForbidden = errors.New("admin privileges required")
)

// Config configures a Verifier. At least one of KeySet and HMACSecret must be set.
type Config struct {
	// KeySet verifies RS256 tokens.
	KeySet *KeySet
	// HMACSecret verifies HS256 tokens. Used for local runs and tests.
	HMACSecret string
	// Issuer, when set, must match the iss claim.
	Issuer string
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// Verifier checks token signatures and standard claims.
type Verifier struct {
	cfg     Config
	methods []string
	now     func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	var methods []string
	if cfg.KeySet != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if cfg.HMACSecret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("identity: no verification key configured")
	}
	return &Verifier{cfg: cfg, methods: methods, now: time.Now}, nil
}

// Verify checks the token and returns its subject, which must be a UUID.
func (v *Verifier) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(v.methods), jwt.WithoutClaimsValidation())

	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() == jwt.SigningMethodHS256.Alg() {
			return []byte(v.cfg.HMACSecret), nil
		}
		return v.cfg.KeySet.Keyfunc(ctx)(t)
	})
	if err != nil {
		return uuid.Nil, errors.Wrapf(ErrUnauthenticated, "invalid token: %v", err)
	}

	now := v.now()
	switch {
	case !claims.VerifyExpiresAt(now.Add(-v.cfg.Leeway), true):
		return uuid.Nil, errors.Wrap(ErrUnauthenticated, "token has expired")
	case !claims.VerifyNotBefore(now.Add(v.cfg.Leeway), false):
		return uuid.Nil, errors.Wrap(ErrUnauthenticated, "token is not valid yet")
	case v.cfg.Issuer != "" && !claims.VerifyIssuer(v.cfg.Issuer, true):
		return uuid.Nil, errors.Wrap(ErrUnauthenticated, "unexpected issuer")
	case claims.Subject == "":
		return uuid.Nil, errors.Wrap(ErrUnauthenticated, "sub missing")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.Wrap(ErrUnauthenticated, "sub is not a valid UUID")
	}
	return id, nil
}

// Authenticator resolves a bearer token to a local account.
type Authenticator struct {
	verifier *Verifier
	accounts account.Repository
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(v *Verifier, accounts account.Repository) *Authenticator {
	return &Authenticator{verifier: v, accounts: accounts}
}

// Authenticate verifies the Authorization header value and loads the account.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) (*account.Account, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return nil, errors.Wrap(ErrUnauthenticated, "bearer token missing")
	}
	id, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	acct, err := a.accounts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, errors.Wrap(ErrUnauthenticated, "account not registered")
		}
		return nil, errors.Wrap(err, "load account")
	}
	return acct, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authorization string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// IssueHS256 signs a token for subject with secret. Local tooling and tests
// use it to mint tokens the HS256 verifier accepts.
func IssueHS256(secret string, subject uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

type accountKey struct{}

// WithAccount returns a context carrying the authenticated account.
func WithAccount(ctx context.Context, a *account.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, a)
}

// AccountFrom returns the authenticated account stored by WithAccount.
func AccountFrom(ctx context.Context) (*account.Account, bool) {
	a, ok := ctx.Value(accountKey{}).(*account.Account)
	return a, ok && a != nil
}
