package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrKeyNotFound is returned when the key set has no key for the token's kid.
	ErrKeyNotFound = errors.New("jwks key not found")
	// ErrKeysUnavailable wraps transport and decoding failures of a key set refresh.
	ErrKeysUnavailable = errors.New("jwks fetch failed")
)

const defaultKeysTTL = 15 * time.Minute

// KeySet fetches and caches a JSON Web Key Set. Keys are refreshed when the
// cached set expires or when a token names an unknown kid.
type KeySet struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	refreshMu sync.Mutex
}

// NewKeySet creates a KeySet for url. A nil client selects a client with a
// 10 second timeout.
func NewKeySet(url string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{url: url, client: client, now: time.Now}
}

// Keyfunc resolves RS256 verification keys by kid.
func (s *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return s.Key(ctx, kid)
	}
}

// Key returns the public key for kid.
func (s *KeySet) Key(ctx context.Context, kid string) (any, error) {
	if s.expired() {
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := s.cached(kid); ok {
		return key, nil
	}
	// The issuer may have rotated keys since the last fetch.
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := s.cached(kid); ok {
		return key, nil
	}
	return nil, errors.Wrap(ErrKeyNotFound, kid)
}

func (s *KeySet) cached(kid string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jwk, ok := s.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (s *KeySet) expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys) == 0 || !s.now().Before(s.expiry)
}

func (s *KeySet) refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return errors.Wrap(ErrKeysUnavailable, err.Error())
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(ErrKeysUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrKeysUnavailable, "unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return errors.Wrapf(ErrKeysUnavailable, "decode jwks: %v", err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return errors.Wrap(ErrKeysUnavailable, "empty key set")
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultKeysTTL
	}

	s.mu.Lock()
	s.keys = keys
	s.expiry = s.now().Add(ttl)
	s.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		value, ok := strings.CutPrefix(strings.ToLower(part), "max-age=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}
