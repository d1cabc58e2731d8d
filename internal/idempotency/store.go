// Package idempotency replays the stored response of a request retried with
// the same Idempotency-Key instead of running it again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// DefaultTTL is how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency key reused for a different request")

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and must run the request.
	StateNew State = iota
	// StatePending means another request holding the key is still running.
	StatePending
	// StateCompleted means a response was stored and must be replayed.
	StateCompleted
)

// Response is a stored HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Reservation is the result of Store.Reserve. Response is set for StateCompleted.
type Reservation struct {
	State    State
	Response *Response
}

// Store persists reservations and completed responses.
type Store interface {
	// Reserve claims key for fingerprint unless it is already held.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error)
	// SaveResponse completes the reservation.
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error
	// Release drops a reservation held by fingerprint so the request can be retried.
	Release(ctx context.Context, key, fingerprint string) error
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storedHeaders drops hop-by-hop and per-response headers.
func storedHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "trailer", "upgrade", "x-request-id":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
