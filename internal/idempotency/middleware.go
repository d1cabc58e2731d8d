package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bytekart/internal/identity"
)

const (
	// HeaderKey carries the client-chosen idempotency key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay is set on replayed responses.
	HeaderReplay = "X-Idempotent-Replay"

	maxKeyLength = 255
	// maxBodySize matches the request body limit of the API handlers.
	maxBodySize = 1 << 20
)

// Middleware guards requests carrying an Idempotency-Key header. Requests
// without the header pass through. It must run after authentication: keys are
// scoped to the authenticated account.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	ttl = ttlOrDefault(ttl)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			lg := zctx.From(ctx)
			if len(key) > maxKeyLength {
				writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
				return
			}

			body, err := readBody(w, r)
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			case err != nil:
				writeError(w, http.StatusBadRequest, "Unable to read request body")
				return
			}
			owner := requester(r)
			scoped := owner + "|" + key
			fingerprint := requestFingerprint(r, body, owner)

			res, err := store.Reserve(ctx, scoped, fingerprint, ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used for a different request")
				return
			case err != nil:
				lg.Error("Reserve idempotency key", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			switch res.State {
			case StateCompleted:
				replay(w, res.Response)
				return
			case StatePending:
				writeError(w, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
				return
			}

			rec := &recorder{header: http.Header{}}
			next.ServeHTTP(rec, r)

			if rec.statusCode() < 200 || rec.statusCode() > 299 {
				// Failed attempts may be retried with the same key.
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					lg.Warn("Release idempotency key", zap.Error(err))
				}
			} else if err := store.SaveResponse(ctx, scoped, fingerprint, rec.response(), ttl); err != nil {
				lg.Error("Save idempotent response", zap.Error(err))
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					lg.Warn("Release idempotency key", zap.Error(err))
				}
			}
			rec.flush(w)
		})
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requester(r *http.Request) string {
	if a, ok := identity.AccountFrom(r.Context()); ok {
		return a.ID.String()
	}
	return "anonymous"
}

func requestFingerprint(r *http.Request, body []byte, owner string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(owner)
	b.WriteByte('|')
	b.WriteString(sha256Hex(body))
	return sha256Hex([]byte(b.String()))
}

func replay(w http.ResponseWriter, resp *Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(HeaderReplay, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) response() Response {
	return Response{Status: r.statusCode(), Headers: r.header.Clone(), Body: r.body.Bytes()}
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.statusCode())
	_, _ = w.Write(r.body.Bytes())
}
