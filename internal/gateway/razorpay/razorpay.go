// Package razorpay implements payment.Gateway against the Razorpay Orders API.
package razorpay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/bytekart/internal/domain/payment"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

// maxBodySize caps the response bodies read from the API.
const maxBodySize = 1 << 20

// Config configures a Client.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration

	TracerProvider trace.TracerProvider
	// Transport overrides the base round tripper. Tests use it to reach httptest servers.
	Transport http.RoundTripper
}

// Client is a Razorpay API client.
type Client struct {
	http      *http.Client
	baseURL   *url.URL
	keyID     string
	keySecret string
}

var _ payment.Gateway = (*Client)(nil)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base, opts...),
		},
		baseURL:   u,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
	}, nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("razorpay: status %d", e.StatusCode)
	}
	return fmt.Sprintf("razorpay: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// notFound reports whether the API rejected the lookup because the id is
// unknown. Razorpay answers unknown ids with a 400 BAD_REQUEST_ERROR, the same
// code it uses for auth and validation failures, so the description decides.
func (e *APIError) notFound() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	return e.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(e.Description), "does not exist")
}

// CreateIntent opens an order at Razorpay. Any failure is reported as
// payment.ErrGatewayUnavailable.
func (c *Client) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(req.AmountMinor)
	e.FieldStart("currency")
	e.Str(req.Currency)
	if req.Receipt != "" {
		e.FieldStart("receipt")
		e.Str(req.Receipt)
	}
	e.ObjEnd()

	body, err := c.do(ctx, http.MethodPost, "/v1/orders", e.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrGatewayUnavailable, err)
	}
	intent, err := decodeOrder(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrGatewayUnavailable, err)
	}
	return intent, nil
}

// VerifyCompletion checks the checkout signature locally with the key secret.
func (c *Client) VerifyCompletion(_ context.Context, comp payment.Completion) (bool, error) {
	return payment.VerifySignature(c.keySecret, comp)
}

// LookupIntent fetches an order. Unknown ids are reported as payment.ErrIntentNotFound.
func (c *Client) LookupIntent(ctx context.Context, gatewayOrderID string) (*payment.Intent, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(gatewayOrderID), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.notFound() {
			return nil, fmt.Errorf("%w: %w", payment.ErrIntentNotFound, err)
		}
		return nil, errors.Wrapf(err, "lookup order %s", gatewayOrderID)
	}
	return decodeOrder(body)
}

// PublicKey returns the key id used by the checkout widget.
func (c *Client) PublicKey() string {
	return c.keyID
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	u := c.baseURL.JoinPath(path)

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, data)
	}
	return data, nil
}

func decodeOrder(data []byte) (*payment.Intent, error) {
	var intent payment.Intent
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			intent.GatewayOrderID, err = d.Str()
		case "amount":
			intent.AmountMinor, err = d.Int64()
		case "currency":
			intent.Currency, err = d.Str()
		case "status":
			var s string
			s, err = d.Str()
			intent.Status = payment.IntentStatus(s)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	if intent.GatewayOrderID == "" {
		return nil, errors.New("decode order: missing id")
	}
	return &intent, nil
}

// decodeError parses {"error":{"code":...,"description":...}}. Bodies that do
// not match are ignored.
func decodeError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	_ = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				apiErr.Code, err = d.Str()
			case "description":
				apiErr.Description, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return apiErr
}
