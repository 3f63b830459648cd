// Package mercadopago adapts the official Mercado Pago SDK to the checkout
// and payment lookups this service needs.
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// APIError carries the provider's raw response for diagnostics.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Body       string `json:"body,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	preferences preference.Client
	payments    payment.Client
}

type options struct {
	baseURL string
	base    http.RoundTripper
}

type Option func(*options)

// WithBaseURL points the SDK at another host, e.g. a sandbox proxy.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithTransport replaces the underlying transport; used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// NewClient builds SDK clients that share one oauth2 bearer-token HTTP
// client.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	o := options{baseURL: DefaultBaseURL, base: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}
	if o.baseURL == "" {
		o.baseURL = DefaultBaseURL
	}
	target, err := url.Parse(o.baseURL)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: invalid base url: %w", err)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Transport: &rewriteTransport{target: target, next: o.base},
	})
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	hc.Timeout = 20 * time.Second

	cfg, err := config.New(accessToken, config.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("mercadopago: %w", err)
	}
	return &Client{
		preferences: preference.NewClient(cfg),
		payments:    payment.NewClient(cfg),
	}, nil
}

func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	var in preference.Request
	if err := convert(req, &in); err != nil {
		return nil, err
	}
	resp, err := c.preferences.Create(ctx, in)
	if err != nil {
		return nil, apiError(err)
	}
	var out Preference
	if err := convert(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePreference(ctx context.Context, id string, req PreferenceRequest) (*Preference, error) {
	var in preference.Request
	if err := convert(req, &in); err != nil {
		return nil, err
	}
	resp, err := c.preferences.Update(ctx, id, in)
	if err != nil {
		return nil, apiError(err)
	}
	var out Preference
	if err := convert(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if id == "" {
		return nil, fmt.Errorf("mercadopago: empty payment id")
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "invalid payment id " + strconv.Quote(id)}
	}
	resp, err := c.payments.Get(ctx, n)
	if err != nil {
		return nil, apiError(err)
	}
	var out Payment
	if err := convert(resp, &out); err != nil {
		return nil, err
	}
	out.normalizeDates()
	return &out, nil
}

// convert moves a value between our types and the SDK's; both follow the
// REST field names.
func convert(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("mercadopago: encode: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("mercadopago: decode: %w", err)
	}
	return nil
}

func apiError(err error) error {
	var respErr *mperror.ResponseError
	if !errors.As(err, &respErr) {
		return fmt.Errorf("mercadopago: %w", err)
	}
	out := &APIError{StatusCode: respErr.StatusCode, Message: http.StatusText(respErr.StatusCode), Body: respErr.Message}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(respErr.Message), &payload) == nil && payload.Message != "" {
		out.Message = payload.Message
	}
	return out
}

// rewriteTransport sends SDK requests to the configured host and stamps an
// idempotency key on every POST.
type rewriteTransport struct {
	target *url.URL
	next   http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.URL.Path = strings.TrimRight(t.target.Path, "/") + req.URL.Path
	r.Host = t.target.Host
	if r.Method == http.MethodPost && r.Header.Get("X-Idempotency-Key") == "" {
		r.Header.Set("X-Idempotency-Key", uuid.NewString())
	}
	return t.next.RoundTrip(r)
}
