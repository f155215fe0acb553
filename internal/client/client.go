// Package client talks to the cart persistence server on behalf of a cart.Store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"payndeliver-cart/internal/middleware"
	"payndeliver-cart/internal/model"
	"payndeliver-cart/pkg/apierror"
	"payndeliver-cart/pkg/response"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Error classes. Every error returned by CartClient is marked with exactly one.
var (
	ErrNetwork    = errors.New("cart server unreachable")
	ErrValidation = errors.New("cart payload rejected")
	ErrServer     = errors.New("cart server error")
	ErrNotFound   = errors.New("cart not found")
)

const maxResponseBytes = 1 << 20

// Kind returns a short label for the class of err, for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrServer):
		return "server"
	default:
		return "unknown"
	}
}

// CartClient fetches and overwrites server cart records.
type CartClient struct {
	baseURL *url.URL
	http    *http.Client
	apiKey  string
	log     *zap.Logger
}

// Option configures a CartClient.
type Option func(*CartClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *CartClient) { cc.http = c }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(cc *CartClient) { cc.http = &http.Client{Timeout: d} }
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(cc *CartClient) { cc.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(cc *CartClient) { cc.log = log }
}

// New creates a client for the API rooted at baseURL, e.g. http://host/api.
func New(baseURL string, opts ...Option) (*CartClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cart base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid cart base url %q: scheme and host are required", baseURL)
	}

	cc := &CartClient{
		baseURL: u,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cc)
	}
	cc.log = cc.log.Named("cart-client")
	return cc, nil
}

// pushRequest is the POST /cart body.
type pushRequest struct {
	UserID   string           `json:"userId"`
	Products []model.LineItem `json:"products"`
	Total    decimal.Decimal  `json:"total"`
}

// Fetch returns the server's cart for userID. A missing record is reported
// as ErrNotFound.
func (c *CartClient) Fetch(ctx context.Context, userID string) (*model.Cart, error) {
	u := c.baseURL.JoinPath("cart", url.PathEscape(userID))
	return c.do(ctx, http.MethodGet, u, nil)
}

// Push overwrites the server's cart for userID with items.
func (c *CartClient) Push(ctx context.Context, userID string, items []model.LineItem) (*model.Cart, error) {
	if items == nil {
		items = []model.LineItem{}
	}
	body, err := json.Marshal(pushRequest{UserID: userID, Products: items, Total: model.Total(items)})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "encode cart"), ErrValidation)
	}
	return c.do(ctx, http.MethodPost, c.baseURL.JoinPath("cart"), body)
}

func (c *CartClient) do(ctx context.Context, method string, u *url.URL, body []byte) (*model.Cart, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "build request"), ErrNetwork)
	}

	_, requestID := middleware.EnsureRequestID(ctx)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(middleware.RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s %s", method, u.Path), ErrNetwork)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read %s %s response", method, u.Path), ErrNetwork)
	}

	c.log.Debug("request completed",
		zap.String("method", method),
		zap.String("path", u.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(started)))

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(method, u.Path, resp.StatusCode, raw)
	}
	return decodeCart(raw)
}

func statusError(method, path string, status int, body []byte) error {
	msg := http.StatusText(status)
	if apiErr := apierror.Parse(status, body); apiErr != nil {
		msg = apiErr.Code + ": " + apiErr.Message
	}
	err := errors.Newf("%s %s: %d %s", method, path, status, msg)

	switch {
	case status == http.StatusNotFound:
		return errors.Mark(err, ErrNotFound)
	case status >= 500:
		return errors.Mark(err, ErrServer)
	case status >= 400:
		return errors.Mark(err, ErrValidation)
	default:
		// Redirects and unexpected 2xx codes carry no cart record.
		return errors.Mark(err, ErrServer)
	}
}

// decodeCart reads a success envelope and normalizes the record it carries.
// The total is recomputed rather than trusted.
func decodeCart(body []byte) (*model.Cart, error) {
	var env response.Envelope[*model.Cart]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode cart response"), ErrValidation)
	}
	if !env.Success || env.Data == nil {
		return nil, errors.Mark(errors.New("response carries no cart"), ErrValidation)
	}
	if env.Data.Products == nil {
		return nil, errors.Mark(errors.New("response cart has no products"), ErrValidation)
	}

	items, problems := model.NormalizeItems(env.Data.Products)
	if len(problems) > 0 {
		return nil, errors.Mark(
			errors.Newf("response cart has %d invalid products, first: %s %s", len(problems), problems[0].Field, problems[0].Message),
			ErrValidation)
	}

	env.Data.Products = items
	env.Data.Total = model.Total(items)
	return env.Data, nil
}
