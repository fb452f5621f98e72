package twitch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"

	logx "livewatch/pkg/logx"
)

const (
	defaultAPIBaseURL     = "https://api.twitch.tv/helix"
	defaultRequestTimeout = 15 * time.Second
)

// Config holds the app credentials and transport knobs shared by all Helix calls.
type Config struct {
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the transport (tests point it at httptest).
	HTTPClient *http.Client
	// APIBaseURL overrides the Helix base URL. Empty means production.
	APIBaseURL string

	RequestTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return c.RequestTimeout
}

func (c Config) options(token string) *helix.Options {
	base := strings.TrimSpace(c.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.timeout()}
	}
	return &helix.Options{
		ClientID:       c.ClientID,
		ClientSecret:   c.ClientSecret,
		AppAccessToken: token,
		HTTPClient:     hc,
		APIBaseURL:     base,
	}
}

// newClient builds a per-call helix client bound to ctx.
func (c Config) newClient(ctx context.Context, token string) (*helix.Client, error) {
	cl, err := helix.NewClientWithContext(ctx, c.options(token))
	if err != nil {
		return nil, fmt.Errorf("helix client: %w", err)
	}
	return cl, nil
}

// TokenSource is the part of CredentialManager that Helix calls depend on.
type TokenSource interface {
	Acquire(ctx context.Context) (AccessToken, error)
	Invalidate()
}

// API executes Helix requests with the shared token.
type API struct {
	cfg    Config
	tokens TokenSource
	log    logx.Logger
}

func NewAPI(cfg Config, tokens TokenSource, log logx.Logger) *API {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &API{cfg: cfg, tokens: tokens, log: log}
}

// call runs fn with the current token. A 401 invalidates the token and fn is
// retried exactly once with a fresh one; a second 401 surfaces as *AuthError.
func call[T any](ctx context.Context, api *API, op string, fn func(c *helix.Client) (T, helix.ResponseCommon, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		tok, err := api.tokens.Acquire(ctx)
		if err != nil {
			return zero, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, api.cfg.timeout())
		client, err := api.cfg.newClient(reqCtx, tok.Value)
		if err != nil {
			cancel()
			return zero, err
		}
		out, rc, err := fn(client)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, &NetworkError{Op: op, Err: err}
		}

		switch {
		case rc.StatusCode == http.StatusUnauthorized:
			api.tokens.Invalidate()
			if attempt == 1 {
				api.log.Debug("token rejected; retrying with a fresh token", logx.String("op", op))
				continue
			}
			return zero, &AuthError{Status: rc.StatusCode, Err: fmt.Errorf("%s: %w", op, ErrUnauthorized)}
		case rc.StatusCode/100 != 2:
			return zero, &NetworkError{Op: op, Status: rc.StatusCode, Err: upstreamError(rc)}
		}
		return out, nil
	}
}

func upstreamError(rc helix.ResponseCommon) error {
	msg := strings.TrimSpace(rc.ErrorMessage)
	if msg == "" {
		msg = strings.TrimSpace(rc.Error)
	}
	if msg == "" {
		msg = http.StatusText(rc.StatusCode)
	}
	return fmt.Errorf("upstream: %s", msg)
}
