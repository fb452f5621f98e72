package twitch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"livewatch/internal/eventbus"
	logx "livewatch/pkg/logx"
)

// AccessToken is an app access token. Expiry is not tracked: the token is
// used until Helix rejects it.
type AccessToken struct {
	Value      string
	ObtainedAt time.Time
}

func (t AccessToken) IsZero() bool { return t.Value == "" }

// TokenEvent is published on every exchange attempt. It never carries the token.
type TokenEvent struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CredentialManager owns the single live AccessToken.
type CredentialManager struct {
	cfg   Config
	clock clockwork.Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu    sync.Mutex
	token AccessToken

	group     singleflight.Group
	exchanges atomic.Uint64
}

type CredentialOption func(*CredentialManager)

func WithClock(c clockwork.Clock) CredentialOption {
	return func(m *CredentialManager) { m.clock = c }
}

func WithBus(b eventbus.Bus) CredentialOption {
	return func(m *CredentialManager) { m.bus = b }
}

func NewCredentialManager(cfg Config, log logx.Logger, opts ...CredentialOption) *CredentialManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CredentialManager{cfg: cfg, log: log, clock: clockwork.NewRealClock(), bus: eventbus.Nop{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Acquire returns the held token, exchanging credentials when none is held.
// Concurrent callers share one exchange.
func (m *CredentialManager) Acquire(ctx context.Context) (AccessToken, error) {
	if tok := m.Current(); !tok.IsZero() {
		return tok, nil
	}
	v, err, _ := m.group.Do("token", func() (any, error) {
		if tok := m.Current(); !tok.IsZero() {
			return tok, nil
		}
		return m.exchange(ctx)
	})
	if err != nil {
		return AccessToken{}, err
	}
	return v.(AccessToken), nil
}

// Invalidate drops the held token; the next Acquire exchanges again.
func (m *CredentialManager) Invalidate() {
	m.mu.Lock()
	had := !m.token.IsZero()
	m.token = AccessToken{}
	m.mu.Unlock()
	if had {
		m.log.Info("access token invalidated")
	}
}

// Current returns the held token without exchanging.
func (m *CredentialManager) Current() AccessToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Exchanges counts completed exchange attempts.
func (m *CredentialManager) Exchanges() uint64 { return m.exchanges.Load() }

func (m *CredentialManager) exchange(ctx context.Context) (AccessToken, error) {
	m.exchanges.Add(1)
	tok, err := m.requestToken(ctx)
	ev := TokenEvent{OK: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeToken, Data: ev})
	if err != nil {
		m.log.Warn("token exchange failed", logx.Err(err))
		return AccessToken{}, err
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	m.log.Debug("access token obtained", logx.Time("obtained_at", tok.ObtainedAt))
	return tok, nil
}

func (m *CredentialManager) requestToken(ctx context.Context) (AccessToken, error) {
	if strings.TrimSpace(m.cfg.ClientID) == "" || strings.TrimSpace(m.cfg.ClientSecret) == "" {
		return AccessToken{}, &AuthError{Err: errors.New("client id and secret are required")}
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.timeout())
	defer cancel()

	client, err := m.cfg.newClient(reqCtx, "")
	if err != nil {
		return AccessToken{}, &AuthError{Err: err}
	}
	resp, err := client.RequestAppAccessToken(nil)
	if err != nil {
		if ctx.Err() != nil {
			return AccessToken{}, ctx.Err()
		}
		return AccessToken{}, &AuthError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return AccessToken{}, &AuthError{Status: resp.StatusCode, Err: upstreamError(resp.ResponseCommon)}
	}
	value := strings.TrimSpace(resp.Data.AccessToken)
	if value == "" {
		return AccessToken{}, &AuthError{Status: resp.StatusCode, Err: ErrEmptyToken}
	}
	return AccessToken{Value: value, ObtainedAt: m.clock.Now()}, nil
}
