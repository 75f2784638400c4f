package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Xert issues tokens to a public client; the pair is not a secret.
const (
	ClientID     = "xert_public"
	ClientSecret = "xert_public"
)

// expirySkew is subtracted from every computed expiry to absorb latency
// between the server issuing the token and us receiving it.
const expirySkew = 5 * time.Second

// ErrUnavailable is returned when neither grant produced a token.
var ErrUnavailable = errors.New("no access token available")

// Manager keeps an access token valid. When the current token is close to
// expiry it tries a refresh grant, then falls back to a password grant.
// Callers are serialized, so concurrent pollers never race a grant.
type Manager struct {
	mu    sync.Mutex
	state State

	store    Store
	oauth    oauth2.Config
	username string
	password string
	margin   time.Duration
	client   *http.Client
	now      func() time.Time
}

type Option func(*Manager)

// WithHTTPClient sets the client used for grant requests.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a Manager and loads any persisted state from the store. An
// unreadable store is logged and treated as empty: the first Token call will
// then perform a password grant.
func New(cfg config.XertConfig, margin time.Duration, store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		username: cfg.Username,
		password: cfg.Password,
		margin:   margin,
		now:      time.Now,
		oauth: oauth2.Config{
			ClientID:     ClientID,
			ClientSecret: ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  TokenURL(cfg.APIURL),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	state, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load tokens, starting without credentials")
	} else if state.AccessToken != "" || state.RefreshToken != "" {
		log.Info().Time("expiry", state.AccessExpiry).Msg("loaded persisted tokens")
	}
	m.state = state

	return m
}

// TokenURL derives the grant endpoint from the API base URL.
func TokenURL(apiURL string) string {
	return strings.TrimSuffix(apiURL, "/") + "/token"
}

// Token returns a valid access token, performing whichever grant is needed
// to obtain one. The returned error wraps ErrUnavailable.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Valid(m.now(), m.margin) {
		return m.state.AccessToken, nil
	}

	if m.state.RefreshToken != "" {
		err := m.refreshGrant(ctx)
		if err == nil {
			return m.state.AccessToken, nil
		}
		log.Warn().Err(err).Msg("token refresh failed, falling back to password grant")
	}

	err := m.passwordGrant(ctx)
	if err != nil {
		log.Error().Err(err).Msg("password grant failed")
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return m.state.AccessToken, nil
}

func (m *Manager) refreshGrant(ctx context.Context) error {
	log.Info().Msg("refreshing access token")

	// Only the refresh token is supplied, so the source always performs a
	// refresh_token grant rather than reusing the old access token.
	source := m.oauth.TokenSource(m.grantContext(ctx), &oauth2.Token{
		RefreshToken: m.state.RefreshToken,
	})

	tok, err := source.Token()
	if err != nil {
		return grantError("refresh", err)
	}

	m.replace(tok)
	log.Info().Time("expiry", m.state.AccessExpiry).Msg("token refresh successful")
	return nil
}

func (m *Manager) passwordGrant(ctx context.Context) error {
	log.Info().Msg("authenticating with password grant")

	tok, err := m.oauth.PasswordCredentialsToken(m.grantContext(ctx), m.username, m.password)
	if err != nil {
		return grantError("password", err)
	}

	m.replace(tok)
	log.Info().Time("expiry", m.state.AccessExpiry).Msg("password grant successful")
	return nil
}

// replace installs a new state from a grant response and persists it. A
// failed save is logged: the token is still usable for this process.
func (m *Manager) replace(tok *oauth2.Token) {
	issued := m.now()
	if created, ok := number(tok.Extra("created_at")); ok && created > 0 {
		issued = fromEpochSeconds(created)
	}

	expiresIn, _ := number(tok.Extra("expires_in"))

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = m.state.RefreshToken
	}

	m.state = State{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		AccessExpiry: issued.Add(time.Duration(expiresIn * float64(time.Second))).Add(-expirySkew),
	}

	if err := m.store.Save(m.state); err != nil {
		log.Error().Err(err).Msg("failed to persist tokens")
		return
	}
	log.Debug().Msg("saved tokens")
}

func (m *Manager) grantContext(ctx context.Context) context.Context {
	if m.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

// grantError adds the response status and a body excerpt when the token
// endpoint rejected the request.
func grantError(grant string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return fmt.Errorf("%s grant rejected: %d - %s", grant, rerr.Response.StatusCode, excerpt(rerr.Body))
	}
	return fmt.Errorf("%s grant failed: %w", grant, err)
}

func excerpt(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen])
	}
	return string(body)
}

// number reads a numeric field from the raw token response, which may be a
// JSON number or a numeric string.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
