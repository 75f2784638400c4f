package token

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/chinmina/xert-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore records saves without touching the filesystem.
type memoryStore struct {
	state   State
	loadErr error
	saveErr error
	saves   int
}

func (s *memoryStore) Load() (State, error) {
	return s.state, s.loadErr
}

func (s *memoryStore) Save(state State) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.state = state
	return nil
}

func newManager(t *testing.T, server *testhelpers.MockXertServer, store Store, now time.Time) *Manager {
	t.Helper()

	cfg := config.XertConfig{
		Username: "rider@example.com",
		Password: "secret",
		APIURL:   server.APIURL(),
	}

	return New(cfg, 300*time.Second, store,
		WithHTTPClient(server.Server.Client()),
		WithClock(func() time.Time { return now }),
	)
}

func TestManager_ReturnsValidTokenWithoutGrant(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	store := &memoryStore{state: State{
		AccessToken:  "cached",
		RefreshToken: "refresh",
		AccessExpiry: now.Add(time.Hour),
	}}

	m := newManager(t, server, store, now)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Empty(t, server.Grants())
	assert.Equal(t, 0, store.saves)
}

func TestManager_PasswordGrantOnFreshStart(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	store := &memoryStore{}
	m := newManager(t, server, store, now)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)

	grants := server.Grants()
	require.Len(t, grants, 1)
	assert.Equal(t, "password", grants[0].Type)
	assert.Equal(t, "rider@example.com", grants[0].Username)
	assert.Equal(t, "secret", grants[0].Password)

	expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("xert_public:xert_public"))
	assert.Equal(t, expectedAuth, grants[0].AuthHeader)

	assert.Equal(t, 1, store.saves)
	assert.Equal(t, "test-access-token", store.state.AccessToken)
	assert.Equal(t, "test-refresh-token", store.state.RefreshToken)
	assert.Equal(t, now.Add(3600*time.Second-5*time.Second), store.state.AccessExpiry)
}

func TestManager_ExpiryUsesCreatedAt(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	created := int64(1_699_999_000)
	server.Update(func(m *testhelpers.MockXertServer) {
		m.CreatedAt = created
		m.ExpiresIn = 7200
	})

	m := newManager(t, server, &memoryStore{}, time.Unix(1_700_000_000, 0))

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	expected := time.Unix(created, 0).Add(7200*time.Second - 5*time.Second)
	assert.Equal(t, expected, current(m).AccessExpiry)
}

func TestManager_RefreshPreferredOverPassword(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	store := &memoryStore{state: State{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		AccessExpiry: now.Add(time.Minute), // inside the refresh margin
	}}
	server.Update(func(m *testhelpers.MockXertServer) {
		m.AccessToken = "refreshed"
	})

	m := newManager(t, server, store, now)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok)

	grants := server.Grants()
	require.Len(t, grants, 1, "password grant must not be attempted after a successful refresh")
	assert.Equal(t, "refresh_token", grants[0].Type)
	assert.Equal(t, "old-refresh", grants[0].RefreshToken)
}

func TestManager_RefreshTokenCarriedOver(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	store := &memoryStore{state: State{RefreshToken: "keep-me"}}
	server.Update(func(m *testhelpers.MockXertServer) {
		m.RefreshToken = ""
	})

	m := newManager(t, server, store, now)

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "keep-me", current(m).RefreshToken)
	assert.Equal(t, "keep-me", store.state.RefreshToken)
}

func TestManager_FallsBackToPasswordWhenRefreshFails(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	store := &memoryStore{state: State{RefreshToken: "revoked"}}
	server.Update(func(m *testhelpers.MockXertServer) {
		m.RefreshStatus = http.StatusBadRequest
	})

	m := newManager(t, server, store, now)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)

	grants := server.Grants()
	require.Len(t, grants, 2)
	assert.Equal(t, "refresh_token", grants[0].Type)
	assert.Equal(t, "password", grants[1].Type)
}

func TestManager_BothGrantsFail(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	original := State{AccessToken: "expired", RefreshToken: "revoked", AccessExpiry: now.Add(-time.Hour)}
	store := &memoryStore{state: original}
	server.Update(func(m *testhelpers.MockXertServer) {
		m.RefreshStatus = http.StatusUnauthorized
		m.PasswordStatus = http.StatusUnauthorized
	})

	m := newManager(t, server, store, now)

	tok, err := m.Token(context.Background())
	assert.Empty(t, tok)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "401")

	assert.Equal(t, original, current(m), "failed grants must not mutate state")
	assert.Equal(t, 0, store.saves)
}

func TestManager_TransportErrorFailsGrant(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	server.Close() // nothing listening

	m := newManager(t, server, &memoryStore{}, time.Now())

	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestManager_ToleratesUnreadableStore(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	store := &memoryStore{loadErr: errors.New("corrupt")}
	m := newManager(t, server, store, time.Now())

	assert.Equal(t, State{}, current(m))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)

	grants := server.Grants()
	require.Len(t, grants, 1)
	assert.Equal(t, "password", grants[0].Type)
}

func TestManager_SaveFailureKeepsToken(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	store := &memoryStore{saveErr: errors.New("disk full")}
	m := newManager(t, server, store, time.Now())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)
	assert.Equal(t, 1, store.saves)
}

func TestManager_PersistsToFile(t *testing.T) {
	server := testhelpers.SetupMockXertServer(t)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "data", "tokens.json")
	now := time.Now()

	first := newManager(t, server, NewFileStore(path), now)
	_, err := first.Token(context.Background())
	require.NoError(t, err)

	// a second manager over the same file reuses the persisted token
	second := newManager(t, server, NewFileStore(path), now)
	tok, err := second.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)
	assert.Len(t, server.Grants(), 1)
}

func TestTokenURL(t *testing.T) {
	assert.Equal(t, "https://www.xertonline.com/oauth/token", TokenURL("https://www.xertonline.com/oauth"))
	assert.Equal(t, "https://www.xertonline.com/oauth/token", TokenURL("https://www.xertonline.com/oauth/"))
}

func current(m *Manager) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
