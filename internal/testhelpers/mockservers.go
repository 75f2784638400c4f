package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Grant is a token request received by the mock Xert server.
type Grant struct {
	Type         string
	Username     string
	Password     string
	RefreshToken string
	AuthHeader   string
}

// MockXertServer simulates the Xert token endpoint and data API. All
// endpoints live below /oauth, matching the production base URL layout.
// Fields may be changed between requests; access is guarded by the mutex.
type MockXertServer struct {
	Server *httptest.Server

	mu sync.Mutex

	AccessToken  string // returned from every successful grant
	RefreshToken string // returned from successful grants; empty omits the field
	ExpiresIn    int
	CreatedAt    int64 // included in grant responses when non-zero

	PasswordStatus int // password grant status (200 if not set)
	RefreshStatus  int // refresh grant status (200 if not set)
	DataStatus     int // status for all data endpoints (200 if not set)

	TrainingInfo map[string]any
	Activities   map[string]any
	Details      map[string]map[string]any // keyed by activity path

	grants       []Grant
	dataRequests []*http.Request
}

// SetupMockXertServer creates a mock Xert server with a successful default
// configuration.
func SetupMockXertServer(t *testing.T) *MockXertServer {
	t.Helper()

	mock := &MockXertServer{
		AccessToken:    "test-access-token",
		RefreshToken:   "test-refresh-token",
		ExpiresIn:      3600,
		PasswordStatus: http.StatusOK,
		RefreshStatus:  http.StatusOK,
		DataStatus:     http.StatusOK,
		TrainingInfo: map[string]any{
			"success":   true,
			"status":    "Fresh",
			"targetXSS": map[string]any{"total": 42.5},
		},
		Activities: map[string]any{"success": true, "activities": []any{}},
		Details:    map[string]map[string]any{},
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /oauth/token", mock.handleToken)

	router.HandleFunc("GET /oauth/training_info", func(w http.ResponseWriter, r *http.Request) {
		mock.serveData(w, r, func() any { return mock.TrainingInfo })
	})

	router.HandleFunc("GET /oauth/activity", func(w http.ResponseWriter, r *http.Request) {
		mock.serveData(w, r, func() any { return mock.Activities })
	})

	router.HandleFunc("GET /oauth/activity/{path}", func(w http.ResponseWriter, r *http.Request) {
		path := r.PathValue("path")
		mock.serveData(w, r, func() any {
			detail, ok := mock.Details[path]
			if !ok {
				return nil
			}
			return detail
		})
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// APIURL is the base URL to configure clients with.
func (m *MockXertServer) APIURL() string {
	return m.Server.URL + "/oauth"
}

// Update runs fn with the mock locked, for changing responses safely.
func (m *MockXertServer) Update(fn func(m *MockXertServer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// Grants returns the token requests received so far.
func (m *MockXertServer) Grants() []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Grant(nil), m.grants...)
}

// DataRequests returns the data API requests received so far.
func (m *MockXertServer) DataRequests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.dataRequests...)
}

// Close shuts down the mock server.
func (m *MockXertServer) Close() {
	m.Server.Close()
}

func (m *MockXertServer) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	grant := Grant{
		Type:         r.PostForm.Get("grant_type"),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		AuthHeader:   r.Header.Get("Authorization"),
	}
	m.grants = append(m.grants, grant)

	status := m.PasswordStatus
	if grant.Type == "refresh_token" {
		status = m.RefreshStatus
	}
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
		return
	}

	response := map[string]any{
		"access_token": m.AccessToken,
		"token_type":   "bearer",
		"expires_in":   m.ExpiresIn,
	}
	if m.RefreshToken != "" {
		response["refresh_token"] = m.RefreshToken
	}
	if m.CreatedAt != 0 {
		response["created_at"] = m.CreatedAt
	}

	WriteJSON(w, response)
}

func (m *MockXertServer) serveData(w http.ResponseWriter, r *http.Request, body func() any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dataRequests = append(m.dataRequests, r.Clone(r.Context()))

	if m.DataStatus != http.StatusOK {
		w.WriteHeader(m.DataStatus)
		_, _ = io.WriteString(w, "upstream unavailable")
		return
	}

	payload := body()
	if payload == nil {
		http.NotFound(w, r)
		return
	}

	WriteJSON(w, payload)
}

// WebhookDelivery is one request received by the mock webhook.
type WebhookDelivery struct {
	EventType  string         `json:"event_type"`
	Data       map[string]any `json:"data"`
	AuthHeader string         `json:"-"`
	Path       string         `json:"-"`
}

// MockWebhookServer simulates the Home Assistant webhook endpoint.
type MockWebhookServer struct {
	Server *httptest.Server

	mu         sync.Mutex
	StatusCode int // HTTP status code to return (200 if not set)
	deliveries []WebhookDelivery
}

// SetupMockWebhookServer creates a mock webhook accepting any path below
// /api/webhook/.
func SetupMockWebhookServer(t *testing.T) *MockWebhookServer {
	t.Helper()

	mock := &MockWebhookServer{
		StatusCode: http.StatusOK,
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /api/webhook/{id}", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()

		var delivery WebhookDelivery
		if err := json.NewDecoder(r.Body).Decode(&delivery); err != nil {
			http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
			return
		}
		delivery.AuthHeader = r.Header.Get("Authorization")
		delivery.Path = r.URL.Path
		mock.deliveries = append(mock.deliveries, delivery)

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			_, _ = io.WriteString(w, "rejected")
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// SetStatus changes the status returned for subsequent deliveries.
func (m *MockWebhookServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCode = status
}

// Deliveries returns the requests received so far.
func (m *MockWebhookServer) Deliveries() []WebhookDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebhookDelivery(nil), m.deliveries...)
}

// Close shuts down the mock server.
func (m *MockWebhookServer) Close() {
	m.Server.Close()
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
