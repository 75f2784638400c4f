package webhook_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/chinmina/xert-bridge/internal/testhelpers"
	"github.com/chinmina/xert-bridge/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	c := webhook.New(config.HomeAssistantConfig{URL: "http://ha.local:8123/", WebhookID: "hook-1"})
	assert.Equal(t, "http://ha.local:8123/api/webhook/hook-1", c.URL())
}

func TestDeliver_Success(t *testing.T) {
	server := testhelpers.SetupMockWebhookServer(t)
	defer server.Close()

	c := webhook.New(config.HomeAssistantConfig{
		URL:       server.Server.URL,
		WebhookID: "hook-1",
		Token:     "ha-token",
	})

	payload := map[string]any{"success": true, "status": "Fresh"}
	err := c.Deliver(context.Background(), webhook.EventTrainingInfo, payload)
	require.NoError(t, err)

	deliveries := server.Deliveries()
	require.Len(t, deliveries, 1)

	d := deliveries[0]
	assert.Equal(t, "/api/webhook/hook-1", d.Path)
	assert.Equal(t, "Bearer ha-token", d.AuthHeader)
	assert.Equal(t, "training_info_update", d.EventType)
	assert.Equal(t, true, d.Data["available"])
	assert.Equal(t, map[string]any{"success": true, "status": "Fresh"}, d.Data["parsed"])
}

func TestDeliver_AvailabilityDefaultsFalse(t *testing.T) {
	server := testhelpers.SetupMockWebhookServer(t)
	defer server.Close()

	c := webhook.New(config.HomeAssistantConfig{URL: server.Server.URL, WebhookID: "hook-1"})

	err := c.Deliver(context.Background(), webhook.EventActivityList, map[string]any{"activities": []any{}})
	require.NoError(t, err)

	deliveries := server.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, false, deliveries[0].Data["available"])
	assert.Empty(t, deliveries[0].AuthHeader, "no token configured, no auth header")
}

func TestDeliver_EventPrefix(t *testing.T) {
	server := testhelpers.SetupMockWebhookServer(t)
	defer server.Close()

	c := webhook.New(config.HomeAssistantConfig{
		URL:         server.Server.URL,
		WebhookID:   "hook-1",
		EventPrefix: "xert_",
	})

	err := c.Deliver(context.Background(), webhook.EventActivityList, map[string]any{"success": true})
	require.NoError(t, err)

	deliveries := server.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "xert_activity_list_update", deliveries[0].EventType)
}

func TestDeliver_NonOKStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"created is not success", http.StatusCreated},
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testhelpers.SetupMockWebhookServer(t)
			defer server.Close()
			server.SetStatus(tt.status)

			c := webhook.New(config.HomeAssistantConfig{URL: server.Server.URL, WebhookID: "hook-1"})

			err := c.Deliver(context.Background(), webhook.EventTrainingInfo, map[string]any{"success": true})

			var deliveryErr *webhook.DeliveryError
			require.ErrorAs(t, err, &deliveryErr)
			assert.Equal(t, tt.status, deliveryErr.StatusCode)
			assert.Equal(t, "training_info_update", deliveryErr.EventType)
			assert.Equal(t, "rejected", deliveryErr.Body)
		})
	}
}

func TestDeliver_TransportError(t *testing.T) {
	server := testhelpers.SetupMockWebhookServer(t)
	url := server.Server.URL
	server.Close()

	c := webhook.New(config.HomeAssistantConfig{URL: url, WebhookID: "hook-1"})

	err := c.Deliver(context.Background(), webhook.EventTrainingInfo, map[string]any{"success": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training_info_update")
}
