package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaidConfig(t *testing.T) {
	t.Run("requires credentials", func(t *testing.T) {
		config := PlaidConfig{Secret: "s"}
		assert.Error(t, config.Validate())

		config = PlaidConfig{ClientID: "c"}
		assert.Error(t, config.Validate())
	})

	t.Run("maps environments", func(t *testing.T) {
		assert.Equal(t, plaid.Sandbox, (&PlaidConfig{}).environment())
		assert.Equal(t, plaid.Production, (&PlaidConfig{Environment: "Production"}).environment())
		assert.Equal(t, plaid.Environment("http://localhost:9"), (&PlaidConfig{Environment: "http://localhost:9"}).environment())
	})
}

func TestPlaidLinker_ExchangeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/item/public_token/exchange", r.URL.Path)
		assert.Equal(t, "client-1", r.Header.Get("PLAID-CLIENT-ID"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error_type":"INVALID_INPUT","error_code":"INVALID_PUBLIC_TOKEN","error_message":"provided public token is expired","display_message":null,"request_id":"req-1"}`)
	}))
	defer server.Close()

	linker, err := NewPlaidLinker(PlaidConfig{
		ClientID:    "client-1",
		Secret:      "secret-1",
		Environment: server.URL,
	}, testLogger())
	require.NoError(t, err)

	link, err := linker.LinkAccount(context.Background(), "public-sandbox-expired")
	assert.Nil(t, link)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to exchange public token")
}

func TestPlaidLinker_CreateLinkToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/link/token/create", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Harbor Billing", body["client_name"])
		assert.Equal(t, map[string]any{"client_user_id": "cust-1"}, body["user"])
		assert.Equal(t, []any{"auth"}, body["products"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"link_token":"link-sandbox-abc","expiration":"2026-01-01T16:00:00Z","request_id":"req-2"}`)
	}))
	defer server.Close()

	linker, err := NewPlaidLinker(PlaidConfig{
		ClientID:    "client-1",
		Secret:      "secret-1",
		Environment: server.URL,
		ClientName:  "Harbor Billing",
	}, testLogger())
	require.NoError(t, err)

	token, err := linker.CreateLinkToken(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "link-sandbox-abc", token)
}

func TestPlaidLinker_CreateProcessorToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/processor/stripe/bank_account_token/create", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "access-sandbox-1", body["access_token"])
		assert.Equal(t, "acc_1", body["account_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"stripe_bank_account_token":"btok_5oEetfLzPklE1fwJZ7SG","request_id":"req-3"}`)
	}))
	defer server.Close()

	linker, err := NewPlaidLinker(PlaidConfig{
		ClientID:    "client-1",
		Secret:      "secret-1",
		Environment: server.URL,
	}, testLogger())
	require.NoError(t, err)

	token, err := linker.CreateProcessorToken(context.Background(), "access-sandbox-1", "acc_1")
	require.NoError(t, err)
	assert.Equal(t, "btok_5oEetfLzPklE1fwJZ7SG", token)
}
