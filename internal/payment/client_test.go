package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "replate/pkg/domain-errors"
	"replate/pkg/platform/circuit"
)

func TestClientCreateAndConfirm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "2500", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "pi_123", "client_secret": "pi_123_secret", "amount": 2500, "currency": "usd", "status": "requires_payment_method",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_123":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "pi_123", "amount": 2500, "currency": "usd", "status": "succeeded",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	intent, err := c.CreateIntent(context.Background(), 2500, "USD")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Token)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)

	receipt, err := c.ConfirmIntent(context.Background(), intent.Token)
	require.NoError(t, err)
	assert.True(t, receipt.Paid())
	assert.Equal(t, "pi_123", receipt.Reference)

	_, err = c.ConfirmIntent(context.Background(), "pi_missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestClientOpensCircuitOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", WithBreaker(circuit.New("payment", circuit.WithFailureThreshold(2))))
	for i := 0; i < 2; i++ {
		_, err := c.CreateIntent(context.Background(), 100, "usd")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	}

	_, err := c.CreateIntent(context.Background(), 100, "usd")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, int32(2), calls.Load(), "open circuit short-circuits the third call")
}

func TestClientRejectsBadInput(t *testing.T) {
	c := NewClient("http://unused", "sk")
	_, err := c.CreateIntent(context.Background(), 0, "usd")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = c.ConfirmIntent(context.Background(), " ")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestFake(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	intent, err := f.CreateIntent(ctx, 2500, "USD")
	require.NoError(t, err)
	receipt, err := f.ConfirmIntent(ctx, intent.Token)
	require.NoError(t, err)
	assert.True(t, receipt.Paid())

	declined, err := f.CreateIntent(ctx, 2500, "usd")
	require.NoError(t, err)
	f.Decline(declined.Token)
	receipt, err = f.ConfirmIntent(ctx, declined.Token)
	require.NoError(t, err)
	assert.False(t, receipt.Paid())
}
