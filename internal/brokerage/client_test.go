package brokerage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kquant-trader/internal/cache"
	"github.com/aristath/kquant-trader/internal/governor"
)

func newTestClient(t *testing.T, baseURL string, tokens refresher) *Client {
	t.Helper()
	gov := governor.New(governor.Config{Windows: []governor.Window{{Name: "per_second", Span: time.Second, Cap: 100}}}, zerolog.Nop())
	c := cache.New("test", nil, zerolog.Nop())
	t.Cleanup(c.Close)

	cl := New(Config{
		PublicKey:  "pub",
		PrivateKey: "priv",
		BaseURL:    baseURL,
		Namespace:  "test",
		TTLs:       cache.TTLs{cache.ClassPrice: time.Minute, cache.ClassOHLCV: time.Hour},
	}, gov, tokens, c, zerolog.Nop())
	return cl
}

func TestClient_GetPrice_CachesSecondCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(Quote{Code: "005930", Price: 71000, Timestamp: 1})
	}))
	defer srv.Close()

	cl := newTestClient(t, srv.URL, &fakeTokens{token: "tok"})

	q1, err := cl.GetPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, 71000.0, q1.Price)

	q2, err := cl.GetPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, q1, q2)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestClient_PlaceOrder_ReturnsAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OrderAck{OrderID: "ord-1", Status: "accepted"})
	}))
	defer srv.Close()

	cl := newTestClient(t, srv.URL, &fakeTokens{token: "tok"})
	ack, err := cl.PlaceOrder(context.Background(), "buy", "005930", 10, 71000, OrderMarket)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ack.OrderID)
}

func TestClient_RefreshToken_ParsesBrokerPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "new-token", "expires_in": 3600})
	}))
	defer srv.Close()

	cl := newTestClient(t, srv.URL, &fakeTokens{token: "tok"})
	state, err := cl.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", state.AccessToken)
	assert.True(t, state.ExpiresAt.After(state.IssuedAt))
}
