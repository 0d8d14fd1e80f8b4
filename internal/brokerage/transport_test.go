package brokerage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_AuthorizedRequest_SignsAndDecodesObject(t *testing.T) {
	var gotSig, gotPublicKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-NtApi-Sig")
		gotPublicKey = r.Header.Get("X-NtApi-PublicKey")
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "005930", "price": 71000.0})
	}))
	defer srv.Close()

	tr := newTransport("pub", "priv", srv.URL, zerolog.Nop())
	resp, err := tr.authorizedRequest(context.Background(), "token-abc", "getPrice", map[string]any{"code": "005930"})
	require.NoError(t, err)
	assert.Equal(t, "pub", gotPublicKey)
	assert.NotEmpty(t, gotSig)
	assert.Equal(t, "005930", resp["code"])
}

func TestTransport_AuthorizedRequest_WrapsArrayResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"code": "005930"}, {"code": "000660"}})
	}))
	defer srv.Close()

	tr := newTransport("pub", "priv", srv.URL, zerolog.Nop())
	resp, err := tr.authorizedRequest(context.Background(), "token-abc", "getPositions", nil)
	require.NoError(t, err)
	result, ok := resp["result"].([]any)
	require.True(t, ok)
	assert.Len(t, result, 2)
}

func TestTransport_AuthorizedRequest_NonOKStatusReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":"rate_limit","message":"slow down"}`))
	}))
	defer srv.Close()

	tr := newTransport("pub", "priv", srv.URL, zerolog.Nop())
	_, err := tr.authorizedRequest(context.Background(), "token-abc", "getPrice", nil)
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, rateLimitCode, apiErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus)
}

func TestTransport_PlainRequest_EncodesQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	}))
	defer srv.Close()

	tr := newTransport("pub", "priv", srv.URL, zerolog.Nop())
	resp, err := tr.plainRequest(context.Background(), "refreshToken", map[string]any{"public_key": "pub"})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "refreshToken")
	assert.Equal(t, "tok", resp["access_token"])
}

func TestSign_IsDeterministicAndKeyDependent(t *testing.T) {
	sigA := sign("key1", "message")
	sigB := sign("key1", "message")
	sigC := sign("key2", "message")
	assert.Equal(t, sigA, sigB)
	assert.NotEqual(t, sigA, sigC)
}
