package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type priceQuote struct {
	Code  string  `json:"code"`
	Price float64 `json:"price"`
}

func TestTieredCache_FallbackOnlyRoundTrip(t *testing.T) {
	c := New("test-ns", nil, zerolog.Nop())
	defer c.Close()

	ctx := context.Background()
	key := Key("test-ns", "brokerage.get_price", []string{"005930"})

	require.NoError(t, c.Set(ctx, key, priceQuote{Code: "005930", Price: 71000}, time.Minute))

	var got priceQuote
	found, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "005930", got.Code)
	assert.Equal(t, 71000.0, got.Price)
}

func TestTieredCache_MissReturnsFalse(t *testing.T) {
	c := New("test-ns", nil, zerolog.Nop())
	defer c.Close()

	var got priceQuote
	found, err := c.Get(context.Background(), "nonexistent", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTieredCache_ExpiredEntryIsEvicted(t *testing.T) {
	c := New("test-ns", nil, zerolog.Nop())
	defer c.Close()

	ctx := context.Background()
	key := "expiring"
	require.NoError(t, c.Set(ctx, key, priceQuote{Code: "000660"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got priceQuote
	found, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTieredCache_FlushScopedToNamespace(t *testing.T) {
	c := New("ns-a", nil, zerolog.Nop())
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ns-a:keep-me", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "ns-b:unrelated", 2, time.Minute))

	require.NoError(t, c.Flush(ctx, "ns-a"))

	var v int
	foundA, _ := c.Get(ctx, "ns-a:keep-me", &v)
	foundB, _ := c.Get(ctx, "ns-b:unrelated", &v)
	assert.False(t, foundA)
	assert.True(t, foundB)
}

func TestKey_IsDeterministicAndSixteenHexChars(t *testing.T) {
	k1 := Key("ns", "brokerage.get_daily_ohlcv", map[string]any{"code": "005930", "days": 60})
	k2 := Key("ns", "brokerage.get_daily_ohlcv", map[string]any{"code": "005930", "days": 60})
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, len("ns:brokerage.get_daily_ohlcv:")+16)
}
