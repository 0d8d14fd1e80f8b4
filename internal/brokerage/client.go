package brokerage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/cache"
	"github.com/aristath/kquant-trader/internal/domain"
	"github.com/aristath/kquant-trader/internal/governor"
)

// Quote is a single current-price snapshot.
type Quote struct {
	Code      string  `json:"code"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// OHLCVBar is one daily candle.
type OHLCVBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// AccountBalance is the broker's account-level cash/equity snapshot.
type AccountBalance struct {
	Cash        float64 `json:"cash"`
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
}

// OrderType distinguishes market vs limit orders.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderAck is the broker's acknowledgement of a placed order.
type OrderAck struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	FilledPrice float64 `json:"filled_price"`
	FilledQty   float64 `json:"filled_qty"`
}

// Client is the typed facade every caller in the trading engine and
// scoring pipeline uses. Cacheable reads consult the Cache first; every
// HTTP issuance through withRetry acquires a Governor slot and then uses
// the signed transport. RefreshToken uses the plain transport and does
// not acquire a Governor slot.
type Client struct {
	transport *transport
	gov       *governor.Governor
	tokens    refresher
	c         cache.Cache
	ttls      cache.TTLs
	namespace string
	log       zerolog.Logger
}

// Config bundles everything needed to construct a Client.
type Config struct {
	PublicKey  string
	PrivateKey string
	BaseURL    string
	Namespace  string
	TTLs       cache.TTLs
}

// New constructs a brokerage Client.
func New(cfg Config, gov *governor.Governor, tokens refresher, c cache.Cache, log zerolog.Logger) *Client {
	return &Client{
		transport: newTransport(cfg.PublicKey, cfg.PrivateKey, cfg.BaseURL, log),
		gov:       gov,
		tokens:    tokens,
		c:         c,
		ttls:      cfg.TTLs,
		namespace: cfg.Namespace,
		log:       log.With().Str("component", "brokerage").Logger(),
	}
}

// GetPrice returns the current price for code, cached for ClassPrice's TTL.
func (cl *Client) GetPrice(ctx context.Context, code string) (Quote, error) {
	key := cache.Key(cl.namespace, "brokerage.get_price", code)
	var cached Quote
	if found, _ := cl.c.Get(ctx, key, &cached); found {
		return cached, nil
	}

	raw, err := withRetry(ctx, cl.log, cl.gov, cl.tokens, func(ctx context.Context, token string) (map[string]any, error) {
		return cl.transport.authorizedRequest(ctx, token, "getPrice", map[string]any{"code": code})
	})
	if err != nil {
		return Quote{}, fmt.Errorf("brokerage: get_price %s: %w", code, err)
	}

	quote, err := decodeInto[Quote](raw)
	if err != nil {
		return Quote{}, err
	}
	_ = cl.c.Set(ctx, key, quote, cl.ttls[cache.ClassPrice])
	return quote, nil
}

// GetDailyOHLCV returns the last `days` daily candles for code.
func (cl *Client) GetDailyOHLCV(ctx context.Context, code string, days int) ([]OHLCVBar, error) {
	key := cache.Key(cl.namespace, "brokerage.get_daily_ohlcv", map[string]any{"code": code, "days": days})
	var cached []OHLCVBar
	if found, _ := cl.c.Get(ctx, key, &cached); found {
		return cached, nil
	}

	raw, err := withRetry(ctx, cl.log, cl.gov, cl.tokens, func(ctx context.Context, token string) (map[string]any, error) {
		return cl.transport.authorizedRequest(ctx, token, "getOHLCV", map[string]any{"code": code, "days": days})
	})
	if err != nil {
		return nil, fmt.Errorf("brokerage: get_daily_ohlcv %s: %w", code, err)
	}

	bars, err := decodeInto[[]OHLCVBar](raw)
	if err != nil {
		return nil, err
	}
	_ = cl.c.Set(ctx, key, bars, cl.ttls[cache.ClassOHLCV])
	return bars, nil
}

// GetAccountBalance returns the broker's account summary. Never cached.
func (cl *Client) GetAccountBalance(ctx context.Context) (AccountBalance, error) {
	raw, err := withRetry(ctx, cl.log, cl.gov, cl.tokens, func(ctx context.Context, token string) (map[string]any, error) {
		return cl.transport.authorizedRequest(ctx, token, "getAccountBalance", nil)
	})
	if err != nil {
		return AccountBalance{}, fmt.Errorf("brokerage: get_account_balance: %w", err)
	}
	return decodeInto[AccountBalance](raw)
}

// GetPositions returns the broker's view of currently open positions.
func (cl *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	raw, err := withRetry(ctx, cl.log, cl.gov, cl.tokens, func(ctx context.Context, token string) (map[string]any, error) {
		return cl.transport.authorizedRequest(ctx, token, "getPositions", nil)
	})
	if err != nil {
		return nil, fmt.Errorf("brokerage: get_positions: %w", err)
	}
	return decodeInto[[]domain.Position](raw)
}

// PlaceOrder submits a new order and returns the broker's acknowledgement.
func (cl *Client) PlaceOrder(ctx context.Context, side domain.Side, code string, qty, price float64, orderType OrderType) (OrderAck, error) {
	raw, err := withRetry(ctx, cl.log, cl.gov, cl.tokens, func(ctx context.Context, token string) (map[string]any, error) {
		return cl.transport.authorizedRequest(ctx, token, "placeOrder", map[string]any{
			"side": side, "code": code, "qty": qty, "price": price, "type": orderType,
		})
	})
	if err != nil {
		return OrderAck{}, fmt.Errorf("brokerage: place_order %s %s: %w", side, code, err)
	}
	return decodeInto[OrderAck](raw)
}

// CancelOrder cancels a previously placed order.
func (cl *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := withRetry(ctx, cl.log, cl.gov, cl.tokens, func(ctx context.Context, token string) (map[string]any, error) {
		return cl.transport.authorizedRequest(ctx, token, "cancelOrder", map[string]any{"order_id": orderID})
	})
	if err != nil {
		return fmt.Errorf("brokerage: cancel_order %s: %w", orderID, err)
	}
	return nil
}

// RefreshToken implements token.Refresher against the broker's own
// refresh endpoint, issued via the plain (unauthenticated) transport.
func (cl *Client) RefreshToken(ctx context.Context) (domain.TokenState, error) {
	raw, err := cl.transport.plainRequest(ctx, "refreshToken", map[string]any{"public_key": cl.transport.publicKey})
	if err != nil {
		return domain.TokenState{}, fmt.Errorf("brokerage: refresh_token: %w", err)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := decodeMap(raw, &payload); err != nil {
		return domain.TokenState{}, err
	}

	now := time.Now()
	return domain.TokenState{
		AccessToken: payload.AccessToken,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

func decodeInto[T any](raw map[string]any) (T, error) {
	var out T
	if err := decodeMap(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func decodeMap(raw map[string]any, dest any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("brokerage: re-encode response: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("brokerage: decode response: %w", err)
	}
	return nil
}
