package brokerage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamHeartbeatInterval = 30 * time.Second
	streamPongWait          = 45 * time.Second
	streamReconnectBackoff  = 2 * time.Second
	streamMaxReconnect      = 30 * time.Second
)

// Tick is one real-time price update pushed by the broker's feed.
type Tick struct {
	Code      string  `json:"code"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// subscribeRequest is the broker's wire format for (un)registering codes
// on an open stream connection.
type subscribeRequest struct {
	Cmd   string   `json:"cmd"`
	Codes []string `json:"codes"`
}

// SubscribeRealtime opens a websocket connection to the broker's
// real-time feed and streams ticks for codes until ctx is cancelled.
// The connection is re-established with backoff on any read error or
// missed heartbeat, and the subscription set is re-sent after every
// reconnect since the broker does not remember it across connections.
func (cl *Client) SubscribeRealtime(ctx context.Context, codes []string) (<-chan Tick, error) {
	out := make(chan Tick, 256)

	token, err := cl.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("brokerage: subscribe_realtime: %w", err)
	}

	wsURL, err := streamURL(cl.transport.baseURL, token)
	if err != nil {
		return nil, err
	}

	go runStream(ctx, wsURL, codes, out, cl.tokens, cl.log)
	return out, nil
}

func streamURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("brokerage: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/stream"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runStream(ctx context.Context, wsURL string, codes []string, out chan<- Tick, tokens refresher, log zerolog.Logger) {
	defer close(out)

	backoff := streamReconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := streamOnce(ctx, wsURL, codes, out, log)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("realtime stream disconnected, reconnecting")
		}

		// The broker issues a fresh token per connection attempt; a stale
		// token is the most common cause of immediate handshake failure.
		if fresh, ferr := tokens.GetValidToken(ctx); ferr == nil {
			if refreshedURL, uerr := streamURL(wsURL, fresh); uerr == nil {
				wsURL = refreshedURL
			}
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > streamMaxReconnect {
			backoff = streamMaxReconnect
		}
	}
}

func streamOnce(ctx context.Context, wsURL string, codes []string, out chan<- Tick, log zerolog.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Cmd: "subscribe", Codes: codes}); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	var wg sync.WaitGroup
	readerDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(readerDone)
		for {
			var tick Tick
			if err := conn.ReadJSON(&tick); err != nil {
				return
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			wg.Wait()
			return nil

		case <-readerDone:
			wg.Wait()
			return fmt.Errorf("read loop ended")

		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				wg.Wait()
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
