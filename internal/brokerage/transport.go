// Package brokerage is the HTTPS and streaming facade over the Korean
// broker's API: request signing, typed operations, retry policy and
// real-time subscriptions.
package brokerage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// transport issues signed and plain HTTP requests against the broker API.
// Request signing follows the broker's documented scheme: payload is the
// compact encoding/json encoding of params (map keys come out sorted, as
// encoding/json always emits them), the signed message
// is payload+timestamp, and the signature is HMAC-SHA256 over that
// message keyed by the account's private key.
type transport struct {
	publicKey  string
	privateKey string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func newTransport(publicKey, privateKey, baseURL string, log zerolog.Logger) *transport {
	return &transport{
		publicKey:  publicKey,
		privateKey: privateKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "brokerage-transport").Logger(),
	}
}

func sign(privateKey, message string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func stringify(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// apiError carries the broker's own error code alongside the HTTP status,
// so the retry dispatch (retry.go) can classify token-expired / rate-limit
// / 5xx / 4xx without re-parsing the body.
type apiError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("brokerage: http %d code=%q: %s", e.HTTPStatus, e.Code, e.Message)
}

// authorizedRequest signs and POSTs params as a JSON body, with the
// current access token attached as a bearer header.
func (t *transport) authorizedRequest(ctx context.Context, accessToken, cmd string, params any) (map[string]any, error) {
	if t.publicKey == "" || t.privateKey == "" {
		return nil, fmt.Errorf("brokerage: keypair is not configured")
	}

	payload, err := stringify(params)
	if err != nil {
		return nil, fmt.Errorf("brokerage: encode params: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := sign(t.privateKey, payload+timestamp)

	reqURL := fmt.Sprintf("%s/api/%s", t.baseURL, cmd)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("brokerage: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-NtApi-PublicKey", t.publicKey)
	req.Header.Set("X-NtApi-Timestamp", timestamp)
	req.Header.Set("X-NtApi-Sig", signature)

	return t.do(req, cmd)
}

// plainRequest issues an unauthenticated GET with the command and params
// folded into a single ?q=<json> query parameter.
func (t *transport) plainRequest(ctx context.Context, cmd string, params map[string]any) (map[string]any, error) {
	message := map[string]any{"cmd": cmd}
	if len(params) > 0 {
		message["params"] = params
	}
	encoded, err := stringify(message)
	if err != nil {
		return nil, fmt.Errorf("brokerage: encode message: %w", err)
	}

	u, err := url.Parse(fmt.Sprintf("%s/api", t.baseURL))
	if err != nil {
		return nil, fmt.Errorf("brokerage: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", encoded)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("brokerage: build request: %w", err)
	}
	return t.do(req, cmd)
}

func (t *transport) do(req *http.Request, cmd string) (map[string]any, error) {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brokerage: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("brokerage: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{HTTPStatus: resp.StatusCode, Code: extractErrCode(body), Message: truncate(string(body), 500)}
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("brokerage: parse response for %s: %w (body: %s)", cmd, err, truncate(string(body), 500))
	}

	switch v := raw.(type) {
	case []any:
		return map[string]any{"result": v}, nil
	case map[string]any:
		if errMsg, ok := v["errMsg"].(string); ok && errMsg != "" {
			t.log.Warn().Str("cmd", cmd).Str("err_msg", errMsg).Msg("broker returned an error message")
		}
		return v, nil
	default:
		return map[string]any{"result": v}, nil
	}
}

func extractErrCode(body []byte) string {
	var probe struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Code
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
