package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantbelt/orbgate/internal/config"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKERAGE REST CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every RPC goes through one rate limiter; the broker tolerates about
// one call per second, 1.1s spacing keeps a margin. Endpoints are
// selected by API id header, the path barely changes.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	prodBaseURL    = "https://api.kiwoom.com"
	sandboxBaseURL = "https://mockapi.kiwoom.com"

	prodStreamURL    = "wss://api.kiwoom.com:10000/api/dostk/websocket"
	sandboxStreamURL = "wss://mockapi.kiwoom.com:10000/api/dostk/websocket"

	rpcInterval = 1100 * time.Millisecond
	rpcTimeout  = 10 * time.Second
)

type Client struct {
	baseURL    string
	streamURL  string
	appKey     string
	appSecret  string
	loc        *time.Location
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *tokenSource
}

// NewClient builds a REST client against the production or sandbox
// gateway depending on cfg.Sandbox.
func NewClient(cfg config.BrokerConfig, loc *time.Location) *Client {
	c := &Client{
		baseURL:    prodBaseURL,
		streamURL:  prodStreamURL,
		appKey:     cfg.AppKey,
		appSecret:  cfg.AppSecret,
		loc:        loc,
		httpClient: &http.Client{Timeout: rpcTimeout},
		limiter:    rate.NewLimiter(rate.Every(rpcInterval), 1),
	}
	if cfg.Sandbox {
		c.baseURL = sandboxBaseURL
		c.streamURL = sandboxStreamURL
	}
	c.tokens = newTokenSource(cfg.TokenCache, c.fetchToken)
	return c
}

// StreamURL is the realtime websocket endpoint matching this client's
// environment.
func (c *Client) StreamURL() string { return c.streamURL }

// Token returns a valid access token (also used by the stream LOGIN).
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// fetchToken performs the client-credentials grant.
func (c *Client) fetchToken(ctx context.Context) (string, time.Time, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", time.Time{}, err
	}

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"secretkey":  c.appSecret,
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, &TransportError{Op: "token grant", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, &TransportError{Op: "token grant read", Err: err}
	}
	if resp.StatusCode >= 400 {
		return "", time.Time{}, fmt.Errorf("token grant HTTP %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		ExpiresDt   string `json:"expires_dt"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", time.Time{}, fmt.Errorf("token grant parse: %w", err)
	}

	token := result.AccessToken
	if token == "" {
		token = result.Token
	}
	if token == "" || result.ExpiresDt == "" {
		return "", time.Time{}, fmt.Errorf("token grant: empty token or expiry in response")
	}

	expiresAt, err := parseExpiry(result.ExpiresDt, c.loc)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// call performs one authenticated RPC identified by apiID and decodes
// the JSON response into out.
func (c *Client) call(ctx context.Context, apiID, path string, body any, out any, order bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", apiID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("api-id", apiID)
	if order {
		req.Header.Set("custtype", "P")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: apiID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: apiID + " read", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		return &AuthError{Reason: fmt.Sprintf("%s rejected: %s", apiID, truncate(raw, 200))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Endpoint: apiID}
	case resp.StatusCode >= 400:
		msg := truncate(raw, 200)
		var e struct {
			ReturnMsg string `json:"return_msg"`
		}
		if json.Unmarshal(raw, &e) == nil && e.ReturnMsg != "" {
			msg = e.ReturnMsg
		}
		return &BrokerError{APIID: apiID, Code: fmt.Sprintf("%d", resp.StatusCode), Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: apiID + " parse", Err: err}
	}
	return nil
}

// returnCode absorbs the broker's habit of sending return_code as
// either a number or a string. Accepted means 0 or "0".
type returnCode string

func (r *returnCode) UnmarshalJSON(b []byte) error {
	*r = returnCode(strings.Trim(string(b), `"`))
	return nil
}

func (r returnCode) OK() bool       { return string(r) == "0" }
func (r returnCode) String() string { return string(r) }

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
