// Package payment is the client for the external payment switch. The
// service fronts both POS terminals (synchronous) and the internet gateway
// (redirect + callback); we speak the same make/verify pair to both.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// ErrGatewayUnavailable marks HTTP >= 500 from the switch. The verify poll
// loop exits on it; the transaction stays pending for operator follow-up.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Config struct {
	Address     string
	Username    string
	Password    string
	Gateway     string
	Provider    string
	Terminal    string
	CallbackURL string
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// MakeRequest is the /payment/make body. Mobile carries the plate so the
// terminal receipt shows which vehicle paid.
type MakeRequest struct {
	Gateway        string                 `json:"gateway"`
	Provider       string                 `json:"provider"`
	Amount         int64                  `json:"amount"`
	Terminal       string                 `json:"terminal"`
	Username       string                 `json:"username"`
	Password       string                 `json:"password"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
	Mobile         string                 `json:"mobile,omitempty"`
	CallbackURL    string                 `json:"callback_url,omitempty"`
}

type MakeResult struct {
	OrderID string `json:"order_id"`
	Token   string `json:"token"`
	Amount  int64  `json:"amount"`
	URL     string `json:"url,omitempty"`
}

type VerifyResult struct {
	Status          parking.TransactionStatus `json:"status"`
	Amount          int64                     `json:"amount"`
	ReferenceNumber string                    `json:"reference_number,omitempty"`
	VerifiedAt      string                    `json:"verified_at,omitempty"`
}

type contentEnvelope struct {
	Content json.RawMessage `json:"content"`
}

// Make starts a payment. For POS the terminal prompts immediately; for IPG
// the result carries the redirect URL the client must follow.
func (c *Client) Make(ctx context.Context, amount int64, mobile string, additional map[string]interface{}, withCallback bool) (*MakeResult, error) {
	req := MakeRequest{
		Gateway:        c.cfg.Gateway,
		Provider:       c.cfg.Provider,
		Amount:         amount,
		Terminal:       c.cfg.Terminal,
		Username:       c.cfg.Username,
		Password:       c.cfg.Password,
		AdditionalData: additional,
		Mobile:         mobile,
	}
	if withCallback {
		req.CallbackURL = c.cfg.CallbackURL
	}
	var out MakeResult
	if err := c.post(ctx, "/payment/make", req, &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		return nil, fmt.Errorf("payment make: empty order_id")
	}
	return &out, nil
}

// Verify asks the switch for the terminal state of an order.
func (c *Client) Verify(ctx context.Context, orderID string) (*VerifyResult, error) {
	var out VerifyResult
	err := c.post(ctx, "/payment/verify", map[string]string{"order_id": orderID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Reports proxies the switch's transaction report listing.
func (c *Client) Reports(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return c.get(ctx, "/reports/", params)
}

// ReportLogs proxies the switch's raw gateway logs.
func (c *Client) ReportLogs(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return c.get(ctx, "/reports/logs", params)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Address+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payment %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("payment %s: status %d: %w", path, resp.StatusCode, ErrGatewayUnavailable)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("payment %s: status %d: %s", path, resp.StatusCode, data)
	}

	var env contentEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("payment %s: decode: %w", path, err)
	}
	return json.Unmarshal(env.Content, out)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	u := c.cfg.Address + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("payment %s: status %d: %w", path, resp.StatusCode, ErrGatewayUnavailable)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("payment %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}
