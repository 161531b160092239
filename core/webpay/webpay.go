// Package webpay is a client for the Transbank WebPay Plus REST API.
package webpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bordados/checkout/config"
)

const (
	IntegrationURL = "https://webpay3gint.transbank.cl"
	ProductionURL  = "https://webpay3g.transbank.cl"

	// Public credentials Transbank publishes for its integration environment.
	IntegrationCommerceCode = "597055555532"
	IntegrationAPIKey       = "579B532A7440BB0C9079DED94D31EA1615BACEB56610332264630D42D0A36B1C"

	transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

	maxBuyOrder  = 26
	maxSessionID = 61
	maxResponse  = 1 << 20
)

var (
	// ErrUnavailable means the provider could not be reached or did not answer in time.
	ErrUnavailable = errors.New("webpay unavailable")

	// ErrRejected means the provider answered with a non-success status.
	ErrRejected = errors.New("webpay rejected the request")
)

// RejectedError carries the provider's answer for a refused call.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("webpay answered %d: %s", e.StatusCode, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

type Client struct {
	baseURL      string
	commerceCode string
	apiKey       string
	http         *http.Client
}

type Option func(*Client)

// WithBaseURL points the client to another host, mostly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a client for the environment selected in cfg. Integration mode
// uses the public test credentials unless others are supplied.
func New(cfg config.Webpay, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:      ProductionURL,
		commerceCode: cfg.CommerceCode,
		apiKey:       cfg.APIKey,
		http:         &http.Client{},
	}

	if cfg.Environment == config.WebpayIntegration {
		c.baseURL = IntegrationURL
		if c.commerceCode == "" || c.apiKey == "" {
			c.commerceCode = IntegrationCommerceCode
			c.apiKey = IntegrationAPIKey
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateTransaction opens a transaction and returns the token and the url
// the browser must be sent to.
func (c *Client) CreateTransaction(ctx context.Context, buyOrder, sessionID string, amount int64, returnURL string) (Transaction, error) {
	if len(buyOrder) == 0 || len(buyOrder) > maxBuyOrder {
		return Transaction{}, fmt.Errorf("buy order must have between 1 and %d characters", maxBuyOrder)
	}
	if len(sessionID) == 0 || len(sessionID) > maxSessionID {
		return Transaction{}, fmt.Errorf("session id must have between 1 and %d characters", maxSessionID)
	}

	req := createRequest{
		BuyOrder:  buyOrder,
		SessionID: sessionID,
		Amount:    amount,
		ReturnURL: returnURL,
	}

	var tx Transaction
	if _, err := c.do(ctx, http.MethodPost, transactionsPath, req, &tx); err != nil {
		return Transaction{}, fmt.Errorf("creating transaction for order[%s]: %w", buyOrder, err)
	}
	if tx.Token == "" {
		return Transaction{}, fmt.Errorf("creating transaction for order[%s]: %w", buyOrder,
			&RejectedError{StatusCode: http.StatusOK, Message: "empty token"})
	}
	return tx, nil
}

// CommitTransaction confirms the transaction bound to token once the user is back.
func (c *Client) CommitTransaction(ctx context.Context, token string) (Commit, error) {
	if token == "" {
		return Commit{}, errors.New("commit token is empty")
	}

	var cm Commit
	raw, err := c.do(ctx, http.MethodPut, transactionsPath+"/"+url.PathEscape(token), nil, &cm)
	if err != nil {
		return Commit{}, fmt.Errorf("committing transaction: %w", err)
	}
	cm.Raw = raw
	return cm, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (json.RawMessage, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Tbk-Api-Key-Id", c.commerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var pe providerError
		_ = json.Unmarshal(raw, &pe)
		if pe.Message == "" {
			pe.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: pe.Message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return raw, nil
}
