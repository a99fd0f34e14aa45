// Package ledger is the REST client for the custody service that holds and
// moves collateral. The auction engine is its only caller.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/superpull/auctiond/internal/domain"
)

// Client talks to the ledger's transfer API. Requests are signed by the
// delegation the engine passes per call; the ledger verifies the recovered
// address against the account's registered delegate.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a ledger client. baseURL is the API root, e.g.
// "https://ledger.superpull.world". apiKey identifies this service; the
// per-request delegation signature authorizes the transfer itself.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// transferRequest is the wire format of POST /v1/transfers.
type transferRequest struct {
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// apiError is the ledger's error envelope.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Transfer moves amount of asset between two accounts. Failures map onto the
// domain error taxonomy: insufficient_funds and invalid_account become their
// sentinel errors, anything else surfaces as a wrapped transport error.
func (c *Client) Transfer(ctx context.Context, asset, from, to string, amount uint64, signer domain.RequestSigner) error {
	body, err := json.Marshal(transferRequest{
		Asset:  asset,
		From:   from,
		To:     to,
		Amount: amount,
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal transfer: %w", err)
	}

	const path = "/v1/transfers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	headers, err := signer.SignRequest(http.MethodPost, path, body, c.now().Unix())
	if err != nil {
		return fmt.Errorf("ledger: sign transfer: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: transfer %s %s->%s: %w", asset, from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	_ = json.Unmarshal(data, &apiErr)

	switch apiErr.Code {
	case "insufficient_funds":
		return domain.ErrInsufficientFunds
	case "invalid_account":
		return domain.ErrInvalidAccount
	}
	return fmt.Errorf("ledger: transfer failed with status %d: %s", resp.StatusCode, apiErr.Error)
}

// Compile-time interface check.
var _ domain.Custody = (*Client)(nil)
