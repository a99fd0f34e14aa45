// Package issuer is the REST client for the collectible-issuance service.
// The engine asks it to mint exactly one item per successful bid.
package issuer

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

// Client talks to the issuer's mint API. Mints are signed by the auction's
// delegation; the issuer checks the recovered address against the
// collection's registered authority delegate.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// New creates an issuer client. baseURL is the API root, e.g.
// "https://issuer.superpull.world".
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

// mintRequest is the wire format of POST /v1/mints.
type mintRequest struct {
	SourceSet  string `json:"source_set"`
	Collection string `json:"collection"`
	Owner      string `json:"owner"`
}

type mintResponse struct {
	ItemID string `json:"item_id"`
}

type sourceSetResponse struct {
	ID   string `json:"id"`
	Size uint64 `json:"size"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IssueOne mints one unit of the collection's item to owner, drawn from the
// backing source set, and returns the new item ID.
func (c *Client) IssueOne(ctx context.Context, sourceSet, collection, owner string, signer domain.RequestSigner) (string, error) {
	body, err := json.Marshal(mintRequest{
		SourceSet:  sourceSet,
		Collection: collection,
		Owner:      owner,
	})
	if err != nil {
		return "", fmt.Errorf("issuer: marshal mint: %w", err)
	}

	const path = "/v1/mints"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("issuer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	headers, err := signer.SignRequest(http.MethodPost, path, body, c.now().Unix())
	if err != nil {
		return "", fmt.Errorf("issuer: sign mint: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("issuer: mint for %s: %w", owner, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("issuer: read mint response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Code == "exhausted" {
			return "", domain.ErrIssuanceExhausted
		}
		return "", fmt.Errorf("issuer: mint failed with status %d: %s", resp.StatusCode, apiErr.Error)
	}

	var mint mintResponse
	if err := json.Unmarshal(data, &mint); err != nil {
		return "", fmt.Errorf("issuer: decode mint response: %w", err)
	}
	if mint.ItemID == "" {
		return "", fmt.Errorf("issuer: mint response missing item id")
	}
	return mint.ItemID, nil
}

// SourceSetSize reports how many issuable items the backing set holds.
func (c *Client) SourceSetSize(ctx context.Context, sourceSet string) (uint64, error) {
	path := "/v1/source-sets/" + sourceSet
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("issuer: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("issuer: get source set %s: %w", sourceSet, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("issuer: source set %s returned status %d", sourceSet, resp.StatusCode)
	}

	var set sourceSetResponse
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return 0, fmt.Errorf("issuer: decode source set: %w", err)
	}
	return set.Size, nil
}

// Compile-time interface check.
var _ domain.Issuance = (*Client)(nil)
