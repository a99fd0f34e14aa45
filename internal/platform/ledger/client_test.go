package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superpull/auctiond/internal/domain"
)

type staticSigner struct{}

func (staticSigner) SignRequest(method, path string, body []byte, unixTS int64) (map[string]string, error) {
	return map[string]string{
		"X-SP-Delegate":  "0xabc",
		"X-SP-Signature": "sig",
	}, nil
}

func TestTransferSuccess(t *testing.T) {
	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "0xabc", r.Header.Get("X-SP-Delegate"))
		assert.Equal(t, "sig", r.Header.Get("X-SP-Signature"))
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "key-1")
	err := c.Transfer(context.Background(), "usdc", "bidder-1", "auction:x", 100_000, staticSigner{})
	require.NoError(t, err)

	assert.Equal(t, "usdc", got.Asset)
	assert.Equal(t, "bidder-1", got.From)
	assert.Equal(t, "auction:x", got.To)
	assert.Equal(t, uint64(100_000), got.Amount)
}

func TestTransferErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		status  int
		wantErr error
	}{
		{"insufficient funds", "insufficient_funds", http.StatusUnprocessableEntity, domain.ErrInsufficientFunds},
		{"invalid account", "invalid_account", http.StatusBadRequest, domain.ErrInvalidAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(apiError{Code: tt.code, Error: tt.name})
			}))
			defer srv.Close()

			c := New(srv.URL, "")
			err := c.Transfer(context.Background(), "usdc", "a", "b", 1, staticSigner{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTransferUnknownFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	err := c.Transfer(context.Background(), "usdc", "a", "b", 1, staticSigner{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInsufficientFunds)
}
