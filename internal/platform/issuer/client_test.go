package issuer

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
	return map[string]string{"X-SP-Delegate": "0xabc"}, nil
}

func TestIssueOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mints", r.URL.Path)
		assert.Equal(t, "0xabc", r.Header.Get("X-SP-Delegate"))

		var req mintRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "set-1", req.SourceSet)
		assert.Equal(t, "coll-1", req.Collection)
		assert.Equal(t, "bidder-1", req.Owner)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(mintResponse{ItemID: "item-42"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	itemID, err := c.IssueOne(context.Background(), "set-1", "coll-1", "bidder-1", staticSigner{})
	require.NoError(t, err)
	assert.Equal(t, "item-42", itemID)
}

func TestIssueOneExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(apiError{Code: "exhausted"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.IssueOne(context.Background(), "set-1", "coll-1", "bidder-1", staticSigner{})
	assert.ErrorIs(t, err, domain.ErrIssuanceExhausted)
}

func TestSourceSetSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/source-sets/set-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(sourceSetResponse{ID: "set-1", Size: 100})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	size, err := c.SourceSetSize(context.Background(), "set-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), size)
}

func TestSourceSetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SourceSetSize(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
