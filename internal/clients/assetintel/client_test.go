package assetintel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/errs"
)

func TestLookup_RejectsUnconfiguredProvider(t *testing.T) {
	c := NewClient("", "", time.Second, zerolog.Nop())
	_, err := c.Lookup(context.Background(), "BTC")
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestLookup_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets/BTC", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"sector": "layer1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, zerolog.Nop())
	body, err := c.Lookup(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Contains(t, string(body), "layer1")
}

func TestLookup_NoAuthHeaderWhenAPIKeyEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zerolog.Nop())
	_, err := c.Lookup(context.Background(), "ETH")
	require.NoError(t, err)
}

func TestLookup_MapsStatusCodesToKinds(t *testing.T) {
	cases := []struct {
		status int
		want   errs.Kind
	}{
		{http.StatusTooManyRequests, errs.RateLimited},
		{http.StatusNotFound, errs.NotFound},
		{http.StatusInternalServerError, errs.UpstreamUnavailable},
		{http.StatusBadRequest, errs.UpstreamRejected},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(srv.URL, "", time.Second, zerolog.Nop())
		_, err := c.Lookup(context.Background(), "BTC")
		require.Error(t, err)
		assert.Equal(t, tc.want, errs.KindOf(err), "status %d", tc.status)
		srv.Close()
	}
}
