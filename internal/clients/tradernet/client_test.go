package tradernet

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/errs"
)

func TestGetKlines_ParsesCandlesticks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/klines", r.URL.Path)
		w.Write([]byte(`[{"open_time":1,"open":"1.0","high":"2.0","low":"0.5","close":"1.5","volume":"100","close_time":2}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", time.Second, zerolog.Nop())
	klines, err := c.GetKlines("BTCUSDT", "1m", 10)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, 1.5, klines[0].Close)
}

func TestPrivateCall_RejectsWhenCredentialsMissing(t *testing.T) {
	c := NewClient("http://unused.test", "", "", time.Second, zerolog.Nop())
	_, err := c.GetAccountBalances()
	require.Error(t, err)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))
}

func TestPrivateCall_SignsAndSendsAPIKeyHeader(t *testing.T) {
	var gotAPIKeyHeader string
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKeyHeader = r.Header.Get("X-API-Key")
		gotSignature = r.URL.Query().Get("signature")
		w.Write([]byte(`{"balances":[{"asset":"BTC","free":"1.0","locked":"0"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "test-secret", time.Second, zerolog.Nop())
	balances, err := c.GetAccountBalances()
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "test-key", gotAPIKeyHeader)
	assert.NotEmpty(t, gotSignature, "a signed call must carry a signature query param")
}

func TestDo_MapsStatusCodesToErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		header map[string]string
		want   errs.Kind
	}{
		{status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "5"}, want: errs.RateLimited},
		{status: http.StatusUnauthorized, want: errs.Unauthorized},
		{status: http.StatusForbidden, want: errs.Unauthorized},
		{status: http.StatusInternalServerError, want: errs.UpstreamUnavailable},
		{status: http.StatusBadRequest, want: errs.UpstreamRejected},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range tc.header {
				w.Header().Set(k, v)
			}
			w.WriteHeader(tc.status)
			w.Write([]byte(`{}`))
		}))

		c := NewClient(srv.URL, "", "", time.Second, zerolog.Nop())
		_, err := c.GetTicker24h("BTCUSDT")
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.want, errs.KindOf(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestSubmitOrder_RequiresClientOrderID(t *testing.T) {
	c := NewClient("http://unused.test", "key", "secret", time.Second, zerolog.Nop())
	_, err := c.SubmitOrder(OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestSubmitOrder_SendsExpectedParamsAndParsesResult(t *testing.T) {
	var gotParams url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotParams = r.Form
		w.Write([]byte(`{"order_id":"ex-1","client_order_id":"cid-1","status":"FILLED","executed_qty":"1.0","executed_price":"65000.0"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret", time.Second, zerolog.Nop())
	result, err := c.SubmitOrder(OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		Type:          "MARKET",
		Quantity:      1,
		ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ex-1", result.ExchangeOrderID)
	assert.Equal(t, "cid-1", gotParams.Get("newClientOrderId"))
	assert.Equal(t, "BTCUSDT", gotParams.Get("symbol"))
}

func TestCancelOrder_PropagatesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret", time.Second, zerolog.Nop())
	err := c.CancelOrder("BTCUSDT", "ex-1")
	require.Error(t, err)
	assert.Equal(t, errs.UpstreamRejected, errs.KindOf(err))
}

func TestListenKey_RoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"listenKey":"abc123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret", time.Second, zerolog.Nop())
	key, err := c.ListenKey()
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)
}
