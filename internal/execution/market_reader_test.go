package execution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/errs"
)

func TestRESTMarketReader_GetPairInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"symbol":"BTCUSDT","base_asset":"BTC","quote_asset":"USDT","lot_size":"0.001","tick_size":"0.01","min_notional":"10"}]`))
	}))
	defer srv.Close()

	rest := tradernet.NewClient(srv.URL, "", "", time.Second, zerolog.Nop())
	reader := NewRESTMarketReader(rest)

	pair, err := reader.GetPairInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.001, pair.LotSize)
	assert.Equal(t, 10.0, pair.MinNotional)
}

func TestRESTMarketReader_GetPairInfo_NotListed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	rest := tradernet.NewClient(srv.URL, "", "", time.Second, zerolog.Nop())
	reader := NewRESTMarketReader(rest)

	_, err := reader.GetPairInfo(context.Background(), "DOGEUSDT")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestRESTMarketReader_GetLastPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","last_price":"65000.50","price_change_percent":"1.2","high_price":"66000","low_price":"64000","volume":"10"}`))
	}))
	defer srv.Close()

	rest := tradernet.NewClient(srv.URL, "", "", time.Second, zerolog.Nop())
	reader := NewRESTMarketReader(rest)

	price, err := reader.GetLastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 65000.50, price)
}
