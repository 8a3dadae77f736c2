package aiorchestrator

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

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
	"github.com/aristath/tradecore/internal/vault"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	tool := &Tool{Name: "market_data_lookup"}
	r.Register(tool)

	got, err := r.Lookup("market_data_lookup")
	require.NoError(t, err)
	assert.Same(t, tool, got)
}

func TestRegistry_LookupUnknownToolReturnsInvalidInput(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("does_not_exist")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestRegistry_CatalogListsAllRegisteredTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "a"})
	r.Register(&Tool{Name: "b"})
	assert.Len(t, r.Catalog(), 2)
}

func TestRegistry_RegisterOverwritesSameName(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "a", Description: "first"})
	r.Register(&Tool{Name: "a", Description: "second"})

	got, err := r.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Description)
	assert.Len(t, r.Catalog(), 1)
}

func TestMarketDataTool_InvokeFetchesTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","last_price":"65000.0","price_change_percent":"1.0","high_price":"66000","low_price":"64000","volume":"10"}`))
	}))
	defer srv.Close()

	rest := tradernet.NewClient(srv.URL, "", "", time.Second, zerolog.Nop())
	tool := NewMarketDataTool(rest)

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"symbol":"BTCUSDT"}`))
	require.NoError(t, err)

	var ticker tradernet.Ticker24h
	require.NoError(t, json.Unmarshal(out, &ticker))
	assert.Equal(t, 65000.0, ticker.LastPrice)
}

func TestMarketDataTool_InvokeRejectsMissingSymbol(t *testing.T) {
	rest := tradernet.NewClient("http://unused.test", "", "", time.Second, zerolog.Nop())
	tool := NewMarketDataTool(rest)

	_, err := tool.Invoke(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestMarketDataTool_InvokeRejectsMalformedArgs(t *testing.T) {
	rest := tradernet.NewClient("http://unused.test", "", "", time.Second, zerolog.Nop())
	tool := NewMarketDataTool(rest)

	_, err := tool.Invoke(context.Background(), json.RawMessage(`not-json`))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

type fakeAssetIntelClient struct {
	result json.RawMessage
	err    error
	called string
}

func (f *fakeAssetIntelClient) Lookup(ctx context.Context, asset string) (json.RawMessage, error) {
	f.called = asset
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestAssetMetadataTool_InvokeDelegatesToClient(t *testing.T) {
	client := &fakeAssetIntelClient{result: json.RawMessage(`{"sector":"L1"}`)}
	tool := NewAssetMetadataTool(client)

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"asset":"BTC"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sector":"L1"}`, string(out))
	assert.Equal(t, "BTC", client.called)
}

func TestAssetMetadataTool_InvokeRejectsMissingAsset(t *testing.T) {
	tool := NewAssetMetadataTool(&fakeAssetIntelClient{})
	_, err := tool.Invoke(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

type fakeCredStore struct {
	cred *domain.APICredential
}

func (f *fakeCredStore) GetCredential(ctx context.Context, id string) (*domain.APICredential, error) {
	return f.cred, nil
}
func (f *fakeCredStore) PutCredential(ctx context.Context, cred *domain.APICredential) error {
	f.cred = cred
	return nil
}

func TestExchangeAccountTool_InvokeUsesScopedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "live-key", r.Header.Get("X-API-Key"))
		w.Write([]byte(`{"balances":[{"asset":"BTC","free":"1.0","locked":"0"}]}`))
	}))
	defer srv.Close()

	v, err := vault.New([]byte("01234567890123456789012345678901"), zerolog.Nop())
	require.NoError(t, err)
	store := &fakeCredStore{}
	vaultSvc := vault.NewService(v, store, zerolog.Nop())

	cred, err := vaultSvc.Put(context.Background(), "user-1", "tradernet", "main", []byte("live-key"), []byte("live-secret"), nil, nil)
	require.NoError(t, err)

	factoryCalls := 0
	restFactory := func(key, secret string) *tradernet.Client {
		factoryCalls++
		assert.Equal(t, "live-key", key)
		assert.Equal(t, "live-secret", secret)
		return tradernet.NewClient(srv.URL, key, secret, time.Second, zerolog.Nop())
	}

	tool := NewExchangeAccountTool(vaultSvc, cred.ID, restFactory)
	out, err := tool.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, factoryCalls)

	var balances []tradernet.AccountBalance
	require.NoError(t, json.Unmarshal(out, &balances))
	require.Len(t, balances, 1)
	assert.Equal(t, "BTC", balances[0].Asset)
}

func TestExchangeAccountTool_RequiresAuthFlagIsSet(t *testing.T) {
	tool := NewExchangeAccountTool(nil, "", nil)
	assert.True(t, tool.RequiresAuth)
}
