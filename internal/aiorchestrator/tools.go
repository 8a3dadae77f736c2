// Package aiorchestrator implements C4: the agent loop that turns an
// Opportunity plus live market context into a Verdict via an LLM with
// tool-use. The tool catalog follows Design Note "Dynamic tool catalog": a
// tagged-variant registry keyed by name, each variant schema-validated
// before dispatch, grounded on the teacher's AITradingBrain/ToolRegistry
// split (tool lookup separate from the reasoning loop) and generalized to
// this spec's three required tools.
package aiorchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/errs"
	"github.com/aristath/tradecore/internal/vault"
)

// ToolInput/ToolOutput are opaque JSON payloads; each Tool validates its own
// args against its schema before acting, per Design Note "Dynamic tool
// catalog": no dynamic code loading, dispatch by name only.
type ToolCall struct {
	Name string          `json:"tool_name"`
	Args json.RawMessage `json:"args"`
}

type ToolResult struct {
	Name    string          `json:"tool_name"`
	Output  json.RawMessage `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Tool is one entry in the catalog handed to the LLM: name, schemas (as
// human/LLM-readable descriptions), and an invoke function.
type Tool struct {
	Name         string
	Description  string
	InputSchema  string // JSON-schema-shaped description, sent verbatim to the LLM
	Timeout      time.Duration
	RequiresAuth bool
	Invoke       func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry is the tagged-variant tool catalog keyed by name.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, overwriting any prior registration under the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Lookup returns the tool by name, or a structured InvalidInput error the
// LLM can observe and recover from (§4.4 step 4a) when the name is unknown.
func (r *Registry) Lookup(name string) (*Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("unknown tool %q", name))
	}
	return t, nil
}

// Catalog returns the full list of registered tools, for prompt assembly.
func (r *Registry) Catalog() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// marketDataArgs is the schema for the market-data lookup tool.
type marketDataArgs struct {
	Symbol string `json:"symbol"`
}

// NewMarketDataTool builds the market-data lookup tool: a C3 pull against
// the exchange's public ticker endpoint. Per §4.4 step 3c, its timeout
// defaults to 3s (the market-data-specific override), not the general 10s.
func NewMarketDataTool(rest *tradernet.Client) *Tool {
	return &Tool{
		Name:        "market_data_lookup",
		Description: "Fetch the current ticker (last price, 24h high/low/volume) for a symbol.",
		InputSchema: `{"symbol":"string, e.g. BTCUSDT"}`,
		Timeout:     3 * time.Second,
		Invoke: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args marketDataArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, errs.Wrap(errs.InvalidInput, "market_data_lookup: malformed args", err)
			}
			if args.Symbol == "" {
				return nil, errs.New(errs.InvalidInput, "market_data_lookup: symbol is required")
			}
			ticker, err := rest.GetTicker24h(args.Symbol)
			if err != nil {
				return nil, err
			}
			return json.Marshal(ticker)
		},
	}
}

// assetMetadataArgs is the schema for the asset-intelligence tool.
type assetMetadataArgs struct {
	Asset string `json:"asset"`
}

// AssetIntelligenceClient is the read-only external lookup contract §6
// describes: asset metadata and price history, header-authenticated.
type AssetIntelligenceClient interface {
	Lookup(ctx context.Context, asset string) (json.RawMessage, error)
}

// NewAssetMetadataTool builds the asset-metadata verification tool.
func NewAssetMetadataTool(client AssetIntelligenceClient) *Tool {
	return &Tool{
		Name:        "asset_metadata_lookup",
		Description: "Fetch external metadata (sector, market-cap rank, recent news sentiment) for an asset.",
		InputSchema: `{"asset":"string, base asset symbol e.g. BTC"}`,
		Timeout:     10 * time.Second,
		Invoke: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args assetMetadataArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, errs.Wrap(errs.InvalidInput, "asset_metadata_lookup: malformed args", err)
			}
			if args.Asset == "" {
				return nil, errs.New(errs.InvalidInput, "asset_metadata_lookup: asset is required")
			}
			return client.Lookup(ctx, args.Asset)
		},
	}
}

// NewExchangeAccountTool builds the exchange-account read tool: it acquires
// a scoped credential handle from C1 for the duration of the call only, per
// Design Note "Credential plaintext lifetime".
func NewExchangeAccountTool(vaultSvc *vault.Service, credentialID string, restFactory func(key, secret string) *tradernet.Client) *Tool {
	return &Tool{
		Name:         "exchange_account_read",
		Description:  "Read current account balances on the configured exchange.",
		InputSchema:  `{}`,
		Timeout:      10 * time.Second,
		RequiresAuth: true,
		Invoke: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			handle, err := vaultSvc.Get(ctx, credentialID)
			if err != nil {
				return nil, err
			}
			defer handle.Close()

			client := restFactory(string(handle.Key()), string(handle.Secret()))
			balances, err := client.GetAccountBalances()
			if err != nil {
				return nil, err
			}
			return json.Marshal(balances)
		},
	}
}
