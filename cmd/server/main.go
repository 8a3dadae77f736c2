package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/aiorchestrator"
	"github.com/aristath/tradecore/internal/clients/assetintel"
	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/config"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/events"
	"github.com/aristath/tradecore/internal/execution"
	"github.com/aristath/tradecore/internal/marketdata"
	"github.com/aristath/tradecore/internal/opportunities"
	"github.com/aristath/tradecore/internal/persistence"
	"github.com/aristath/tradecore/internal/scheduler"
	"github.com/aristath/tradecore/internal/vault"
	"github.com/aristath/tradecore/pkg/logger"
)

const defaultUserID = "default"

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting tradecore")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.SetGlobalLogger(log)

	store, err := persistence.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence")
	}
	defer store.Close()

	vlt, err := openVault(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize vault")
	}
	vaultSvc := vault.NewService(vlt, store, log)

	notifier := events.NewManager(log)

	rest := tradernet.NewClient(cfg.ExchangeBaseURL, cfg.ExchangeAPIKey, cfg.ExchangeAPISecret, cfg.OrderSubmissionTimeout, log)
	hub := marketdata.NewHub(cfg.ExchangeWSBaseURL, rest, notifier, log)

	gate := execution.NewGate(cfg.RealModeTotalSlots)
	marketReader := execution.NewRESTMarketReader(rest)

	engine := execution.NewEngine(store, nil, marketReader, rest, gate, notifier, defaultUserID, log)
	oppSvc := opportunities.NewService(store, engine, gate, defaultUserID, notifier, log)
	engine.SetLinker(oppSvc)

	llmClient := aiorchestrator.NewHTTPClient(cfg.LLMEndpointURL, cfg.LLMAPIKey, cfg.LLMModelID, cfg.LLMStepTimeout)
	registry := buildToolRegistry(cfg, rest, vaultSvc, log)
	orchestrator := aiorchestrator.New(store, registry, llmClient, rest, oppSvc, notifier, aiorchestrator.DefaultConfig(defaultUserID), log)

	matcher := marketdata.NewPatternMatcher(marketdata.DefaultIndicatorThresholds(), log)
	stopIndicators := runIndicatorWatchers(context.Background(), hub, matcher, oppSvc, store, log)
	defer stopIndicators()

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerJobs(sched, oppSvc, orchestrator, rest, hub, store); err != nil {
		log.Fatal().Err(err).Msg("failed to register jobs")
	}

	log.Info().Msg("tradecore started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	hub.Stop()

	log.Info().Msg("stopped")
}

// openVault builds the C1 vault from whichever master-key source the
// operator configured, preferring the raw hex key over the passphrase
// fallback per the vault package's own non-production warning.
func openVault(cfg *config.Config, log zerolog.Logger) (*vault.Vault, error) {
	if cfg.MasterKeyHex != "" {
		return vault.NewFromHex(cfg.MasterKeyHex, log)
	}
	return vault.NewFromPassphrase(cfg.MasterKeyPassphrase, log)
}

func buildToolRegistry(cfg *config.Config, rest *tradernet.Client, vaultSvc *vault.Service, log zerolog.Logger) *aiorchestrator.Registry {
	registry := aiorchestrator.NewRegistry()
	registry.Register(aiorchestrator.NewMarketDataTool(rest))

	if cfg.AssetIntelBaseURL != "" {
		intel := assetintel.NewClient(cfg.AssetIntelBaseURL, cfg.AssetIntelAPIKey, cfg.ToolCallTimeout, log)
		registry.Register(aiorchestrator.NewAssetMetadataTool(intel))
	}

	if cfg.ExchangeAPIKey != "" {
		restFactory := func(key, secret string) *tradernet.Client {
			return tradernet.NewClient(cfg.ExchangeBaseURL, key, secret, cfg.MarketDataPullTimeout, log)
		}
		registry.Register(aiorchestrator.NewExchangeAccountTool(vaultSvc, cfg.ExchangeAPIKey, restFactory))
	}
	return registry
}

func registerJobs(sched *scheduler.Scheduler, oppSvc *opportunities.Service, orchestrator *aiorchestrator.Orchestrator, rest *tradernet.Client, hub *marketdata.Hub, store *persistence.Adapter) error {
	if err := sched.AddJob("0 */1 * * * *", scheduler.NewExpirySweeper(oppSvc.SweepExpired)); err != nil {
		return err
	}
	if err := sched.AddJob("0 */5 * * * *", scheduler.NewStuckAnalysisResetter(orchestrator.ResetStuckAnalyses)); err != nil {
		return err
	}
	if err := sched.AddJob("0 */15 * * * *", scheduler.NewListenKeyKeepalive(rest, hub.ListenKey)); err != nil {
		return err
	}
	valuate := func(ctx context.Context) error { return valuatePortfolio(ctx, rest, store, domain.ModePaper) }
	if err := sched.AddJob("0 0 * * * *", scheduler.NewPortfolioValuator(valuate)); err != nil {
		return err
	}
	return nil
}

// valuatePortfolio pulls current account balances and appends a scheduled
// PortfolioSnapshot, the periodic tick the auto-pause drawdown check
// consults even when no trade has just closed.
func valuatePortfolio(ctx context.Context, rest *tradernet.Client, store *persistence.Adapter, mode domain.Mode) error {
	balances, err := rest.GetAccountBalances()
	if err != nil {
		return err
	}

	var cashBalances []domain.CashBalance
	var totalCash float64
	for _, b := range balances {
		cashBalances = append(cashBalances, domain.CashBalance{Asset: b.Asset, Amount: b.Free + b.Locked})
		totalCash += b.Free + b.Locked
	}

	snapshot := &domain.PortfolioSnapshot{
		Mode:                 mode,
		PrimaryQuoteCurrency: "USDT",
		TotalPortfolioValue:  totalCash,
		TotalCashBalance:     totalCash,
		TotalSpotAssetsValue: 0,
		CashBalances:         cashBalances,
		Source:               domain.SnapshotScheduled,
		TakenAt:              time.Now(),
	}
	return store.AppendSnapshot(ctx, snapshot)
}

// runIndicatorWatchers subscribes to the kline stream for every symbol in
// the default user's watchlists and feeds closes through the pattern
// matcher, submitting any fired signal as a new Opportunity. Returns a
// shutdown func that tears every subscription down.
func runIndicatorWatchers(ctx context.Context, hub *marketdata.Hub, matcher *marketdata.PatternMatcher, oppSvc *opportunities.Service, store *persistence.Adapter, log zerolog.Logger) func() {
	cfg, err := store.GetUserConfiguration(ctx, defaultUserID)
	if err != nil || cfg == nil {
		return func() {}
	}

	var cancels []func()
	for _, symbols := range cfg.Watchlists {
		for _, symbol := range symbols {
			stream, cancel, err := hub.Subscribe(ctx, marketdata.EventKline, symbol, "1m")
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("failed to subscribe to kline stream for indicator watcher")
				continue
			}
			cancels = append(cancels, cancel)
			go watchSymbol(ctx, symbol, stream, matcher, oppSvc, log)
		}
	}

	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func watchSymbol(ctx context.Context, symbol string, stream <-chan marketdata.StreamEvent, matcher *marketdata.PatternMatcher, oppSvc *opportunities.Service, log zerolog.Logger) {
	var closes []float64
	const maxHistory = 200
	for ev := range stream {
		if ev.Type != marketdata.EventKline {
			continue
		}
		var kline tradernet.Kline
		if err := json.Unmarshal(ev.Payload, &kline); err != nil {
			continue
		}
		closes = append(closes, kline.Close)
		if len(closes) > maxHistory {
			closes = closes[len(closes)-maxHistory:]
		}

		if candidate := matcher.Scan(symbol, closes, "1m"); candidate != nil {
			if _, err := oppSvc.Submit(ctx, candidate); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("failed to submit indicator-sourced opportunity")
			}
		}
	}
}
