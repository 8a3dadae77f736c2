package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
	"github.com/aristath/tradecore/internal/events"
	"github.com/aristath/tradecore/pkg/formulas"
)

// Store is the slice of the persistence port the engine needs. Defined here,
// implemented by internal/persistence, same split as opportunities.Store.
type Store interface {
	GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error)
	PutOpportunity(ctx context.Context, o *domain.Opportunity) error
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	PutTrade(ctx context.Context, t *domain.Trade) error
	ListOpenTrades(ctx context.Context, mode domain.Mode) ([]*domain.Trade, error)
	ListRecentClosedTrades(ctx context.Context, mode domain.Mode, limit int) ([]*domain.Trade, error)
	TradeExistsForOpportunity(ctx context.Context, opportunityID string, mode domain.Mode) (bool, error)
	AppendSnapshot(ctx context.Context, s *domain.PortfolioSnapshot) error
	LatestSnapshot(ctx context.Context, mode domain.Mode) (*domain.PortfolioSnapshot, error)
	ListSnapshots(ctx context.Context, mode domain.Mode, since int64, limit int) ([]*domain.PortfolioSnapshot, error)
	GetUserConfiguration(ctx context.Context, userID string) (*domain.UserConfiguration, error)
}

// OpportunityLinker is the narrow slice of C5 that C6 calls back into once a
// real confirmation has produced a Trade, per Design Note "Cyclic references
// in Opportunity ↔ Trade": C6 owns the write, C5 owns the status edge.
type OpportunityLinker interface {
	ConfirmReal(ctx context.Context, opportunityID, tradeID string) error
}

// MarketReader is the pull-side market data surface this engine needs: the
// tradable pair's lot/tick constraints and a last-price read for TSL and
// auto-pause evaluation.
type MarketReader interface {
	GetPairInfo(ctx context.Context, symbol string) (tradernet.PairInfo, error)
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
}

// OrderSubmitter is the narrow exchange surface engine.go drives; real mode
// routes through it, paper mode never does.
type OrderSubmitter interface {
	SubmitOrder(req tradernet.OrderRequest) (*tradernet.OrderResult, error)
	CancelOrder(symbol, exchangeOrderID string) error
}

// TradeProposal is propose()'s output: a sized, not-yet-committed candidate
// the caller must confirm within its ttl, per §4.6's propose/confirm split.
type TradeProposal struct {
	Nonce           string
	OpportunityID   string
	Symbol          string
	Side            domain.TradeSide
	EntryPrice      float64
	StopPrice       float64
	TakeProfit      *float64
	TSLActivation   *float64
	TSLCallbackRate float64
	Quantity        float64
	RiskQuote       float64
	Mode            domain.Mode
	ExpiresAt       time.Time
}

// defaultTSLCallbackRate is used when neither the verdict nor the opportunity's
// strategy config supplies one, §4.6.
const defaultTSLCallbackRate = 0.01

type pendingProposal struct {
	proposal TradeProposal
	opp      *domain.Opportunity
	pair     tradernet.PairInfo
}

const proposalTTL = 2 * time.Minute

// Engine is C6: the execution and risk engine. It sizes positions, proposes
// and confirms trades, advances trailing stops, serializes order-event
// application per trade, and evaluates the automatic-pause safety net after
// every closed position. Grounded on the teacher's trading-loop's
// transaction-scoped writes and zerolog conventions.
type Engine struct {
	store    Store
	linker   OpportunityLinker
	market   MarketReader
	orders   OrderSubmitter
	gate     *Gate
	notifier *events.Manager
	userID   string
	log      zerolog.Logger

	mu         sync.Mutex
	proposals  map[string]*pendingProposal
	tradeLocks sync.Map // trade id -> *sync.Mutex, per-trade FIFO serialization for on_order_event
	seq        sync.Map // opportunity id -> *int64, clientOrderId sequencing
}

// NewEngine builds the execution engine. linker may be nil at construction
// time and supplied afterward via SetLinker to break the Engine/Service
// construction cycle (the opportunities.Service also needs the Engine as
// its TradeConverter).
func NewEngine(store Store, linker OpportunityLinker, market MarketReader, orders OrderSubmitter, gate *Gate, notifier *events.Manager, userID string, log zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		linker:    linker,
		market:    market,
		orders:    orders,
		gate:      gate,
		notifier:  notifier,
		userID:    userID,
		log:       log.With().Str("module", "execution").Logger(),
		proposals: make(map[string]*pendingProposal),
	}
}

// SetLinker wires the C5 callback after construction, for wiring
// main.go's Engine/opportunities.Service construction cycle.
func (e *Engine) SetLinker(linker OpportunityLinker) {
	e.linker = linker
}

// Propose runs §4.6's sizing algorithm against an analysis-complete
// opportunity pending real confirmation and returns a short-lived proposal
// the caller must pass back to Confirm. It does not touch persisted state.
func (e *Engine) Propose(ctx context.Context, opportunityID string) (*TradeProposal, error) {
	opp, err := e.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if opp.Verdict == nil {
		return nil, errs.New(errs.PreconditionFailed, "opportunity has no verdict yet")
	}

	pair, err := e.market.GetPairInfo(ctx, opp.Symbol)
	if err != nil {
		return nil, err
	}

	sizing, entry, stop, takeProfit, tslActivation, tslCallbackRate, side, err := e.size(ctx, opp, pair)
	if err != nil {
		return nil, err
	}

	nonce := uuid.NewString()
	proposal := TradeProposal{
		Nonce:           nonce,
		OpportunityID:   opp.ID,
		Symbol:          opp.Symbol,
		Side:            side,
		EntryPrice:      entry,
		StopPrice:       stop,
		TakeProfit:      takeProfit,
		TSLActivation:   tslActivation,
		TSLCallbackRate: tslCallbackRate,
		Quantity:        sizing.Quantity,
		RiskQuote:       sizing.RiskBudgetQuote,
		Mode:            opp.Mode,
		ExpiresAt:       time.Now().Add(proposalTTL),
	}

	e.mu.Lock()
	e.proposals[nonce] = &pendingProposal{proposal: proposal, opp: opp, pair: pair}
	e.mu.Unlock()

	e.notifier.Emit(events.TradeProposed, "execution", map[string]interface{}{
		"opportunity_id": opp.ID, "symbol": opp.Symbol, "quantity": sizing.Quantity, "nonce": nonce,
	})
	return &proposal, nil
}

// size runs the seven-step sizing algorithm against the opportunity's
// current configuration and market state, deriving entry/stop/take-profit
// from the verdict's recommended params where present, else the opportunity's
// initial signal.
func (e *Engine) size(ctx context.Context, opp *domain.Opportunity, pair tradernet.PairInfo) (*SizingResult, float64, float64, *float64, *float64, float64, domain.TradeSide, error) {
	cfg, err := e.store.GetUserConfiguration(ctx, e.userID)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, 0, 0, nil, nil, 0, "", err
	}
	if cfg == nil {
		cfg = &domain.UserConfiguration{RiskProfileSettings: domain.RiskProfileSettings{PerTradeRiskPct: 0.01}}
	}

	entry := opp.InitialSignal.TargetEntry
	stop := opp.InitialSignal.TargetStop
	takeProfit := opp.InitialSignal.TargetTakeProfit
	if v, ok := opp.Verdict.RecommendedParams["entry"]; ok {
		entry = v
	}
	if v, ok := opp.Verdict.RecommendedParams["stop"]; ok {
		stop = v
	}
	if v, ok := opp.Verdict.RecommendedParams["take_profit"]; ok {
		takeProfit = v
	}
	if entry <= 0 {
		last, err := e.market.GetLastPrice(ctx, opp.Symbol)
		if err != nil {
			return nil, 0, 0, nil, nil, 0, "", err
		}
		entry = last
	}

	side := opp.InitialSignal.DirectionHint
	if !side.IsValid() {
		if opp.Verdict.SuggestedAction == domain.ActionSell || opp.Verdict.SuggestedAction == domain.ActionStrongSell {
			side = domain.SideSell
		} else {
			side = domain.SideBuy
		}
	}

	snapshot, err := e.store.LatestSnapshot(ctx, opp.Mode)
	if err != nil {
		return nil, 0, 0, nil, nil, 0, "", err
	}

	openTrades, err := e.store.ListOpenTrades(ctx, opp.Mode)
	if err != nil {
		return nil, 0, 0, nil, nil, 0, "", err
	}
	concurrent := len(openTrades)

	dailyBudget := snapshot.TotalPortfolioValue * cfg.RiskProfileSettings.DailyCapitalRiskPercentage
	if dailyBudget <= 0 {
		dailyBudget = snapshot.TotalPortfolioValue
	}
	spentToday := e.riskSpentToday(openTrades)

	var perTradeOverride *float64
	input := SizingInput{
		AccountEquity:            snapshot.TotalPortfolioValue,
		EntryPrice:               entry,
		StopPrice:                stop,
		PerTradeRiskPctOverride:  perTradeOverride,
		DefaultPerTradeRiskPct:   cfg.RiskProfileSettings.PerTradeRiskPct,
		DailyRiskBudgetRemaining: math.Max(0, dailyBudget-spentToday),
		ConcurrentOpenCount:      concurrent,
		MaxConcurrentOperations:  cfg.RealTradingSettings.MaxConcurrentOperations,
		Pair:                     pair,
	}
	sizing, err := ComputeQuantity(input)
	if err != nil {
		return nil, 0, 0, nil, nil, 0, "", err
	}

	var tp *float64
	if takeProfit > 0 {
		tp = &takeProfit
	}

	// TSL activation/callback rate are configured at trade creation, §4.6: the
	// verdict may recommend explicit values; absent that, activation defaults
	// to the take-profit midpoint and the callback rate to a fixed default.
	var tslActivation *float64
	if v, ok := opp.Verdict.RecommendedParams["tsl_activation"]; ok {
		tslActivation = &v
	} else if tp != nil {
		a := entry + (*tp-entry)*0.5
		tslActivation = &a
	}
	tslCallbackRate := defaultTSLCallbackRate
	if v, ok := opp.Verdict.RecommendedParams["tsl_callback_rate"]; ok {
		tslCallbackRate = v
	}

	return sizing, entry, stop, tp, tslActivation, tslCallbackRate, side, nil
}

// riskSpentToday sums the initial risk of every trade in openTrades created
// since midnight (UTC), the running total the daily ceiling check in
// ComputeQuantity consults. The caller passes open trades only, so a trade
// opened and already closed today is not counted.
func (e *Engine) riskSpentToday(openTrades []*domain.Trade) float64 {
	midnight := time.Now().Truncate(24 * time.Hour)
	var spent float64
	for _, t := range openTrades {
		if t.CreatedAt.After(midnight) {
			spent += t.InitialRiskQuote
		}
	}
	return spent
}

// Confirm commits a proposal into a Trade. Paper mode writes directly; real
// mode acquires a gate slot and submits to the exchange inside the same
// logical operation, rolling the slot back if the write or the submission
// fails, per §4.6's at-most-once real-submission invariant.
func (e *Engine) Confirm(ctx context.Context, nonce string) (*domain.Trade, error) {
	e.mu.Lock()
	pending, ok := e.proposals[nonce]
	if ok {
		delete(e.proposals, nonce)
	}
	e.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "no pending proposal for nonce")
	}
	if time.Now().After(pending.proposal.ExpiresAt) {
		return nil, errs.New(errs.PreconditionFailed, "proposal has expired, re-propose")
	}

	if pending.proposal.Mode == domain.ModeReal {
		return e.confirmReal(ctx, pending)
	}
	return e.confirmPaper(ctx, pending)
}

func (e *Engine) confirmReal(ctx context.Context, pending *pendingProposal) (*domain.Trade, error) {
	exists, err := e.store.TradeExistsForOpportunity(ctx, pending.opp.ID, domain.ModeReal)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.New(errs.PreconditionFailed, "a real trade already exists for this opportunity")
	}

	if !e.gate.TryAcquireRealSlot() {
		return nil, errs.New(errs.PreconditionFailed, "no real-mode slots available")
	}
	acquired := true
	defer func() {
		if acquired {
			e.gate.ReleaseRealSlot()
		}
	}()

	trade := e.newTrade(pending)
	trade.PositionStatus = domain.PositionOpening
	clientOrderID := e.clientOrderID(pending.opp.ID)
	trade.EntryOrder.ClientOrderID = clientOrderID
	trade.EntryOrder.Status = domain.OrderPendingSubmit

	if err := e.store.PutTrade(ctx, trade); err != nil {
		return nil, err
	}

	result, err := e.orders.SubmitOrder(tradernet.OrderRequest{
		Symbol:        trade.Symbol,
		Side:          string(trade.Side),
		Type:          string(domain.OrderTypeMarket),
		Quantity:      trade.EntryOrder.RequestedQuantity,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		trade.EntryOrder.Status = domain.OrderErrorSubmission
		trade.PositionStatus = domain.PositionError
		if putErr := e.store.PutTrade(ctx, trade); putErr != nil {
			e.log.Warn().Err(putErr).Str("trade_id", trade.ID).Msg("failed to persist error_submission after rejected real order")
		}
		e.notifier.Emit(events.OrderRejected, "execution", map[string]interface{}{"trade_id": trade.ID, "error": err.Error()})
		return nil, err
	}

	trade.EntryOrder.ExchangeOrderID = result.ExchangeOrderID
	trade.EntryOrder.ExecutedQuantity = result.ExecutedQty
	trade.EntryOrder.ExecutedPrice = result.ExecutedPrice
	trade.EntryOrder.Status = mapOrderStatus(result.Status)
	if trade.EntryOrder.Status == domain.OrderFilled || trade.EntryOrder.Status == domain.OrderPartiallyFilled {
		trade.PositionStatus = domain.PositionOpen
	}
	if err := e.store.PutTrade(ctx, trade); err != nil {
		return nil, err
	}

	if err := e.linker.ConfirmReal(ctx, pending.opp.ID, trade.ID); err != nil {
		e.log.Warn().Err(err).Str("opportunity_id", pending.opp.ID).Msg("failed to link real trade back onto opportunity")
	}

	e.notifier.Emit(events.TradeConfirmed, "execution", map[string]interface{}{"trade_id": trade.ID, "mode": "real"})
	if trade.PositionStatus == domain.PositionOpen {
		e.notifier.Emit(events.TradeOpened, "execution", map[string]interface{}{"trade_id": trade.ID})
	}

	acquired = false // ownership of the slot now lives with the open Trade until it closes
	return trade, nil
}

func (e *Engine) confirmPaper(ctx context.Context, pending *pendingProposal) (*domain.Trade, error) {
	trade := e.newTrade(pending)
	trade.EntryOrder.ClientOrderID = e.clientOrderID(pending.opp.ID)
	trade.EntryOrder.Status = domain.OrderFilled
	trade.EntryOrder.ExecutedQuantity = trade.EntryOrder.RequestedQuantity
	trade.EntryOrder.ExecutedPrice = pending.proposal.EntryPrice
	trade.PositionStatus = domain.PositionOpen

	if err := e.store.PutTrade(ctx, trade); err != nil {
		return nil, err
	}
	e.notifier.Emit(events.TradeConfirmed, "execution", map[string]interface{}{"trade_id": trade.ID, "mode": "paper"})
	e.notifier.Emit(events.TradeOpened, "execution", map[string]interface{}{"trade_id": trade.ID})
	return trade, nil
}

// ExecutePaper implements opportunities.TradeConverter: a one-shot
// propose+confirm for paper mode, the only path C5's route() drives
// directly without a human confirmation step.
func (e *Engine) ExecutePaper(ctx context.Context, opportunityID string) (*domain.Trade, error) {
	proposal, err := e.Propose(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	return e.Confirm(ctx, proposal.Nonce)
}

func (e *Engine) newTrade(pending *pendingProposal) *domain.Trade {
	now := time.Now()
	return &domain.Trade{
		ID:               uuid.NewString(),
		Mode:             pending.proposal.Mode,
		Symbol:           pending.proposal.Symbol,
		Side:             pending.proposal.Side,
		OpportunityID:    pending.opp.ID,
		StrategyConfigID: pending.opp.StrategyConfigID,
		PositionStatus:   domain.PositionPendingEntry,
		EntryOrder: domain.TradeOrder{
			ID:                uuid.NewString(),
			Type:              domain.OrderTypeMarket,
			Side:              pending.proposal.Side,
			RequestedQuantity: pending.proposal.Quantity,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		InitialRiskQuote: pending.proposal.RiskQuote,
		CurrentRiskQuote: pending.proposal.RiskQuote,
		CurrentStopTSL:   nil,
		TSLActivation:    pending.proposal.TSLActivation,
		TSLCallbackRate:  pending.proposal.TSLCallbackRate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// clientOrderID builds the deterministic "{opportunity_id}-{seq}" scheme of
// Design Note "clientOrderId", letting a resubmission after a crash reuse the
// same id instead of risking a second fill.
func (e *Engine) clientOrderID(opportunityID string) string {
	counter, _ := e.seq.LoadOrStore(opportunityID, new(int64))
	c := counter.(*int64)
	*c++
	return fmt.Sprintf("%s-%d", opportunityID, *c)
}

func mapOrderStatus(exchangeStatus string) domain.OrderStatus {
	switch exchangeStatus {
	case "FILLED":
		return domain.OrderFilled
	case "PARTIALLY_FILLED":
		return domain.OrderPartiallyFilled
	case "REJECTED":
		return domain.OrderRejected
	case "CANCELED", "CANCELLED":
		return domain.OrderCancelled
	case "EXPIRED":
		return domain.OrderExpired
	default:
		return domain.OrderOpen
	}
}

// tradeLock returns the per-trade mutex used to serialize on_order_event and
// TSL-advance writes against the same trade, §4.6's FIFO-per-trade rule.
func (e *Engine) tradeLock(tradeID string) *sync.Mutex {
	lock, _ := e.tradeLocks.LoadOrStore(tradeID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// OrderEvent is an exchange fill/status update delivered out-of-band (via
// the C3 user-data stream), applied here under per-trade serialization.
type OrderEvent struct {
	TradeID          string
	IsExit           bool
	ExchangeOrderID  string
	Status           string
	ExecutedQuantity float64
	ExecutedPrice    float64
	Commission       *domain.Commission
}

// OnOrderEvent applies an exchange order update to the matching Trade,
// closing it and evaluating the auto-pause safety net when the position
// becomes fully closed.
func (e *Engine) OnOrderEvent(ctx context.Context, ev OrderEvent) error {
	lock := e.tradeLock(ev.TradeID)
	lock.Lock()
	defer lock.Unlock()

	trade, err := e.store.GetTrade(ctx, ev.TradeID)
	if err != nil {
		return err
	}

	var order *domain.TradeOrder
	if ev.IsExit {
		for i := range trade.ExitOrders {
			if trade.ExitOrders[i].ExchangeOrderID == ev.ExchangeOrderID {
				order = &trade.ExitOrders[i]
				break
			}
		}
	} else {
		order = &trade.EntryOrder
	}
	if order == nil {
		return errs.New(errs.NotFound, "order event does not match any known order on trade")
	}

	order.ExecutedQuantity = ev.ExecutedQuantity
	order.ExecutedPrice = ev.ExecutedPrice
	order.Status = mapOrderStatus(ev.Status)
	order.UpdatedAt = time.Now()
	if ev.Commission != nil {
		order.Commissions = append(order.Commissions, *ev.Commission)
	}

	if !ev.IsExit && order.Status == domain.OrderFilled {
		trade.PositionStatus = domain.PositionOpen
	}

	trade.UpdatedAt = time.Now()
	if err := e.store.PutTrade(ctx, trade); err != nil {
		return err
	}

	if trade.IsFullyClosed() {
		return e.closeTrade(ctx, trade)
	}
	return nil
}

// AdvancePrice drives the TSL algorithm and detects a hit against the
// current last price, submitting the closing exit order when the stop trips.
func (e *Engine) AdvancePrice(ctx context.Context, tradeID string, currentPrice float64) error {
	lock := e.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade.PositionStatus != domain.PositionOpen && trade.PositionStatus != domain.PositionPartiallyClosed {
		return nil
	}

	outcome := AdvanceTSL(trade, currentPrice)
	if outcome.Advanced {
		trade.UpdatedAt = time.Now()
		if err := e.store.PutTrade(ctx, trade); err != nil {
			return err
		}
		e.notifier.Emit(events.TradeTSLMoved, "execution", map[string]interface{}{"trade_id": trade.ID, "new_stop": *outcome.NewStop})
	}
	if outcome.Hit {
		return e.closePosition(ctx, trade, domain.ClosingSLHit, currentPrice)
	}
	return nil
}

// Cancel requests cancellation of a trade's open entry order.
func (e *Engine) Cancel(ctx context.Context, tradeID string) error {
	lock := e.tradeLock(tradeID)
	lock.Lock()
	defer lock.Unlock()

	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade.EntryOrder.Status.IsTerminal() {
		return nil
	}
	if trade.Mode == domain.ModeReal && trade.EntryOrder.ExchangeOrderID != "" {
		if err := e.orders.CancelOrder(trade.Symbol, trade.EntryOrder.ExchangeOrderID); err != nil {
			return err
		}
	}
	trade.EntryOrder.Status = domain.OrderCancelling
	trade.UpdatedAt = time.Now()
	return e.store.PutTrade(ctx, trade)
}

// closePosition submits a market exit order for a trade's remaining
// quantity and records the reason; AdvancePrice calls it when the TSL trips.
// A paper exit fills at price, the market price that tripped the stop.
func (e *Engine) closePosition(ctx context.Context, trade *domain.Trade, reason domain.ClosingReason, price float64) error {
	remaining := trade.EntryOrder.ExecutedQuantity - trade.ExitExecutedQuantity()
	if remaining <= 0 {
		return nil
	}

	exit := domain.TradeOrder{
		ID:                uuid.NewString(),
		ClientOrderID:     e.clientOrderID(trade.OpportunityID),
		Type:              domain.OrderTypeManualClose,
		Side:              trade.Side.Opposite(),
		RequestedQuantity: remaining,
		Status:            domain.OrderPendingSubmit,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}

	if trade.Mode == domain.ModeReal {
		result, err := e.orders.SubmitOrder(tradernet.OrderRequest{
			Symbol:        trade.Symbol,
			Side:          string(exit.Side),
			Type:          string(domain.OrderTypeMarket),
			Quantity:      remaining,
			ClientOrderID: exit.ClientOrderID,
		})
		if err != nil {
			return err
		}
		exit.ExchangeOrderID = result.ExchangeOrderID
		exit.ExecutedQuantity = result.ExecutedQty
		exit.ExecutedPrice = result.ExecutedPrice
		exit.Status = mapOrderStatus(result.Status)
	} else {
		exit.ExecutedQuantity = remaining
		exit.ExecutedPrice = price
		exit.Status = domain.OrderFilled
	}

	trade.ClosingReason = reason
	trade.ExitOrders = append(trade.ExitOrders, exit)
	trade.UpdatedAt = time.Now()
	if err := e.store.PutTrade(ctx, trade); err != nil {
		return err
	}

	if trade.IsFullyClosed() {
		return e.closeTrade(ctx, trade)
	}
	return nil
}

// closeTrade finalizes PnL, releases a real-mode slot if held, takes a
// post-close snapshot, and evaluates the auto-pause safety net. Called only
// once a trade's exits fully account for its entry.
func (e *Engine) closeTrade(ctx context.Context, trade *domain.Trade) error {
	entryNotional := trade.EntryOrder.ExecutedQuantity * trade.EntryOrder.ExecutedPrice
	exitNotional := 0.0
	for _, ex := range trade.ExitOrders {
		exitNotional += ex.ExecutedQuantity * ex.ExecutedPrice
	}
	var pnl float64
	if trade.Side == domain.SideBuy {
		pnl = exitNotional - entryNotional
	} else {
		pnl = entryNotional - exitNotional
	}
	var pnlPct float64
	if entryNotional > 0 {
		pnlPct = pnl / entryNotional
	}
	trade.RealizedPnLQuote = &pnl
	trade.RealizedPnLPct = &pnlPct
	trade.PositionStatus = domain.PositionClosed
	trade.UpdatedAt = time.Now()

	if err := e.store.PutTrade(ctx, trade); err != nil {
		return err
	}
	if trade.Mode == domain.ModeReal {
		e.gate.ReleaseRealSlot()
	}
	e.notifier.Emit(events.TradeClosed, "execution", map[string]interface{}{
		"trade_id": trade.ID, "pnl_quote": pnl, "pnl_pct": pnlPct, "reason": string(trade.ClosingReason),
	})

	if err := e.snapshotAfterClose(ctx, trade.Mode); err != nil {
		e.log.Warn().Err(err).Str("trade_id", trade.ID).Msg("failed to take post-close snapshot")
	}
	return e.evaluateAutoPause(ctx, trade.Mode)
}

// snapshotAfterClose persists a PortfolioSnapshot tagged after-trade-close.
// The valuation itself is delegated to whatever already produced the most
// recent snapshot's holdings (the scheduler's periodic valuation job keeps
// cash/holdings current); this call only stamps a fresh cumulative-PnL point
// for the drawdown and daily-loss checks that follow.
func (e *Engine) snapshotAfterClose(ctx context.Context, mode domain.Mode) error {
	latest, err := e.store.LatestSnapshot(ctx, mode)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	snap := *latest
	snap.ID = uuid.NewString()
	snap.Source = domain.SnapshotAfterTradeClose
	snap.TakenAt = time.Now()
	return e.store.AppendSnapshot(ctx, &snap)
}

// evaluateAutoPause implements §4.6's automatic-pause triggers: a daily
// absolute loss limit, a run of consecutive losing trades, and a
// max-drawdown breach measured over the mode's snapshot history.
func (e *Engine) evaluateAutoPause(ctx context.Context, mode domain.Mode) error {
	if mode != domain.ModeReal {
		return nil
	}
	cfg, err := e.store.GetUserConfiguration(ctx, e.userID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	settings := cfg.RealTradingSettings

	since := time.Now().Truncate(24 * time.Hour).Unix()
	snapshots, err := e.store.ListSnapshots(ctx, mode, since, 0)
	if err != nil {
		return err
	}
	if len(snapshots) >= 2 {
		dailyLoss := snapshots[0].TotalPortfolioValue - snapshots[len(snapshots)-1].TotalPortfolioValue
		if settings.DailyLossLimitAbsolute > 0 && dailyLoss >= settings.DailyLossLimitAbsolute {
			e.gate.Pause(fmt.Sprintf("daily loss %.2f reached limit %.2f", dailyLoss, settings.DailyLossLimitAbsolute))
			e.notifier.Emit(events.RealTradingPaused, "execution", map[string]interface{}{"reason": "daily_loss_limit"})
			return nil
		}
	}

	if settings.MaxDrawdownPct > 0 {
		history, err := e.store.ListSnapshots(ctx, mode, 0, 0)
		if err != nil {
			return err
		}
		values := make([]float64, len(history))
		for i, s := range history {
			values[i] = s.TotalPortfolioValue
		}
		if dd := formulas.CalculateMaxDrawdown(values); dd != nil && *dd >= settings.MaxDrawdownPct {
			e.gate.Pause(fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", *dd*100, settings.MaxDrawdownPct*100))
			e.notifier.Emit(events.RealTradingPaused, "execution", map[string]interface{}{"reason": "max_drawdown"})
			return nil
		}
	}

	if settings.MaxConsecutiveLosses > 0 {
		losses, err := e.consecutiveLosses(ctx, mode, settings.MaxConsecutiveLosses)
		if err != nil {
			return err
		}
		if losses >= settings.MaxConsecutiveLosses {
			e.gate.Pause(fmt.Sprintf("%d consecutive losing trades", losses))
			e.notifier.Emit(events.RealTradingPaused, "execution", map[string]interface{}{"reason": "consecutive_losses"})
		}
	}
	return nil
}

// consecutiveLosses counts the trailing run of closed losing trades in the
// given mode, newest first, stopping at the first winner or at limit.
func (e *Engine) consecutiveLosses(ctx context.Context, mode domain.Mode, limit int) (int, error) {
	trades, err := e.store.ListRecentClosedTrades(ctx, mode, limit)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range trades {
		if t.RealizedPnLQuote == nil || *t.RealizedPnLQuote >= 0 {
			break
		}
		count++
	}
	return count, nil
}
