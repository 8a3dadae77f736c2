package aiorchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
	"github.com/aristath/tradecore/internal/events"
)

// Store is the slice of the persistence port the orchestrator needs,
// narrowed the way vault.CredentialStore narrows C2 for the vault.
type Store interface {
	GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error)
	PutOpportunity(ctx context.Context, o *domain.Opportunity) error
	GetStrategyConfig(ctx context.Context, id string) (*domain.TradingStrategyConfig, error)
	GetUserConfiguration(ctx context.Context, userID string) (*domain.UserConfiguration, error)
	ListStuckAnalyses(ctx context.Context, cutoff int64) ([]*domain.Opportunity, error)
}

// TickerSource is the C3 pull surface the data-verification pass uses to
// cross-check the AI's recommended entry price against the live market.
type TickerSource interface {
	GetTicker24h(symbol string) (*tradernet.Ticker24h, error)
}

// VerdictApplier is C5's verdict-routing entry point: the status-transition
// rules (thresholds, paper/real routing) stay owned by the opportunities
// engine, so C4 drives *when* the mutation happens without owning *how* it
// routes, per §4.5's statement that C5 alone mutates status/verdict.
type VerdictApplier interface {
	ApplyVerdict(ctx context.Context, opportunityID string, verdict *domain.Verdict) error
}

// Config holds the agent loop's tunables, all from §4.4/§5's stated defaults.
type Config struct {
	UserID               string
	HopBudget            int
	DefaultToolTimeout   time.Duration
	LLMTimeout           time.Duration
	DataVerificationBps  float64
	StuckAnalysisGrace   time.Duration
	RepeatedFailureLimit int
}

// DefaultConfig returns §4.4/§5's literal defaults.
func DefaultConfig(userID string) Config {
	return Config{
		UserID:               userID,
		HopBudget:            8,
		DefaultToolTimeout:   10 * time.Second,
		LLMTimeout:           30 * time.Second,
		DataVerificationBps:  50,
		StuckAnalysisGrace:   10 * time.Minute,
		RepeatedFailureLimit: 3,
	}
}

// Orchestrator is C4: the agent loop, §4.4.
type Orchestrator struct {
	store    Store
	registry *Registry
	llm      Client
	ticker   TickerSource
	applier  VerdictApplier
	notifier *events.Manager
	cfg      Config
	log      zerolog.Logger

	inflight singleflight.Group
}

// New builds an Orchestrator. ticker may be nil, in which case the
// data-verification pass is skipped (VerificationSkipped) rather than
// blocked on an unconfigured dependency.
func New(store Store, registry *Registry, llm Client, ticker TickerSource, applier VerdictApplier, notifier *events.Manager, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		llm:      llm,
		ticker:   ticker,
		applier:  applier,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("module", "ai_orchestrator").Logger(),
	}
}

// Analyze runs the agent loop for one Opportunity. The per-opportunity
// mutual exclusion of §4.4's concurrency discipline is enforced here via
// singleflight: concurrent callers for the same opportunity id share one
// in-flight analysis rather than racing two.
func (o *Orchestrator) Analyze(ctx context.Context, opportunityID string, strategyProfileID string) (*domain.Verdict, error) {
	v, err, _ := o.inflight.Do(opportunityID, func() (interface{}, error) {
		return o.analyze(ctx, opportunityID, strategyProfileID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Verdict), nil
}

func (o *Orchestrator) analyze(ctx context.Context, opportunityID string, strategyProfileID string) (*domain.Verdict, error) {
	opp, err := o.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}

	var profile *domain.TradingStrategyConfig
	if strategyProfileID != "" {
		profile, err = o.store.GetStrategyConfig(ctx, strategyProfileID)
		if err != nil {
			return nil, err
		}
	}
	thresholds, err := o.confidenceThresholds(ctx, profile)
	if err != nil {
		return nil, err
	}

	if err := o.enterAnalysis(ctx, opp); err != nil {
		return nil, err
	}

	start := time.Now()
	verdict, analyzeErr := o.runLoop(ctx, opp, profile)
	if analyzeErr != nil {
		if errs.Is(analyzeErr, errs.Cancelled) {
			// §4.4: no verdict persisted on cancellation; the under_ai_analysis
			// fence is left for the restart-recovery sweep or a manual retry.
			return nil, analyzeErr
		}
		o.markErrored(ctx, opportunityID, analyzeErr)
		return nil, analyzeErr
	}
	verdict.ProcessingTimeMS = time.Since(start).Milliseconds()

	if err := o.runDataVerification(ctx, opp, verdict, thresholds); err != nil {
		o.markErrored(ctx, opportunityID, err)
		return nil, err
	}

	if err := o.applier.ApplyVerdict(ctx, opportunityID, verdict); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (o *Orchestrator) confidenceThresholds(ctx context.Context, profile *domain.TradingStrategyConfig) (domain.ConfidenceThresholds, error) {
	if profile != nil && (profile.ConfidenceThresholds.Paper != 0 || profile.ConfidenceThresholds.Real != 0) {
		return profile.ConfidenceThresholds, nil
	}
	cfg, err := o.store.GetUserConfiguration(ctx, o.cfg.UserID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return domain.DefaultConfidenceThresholds(), nil
		}
		return domain.ConfidenceThresholds{}, err
	}
	return cfg.AIAnalysisConfidenceThresholds, nil
}

// enterAnalysis persists the under_ai_analysis fence (Design Note "Async
// tool loop without re-entrancy"): the durable half of the mutual-exclusion
// guard, surviving a process restart mid-analysis.
func (o *Orchestrator) enterAnalysis(ctx context.Context, opp *domain.Opportunity) error {
	if opp.Status != domain.StatusPendingAIAnalysis {
		return errs.New(errs.PreconditionFailed, fmt.Sprintf("opportunity %s is not pending analysis (status=%s)", opp.ID, opp.Status))
	}
	now := time.Now()
	opp.Status = domain.StatusUnderAIAnalysis
	opp.AnalysisStartedAt = &now
	if err := o.store.PutOpportunity(ctx, opp); err != nil {
		return err
	}
	o.notifier.Emit(events.OpportunityAnalyzing, "ai_orchestrator", map[string]interface{}{"opportunity_id": opp.ID})
	return nil
}

func (o *Orchestrator) markErrored(ctx context.Context, opportunityID string, cause error) {
	opp, err := o.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		o.log.Error().Err(err).Str("opportunity_id", opportunityID).Msg("failed to reload opportunity to mark errored")
		return
	}
	opp.Status = domain.StatusErrorInProcessing
	opp.ErrorReason = string(errs.KindOf(cause)) + ": " + cause.Error()
	if err := o.store.PutOpportunity(ctx, opp); err != nil {
		o.log.Error().Err(err).Str("opportunity_id", opportunityID).Msg("failed to persist error_in_processing")
		return
	}
	o.notifier.Emit(events.OpportunityErrored, "ai_orchestrator", map[string]interface{}{"opportunity_id": opportunityID, "reason": cause.Error()})
}

// runLoop drives §4.4 steps 2-4: assemble the prompt, submit, and either
// return a final verdict or dispatch a tool call and loop.
func (o *Orchestrator) runLoop(ctx context.Context, opp *domain.Opportunity, profile *domain.TradingStrategyConfig) (*domain.Verdict, error) {
	catalog := o.registry.Catalog()
	specs := make([]ToolSpec, 0, len(catalog))
	for _, t := range catalog {
		specs = append(specs, ToolSpec{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	payload, err := json.Marshal(opp)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal opportunity for prompt", err)
	}
	promptTemplate := "Analyze this trading opportunity and return a verdict."
	if profile != nil && profile.PromptTemplate != "" {
		promptTemplate = profile.PromptTemplate
	}

	messages := []Message{
		{Role: "system", Content: promptTemplate},
		{Role: "user", Content: string(payload)},
	}

	failureCounts := make(map[string]int)

	for hop := 0; ; hop++ {
		if hop >= o.cfg.HopBudget {
			return nil, errs.New(errs.Internal, fmt.Sprintf("hop budget of %d exhausted without a final verdict", o.cfg.HopBudget))
		}

		llmCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
		resp, err := o.llm.Complete(llmCtx, CompletionRequest{Messages: messages, Tools: specs})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errs.Wrap(errs.Cancelled, "analysis cancelled", ctx.Err())
			}
			return nil, err
		}

		if resp.ToolCall == nil {
			return o.parseVerdict(resp.FinalJSON, resp.ModelID)
		}

		result := o.invokeTool(ctx, resp.ToolCall)
		if result.IsError {
			failureCounts[resp.ToolCall.Name]++
			if failureCounts[resp.ToolCall.Name] >= o.cfg.RepeatedFailureLimit {
				return nil, errs.New(errs.Internal, fmt.Sprintf("tool %q failed %d times", resp.ToolCall.Name, failureCounts[resp.ToolCall.Name]))
			}
		}

		resultJSON, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return nil, errs.Wrap(errs.Internal, "marshal tool result", marshalErr)
		}
		messages = append(messages,
			Message{Role: "assistant", Content: fmt.Sprintf("tool_call:%s", resp.ToolCall.Name)},
			Message{Role: "tool", Content: string(resultJSON), ToolCallID: resp.ToolCall.Name},
		)
	}
}

// invokeTool dispatches one tool call with its own timeout, never
// propagating a tool failure directly: it is appended to the conversation
// per §4.4 step 4e and only escalates via the repeated-failure counter.
func (o *Orchestrator) invokeTool(ctx context.Context, call *ToolCall) ToolResult {
	tool, err := o.registry.Lookup(call.Name)
	if err != nil {
		return ToolResult{Name: call.Name, IsError: true, Error: err.Error()}
	}

	timeout := tool.Timeout
	if timeout == 0 {
		timeout = o.cfg.DefaultToolTimeout
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := tool.Invoke(toolCtx, call.Args)
	if err != nil {
		return ToolResult{Name: call.Name, IsError: true, Error: err.Error()}
	}
	return ToolResult{Name: call.Name, Output: out}
}

// parseVerdict defensively parses the LLM's final JSON payload, per §4.4's
// safety rule that any JSON-bearing field from the LLM is rejected wholesale
// on parse failure rather than partially trusted.
func (o *Orchestrator) parseVerdict(raw json.RawMessage, modelID string) (*domain.Verdict, error) {
	if len(raw) == 0 {
		return nil, errs.New(errs.Internal, "llm returned neither a tool call nor a final verdict")
	}
	var v domain.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errs.Wrap(errs.Internal, "malformed final verdict from llm", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, errs.New(errs.Internal, fmt.Sprintf("llm returned out-of-range confidence %.4f", v.Confidence))
	}
	if v.ModelID == "" {
		v.ModelID = modelID
	}
	return &v, nil
}

// runDataVerification is §4.4 step 5a: when the verdict is actionable and
// crosses the applicable confidence threshold, cross-check the recommended
// entry price against the live market tick via C3.
func (o *Orchestrator) runDataVerification(ctx context.Context, opp *domain.Opportunity, verdict *domain.Verdict, thresholds domain.ConfidenceThresholds) error {
	threshold := thresholds.Paper
	if opp.Mode == domain.ModeReal {
		threshold = thresholds.Real
	}
	if !verdict.SuggestedAction.IsActionable() || verdict.Confidence < threshold {
		verdict.DataVerificationStatus = domain.VerificationSkipped
		return nil
	}

	entryPrice := opp.InitialSignal.TargetEntry
	if p, ok := verdict.RecommendedParams["entry_price"]; ok {
		entryPrice = p
	}
	if entryPrice <= 0 || o.ticker == nil {
		verdict.DataVerificationStatus = domain.VerificationSkipped
		return nil
	}

	tick, err := o.ticker.GetTicker24h(opp.Symbol)
	if err != nil {
		return err
	}

	deviationBps := math.Abs(tick.LastPrice-entryPrice) / entryPrice * 10000
	if deviationBps > o.cfg.DataVerificationBps {
		verdict.DataVerificationStatus = domain.VerificationMismatch
		verdict.SuggestedAction = domain.ActionFurtherInvestigationNeeded
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("price deviation %.1f bps exceeds %.1f bps threshold", deviationBps, o.cfg.DataVerificationBps))
		return nil
	}
	verdict.DataVerificationStatus = domain.VerificationOK
	return nil
}

// ResetStuckAnalyses implements the restart-recovery routine of Design Note
// "Async tool loop without re-entrancy": any opportunity stuck in
// under_ai_analysis past the grace period is reset to pending_ai_analysis.
func (o *Orchestrator) ResetStuckAnalyses(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-o.cfg.StuckAnalysisGrace).Unix()
	stuck, err := o.store.ListStuckAnalyses(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, opp := range stuck {
		opp.Status = domain.StatusPendingAIAnalysis
		opp.AnalysisStartedAt = nil
		if err := o.store.PutOpportunity(ctx, opp); err != nil {
			o.log.Warn().Err(err).Str("opportunity_id", opp.ID).Msg("failed to reset stuck analysis")
			continue
		}
		reset++
	}
	if reset > 0 {
		o.log.Info().Int("count", reset).Msg("reset stuck analyses after restart")
	}
	return reset, nil
}
