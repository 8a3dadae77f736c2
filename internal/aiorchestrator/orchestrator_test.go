package aiorchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
	"github.com/aristath/tradecore/internal/events"
)

type fakeOrchStore struct {
	opportunities map[string]*domain.Opportunity
	configs       map[string]*domain.UserConfiguration
	configErr     error
	stuck         []*domain.Opportunity
}

func newFakeOrchStore() *fakeOrchStore {
	return &fakeOrchStore{opportunities: make(map[string]*domain.Opportunity), configs: make(map[string]*domain.UserConfiguration)}
}

func (f *fakeOrchStore) GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error) {
	o, ok := f.opportunities[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "opportunity not found")
	}
	return o, nil
}

func (f *fakeOrchStore) PutOpportunity(ctx context.Context, o *domain.Opportunity) error {
	f.opportunities[o.ID] = o
	return nil
}

func (f *fakeOrchStore) GetStrategyConfig(ctx context.Context, id string) (*domain.TradingStrategyConfig, error) {
	return &domain.TradingStrategyConfig{ID: id}, nil
}

func (f *fakeOrchStore) GetUserConfiguration(ctx context.Context, userID string) (*domain.UserConfiguration, error) {
	if f.configErr != nil {
		return nil, f.configErr
	}
	cfg, ok := f.configs[userID]
	if !ok {
		return nil, errs.New(errs.NotFound, "no configuration")
	}
	return cfg, nil
}

func (f *fakeOrchStore) ListStuckAnalyses(ctx context.Context, cutoff int64) ([]*domain.Opportunity, error) {
	return f.stuck, nil
}

type scriptedLLM struct {
	responses []*CompletionResponse
	errs      []error
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, errs.New(errs.Internal, "scriptedLLM: no more responses")
	}
	return s.responses[i], nil
}

type fakeApplier struct {
	applied *domain.Verdict
	err     error
}

func (f *fakeApplier) ApplyVerdict(ctx context.Context, opportunityID string, verdict *domain.Verdict) error {
	f.applied = verdict
	return f.err
}

func newTestOrchestrator(store Store, llm Client, applier VerdictApplier, cfg Config) *Orchestrator {
	return New(store, NewRegistry(), llm, nil, applier, events.NewManager(zerolog.Nop()), cfg, zerolog.Nop())
}

func finalVerdictResponse(action domain.SuggestedAction, confidence float64) *CompletionResponse {
	v := domain.Verdict{SuggestedAction: action, Confidence: confidence, RecommendedParams: map[string]float64{}}
	raw, _ := json.Marshal(v)
	return &CompletionResponse{FinalJSON: raw, ModelID: "gpt-4o"}
}

func pendingOpportunity(id string) *domain.Opportunity {
	return &domain.Opportunity{ID: id, Symbol: "BTCUSDT", Status: domain.StatusPendingAIAnalysis, Mode: domain.ModePaper}
}

func TestAnalyze_HappyPathAppliesVerdict(t *testing.T) {
	store := newFakeOrchStore()
	store.opportunities["opp-1"] = pendingOpportunity("opp-1")
	llm := &scriptedLLM{responses: []*CompletionResponse{finalVerdictResponse(domain.ActionHold, 0.4)}}
	applier := &fakeApplier{}

	o := newTestOrchestrator(store, llm, applier, DefaultConfig("user-1"))
	verdict, err := o.Analyze(context.Background(), "opp-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, verdict.SuggestedAction)
	assert.Equal(t, domain.VerificationSkipped, verdict.DataVerificationStatus, "no ticker configured means verification is skipped")
	assert.Same(t, verdict, applier.applied)
	assert.Equal(t, domain.StatusUnderAIAnalysis, store.opportunities["opp-1"].Status, "enterAnalysis leaves the fence; ApplyVerdict (owned by C5) advances it further")
}

func TestAnalyze_RejectsOpportunityNotPendingAnalysis(t *testing.T) {
	store := newFakeOrchStore()
	store.opportunities["opp-1"] = &domain.Opportunity{ID: "opp-1", Status: domain.StatusNew}
	o := newTestOrchestrator(store, &scriptedLLM{}, &fakeApplier{}, DefaultConfig("user-1"))

	_, err := o.Analyze(context.Background(), "opp-1", "")
	require.Error(t, err)
	assert.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
}

func TestAnalyze_HopBudgetExhaustionMarksErrored(t *testing.T) {
	store := newFakeOrchStore()
	store.opportunities["opp-1"] = pendingOpportunity("opp-1")

	toolCallResponse := &CompletionResponse{ToolCall: &ToolCall{Name: "unknown_tool"}}
	responses := make([]*CompletionResponse, 10)
	for i := range responses {
		responses[i] = toolCallResponse
	}
	llm := &scriptedLLM{responses: responses}
	cfg := DefaultConfig("user-1")
	cfg.HopBudget = 2
	cfg.RepeatedFailureLimit = 100 // keep hop budget as the thing that fires

	o := newTestOrchestrator(store, llm, &fakeApplier{}, cfg)
	_, err := o.Analyze(context.Background(), "opp-1", "")
	require.Error(t, err)
	assert.Equal(t, domain.StatusErrorInProcessing, store.opportunities["opp-1"].Status)
}

func TestAnalyze_RepeatedToolFailureAbortsBeforeHopBudget(t *testing.T) {
	store := newFakeOrchStore()
	store.opportunities["opp-1"] = pendingOpportunity("opp-1")

	toolCallResponse := &CompletionResponse{ToolCall: &ToolCall{Name: "unknown_tool"}}
	responses := make([]*CompletionResponse, 8)
	for i := range responses {
		responses[i] = toolCallResponse
	}
	llm := &scriptedLLM{responses: responses}
	cfg := DefaultConfig("user-1")
	cfg.RepeatedFailureLimit = 2

	o := newTestOrchestrator(store, llm, &fakeApplier{}, cfg)
	_, err := o.Analyze(context.Background(), "opp-1", "")
	require.Error(t, err)
	assert.LessOrEqual(t, llm.calls, 3, "must abort on the repeated-failure limit rather than burning the full hop budget")
}

func TestAnalyze_OutOfRangeConfidenceIsRejected(t *testing.T) {
	store := newFakeOrchStore()
	store.opportunities["opp-1"] = pendingOpportunity("opp-1")
	llm := &scriptedLLM{responses: []*CompletionResponse{finalVerdictResponse(domain.ActionBuy, 1.5)}}

	o := newTestOrchestrator(store, llm, &fakeApplier{}, DefaultConfig("user-1"))
	_, err := o.Analyze(context.Background(), "opp-1", "")
	require.Error(t, err)
	assert.Equal(t, domain.StatusErrorInProcessing, store.opportunities["opp-1"].Status)
}

func TestAnalyze_EmptyFinalAndNoToolCallIsRejected(t *testing.T) {
	store := newFakeOrchStore()
	store.opportunities["opp-1"] = pendingOpportunity("opp-1")
	llm := &scriptedLLM{responses: []*CompletionResponse{{}}}

	o := newTestOrchestrator(store, llm, &fakeApplier{}, DefaultConfig("user-1"))
	_, err := o.Analyze(context.Background(), "opp-1", "")
	require.Error(t, err)
}

func TestConfidenceThresholds_FallsBackToDefaultWhenConfigNotFound(t *testing.T) {
	store := newFakeOrchStore()
	o := newTestOrchestrator(store, &scriptedLLM{}, &fakeApplier{}, DefaultConfig("user-1"))

	thresholds, err := o.confidenceThresholds(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfidenceThresholds(), thresholds)
}

func TestConfidenceThresholds_PrefersNonZeroProfileOverride(t *testing.T) {
	store := newFakeOrchStore()
	o := newTestOrchestrator(store, &scriptedLLM{}, &fakeApplier{}, DefaultConfig("user-1"))

	profile := &domain.TradingStrategyConfig{ConfidenceThresholds: domain.ConfidenceThresholds{Paper: 0.6, Real: 0.9}}
	thresholds, err := o.confidenceThresholds(context.Background(), profile)
	require.NoError(t, err)
	assert.Equal(t, 0.6, thresholds.Paper)
}

func TestResetStuckAnalyses_ResetsEligibleOpportunities(t *testing.T) {
	store := newFakeOrchStore()
	now := pendingOpportunity("opp-1")
	now.Status = domain.StatusUnderAIAnalysis
	store.opportunities["opp-1"] = now
	store.stuck = []*domain.Opportunity{now}

	o := newTestOrchestrator(store, &scriptedLLM{}, &fakeApplier{}, DefaultConfig("user-1"))
	count, err := o.ResetStuckAnalyses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, domain.StatusPendingAIAnalysis, store.opportunities["opp-1"].Status)
	assert.Nil(t, store.opportunities["opp-1"].AnalysisStartedAt)
}

func TestResetStuckAnalyses_NoneStuckReturnsZero(t *testing.T) {
	store := newFakeOrchStore()
	o := newTestOrchestrator(store, &scriptedLLM{}, &fakeApplier{}, DefaultConfig("user-1"))
	count, err := o.ResetStuckAnalyses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
