// Package opportunities implements C5: the Opportunity lifecycle state
// machine of §4.5. Grounded on the teacher's opportunities Service shape
// (a thin wrapper around a registry/store with a handful of public
// operations, a zerolog logger scoped per module) generalized from
// calculator-driven portfolio candidates to this spec's AI-verdict-driven
// trade candidates.
package opportunities

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
	"github.com/aristath/tradecore/internal/events"
)

// Store is the slice of the persistence port this service needs.
type Store interface {
	GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error)
	PutOpportunity(ctx context.Context, o *domain.Opportunity) error
	ListOpportunitiesByStatus(ctx context.Context, status domain.OpportunityStatus, limit int) ([]*domain.Opportunity, error)
	ListExpiredOpportunities(ctx context.Context, asOf int64) ([]*domain.Opportunity, error)
	GetUserConfiguration(ctx context.Context, userID string) (*domain.UserConfiguration, error)
}

// TradeConverter is C6's entry points this engine routes analysis-complete
// opportunities to, keeping the Trade→Opportunity edge authoritative in C6
// per Design Note "Cyclic references in Opportunity ↔ Trade": C6 links the
// trade id back onto the Opportunity under its own transaction, and reports
// the resulting trade id here so C5 can mark it.
type TradeConverter interface {
	ExecutePaper(ctx context.Context, opportunityID string) (*domain.Trade, error)
}

// RealSlotGate narrows the operations gate to the read C5 needs when
// deciding whether a confidence-qualifying real-mode candidate can even be
// offered for confirmation, without granting C5 the ability to acquire or
// release slots itself (that stays C6's job under `confirm`).
type RealSlotGate interface {
	RemainingRealSlots() int
}

// Service is C5: the Opportunity lifecycle engine.
type Service struct {
	store    Store
	notifier *events.Manager
	converter TradeConverter
	slots    RealSlotGate
	userID   string
	log      zerolog.Logger
}

// NewService builds the opportunities engine.
func NewService(store Store, converter TradeConverter, slots RealSlotGate, userID string, notifier *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		notifier:  notifier,
		converter: converter,
		slots:     slots,
		userID:    userID,
		log:       log.With().Str("module", "opportunities").Logger(),
	}
}

// Submit creates a new Opportunity in status `new` and immediately advances
// it to `pending_ai_analysis`; §4.5's diagram treats `new` as transient once
// an opportunity is actually queued for analysis.
func (s *Service) Submit(ctx context.Context, o *domain.Opportunity) (*domain.Opportunity, error) {
	if o.Status == "" {
		o.Status = domain.StatusNew
	}
	if o.DetectedAt.IsZero() {
		o.DetectedAt = time.Now()
	}
	if err := s.store.PutOpportunity(ctx, o); err != nil {
		return nil, err
	}
	s.notifier.Emit(events.OpportunityDiscovered, "opportunities", map[string]interface{}{"opportunity_id": o.ID, "symbol": o.Symbol, "source": string(o.Source)})

	o.Status = domain.StatusPendingAIAnalysis
	if err := s.store.PutOpportunity(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyVerdict is C4's verdict-routing entry point, §4.4 step 5b / §4.5's
// transition table from analysis_complete. It owns the routing rule: C4
// only decides *that* a verdict exists, C5 decides *where it goes*.
func (s *Service) ApplyVerdict(ctx context.Context, opportunityID string, verdict *domain.Verdict) error {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return err
	}
	if opp.Status != domain.StatusUnderAIAnalysis {
		return errs.New(errs.PreconditionFailed, fmt.Sprintf("opportunity %s is not under analysis (status=%s)", opportunityID, opp.Status))
	}

	opp.Verdict = verdict
	opp.Status = domain.StatusAnalysisComplete
	opp.AnalysisStartedAt = nil
	if err := s.store.PutOpportunity(ctx, opp); err != nil {
		return err
	}
	s.notifier.Emit(events.OpportunityVerdictReady, "opportunities", map[string]interface{}{"opportunity_id": opportunityID, "action": string(verdict.SuggestedAction), "confidence": verdict.Confidence})

	return s.route(ctx, opp)
}

// route implements the analysis_complete branch of §4.5's diagram.
func (s *Service) route(ctx context.Context, opp *domain.Opportunity) error {
	thresholds, err := s.confidenceThresholds(ctx)
	if err != nil {
		return err
	}

	if !opp.Verdict.SuggestedAction.IsActionable() {
		return s.transition(ctx, opp, domain.StatusRejectedByAI, "")
	}

	if opp.Mode == domain.ModeReal {
		if opp.Verdict.Confidence < thresholds.Real {
			return s.transition(ctx, opp, domain.StatusRejectedByAI, "")
		}
		if s.slots != nil && s.slots.RemainingRealSlots() <= 0 {
			return s.transition(ctx, opp, domain.StatusErrorInProcessing, "REAL_SLOTS_EXHAUSTED")
		}
		return s.transition(ctx, opp, domain.StatusPendingUserConfirmationReal, "")
	}

	if opp.Verdict.Confidence < thresholds.Paper {
		return s.transition(ctx, opp, domain.StatusRejectedByAI, "")
	}

	trade, err := s.converter.ExecutePaper(ctx, opp.ID)
	if err != nil {
		return err
	}
	opp.LinkedTradeIDs = append(opp.LinkedTradeIDs, trade.ID)
	return s.transition(ctx, opp, domain.StatusConvertedToTradePaper, "")
}

func (s *Service) confidenceThresholds(ctx context.Context) (domain.ConfidenceThresholds, error) {
	cfg, err := s.store.GetUserConfiguration(ctx, s.userID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return domain.DefaultConfidenceThresholds(), nil
		}
		return domain.ConfidenceThresholds{}, err
	}
	return cfg.AIAnalysisConfidenceThresholds, nil
}

// transition is the single choke point every status change outside ApplyVerdict's
// verdict-attach step goes through: it enforces the compare-and-swap write
// and logs the edge, making a replayed request to reach the same status a
// cheap no-op check rather than a silent double-apply.
func (s *Service) transition(ctx context.Context, opp *domain.Opportunity, next domain.OpportunityStatus, reason string) error {
	if opp.Status == next {
		return nil
	}
	opp.Status = next
	if reason != "" {
		opp.ErrorReason = reason
	}
	if err := s.store.PutOpportunity(ctx, opp); err != nil {
		return err
	}
	s.log.Info().Str("opportunity_id", opp.ID).Str("status", string(next)).Msg("opportunity transitioned")
	return nil
}

// RejectByUser is the manual-dismiss edge from analysis_complete or
// pending_user_confirmation_real.
func (s *Service) RejectByUser(ctx context.Context, opportunityID string) error {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return err
	}
	if opp.Status.IsTerminal() {
		return nil // already terminal: replay is a no-op
	}
	if opp.Status != domain.StatusAnalysisComplete && opp.Status != domain.StatusPendingUserConfirmationReal {
		return errs.New(errs.PreconditionFailed, fmt.Sprintf("opportunity %s cannot be dismissed from status %s", opportunityID, opp.Status))
	}
	return s.transition(ctx, opp, domain.StatusRejectedByUser, "")
}

// ConfirmReal marks an Opportunity converted once C6's confirm has created
// the real Trade; called by C6 under the same logical operation as
// acquiring the real slot, per Design Note "Cyclic references".
func (s *Service) ConfirmReal(ctx context.Context, opportunityID, tradeID string) error {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return err
	}
	if opp.Status != domain.StatusPendingUserConfirmationReal {
		return errs.New(errs.PreconditionFailed, fmt.Sprintf("opportunity %s is not pending real confirmation (status=%s)", opportunityID, opp.Status))
	}
	opp.LinkedTradeIDs = append(opp.LinkedTradeIDs, tradeID)
	return s.transition(ctx, opp, domain.StatusConvertedToTradeReal, "")
}

// Reopen is §4.5's only backward edge: an operator manually returns an
// opportunity stuck in error_in_processing to the front of the analysis queue.
func (s *Service) Reopen(ctx context.Context, opportunityID string) error {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return err
	}
	if opp.Status != domain.StatusErrorInProcessing {
		return errs.New(errs.PreconditionFailed, fmt.Sprintf("opportunity %s is not in error_in_processing (status=%s)", opportunityID, opp.Status))
	}
	opp.ErrorReason = ""
	return s.transition(ctx, opp, domain.StatusPendingAIAnalysis, "")
}

// SweepExpired advances every non-terminal Opportunity whose expiry has
// passed to `expired`, exactly once, per §4.5's monotonic sweep.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredOpportunities(ctx, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, opp := range expired {
		if err := s.transition(ctx, opp, domain.StatusExpired, ""); err != nil {
			s.log.Warn().Err(err).Str("opportunity_id", opp.ID).Msg("failed to expire opportunity")
			continue
		}
		s.notifier.Emit(events.OpportunityExpired, "opportunities", map[string]interface{}{"opportunity_id": opp.ID})
		count++
	}
	return count, nil
}
