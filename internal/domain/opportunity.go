package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// InitialSignal carries the detection-time hint that produced an Opportunity.
type InitialSignal struct {
	DirectionHint    TradeSide `json:"direction_hint"`
	TargetEntry      float64   `json:"target_entry"`
	TargetStop       float64   `json:"target_stop"`
	TargetTakeProfit float64   `json:"target_take_profit"`
	Timeframe        string    `json:"timeframe"`
	SourceConfidence float64   `json:"source_confidence"`
}

// Verdict is the AI Orchestrator's decision about an Opportunity, §4.4.
type Verdict struct {
	Confidence              float64                 `json:"confidence"`
	SuggestedAction          SuggestedAction         `json:"suggested_action"`
	RecommendedParams        map[string]float64      `json:"recommended_params"`
	Reasoning                string                  `json:"reasoning"`
	Warnings                 []string                `json:"warnings,omitempty"`
	DataVerificationStatus   DataVerificationStatus  `json:"data_verification_status"`
	ProcessingTimeMS         int64                   `json:"processing_time_ms"`
	ModelID                  string                  `json:"model_id"`
}

// Opportunity is the central record of a potential trade, §3.
type Opportunity struct {
	ID              string            `json:"id"`
	Symbol          string            `json:"symbol"`
	DetectedAt      time.Time         `json:"detected_at"`
	Source          OpportunitySource `json:"source"`
	SourcePayload   json.RawMessage   `json:"source_payload,omitempty"`
	InitialSignal   InitialSignal     `json:"initial_signal"`
	Verdict         *Verdict          `json:"verdict,omitempty"`
	Status          OpportunityStatus `json:"status"`
	LinkedTradeIDs  []string          `json:"linked_trade_ids,omitempty"`
	ExpiresAt       time.Time         `json:"expires_at"`
	Mode            Mode              `json:"mode"`
	StrategyConfigID string           `json:"strategy_config_id,omitempty"`
	ErrorReason     string            `json:"error_reason,omitempty"`
	// AnalysisStartedAt marks when the opportunity entered under_ai_analysis;
	// it is the durable fence a restart uses to detect and reset a stuck
	// analysis after a grace period, Design Note "Async tool loop".
	AnalysisStartedAt *time.Time      `json:"analysis_started_at,omitempty"`
	Version         int64             `json:"version"`
}

// Validate enforces the invariants of §3 that are checkable without
// reference to the prior persisted state (those live in the state machine).
func (o *Opportunity) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("opportunity symbol cannot be empty")
	}
	switch o.Source {
	case SourceExternalSignal, SourceInternalIndicator, SourceAIProactive, SourceManual, SourceUserAlert:
	default:
		return ErrInvalidEnum("source", string(o.Source))
	}
	if !o.Mode.IsValid() {
		return ErrInvalidEnum("mode", string(o.Mode))
	}

	convertedReal := o.Status == StatusConvertedToTradeReal
	convertedPaper := o.Status == StatusConvertedToTradePaper
	if (convertedReal || convertedPaper) && len(o.LinkedTradeIDs) == 0 {
		return fmt.Errorf("opportunity %s: linked_trade_ids must be non-empty when status is %s", o.ID, o.Status)
	}
	if !convertedReal && !convertedPaper && len(o.LinkedTradeIDs) > 0 {
		return fmt.Errorf("opportunity %s: linked_trade_ids must be empty outside converted_to_trade_* states", o.ID)
	}

	verdictRequired := o.Status == StatusAnalysisComplete || postAnalysisStates[o.Status]
	if verdictRequired && o.Verdict == nil {
		return fmt.Errorf("opportunity %s: verdict required for status %s", o.ID, o.Status)
	}
	preAnalysisStates := map[OpportunityStatus]bool{StatusNew: true, StatusPendingAIAnalysis: true, StatusUnderAIAnalysis: true}
	if preAnalysisStates[o.Status] && o.Verdict != nil {
		return fmt.Errorf("opportunity %s: verdict must be absent before analysis completes (status %s)", o.ID, o.Status)
	}

	return nil
}

// postAnalysisStates are every status reachable only after analysis_complete.
var postAnalysisStates = map[OpportunityStatus]bool{
	StatusRejectedByAI:                true,
	StatusPendingUserConfirmationReal: true,
	StatusConvertedToTradePaper:       true,
	StatusConvertedToTradeReal:        true,
	StatusRejectedByUser:              true,
}

// IsExpired reports whether the opportunity's expiry has passed relative to now.
func (o *Opportunity) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}
