package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types emitted by the trading core.
type EventType string

const (
	OpportunityDiscovered   EventType = "OPPORTUNITY_DISCOVERED"
	OpportunityAnalyzing    EventType = "OPPORTUNITY_ANALYZING"
	OpportunityVerdictReady EventType = "OPPORTUNITY_VERDICT_READY"
	OpportunityExpired      EventType = "OPPORTUNITY_EXPIRED"
	OpportunityErrored      EventType = "OPPORTUNITY_ERRORED"

	TradeProposed  EventType = "TRADE_PROPOSED"
	TradeConfirmed EventType = "TRADE_CONFIRMED"
	TradeOpened    EventType = "TRADE_OPENED"
	TradeTSLMoved  EventType = "TRADE_TSL_MOVED"
	TradeClosed    EventType = "TRADE_CLOSED"
	OrderRejected  EventType = "ORDER_REJECTED"

	RealTradingPaused  EventType = "REAL_TRADING_PAUSED"
	RealTradingResumed EventType = "REAL_TRADING_RESUMED"

	CredentialVerified EventType = "CREDENTIAL_VERIFIED"
	CredentialRevoked  EventType = "CREDENTIAL_REVOKED"

	StreamReconnected EventType = "STREAM_RECONNECTED"
	ErrorOccurred     EventType = "ERROR_OCCURRED"
)

// Event represents a system event, fanned out for future notification
// surfaces; this core only logs it, per the chat fan-out non-goal.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission and logging.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a new event manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit emits an event.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("event emitted")
}

// EmitError emits an error event.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
