package scheduler

import (
	"context"
	"time"

	"github.com/aristath/tradecore/internal/clients/tradernet"
)

// ExpirySweeper scans non-terminal opportunities past expiry and transitions
// them to expired, §4.5's monotonic sweep.
type ExpirySweeper struct {
	sweep func(ctx context.Context) (int, error)
}

// NewExpirySweeper builds the job. sweep is opportunities.Service.SweepExpired.
func NewExpirySweeper(sweep func(ctx context.Context) (int, error)) *ExpirySweeper {
	return &ExpirySweeper{sweep: sweep}
}

func (j *ExpirySweeper) Name() string { return "opportunity_expiry_sweep" }

func (j *ExpirySweeper) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := j.sweep(ctx)
	return err
}

// StuckAnalysisResetter resets opportunities stuck in under_ai_analysis past
// the orchestrator's grace period, recovering from a crash mid-analysis.
type StuckAnalysisResetter struct {
	reset func(ctx context.Context) (int, error)
}

// NewStuckAnalysisResetter builds the job. reset is
// aiorchestrator.Orchestrator.ResetStuckAnalyses.
func NewStuckAnalysisResetter(reset func(ctx context.Context) (int, error)) *StuckAnalysisResetter {
	return &StuckAnalysisResetter{reset: reset}
}

func (j *StuckAnalysisResetter) Name() string { return "stuck_analysis_reset" }

func (j *StuckAnalysisResetter) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := j.reset(ctx)
	return err
}

// ListenKeyKeepalive extends the user-data stream's listen key before it
// expires upstream, keeping the real-mode order-fill stream alive.
type ListenKeyKeepalive struct {
	rest      *tradernet.Client
	listenKey func() string
}

// NewListenKeyKeepalive builds the job. listenKey reads the Hub's current key.
func NewListenKeyKeepalive(rest *tradernet.Client, listenKey func() string) *ListenKeyKeepalive {
	return &ListenKeyKeepalive{rest: rest, listenKey: listenKey}
}

func (j *ListenKeyKeepalive) Name() string { return "listen_key_keepalive" }

func (j *ListenKeyKeepalive) Run() error {
	key := j.listenKey()
	if key == "" {
		return nil
	}
	return j.rest.KeepAliveListenKey(key)
}

// PortfolioValuator takes a scheduled PortfolioSnapshot for a mode, the
// periodic tick §4.6's auto-pause drawdown check relies on having fresh data
// to evaluate against even when no trade has just closed.
type PortfolioValuator struct {
	valuate func(ctx context.Context) error
}

// NewPortfolioValuator builds the job. valuate performs one mode's valuation
// and snapshot append.
func NewPortfolioValuator(valuate func(ctx context.Context) error) *PortfolioValuator {
	return &PortfolioValuator{valuate: valuate}
}

func (j *PortfolioValuator) Name() string { return "portfolio_valuation" }

func (j *PortfolioValuator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return j.valuate(ctx)
}
