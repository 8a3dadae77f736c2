// Package persistence implements the C2 persistence port: a storage-agnostic
// contract the rest of the core programs against, backed here by SQLite via
// modernc.org/sqlite (the teacher's own driver choice). Physical schema
// layout is intentionally not part of the port's contract.
package persistence

import (
	"context"

	"github.com/aristath/tradecore/internal/domain"
)

// Port is the full persistence contract C2 exposes to C4/C5/C6.
type Port interface {
	// Opportunities
	GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error)
	PutOpportunity(ctx context.Context, o *domain.Opportunity) error
	ListOpportunitiesByStatus(ctx context.Context, status domain.OpportunityStatus, limit int) ([]*domain.Opportunity, error)
	ListExpiredOpportunities(ctx context.Context, asOf int64) ([]*domain.Opportunity, error)
	ListStuckAnalyses(ctx context.Context, cutoff int64) ([]*domain.Opportunity, error)

	// Trades
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	PutTrade(ctx context.Context, t *domain.Trade) error
	ListOpenTrades(ctx context.Context, mode domain.Mode) ([]*domain.Trade, error)
	ListRecentClosedTrades(ctx context.Context, mode domain.Mode, limit int) ([]*domain.Trade, error)
	TradeExistsForOpportunity(ctx context.Context, opportunityID string, mode domain.Mode) (bool, error)

	// Portfolio snapshots (append-only)
	AppendSnapshot(ctx context.Context, s *domain.PortfolioSnapshot) error
	LatestSnapshot(ctx context.Context, mode domain.Mode) (*domain.PortfolioSnapshot, error)
	ListSnapshots(ctx context.Context, mode domain.Mode, since int64, limit int) ([]*domain.PortfolioSnapshot, error)

	// Configuration, optimistic-concurrency via Version
	GetUserConfiguration(ctx context.Context, userID string) (*domain.UserConfiguration, error)
	CompareAndSwapConfig(ctx context.Context, cfg *domain.UserConfiguration, expectedVersion int64) error

	// Strategy configs
	GetStrategyConfig(ctx context.Context, id string) (*domain.TradingStrategyConfig, error)
	ListActiveStrategyConfigs(ctx context.Context, mode domain.Mode) ([]*domain.TradingStrategyConfig, error)
	PutStrategyConfig(ctx context.Context, c *domain.TradingStrategyConfig) error

	// Credentials (also satisfies vault.CredentialStore)
	GetCredential(ctx context.Context, id string) (*domain.APICredential, error)
	PutCredential(ctx context.Context, cred *domain.APICredential) error
	ListCredentialsByService(ctx context.Context, serviceID string) ([]*domain.APICredential, error)

	// WithTransaction runs fn against a Port bound to a single transaction.
	// fn's error rolls the transaction back; a nil error commits it.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Port) error) error

	Close() error
}
