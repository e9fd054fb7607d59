package storage

import (
	"context"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
)

// FeedStore persists feed schedules and their bounded histories.
type FeedStore interface {
	SaveFeed(ctx context.Context, st feed.State) (feed.State, error)
	GetFeed(ctx context.Context, id string) (feed.State, error)
	ListFeeds(ctx context.Context) ([]feed.State, error)

	// CommitObservation appends obs, moves the feed's schedule to
	// nextAvailableUpdate and trims history to capacity as one atomic step.
	CommitObservation(ctx context.Context, feedID string, obs feed.Observation, nextAvailableUpdate uint64, capacity int) error
	// ListObservations returns up to limit observations, most recent first.
	ListObservations(ctx context.Context, feedID string, limit int) ([]feed.Observation, error)
}

// ProposalStore keeps an audit trail of submitted rebalance proposals.
type ProposalStore interface {
	CreateProposal(ctx context.Context, p rebalance.Proposal) (rebalance.Proposal, error)
	ListProposals(ctx context.Context, manager string) ([]rebalance.Proposal, error)
}
