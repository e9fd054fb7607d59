package memory

import (
	"context"
	stderrors "errors"
	"math/big"
	"testing"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

func TestStore_FeedLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()

	if _, err := store.GetFeed(ctx, "btc"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	st, err := store.SaveFeed(ctx, feed.State{ID: "btc", UpdateInterval: 60, MaxDataPoints: 2, NextAvailableUpdate: 100})
	if err != nil {
		t.Fatalf("save feed: %v", err)
	}
	if st.CreatedAt.IsZero() {
		t.Fatalf("expected created timestamp")
	}

	for i := int64(1); i <= 3; i++ {
		obs := feed.Observation{Value: big.NewInt(i), Timestamp: uint64(100 + i)}
		if err := store.CommitObservation(ctx, "btc", obs, uint64(100+60*i), 2); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	got, err := store.GetFeed(ctx, "btc")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.NextAvailableUpdate != 280 {
		t.Fatalf("expected schedule 280, got %d", got.NextAvailableUpdate)
	}

	history, err := store.ListObservations(ctx, "btc", 10)
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	if len(history) != 2 || history[0].Value.Int64() != 3 || history[1].Value.Int64() != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}

	if err := store.CommitObservation(ctx, "missing", feed.Observation{Value: big.NewInt(1)}, 0, 2); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected not found for unknown feed, got %v", err)
	}
}

func TestStore_Proposals(t *testing.T) {
	ctx := context.Background()
	store := New()

	p, err := store.CreateProposal(ctx, rebalance.Proposal{Manager: "btc-eth", StartPrice: big.NewInt(1)})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if p.ID == "" || p.ProposedAt.IsZero() {
		t.Fatalf("expected id and timestamp: %+v", p)
	}
	if _, err := store.CreateProposal(ctx, rebalance.Proposal{Manager: "other"}); err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	list, _ := store.ListProposals(ctx, "btc-eth")
	if len(list) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(list))
	}
	all, _ := store.ListProposals(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(all))
	}
}
