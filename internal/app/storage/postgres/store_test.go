package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/internal/platform/migrations"
)

var feedColumns = []string{"id", "owner", "update_interval", "max_data_points", "next_available_update", "data_source", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetFeedNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT id, owner").WithArgs("btc").WillReturnRows(sqlmock.NewRows(feedColumns))

	if _, err := store.GetFeed(context.Background(), "btc"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetFeed(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, owner").WithArgs("btc").WillReturnRows(
		sqlmock.NewRows(feedColumns).AddRow("btc", "NOwner", int64(3600), 10, int64(7200), "direct:btc", now, now),
	)

	st, err := store.GetFeed(context.Background(), "btc")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if st.UpdateInterval != 3600 || st.NextAvailableUpdate != 7200 || st.MaxDataPoints != 10 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestCommitObservationRunsInTransaction(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE basket_feeds").
		WithArgs("btc", int64(200), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO basket_feed_observations").
		WithArgs("btc", "42", int64(150)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM basket_feed_observations").
		WithArgs("btc", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	obs := feed.Observation{Value: big.NewInt(42), Timestamp: 150}
	if err := store.CommitObservation(context.Background(), "btc", obs, 200, 3); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitObservationRollsBackUnknownFeed(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE basket_feeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	obs := feed.Observation{Value: big.NewInt(1), Timestamp: 1}
	if err := store.CommitObservation(context.Background(), "missing", obs, 2, 3); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitObservationRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE basket_feeds").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO basket_feed_observations").WillReturnError(stderrors.New("disk full"))
	mock.ExpectRollback()

	obs := feed.Observation{Value: big.NewInt(1), Timestamp: 1}
	if err := store.CommitObservation(context.Background(), "btc", obs, 2, 3); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListObservations(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT value, observed_at").
		WithArgs("btc", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"value", "observed_at"}).
			AddRow("300000000000000000000", int64(20)).
			AddRow("100", int64(10)))

	obs, err := store.ListObservations(context.Background(), "btc", 2)
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	if len(obs) != 2 || obs[0].Value.String() != "300000000000000000000" || obs[1].Timestamp != 10 {
		t.Fatalf("unexpected observations: %+v", obs)
	}
}

func TestProposalRoundTrip(t *testing.T) {
	store, mock := newMock(t)
	basket := util.Uint160{1, 2}
	library := util.Uint160{3}

	mock.ExpectExec("INSERT INTO basket_proposals").WillReturnResult(sqlmock.NewResult(1, 1))
	p, err := store.CreateProposal(context.Background(), rebalance.Proposal{
		Manager:         "btc-eth",
		Basket:          basket,
		AuctionLibrary:  library,
		StartPrice:      big.NewInt(1520),
		PivotPrice:      big.NewInt(2480),
		PriceA:          big.NewInt(1),
		PriceB:          big.NewInt(2),
		CurrentSetValue: big.NewInt(100),
		NextSetValue:    big.NewInt(200),
		Next: rebalance.Composition{
			Components:  []util.Uint160{{0xa}, {0xb}},
			Units:       []*big.Int{big.NewInt(1), big.NewInt(200000000000)},
			NaturalUnit: big.NewInt(10000000000),
		},
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("expected generated id")
	}

	columns := []string{"id", "manager", "basket", "next_set", "auction_library", "auction_time_to_pivot",
		"start_price", "pivot_price", "price_a", "price_b", "allocation_percent",
		"current_set_value", "next_set_value", "proposed_at"}
	nextSet := `{"components":["0x000000000000000000000000000000000000000a","0x000000000000000000000000000000000000000b"],"units":["1","200000000000"],"natural_unit":"10000000000"}`
	mock.ExpectQuery("FROM basket_proposals").WithArgs("btc-eth").WillReturnRows(
		sqlmock.NewRows(columns).AddRow(p.ID, "btc-eth", basket.StringLE(), []byte(nextSet), library.StringLE(), int64(86400),
			"1520", "2480", "1", "2", int64(47), "100", "200", p.ProposedAt),
	)

	list, err := store.ListProposals(context.Background(), "btc-eth")
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one proposal, got %d", len(list))
	}
	got := list[0]
	if !got.Basket.Equals(basket) || got.StartPrice.Int64() != 1520 || got.Next.Units[1].String() != "200000000000" {
		t.Fatalf("unexpected proposal: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := New(db)

	id := "integration-" + time.Now().Format("150405.000000")
	if _, err := store.SaveFeed(ctx, feed.State{ID: id, UpdateInterval: 60, MaxDataPoints: 2, NextAvailableUpdate: 100}); err != nil {
		t.Fatalf("save feed: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		obs := feed.Observation{Value: big.NewInt(i), Timestamp: uint64(i)}
		if err := store.CommitObservation(ctx, id, obs, uint64(100+60*i), 2); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	history, err := store.ListObservations(ctx, id, 10)
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	if len(history) != 2 || history[0].Value.Int64() != 3 {
		t.Fatalf("unexpected history: %+v", history)
	}
	st, err := store.GetFeed(ctx, id)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if st.NextAvailableUpdate != 280 {
		t.Fatalf("expected schedule 280, got %d", st.NextAvailableUpdate)
	}
}
