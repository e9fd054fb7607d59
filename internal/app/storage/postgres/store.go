package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/storage"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.ProposalStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- FeedStore --------------------------------------------------------------

type feedRow struct {
	ID                  string    `db:"id"`
	Owner               string    `db:"owner"`
	UpdateInterval      int64     `db:"update_interval"`
	MaxDataPoints       int       `db:"max_data_points"`
	NextAvailableUpdate int64     `db:"next_available_update"`
	DataSource          string    `db:"data_source"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r feedRow) state() feed.State {
	return feed.State{
		ID:                  r.ID,
		Owner:               r.Owner,
		UpdateInterval:      uint64(r.UpdateInterval),
		MaxDataPoints:       r.MaxDataPoints,
		NextAvailableUpdate: uint64(r.NextAvailableUpdate),
		DataSource:          r.DataSource,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func (s *Store) SaveFeed(ctx context.Context, st feed.State) (feed.State, error) {
	if st.ID == "" {
		return feed.State{}, errors.InvalidArgument("feed id is required")
	}
	now := time.Now().UTC()
	row := feedRow{
		ID:                  st.ID,
		Owner:               st.Owner,
		UpdateInterval:      int64(st.UpdateInterval),
		MaxDataPoints:       st.MaxDataPoints,
		NextAvailableUpdate: int64(st.NextAvailableUpdate),
		DataSource:          st.DataSource,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	var createdAt time.Time
	err := sqlx.GetContext(ctx, s.db, &createdAt, `
		INSERT INTO basket_feeds (id, owner, update_interval, max_data_points, next_available_update, data_source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET owner = EXCLUDED.owner,
		    update_interval = EXCLUDED.update_interval,
		    max_data_points = EXCLUDED.max_data_points,
		    next_available_update = EXCLUDED.next_available_update,
		    data_source = EXCLUDED.data_source,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`, row.ID, row.Owner, row.UpdateInterval, row.MaxDataPoints, row.NextAvailableUpdate, row.DataSource, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return feed.State{}, err
	}
	row.CreatedAt = createdAt
	return row.state(), nil
}

func (s *Store) GetFeed(ctx context.Context, id string) (feed.State, error) {
	var row feedRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, owner, update_interval, max_data_points, next_available_update, data_source, created_at, updated_at
		FROM basket_feeds
		WHERE id = $1
	`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return feed.State{}, errors.NotFound("feed", id)
	}
	if err != nil {
		return feed.State{}, err
	}
	return row.state(), nil
}

func (s *Store) ListFeeds(ctx context.Context) ([]feed.State, error) {
	var rows []feedRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, owner, update_interval, max_data_points, next_available_update, data_source, created_at, updated_at
		FROM basket_feeds
		ORDER BY id
	`); err != nil {
		return nil, err
	}
	result := make([]feed.State, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.state())
	}
	return result, nil
}

// CommitObservation appends the observation, advances the schedule and trims
// the history inside one transaction.
func (s *Store) CommitObservation(ctx context.Context, feedID string, obs feed.Observation, nextAvailableUpdate uint64, capacity int) (err error) {
	if capacity <= 0 {
		return errors.InvalidArgument("capacity must be positive, got %d", capacity)
	}
	if obs.Value == nil {
		return errors.InvalidArgument("observation value is required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE basket_feeds
		SET next_available_update = $2, updated_at = $3
		WHERE id = $1
	`, feedID, int64(nextAvailableUpdate), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("feed", feedID)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO basket_feed_observations (feed_id, value, observed_at)
		VALUES ($1, $2, $3)
	`, feedID, obs.Value.String(), int64(obs.Timestamp)); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM basket_feed_observations
		WHERE feed_id = $1 AND seq NOT IN (
			SELECT seq FROM basket_feed_observations
			WHERE feed_id = $1
			ORDER BY seq DESC
			LIMIT $2
		)
	`, feedID, capacity); err != nil {
		return err
	}

	return tx.Commit()
}

type observationRow struct {
	Value      string `db:"value"`
	ObservedAt int64  `db:"observed_at"`
}

func (s *Store) ListObservations(ctx context.Context, feedID string, limit int) ([]feed.Observation, error) {
	if limit < 0 {
		limit = 0
	}
	var rows []observationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT value, observed_at
		FROM basket_feed_observations
		WHERE feed_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, feedID, limit); err != nil {
		return nil, err
	}

	result := make([]feed.Observation, 0, len(rows))
	for _, row := range rows {
		value, err := parseNumeric(row.Value)
		if err != nil {
			return nil, fmt.Errorf("feed %s observation: %w", feedID, err)
		}
		result = append(result, feed.Observation{Value: value, Timestamp: uint64(row.ObservedAt)})
	}
	return result, nil
}

// --- ProposalStore ----------------------------------------------------------

type proposalRow struct {
	ID                 string    `db:"id"`
	Manager            string    `db:"manager"`
	Basket             string    `db:"basket"`
	NextSet            []byte    `db:"next_set"`
	AuctionLibrary     string    `db:"auction_library"`
	AuctionTimeToPivot int64     `db:"auction_time_to_pivot"`
	StartPrice         string    `db:"start_price"`
	PivotPrice         string    `db:"pivot_price"`
	PriceA             string    `db:"price_a"`
	PriceB             string    `db:"price_b"`
	AllocationPercent  int64     `db:"allocation_percent"`
	CurrentSetValue    string    `db:"current_set_value"`
	NextSetValue       string    `db:"next_set_value"`
	ProposedAt         time.Time `db:"proposed_at"`
}

// compositionJSON is the stored form of a composition. Amounts are decimal
// strings so they survive JSONB without precision loss.
type compositionJSON struct {
	Components  []util.Uint160 `json:"components"`
	Units       []string       `json:"units"`
	NaturalUnit string         `json:"natural_unit"`
}

func (s *Store) CreateProposal(ctx context.Context, p rebalance.Proposal) (rebalance.Proposal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ProposedAt.IsZero() {
		p.ProposedAt = time.Now().UTC()
	}

	next := compositionJSON{Components: p.Next.Components, NaturalUnit: numeric(p.Next.NaturalUnit)}
	for _, u := range p.Next.Units {
		next.Units = append(next.Units, numeric(u))
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return rebalance.Proposal{}, err
	}

	row := proposalRow{
		ID:                 p.ID,
		Manager:            p.Manager,
		Basket:             p.Basket.StringLE(),
		NextSet:            nextJSON,
		AuctionLibrary:     p.AuctionLibrary.StringLE(),
		AuctionTimeToPivot: int64(p.AuctionTimeToPivot),
		StartPrice:         numeric(p.StartPrice),
		PivotPrice:         numeric(p.PivotPrice),
		PriceA:             numeric(p.PriceA),
		PriceB:             numeric(p.PriceB),
		AllocationPercent:  int64(p.AllocationPercent),
		CurrentSetValue:    numeric(p.CurrentSetValue),
		NextSetValue:       numeric(p.NextSetValue),
		ProposedAt:         p.ProposedAt,
	}
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO basket_proposals (
			id, manager, basket, next_set, auction_library, auction_time_to_pivot,
			start_price, pivot_price, price_a, price_b, allocation_percent,
			current_set_value, next_set_value, proposed_at
		) VALUES (
			:id, :manager, :basket, :next_set, :auction_library, :auction_time_to_pivot,
			:start_price, :pivot_price, :price_a, :price_b, :allocation_percent,
			:current_set_value, :next_set_value, :proposed_at
		)
	`, row); err != nil {
		return rebalance.Proposal{}, err
	}
	return p, nil
}

func (s *Store) ListProposals(ctx context.Context, manager string) ([]rebalance.Proposal, error) {
	var rows []proposalRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, manager, basket, next_set, auction_library, auction_time_to_pivot,
		       start_price, pivot_price, price_a, price_b, allocation_percent,
		       current_set_value, next_set_value, proposed_at
		FROM basket_proposals
		WHERE $1 = '' OR manager = $1
		ORDER BY proposed_at
	`, manager); err != nil {
		return nil, err
	}

	result := make([]rebalance.Proposal, 0, len(rows))
	for _, row := range rows {
		p, err := row.proposal()
		if err != nil {
			return nil, fmt.Errorf("proposal %s: %w", row.ID, err)
		}
		result = append(result, p)
	}
	return result, nil
}

func (r proposalRow) proposal() (rebalance.Proposal, error) {
	basket, err := util.Uint160DecodeStringLE(r.Basket)
	if err != nil {
		return rebalance.Proposal{}, err
	}
	library, err := util.Uint160DecodeStringLE(r.AuctionLibrary)
	if err != nil {
		return rebalance.Proposal{}, err
	}

	var next compositionJSON
	if err := json.Unmarshal(r.NextSet, &next); err != nil {
		return rebalance.Proposal{}, err
	}
	comp := rebalance.Composition{Components: next.Components}
	for _, u := range next.Units {
		v, err := parseNumeric(u)
		if err != nil {
			return rebalance.Proposal{}, err
		}
		comp.Units = append(comp.Units, v)
	}
	if comp.NaturalUnit, err = parseNumeric(next.NaturalUnit); err != nil {
		return rebalance.Proposal{}, err
	}

	p := rebalance.Proposal{
		ID:                 r.ID,
		Manager:            r.Manager,
		Basket:             basket,
		Next:               comp,
		AuctionLibrary:     library,
		AuctionTimeToPivot: uint64(r.AuctionTimeToPivot),
		AllocationPercent:  uint64(r.AllocationPercent),
		ProposedAt:         r.ProposedAt,
	}
	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&p.StartPrice, r.StartPrice},
		{&p.PivotPrice, r.PivotPrice},
		{&p.PriceA, r.PriceA},
		{&p.PriceB, r.PriceB},
		{&p.CurrentSetValue, r.CurrentSetValue},
		{&p.NextSetValue, r.NextSetValue},
	} {
		if *f.dst, err = parseNumeric(f.src); err != nil {
			return rebalance.Proposal{}, err
		}
	}
	return p, nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}
