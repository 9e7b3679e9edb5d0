package privacy

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"sparkfield/internal/economy"
	"sparkfield/internal/geo"
	"sparkfield/pkg/logging"
	"sparkfield/pkg/models"
)

type staticConfig struct {
	cfg models.EconomyConfig
}

func (s staticConfig) Config(ctx context.Context) (models.EconomyConfig, error) {
	return s.cfg, nil
}

func newTestLayer(t *testing.T, cfg models.EconomyConfig) (*Layer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	provider := staticConfig{cfg: cfg}
	policy := economy.NewEngine(db, logging.NewLogger(), provider)
	return NewLayer(db, logging.NewLogger(), provider, policy, NewBudget(time.Minute)), mock
}

var sparkColumns = []string{
	"id", "author_id", "content", "kind", "latitude", "longitude", "radius_m", "cells", "geohash",
	"verifier_reward_pool", "confidence", "status", "created_at",
}

func TestSearchCellPerturbsCoordinates(t *testing.T) {
	cfg := models.DefaultEconomyConfig()
	l, mock := newTestLayer(t, cfg)

	lat, lon := 52.52, 13.405
	cell, err := geo.CellFor(lat, lon)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}

	mock.ExpectQuery(`SELECT id, author_id`).
		WithArgs(pq.Array([]string{cell}), cfg.SearchResultCap).
		WillReturnRows(sqlmock.NewRows(sparkColumns).
			AddRow("spark-1", "author-1", "free coffee", models.KindHardFact, lat, lon, 50.0,
				"{"+cell+"}", "u33db2", int64(10), 0.6, models.SparkActive, time.Now()))

	sparks, err := l.SearchCell(context.Background(), "acct-1", lat, lon, 0)
	if err != nil {
		t.Fatalf("SearchCell: %v", err)
	}
	if len(sparks) != 1 {
		t.Fatalf("got %d sparks, want 1", len(sparks))
	}
	if d := geo.HaversineM(lat, lon, sparks[0].Latitude, sparks[0].Longitude); d > cfg.PerturbRadiusM*1.05 {
		t.Fatalf("perturbation of %.2fm exceeds configured radius %.0fm", d, cfg.PerturbRadiusM)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchCellBudgetDeniesSilently(t *testing.T) {
	cfg := models.DefaultEconomyConfig()
	cfg.CellSearchBudget = 0
	l, mock := newTestLayer(t, cfg)

	var deniedMode string
	l.OnDenied = func(mode string) { deniedMode = mode }

	sparks, err := l.SearchCell(context.Background(), "acct-1", 52.52, 13.405, 0)
	if err != nil {
		t.Fatalf("SearchCell: %v", err)
	}
	if len(sparks) != 0 {
		t.Fatalf("expected empty result on denial, got %d sparks", len(sparks))
	}
	if deniedMode != ModeCell {
		t.Fatalf("OnDenied mode %q, want %q", deniedMode, ModeCell)
	}
	// No store access on the denied path.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchCellSettlesDividendsOnPaidSearch(t *testing.T) {
	cfg := models.DefaultEconomyConfig()
	l, mock := newTestLayer(t, cfg)

	lat, lon := 52.52, 13.405
	cell, err := geo.CellFor(lat, lon)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}

	mock.ExpectQuery(`SELECT id, author_id`).
		WillReturnRows(sqlmock.NewRows(sparkColumns).
			AddRow("spark-1", "author-1", "free coffee", models.KindHardFact, lat, lon, 50.0,
				"{"+cell+"}", "u33db2", int64(10), 0.6, models.SparkActive, time.Now()))

	// Charged 10, dividend ratio 0.5: 5 per spark, split 2 to the pool and
	// 3 to the author.
	mock.ExpectExec(`UPDATE lantern\.sparks`).
		WithArgs(int64(2), pq.Array([]string{"spark-1"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE lantern\.accounts`).
		WithArgs(pq.Array([]string{"author-1"}), pq.Array([]int64{3})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := l.SearchCell(context.Background(), "acct-1", lat, lon, 10); err != nil {
		t.Fatalf("SearchCell: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchCellDividendsAccumulatePerAuthor(t *testing.T) {
	cfg := models.DefaultEconomyConfig()
	l, mock := newTestLayer(t, cfg)

	lat, lon := 52.52, 13.405
	cell, err := geo.CellFor(lat, lon)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}

	mock.ExpectQuery(`SELECT id, author_id`).
		WillReturnRows(sqlmock.NewRows(sparkColumns).
			AddRow("spark-1", "author-1", "free coffee", models.KindHardFact, lat, lon, 50.0,
				"{"+cell+"}", "u33db2", int64(10), 0.6, models.SparkActive, time.Now()).
			AddRow("spark-2", "author-1", "still free", models.KindHardFact, lat, lon, 50.0,
				"{"+cell+"}", "u33db2", int64(10), 0.6, models.SparkActive, time.Now()))

	// Charged 20, ratio 0.5: 5 per spark, pool 2 / author 3 each. Both
	// sparks belong to author-1, who collects both shares.
	mock.ExpectExec(`UPDATE lantern\.sparks`).
		WithArgs(int64(2), pq.Array([]string{"spark-1", "spark-2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE lantern\.accounts`).
		WithArgs(pq.Array([]string{"author-1"}), pq.Array([]int64{6})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := l.SearchCell(context.Background(), "acct-1", lat, lon, 20); err != nil {
		t.Fatalf("SearchCell: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchRadiusFiltersByDistance(t *testing.T) {
	cfg := models.DefaultEconomyConfig()
	l, mock := newTestLayer(t, cfg)

	lat, lon := 52.52, 13.405
	cell, err := geo.CellFor(lat, lon)
	if err != nil {
		t.Fatalf("CellFor: %v", err)
	}

	// One spark right here, one ~1.1km north; the 200m radius keeps only
	// the first.
	mock.ExpectQuery(`SELECT id, author_id`).
		WillReturnRows(sqlmock.NewRows(sparkColumns).
			AddRow("spark-near", "author-1", "near", models.KindHardFact, lat, lon, 50.0,
				"{"+cell+"}", "u33db2", int64(0), 0.6, models.SparkActive, time.Now()).
			AddRow("spark-far", "author-2", "far", models.KindHardFact, lat+0.01, lon, 50.0,
				"{"+cell+"}", "u33db2", int64(0), 0.6, models.SparkActive, time.Now()))

	sparks, err := l.SearchRadius(context.Background(), "acct-1", lat, lon, 200, 0)
	if err != nil {
		t.Fatalf("SearchRadius: %v", err)
	}
	if len(sparks) != 1 {
		t.Fatalf("got %d sparks, want 1", len(sparks))
	}
	if sparks[0].ID != "spark-near" {
		t.Fatalf("kept %q, want spark-near", sparks[0].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
