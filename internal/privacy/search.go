// Package privacy fans search queries out through the spatial index and
// obfuscates the returned coordinates so repeated probing cannot
// triangulate a claim's or voter's exact position.
package privacy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"sparkfield/internal/economy"
	"sparkfield/internal/geo"
	"sparkfield/pkg/logging"
	"sparkfield/pkg/models"
)

// Search modes, also used as budget namespaces.
const (
	ModeCell   = "cell"
	ModeRadius = "radius"
)

// Layer resolves claims for search queries behind the privacy budget.
type Layer struct {
	db     *sql.DB
	logger logging.Logger
	cfg    economy.ConfigProvider
	policy *economy.Engine
	budget *Budget

	// OnDenied is invoked when a budget ceiling silently empties a result
	// set. Wired to a metrics counter; never visible to the caller.
	OnDenied func(mode string)
}

// NewLayer creates the privacy layer.
func NewLayer(db *sql.DB, logger logging.Logger, cfg economy.ConfigProvider, policy *economy.Engine, budget *Budget) *Layer {
	return &Layer{db: db, logger: logger, cfg: cfg, policy: policy, budget: budget}
}

// SearchCell returns ACTIVE sparks in the caller's current grid cell,
// newest first, coordinates perturbed. Exceeding the region's privacy
// budget silently returns an empty set rather than erroring, so probing
// degrades without signaling anything to an attacker.
//
// chargedCost > 0 marks a paid (non-quota-free) search and triggers the
// dividend split across the returned sparks.
func (l *Layer) SearchCell(ctx context.Context, actorID string, lat, lon float64, chargedCost int64) ([]models.Spark, error) {
	cfg, err := l.cfg.Config(ctx)
	if err != nil {
		return nil, err
	}

	cell, err := geo.CellFor(lat, lon)
	if err != nil {
		return nil, err
	}

	if !l.budget.Allow(actorID, ModeCell+":"+cell, cfg.CellSearchBudget) {
		l.denied(ModeCell)
		return []models.Spark{}, nil
	}

	sparks, err := l.querySparks(ctx, `
		SELECT id, author_id, content, kind, latitude, longitude, radius_m, cells, geohash,
		       verifier_reward_pool, confidence, status, created_at
		FROM lantern.sparks
		WHERE status = 'ACTIVE' AND cells @> $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pq.Array([]string{cell}), cfg.SearchResultCap)
	if err != nil {
		return nil, err
	}

	l.settleDividends(ctx, chargedCost, cfg, sparks)
	return l.obfuscate(sparks, cfg.PerturbRadiusM), nil
}

// SearchRadius is the legacy range search: geohash prefix plus its 8
// neighbors narrow the candidate set, then a coarse great-circle filter
// trims it to the requested radius.
func (l *Layer) SearchRadius(ctx context.Context, actorID string, lat, lon, radiusM float64, chargedCost int64) ([]models.Spark, error) {
	cfg, err := l.cfg.Config(ctx)
	if err != nil {
		return nil, err
	}

	prefixes, err := geo.GeohashNeighborhood(lat, lon)
	if err != nil {
		return nil, err
	}

	if !l.budget.Allow(actorID, ModeRadius+":"+prefixes[0], cfg.RadiusSearchBudget) {
		l.denied(ModeRadius)
		return []models.Spark{}, nil
	}

	candidates, err := l.querySparks(ctx, `
		SELECT id, author_id, content, kind, latitude, longitude, radius_m, cells, geohash,
		       verifier_reward_pool, confidence, status, created_at
		FROM lantern.sparks
		WHERE status = 'ACTIVE' AND geohash = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`, pq.Array(prefixes), cfg.SearchResultCap)
	if err != nil {
		return nil, err
	}

	sparks := candidates[:0]
	for _, s := range candidates {
		if geo.HaversineM(lat, lon, s.Latitude, s.Longitude) <= radiusM+s.RadiusM {
			sparks = append(sparks, s)
		}
	}

	l.settleDividends(ctx, chargedCost, cfg, sparks)
	return l.obfuscate(sparks, cfg.PerturbRadiusM), nil
}

func (l *Layer) denied(mode string) {
	if l.OnDenied != nil {
		l.OnDenied(mode)
	}
}

func (l *Layer) querySparks(ctx context.Context, query string, args ...interface{}) ([]models.Spark, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sparks: %w", err)
	}
	defer rows.Close()

	sparks := make([]models.Spark, 0, 16)
	for rows.Next() {
		var s models.Spark
		var cells pq.StringArray
		err := rows.Scan(&s.ID, &s.AuthorID, &s.Content, &s.Kind, &s.Latitude, &s.Longitude,
			&s.RadiusM, &cells, &s.Geohash, &s.VerifierRewardPool, &s.Confidence, &s.Status, &s.CreatedAt)
		if err != nil {
			l.logger.WithError(err).Error("Failed to scan spark row")
			continue
		}
		s.Cells = cells
		sparks = append(sparks, s)
	}
	return sparks, rows.Err()
}

// obfuscate perturbs coordinates on response copies only.
func (l *Layer) obfuscate(sparks []models.Spark, radiusM float64) []models.Spark {
	for i := range sparks {
		sparks[i].Latitude, sparks[i].Longitude = Perturb(sparks[i].Latitude, sparks[i].Longitude, radiusM)
	}
	return sparks
}

// settleDividends splits a fraction of a paid search's charge across the
// returned sparks: part to each author's balance, the rest into the
// spark's own reward pool. Batched as bulk updates; failures are logged
// and never fail the search.
func (l *Layer) settleDividends(ctx context.Context, chargedCost int64, cfg models.EconomyConfig, sparks []models.Spark) {
	if chargedCost <= 0 || cfg.DividendRatio <= 0 || len(sparks) == 0 {
		return
	}

	total := int64(float64(chargedCost) * cfg.DividendRatio)
	perSpark := total / int64(len(sparks))
	if perSpark <= 0 {
		return
	}

	poolShare := int64(float64(perSpark) * cfg.RewardRetention)
	authorShare := perSpark - poolShare

	sparkIDs := make([]string, 0, len(sparks))
	// One authorShare per returned spark: an author with several sparks in
	// the result set collects one share for each of them.
	authorTotals := make(map[string]int64, len(sparks))
	authorIDs := make([]string, 0, len(sparks))
	for _, s := range sparks {
		sparkIDs = append(sparkIDs, s.ID)
		if s.AuthorID != nil {
			if _, seen := authorTotals[*s.AuthorID]; !seen {
				authorIDs = append(authorIDs, *s.AuthorID)
			}
			authorTotals[*s.AuthorID] += authorShare
		}
	}

	if poolShare > 0 {
		_, err := l.db.ExecContext(ctx, `
			UPDATE lantern.sparks
			SET verifier_reward_pool = verifier_reward_pool + $1, updated_at = NOW()
			WHERE id = ANY($2)
		`, poolShare, pq.Array(sparkIDs))
		if err != nil {
			l.logger.WithError(err).Error("Failed to credit dividend reward pools")
		}
	}

	if authorShare > 0 && len(authorIDs) > 0 {
		amounts := make([]int64, len(authorIDs))
		for i, id := range authorIDs {
			amounts[i] = authorTotals[id]
		}
		_, err := l.db.ExecContext(ctx, `
			UPDATE lantern.accounts a
			SET energy = a.energy + v.amount, updated_at = NOW()
			FROM (SELECT unnest($1::text[]) AS id, unnest($2::bigint[]) AS amount) v
			WHERE a.id = v.id
		`, pq.Array(authorIDs), pq.Array(amounts))
		if err != nil {
			l.logger.WithError(err).Error("Failed to credit author dividends")
		}
	}
}
