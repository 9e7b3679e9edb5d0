package economy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sparkfield/pkg/cache"
	"sparkfield/pkg/models"
)

// ConfigProvider hands engines the current economy tunables. The record is
// read-mostly; bounded staleness is acceptable.
type ConfigProvider interface {
	Config(ctx context.Context) (models.EconomyConfig, error)
}

// ConfigStore reads and updates the singleton economy configuration row,
// caching reads briefly.
type ConfigStore struct {
	db    *sql.DB
	cache *cache.Cache
}

const configCacheKey = "economy_config"

// NewConfigStore creates a config store with a short read cache.
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{
		db:    db,
		cache: cache.New(cache.Options{TTL: 30 * time.Second, MaxEntries: 4}),
	}
}

// Config returns the current tunables, served from cache within the TTL.
func (s *ConfigStore) Config(ctx context.Context) (models.EconomyConfig, error) {
	val, ok, err := s.cache.Get(ctx, configCacheKey, func(ctx context.Context, _ string) (interface{}, bool, error) {
		cfg, err := s.load(ctx)
		if err != nil {
			return nil, false, err
		}
		return cfg, true, nil
	})
	if err != nil || !ok {
		return models.EconomyConfig{}, fmt.Errorf("failed to load economy config: %w", err)
	}
	return val.(models.EconomyConfig), nil
}

func (s *ConfigStore) load(ctx context.Context) (models.EconomyConfig, error) {
	var cfg models.EconomyConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ping_cost, verify_cost, create_cost, remote_surcharge,
		       free_daily_pings, rate_floor_seconds, penalty_window_seconds, penalty_multiplier,
		       unit_rent, risk_deposit,
		       wither_threshold, neighbor_weight_fraction, min_vote_weight,
		       publisher_penalty, believer_penalty, challenger_reward,
		       dividend_ratio, reward_retention,
		       ubi_amount, ubi_stake_threshold, max_energy,
		       perturb_radius_m, cell_search_budget, radius_search_budget, search_result_cap,
		       vote_retention_days, claim_lifetime_days, updated_at
		FROM lantern.economy_config
		WHERE id = 1
	`).Scan(
		&cfg.ID, &cfg.PingCost, &cfg.VerifyCost, &cfg.CreateCost, &cfg.RemoteSurcharge,
		&cfg.FreeDailyPings, &cfg.RateFloorSeconds, &cfg.PenaltyWindowSecs, &cfg.PenaltyMultiplier,
		&cfg.UnitRent, &cfg.RiskDeposit,
		&cfg.WitherThreshold, &cfg.NeighborWeightFraction, &cfg.MinVoteWeight,
		&cfg.PublisherPenalty, &cfg.BelieverPenalty, &cfg.ChallengerReward,
		&cfg.DividendRatio, &cfg.RewardRetention,
		&cfg.UBIAmount, &cfg.UBIStakeThreshold, &cfg.MaxEnergy,
		&cfg.PerturbRadiusM, &cfg.CellSearchBudget, &cfg.RadiusSearchBudget, &cfg.SearchResultCap,
		&cfg.VoteRetentionDays, &cfg.ClaimLifetimeDays, &cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// Fresh database without the seed row; run with shipped defaults.
		return models.DefaultEconomyConfig(), nil
	}
	if err != nil {
		return models.EconomyConfig{}, err
	}
	return cfg, nil
}

// Update applies a partial update and invalidates the read cache.
func (s *ConfigStore) Update(ctx context.Context, patch models.EconomyConfigPatch) (models.EconomyConfig, error) {
	cfg, err := s.load(ctx)
	if err != nil {
		return models.EconomyConfig{}, err
	}
	patch.Apply(&cfg)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lantern.economy_config (
			id, ping_cost, verify_cost, create_cost, remote_surcharge,
			free_daily_pings, rate_floor_seconds, penalty_window_seconds, penalty_multiplier,
			unit_rent, risk_deposit,
			wither_threshold, neighbor_weight_fraction, min_vote_weight,
			publisher_penalty, believer_penalty, challenger_reward,
			dividend_ratio, reward_retention,
			ubi_amount, ubi_stake_threshold, max_energy,
			perturb_radius_m, cell_search_budget, radius_search_budget, search_result_cap,
			vote_retention_days, claim_lifetime_days, updated_at
		) VALUES (
			1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			ping_cost = EXCLUDED.ping_cost,
			verify_cost = EXCLUDED.verify_cost,
			create_cost = EXCLUDED.create_cost,
			remote_surcharge = EXCLUDED.remote_surcharge,
			free_daily_pings = EXCLUDED.free_daily_pings,
			rate_floor_seconds = EXCLUDED.rate_floor_seconds,
			penalty_window_seconds = EXCLUDED.penalty_window_seconds,
			penalty_multiplier = EXCLUDED.penalty_multiplier,
			unit_rent = EXCLUDED.unit_rent,
			risk_deposit = EXCLUDED.risk_deposit,
			wither_threshold = EXCLUDED.wither_threshold,
			neighbor_weight_fraction = EXCLUDED.neighbor_weight_fraction,
			min_vote_weight = EXCLUDED.min_vote_weight,
			publisher_penalty = EXCLUDED.publisher_penalty,
			believer_penalty = EXCLUDED.believer_penalty,
			challenger_reward = EXCLUDED.challenger_reward,
			dividend_ratio = EXCLUDED.dividend_ratio,
			reward_retention = EXCLUDED.reward_retention,
			ubi_amount = EXCLUDED.ubi_amount,
			ubi_stake_threshold = EXCLUDED.ubi_stake_threshold,
			max_energy = EXCLUDED.max_energy,
			perturb_radius_m = EXCLUDED.perturb_radius_m,
			cell_search_budget = EXCLUDED.cell_search_budget,
			radius_search_budget = EXCLUDED.radius_search_budget,
			search_result_cap = EXCLUDED.search_result_cap,
			vote_retention_days = EXCLUDED.vote_retention_days,
			claim_lifetime_days = EXCLUDED.claim_lifetime_days,
			updated_at = NOW()
	`,
		cfg.PingCost, cfg.VerifyCost, cfg.CreateCost, cfg.RemoteSurcharge,
		cfg.FreeDailyPings, cfg.RateFloorSeconds, cfg.PenaltyWindowSecs, cfg.PenaltyMultiplier,
		cfg.UnitRent, cfg.RiskDeposit,
		cfg.WitherThreshold, cfg.NeighborWeightFraction, cfg.MinVoteWeight,
		cfg.PublisherPenalty, cfg.BelieverPenalty, cfg.ChallengerReward,
		cfg.DividendRatio, cfg.RewardRetention,
		cfg.UBIAmount, cfg.UBIStakeThreshold, cfg.MaxEnergy,
		cfg.PerturbRadiusM, cfg.CellSearchBudget, cfg.RadiusSearchBudget, cfg.SearchResultCap,
		cfg.VoteRetentionDays, cfg.ClaimLifetimeDays,
	)
	if err != nil {
		return models.EconomyConfig{}, fmt.Errorf("failed to update economy config: %w", err)
	}

	s.cache.Delete(configCacheKey)
	return cfg, nil
}
