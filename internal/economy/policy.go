package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"sparkfield/pkg/logging"
	"sparkfield/pkg/models"
)

// Stable failure modes of the policy engine. Neither leaves a partial
// balance change behind.
var (
	ErrRateLimited       = errors.New("rate limited: too soon since last action")
	ErrInsufficientFunds = errors.New("insufficient energy")
)

// ActionKind selects the base cost of a charged action.
type ActionKind string

const (
	ActionPing   ActionKind = "ping"
	ActionVerify ActionKind = "verify"
	ActionCreate ActionKind = "create"
)

// Energy granted to an account the first time it is seen.
const startingEnergy = 200

// AuthorizeResult reports the outcome of a successful charge.
type AuthorizeResult struct {
	NewBalance  int64
	ChargedCost int64
}

// Engine applies energy costs, rate limits, quotas and UBI top-ups.
// All balance mutations persist synchronously; debits are never buffered.
type Engine struct {
	db     *sql.DB
	logger logging.Logger
	cfg    ConfigProvider
}

// NewEngine creates a policy engine backed by the given store.
func NewEngine(db *sql.DB, logger logging.Logger, cfg ConfigProvider) *Engine {
	return &Engine{db: db, logger: logger, cfg: cfg}
}

// Authorize charges an account for an action. explicitCost overrides the
// configured base cost when > 0 (claim creation passes its full computed
// cost). Fails with ErrRateLimited inside the hard floor and
// ErrInsufficientFunds when the balance cannot cover the charge; neither
// failure changes the balance.
func (e *Engine) Authorize(ctx context.Context, accountID string, kind ActionKind, explicitCost int64) (AuthorizeResult, error) {
	cfg, err := e.cfg.Config(ctx)
	if err != nil {
		return AuthorizeResult{}, err
	}

	account, err := e.getOrCreateAccount(ctx, accountID)
	if err != nil {
		return AuthorizeResult{}, err
	}

	if err := e.applyUBI(ctx, account, cfg); err != nil {
		// A missed top-up only makes the charge stricter; keep going.
		e.logger.WithError(err).WithField("account_id", accountID).Warn("UBI top-up failed")
	}

	now := time.Now()
	cost := e.baseCost(kind, cfg)
	if explicitCost > 0 {
		cost = explicitCost
	}

	if account.LastActionAt != nil {
		since := now.Sub(*account.LastActionAt)
		if since < time.Duration(cfg.RateFloorSeconds)*time.Second {
			return AuthorizeResult{}, ErrRateLimited
		}
		if since < time.Duration(cfg.PenaltyWindowSecs)*time.Second {
			cost = int64(float64(cost) * cfg.PenaltyMultiplier)
		}
	}

	// Atomic decrement-if-sufficient closes the lost-update race between
	// two concurrent charges reading a stale balance. The floor guard is
	// repeated here so two charges that both read a stale last_action_at
	// cannot both slip under the rate limit.
	var newBalance int64
	err = e.db.QueryRowContext(ctx, `
		UPDATE lantern.accounts
		SET energy = energy - $2, last_action_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND energy >= $2
		  AND (last_action_at IS NULL OR last_action_at <= NOW() - make_interval(secs => $3))
		RETURNING energy
	`, accountID, cost, cfg.RateFloorSeconds).Scan(&newBalance)
	if err == sql.ErrNoRows {
		// Zero rows is either a drained balance or a concurrent action that
		// stamped the clock after our read; reload to tell them apart.
		current, loadErr := e.loadAccount(ctx, accountID)
		if loadErr == nil && current.Energy < cost {
			return AuthorizeResult{}, ErrInsufficientFunds
		}
		return AuthorizeResult{}, ErrRateLimited
	}
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("failed to debit account: %w", err)
	}

	return AuthorizeResult{NewBalance: newBalance, ChargedCost: cost}, nil
}

// TouchAction enforces the hard rate floor for quota-free actions and
// stamps the last-action clock in one statement, so back-to-back free
// actions cannot slip through between check and write.
func (e *Engine) TouchAction(ctx context.Context, accountID string) error {
	cfg, err := e.cfg.Config(ctx)
	if err != nil {
		return err
	}
	if _, err := e.getOrCreateAccount(ctx, accountID); err != nil {
		return err
	}

	result, err := e.db.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET last_action_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND (last_action_at IS NULL OR last_action_at <= NOW() - make_interval(secs => $2))
	`, accountID, cfg.RateFloorSeconds)
	if err != nil {
		return fmt.Errorf("failed to stamp action clock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrRateLimited
	}
	return nil
}

// ConsumeDailyQuota reports whether the account still has a free ping
// today and increments the usage counter either way. The counter resets
// when the stored reset date differs from today.
func (e *Engine) ConsumeDailyQuota(ctx context.Context, accountID string) (bool, error) {
	cfg, err := e.cfg.Config(ctx)
	if err != nil {
		return false, err
	}
	account, err := e.getOrCreateAccount(ctx, accountID)
	if err != nil {
		return false, err
	}

	today := time.Now().UTC().Format("2006-01-02")
	used := account.DailyPingsUsed
	if account.DailyResetOn != today {
		used = 0
	}
	free := used < cfg.FreeDailyPings

	_, err = e.db.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET daily_pings_used = CASE WHEN daily_reset_on = $2 THEN daily_pings_used + 1 ELSE 1 END,
		    daily_reset_on = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, accountID, today)
	if err != nil {
		return false, fmt.Errorf("failed to update daily quota: %w", err)
	}
	return free, nil
}

// SpatialRent computes the progressive rent for a new claim covering the
// given cells: per cell, the author's existing ACTIVE claims already in
// that cell times the unit rent. Fresh cells cost nothing beyond base.
func (e *Engine) SpatialRent(ctx context.Context, authorID string, cells []string) (int64, error) {
	cfg, err := e.cfg.Config(ctx)
	if err != nil {
		return 0, err
	}
	if len(cells) == 0 || cfg.UnitRent == 0 {
		return 0, nil
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT cells
		FROM lantern.sparks
		WHERE author_id = $1 AND status = 'ACTIVE' AND cells && $2
	`, authorID, pq.Array(cells))
	if err != nil {
		return 0, fmt.Errorf("failed to query cell occupancy: %w", err)
	}
	defer rows.Close()

	occupancy := make(map[string]int64, len(cells))
	for rows.Next() {
		var claimCells pq.StringArray
		if err := rows.Scan(&claimCells); err != nil {
			return 0, fmt.Errorf("failed to scan cell occupancy: %w", err)
		}
		for _, c := range claimCells {
			occupancy[c]++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var rent int64
	for _, c := range cells {
		rent += occupancy[c] * cfg.UnitRent
	}
	return rent, nil
}

// Stake records energy committed to a live claim. The counter feeds the
// UBI eligibility check; the energy itself was already debited by the
// claim's creation charge.
func (e *Engine) Stake(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := e.db.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET staked_energy = staked_energy + $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("failed to stake energy: %w", err)
	}
	return nil
}

// ReleaseStake unwinds Stake when a claim leaves the ACTIVE state
// (liquidation, expiry, erasure). Floored at zero so a repeated release
// cannot go negative.
func (e *Engine) ReleaseStake(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := e.db.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET staked_energy = GREATEST(staked_energy - $2, 0), updated_at = NOW()
		WHERE id = $1
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("failed to release staked energy: %w", err)
	}
	return nil
}

// CreditEnergy adds energy to an account (harvest shares, dividends).
func (e *Engine) CreditEnergy(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := e.db.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET energy = energy + $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return nil
}

// Account returns the economic snapshot for an account, creating it on
// first sight.
func (e *Engine) Account(ctx context.Context, accountID string) (models.Account, error) {
	return e.getOrCreateAccount(ctx, accountID)
}

func (e *Engine) baseCost(kind ActionKind, cfg models.EconomyConfig) int64 {
	switch kind {
	case ActionPing:
		return cfg.PingCost
	case ActionVerify:
		return cfg.VerifyCost
	case ActionCreate:
		return cfg.CreateCost
	default:
		return cfg.PingCost
	}
}

// applyUBI lazily credits the daily universal basic income: only below the
// energy cap, only with enough staked energy, at most once per 24h, and
// never past the ceiling. The WHERE clause repeats the eligibility checks
// so concurrent requests cannot double-credit.
func (e *Engine) applyUBI(ctx context.Context, account models.Account, cfg models.EconomyConfig) error {
	if cfg.UBIAmount <= 0 || account.Energy >= cfg.MaxEnergy || account.StakedEnergy < cfg.UBIStakeThreshold {
		return nil
	}
	if account.LastUBIAt != nil && time.Since(*account.LastUBIAt) < 24*time.Hour {
		return nil
	}

	_, err := e.db.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET energy = LEAST(energy + $2, $3), last_ubi_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND energy < $3
		  AND staked_energy >= $4
		  AND (last_ubi_at IS NULL OR last_ubi_at <= NOW() - interval '24 hours')
	`, account.ID, cfg.UBIAmount, cfg.MaxEnergy, cfg.UBIStakeThreshold)
	return err
}

func (e *Engine) getOrCreateAccount(ctx context.Context, accountID string) (models.Account, error) {
	account, err := e.loadAccount(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if err != sql.ErrNoRows {
		return models.Account{}, fmt.Errorf("failed to load account: %w", err)
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO lantern.accounts (id, energy, reputation)
		VALUES ($1, $2, 1.0)
		ON CONFLICT (id) DO NOTHING
	`, accountID, int64(startingEnergy))
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to create account: %w", err)
	}

	account, err = e.loadAccount(ctx, accountID)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to reload account: %w", err)
	}
	return account, nil
}

func (e *Engine) loadAccount(ctx context.Context, accountID string) (models.Account, error) {
	var a models.Account
	err := e.db.QueryRowContext(ctx, `
		SELECT id, energy, reputation, staked_energy, last_action_at, last_ubi_at,
		       daily_pings_used, daily_reset_on, created_at, updated_at
		FROM lantern.accounts
		WHERE id = $1
	`, accountID).Scan(
		&a.ID, &a.Energy, &a.Reputation, &a.StakedEnergy, &a.LastActionAt, &a.LastUBIAt,
		&a.DailyPingsUsed, &a.DailyResetOn, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
