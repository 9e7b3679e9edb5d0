package consensus

import (
	"context"
	"database/sql"
	"fmt"

	"sparkfield/pkg/events"
	"sparkfield/pkg/logging"
	"sparkfield/pkg/models"
)

type voteShare struct {
	voterID string
	action  string
	weight  float64
}

// Liquidate redistributes a withered spark's stake and reward pool to the
// voters who correctly challenged it, and adjusts reputations for the
// author, supporters and challengers.
//
// Liquidation is best-effort and non-transactional by design: it runs as a
// side effect of a vote that must still succeed, so errors are logged and
// already-applied reputation changes are never rolled back. Re-triggering
// is safe because the amounts are zeroed after distribution.
func (e *Engine) Liquidate(ctx context.Context, spark models.Spark) {
	cfg, err := e.cfg.Config(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Liquidation aborted: no config")
		return
	}

	liquidationValue := spark.VerifierRewardPool + spark.Deposit

	votes, err := e.loadVoteShares(ctx, spark.ID)
	if err != nil {
		e.logger.WithError(err).WithField("spark_id", spark.ID).Error("Liquidation aborted: failed to load votes")
		return
	}

	var challengers []voteShare
	var totalChallengerWeight float64
	for _, v := range votes {
		switch v.action {
		case models.ActionChallenge:
			challengers = append(challengers, v)
			totalChallengerWeight += v.weight
			e.adjustReputation(ctx, v.voterID, cfg.ChallengerReward)
		case models.ActionConfirm:
			e.adjustReputation(ctx, v.voterID, -cfg.BelieverPenalty)
		}
	}
	if spark.AuthorID != nil {
		e.adjustReputation(ctx, *spark.AuthorID, -cfg.PublisherPenalty)
	}

	// With no challengers the whole value is burned: a spark that dies of
	// disinterest must not pay anyone.
	var distributed int64
	if len(challengers) > 0 && totalChallengerWeight > 0 && liquidationValue > 0 {
		for _, c := range challengers {
			share := int64(float64(liquidationValue) * (c.weight / totalChallengerWeight))
			if share <= 0 {
				continue
			}
			if err := e.policy.CreditEnergy(ctx, c.voterID, share); err != nil {
				e.logger.WithError(err).WithFields(logging.Fields{
					"spark_id": spark.ID,
					"voter_id": c.voterID,
				}).Error("Failed to credit challenger share")
				continue
			}
			distributed += share
		}
	}

	// The staked energy itself is forfeit, but the account-side counter
	// must stop feeding the author's UBI eligibility.
	if spark.AuthorID != nil && spark.StakedEnergy > 0 {
		if err := e.policy.ReleaseStake(ctx, *spark.AuthorID, spark.StakedEnergy); err != nil {
			e.logger.WithError(err).WithField("spark_id", spark.ID).Error("Failed to release author stake")
		}
	}

	_, err = e.db.ExecContext(ctx, `
		UPDATE lantern.sparks
		SET verifier_reward_pool = 0, staked_energy = 0, deposit = 0, updated_at = NOW()
		WHERE id = $1
	`, spark.ID)
	if err != nil {
		e.logger.WithError(err).WithField("spark_id", spark.ID).Error("Failed to zero liquidated spark")
		return
	}

	e.logger.WithFields(logging.Fields{
		"spark_id":    spark.ID,
		"value":       liquidationValue,
		"distributed": distributed,
		"challengers": len(challengers),
	}).Info("Spark liquidated")

	e.producer.Publish(ctx, events.SparkEvent{
		EventType: events.TypeLiquidationSettled,
		SparkID:   spark.ID,
		Amount:    distributed,
	})
}

// Harvest pays out a voter's proportional share (by weight, across all
// votes on the spark) of the current reward pool. Pool decrement and
// balance credit commit atomically.
func (e *Engine) Harvest(ctx context.Context, voterID, sparkID string) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin harvest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var myWeight float64
	err = tx.QueryRowContext(ctx, `
		SELECT weight FROM lantern.interactions WHERE spark_id = $1 AND voter_id = $2
	`, sparkID, voterID).Scan(&myWeight)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: no vote on this spark", ErrInvalidTarget)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load vote: %w", err)
	}

	var totalWeight float64
	var pool int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(i.weight), 0), s.verifier_reward_pool
		FROM lantern.sparks s
		LEFT JOIN lantern.interactions i ON i.spark_id = s.id
		WHERE s.id = $1
		GROUP BY s.verifier_reward_pool
	`, sparkID).Scan(&totalWeight, &pool)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: spark not found", ErrInvalidTarget)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load reward pool: %w", err)
	}

	if pool <= 0 || totalWeight <= 0 {
		return 0, nil
	}

	claimed := int64(float64(pool) * (myWeight / totalWeight))
	if claimed <= 0 {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE lantern.sparks
		SET verifier_reward_pool = verifier_reward_pool - $2, updated_at = NOW()
		WHERE id = $1 AND verifier_reward_pool >= $2
	`, sparkID, claimed)
	if err != nil {
		return 0, fmt.Errorf("failed to debit reward pool: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Pool shrank under us (concurrent harvest or liquidation).
		return 0, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET energy = energy + $2, updated_at = NOW()
		WHERE id = $1
	`, voterID, claimed)
	if err != nil {
		return 0, fmt.Errorf("failed to credit harvest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit harvest: %w", err)
	}
	return claimed, nil
}

func (e *Engine) loadVoteShares(ctx context.Context, sparkID string) ([]voteShare, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT voter_id, action, weight
		FROM lantern.interactions
		WHERE spark_id = $1
	`, sparkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []voteShare
	for rows.Next() {
		var v voteShare
		if err := rows.Scan(&v.voterID, &v.action, &v.weight); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// adjustReputation applies a clamped reputation delta. Failures are logged
// and swallowed; liquidation never aborts on a single account.
func (e *Engine) adjustReputation(ctx context.Context, accountID string, delta float64) {
	_, err := e.db.ExecContext(ctx, `
		UPDATE lantern.accounts
		SET reputation = GREATEST($3, LEAST($4, reputation + $2)), updated_at = NOW()
		WHERE id = $1
	`, accountID, delta, models.MinReputation, models.MaxReputation)
	if err != nil {
		e.logger.WithError(err).WithField("account_id", accountID).Error("Failed to adjust reputation")
	}
}
