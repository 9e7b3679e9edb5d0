// Package consensus records votes on sparks, maintains their confidence
// scores, and settles withered sparks through liquidation.
package consensus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sparkfield/internal/economy"
	"sparkfield/internal/geo"
	"sparkfield/pkg/events"
	"sparkfield/pkg/logging"
	"sparkfield/pkg/models"
)

// ErrInvalidTarget covers claim-missing, claim-not-active, duplicate-vote
// and weight-too-low failures. Not retryable with the same input.
var ErrInvalidTarget = errors.New("invalid target")

const pqUniqueViolation = "23505"

// VoteResult is the claim state reported back after a recorded vote.
type VoteResult struct {
	Confidence float64
	RewardPool int64
	Status     string
}

// Engine scores votes and maintains spark confidence.
type Engine struct {
	db       *sql.DB
	logger   logging.Logger
	cfg      economy.ConfigProvider
	policy   *economy.Engine
	producer *events.Producer
}

// NewEngine creates a consensus engine. producer may be nil.
func NewEngine(db *sql.DB, logger logging.Logger, cfg economy.ConfigProvider, policy *economy.Engine, producer *events.Producer) *Engine {
	return &Engine{db: db, logger: logger, cfg: cfg, policy: policy, producer: producer}
}

// Vote records one account's stance on a spark.
//
// The verification cost is charged before any target validation and is not
// refunded when the vote is later rejected for weight: voting too far away
// or too collusively is a deliberate loss, not a bug.
func (e *Engine) Vote(ctx context.Context, voterID, sparkID, action string, voterLat, voterLon float64, meta models.InteractionMeta) (VoteResult, error) {
	if action != models.ActionConfirm && action != models.ActionChallenge {
		return VoteResult{}, fmt.Errorf("%w: unknown action %q", ErrInvalidTarget, action)
	}
	if !geo.ValidLatLon(voterLat, voterLon) {
		return VoteResult{}, geo.ErrInvalidCoordinates
	}

	cfg, err := e.cfg.Config(ctx)
	if err != nil {
		return VoteResult{}, err
	}

	auth, err := e.policy.Authorize(ctx, voterID, economy.ActionVerify, 0)
	if err != nil {
		return VoteResult{}, err
	}

	spark, err := e.loadSpark(ctx, sparkID)
	if err == sql.ErrNoRows {
		return VoteResult{}, fmt.Errorf("%w: spark not found", ErrInvalidTarget)
	}
	if err != nil {
		return VoteResult{}, fmt.Errorf("failed to load spark: %w", err)
	}
	if spark.Status != models.SparkActive {
		return VoteResult{}, fmt.Errorf("%w: spark is %s", ErrInvalidTarget, spark.Status)
	}
	if spark.AuthorID != nil && *spark.AuthorID == voterID {
		return VoteResult{}, fmt.Errorf("%w: cannot vote on own spark", ErrInvalidTarget)
	}

	weight, distanceM, err := e.computeWeight(ctx, voterID, spark, voterLat, voterLon, cfg)
	if err != nil {
		return VoteResult{}, err
	}
	if weight < cfg.MinVoteWeight {
		return VoteResult{}, fmt.Errorf("%w: vote weight %.4f below minimum", ErrInvalidTarget, weight)
	}

	if spark.AuthorID != nil {
		meta.SparkAuthor = *spark.AuthorID
	}
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO lantern.interactions (id, spark_id, voter_id, action, latitude, longitude, distance_m, weight, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New().String(), sparkID, voterID, action, voterLat, voterLon, distanceM, weight, meta)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return VoteResult{}, fmt.Errorf("%w: already voted on this spark", ErrInvalidTarget)
		}
		return VoteResult{}, fmt.Errorf("failed to record vote: %w", err)
	}

	upDelta, downDelta := 0.0, 0.0
	if action == models.ActionConfirm {
		upDelta = weight
	} else {
		downDelta = weight
	}

	// Accumulate weights, fold this vote's verification fee into the reward
	// pool, and recompute the Laplace-smoothed confidence in one statement
	// so concurrent votes never clobber each other's totals.
	var confidence float64
	var rewardPool int64
	err = e.db.QueryRowContext(ctx, `
		UPDATE lantern.sparks
		SET upvote_weight = upvote_weight + $2,
		    downvote_weight = downvote_weight + $3,
		    verifier_reward_pool = verifier_reward_pool + $4,
		    confidence = (upvote_weight + $2 + 1) / (upvote_weight + $2 + downvote_weight + $3 + 2),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING confidence, verifier_reward_pool
	`, sparkID, upDelta, downDelta, auth.ChargedCost).Scan(&confidence, &rewardPool)
	if err != nil {
		return VoteResult{}, fmt.Errorf("failed to update spark score: %w", err)
	}

	e.producer.Publish(ctx, events.SparkEvent{
		EventType:  events.TypeInteractionRecorded,
		SparkID:    sparkID,
		AccountID:  voterID,
		Confidence: confidence,
	})

	status := models.SparkActive
	if confidence < cfg.WitherThreshold {
		withered, witherErr := e.wither(ctx, sparkID)
		if witherErr != nil {
			e.logger.WithError(witherErr).WithField("spark_id", sparkID).Error("Failed to wither spark")
		} else if withered {
			status = models.SparkWithered
			// Liquidation runs best-effort as a side effect of a vote that
			// must still succeed; its failures are logged, never surfaced.
			if spark, err := e.loadSpark(ctx, sparkID); err == nil {
				e.Liquidate(ctx, spark)
			}
		} else {
			// Lost the wither race to a concurrent vote.
			status = models.SparkWithered
		}
	}

	return VoteResult{Confidence: confidence, RewardPool: rewardPool, Status: status}, nil
}

// wither flips ACTIVE -> WITHERED exactly once, even under concurrent votes.
func (e *Engine) wither(ctx context.Context, sparkID string) (bool, error) {
	result, err := e.db.ExecContext(ctx, `
		UPDATE lantern.sparks
		SET status = 'WITHERED', updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
	`, sparkID)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	e.producer.Publish(ctx, events.SparkEvent{
		EventType: events.TypeSparkWithered,
		SparkID:   sparkID,
	})
	return true, nil
}

// computeWeight combines voter reputation, hex grid distance decay, and
// the anti-collusion affinity damping factor.
func (e *Engine) computeWeight(ctx context.Context, voterID string, spark models.Spark, voterLat, voterLon float64, cfg models.EconomyConfig) (float64, float64, error) {
	voterCell, err := geo.CellFor(voterLat, voterLon)
	if err != nil {
		return 0, 0, err
	}

	minDist := geo.FarAway
	for _, cell := range spark.Cells {
		if d := geo.Distance(voterCell, cell); d < minDist {
			minDist = d
		}
	}

	var distanceFraction float64
	switch {
	case minDist == 0:
		distanceFraction = 1.0
	case minDist == 1:
		distanceFraction = cfg.NeighborWeightFraction
	default:
		distanceFraction = 0
	}

	account, err := e.policy.Account(ctx, voterID)
	if err != nil {
		return 0, 0, err
	}

	damping := 1.0
	if spark.AuthorID != nil {
		// Prior votes on any spark by the same author make this one worth
		// less: 1/(1+n) blunts simple collusion rings.
		var priorCount int
		err = e.db.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM lantern.interactions i
			JOIN lantern.sparks s ON s.id = i.spark_id
			WHERE i.voter_id = $1 AND s.author_id = $2
		`, voterID, *spark.AuthorID).Scan(&priorCount)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to count prior author interactions: %w", err)
		}
		damping = 1.0 / float64(1+priorCount)
	}

	distanceM := geo.HaversineM(voterLat, voterLon, spark.Latitude, spark.Longitude)
	return account.Reputation * distanceFraction * damping, distanceM, nil
}

func (e *Engine) loadSpark(ctx context.Context, sparkID string) (models.Spark, error) {
	var s models.Spark
	var cells pq.StringArray
	err := e.db.QueryRowContext(ctx, `
		SELECT id, author_id, content, kind, latitude, longitude, radius_m, cells, geohash,
		       spatial_rent, deposit, staked_energy, verifier_reward_pool,
		       upvote_weight, downvote_weight, confidence, status,
		       expires_at, hard_expires_at, created_at, updated_at
		FROM lantern.sparks
		WHERE id = $1
	`, sparkID).Scan(
		&s.ID, &s.AuthorID, &s.Content, &s.Kind, &s.Latitude, &s.Longitude, &s.RadiusM, &cells, &s.Geohash,
		&s.SpatialRent, &s.Deposit, &s.StakedEnergy, &s.VerifierRewardPool,
		&s.UpvoteWeight, &s.DownvoteWeight, &s.Confidence, &s.Status,
		&s.ExpiresAt, &s.HardExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	s.Cells = cells
	return s, err
}
