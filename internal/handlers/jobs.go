package handlers

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"sparkfield/internal/economy"
	"sparkfield/pkg/logging"
)

// JobManager runs the daily maintenance passes. Every pass is a single
// idempotent statement, safe to run concurrently with live traffic and
// with a second instance of itself.
type JobManager struct {
	db     *sql.DB
	logger logging.Logger
	cfg    economy.ConfigProvider
	stopCh chan struct{}
}

// NewJobManager creates a maintenance job manager.
func NewJobManager(database *sql.DB, log logging.Logger, cfg economy.ConfigProvider) *JobManager {
	return &JobManager{
		db:     database,
		logger: log,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start begins the background maintenance jobs.
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting maintenance job manager")

	go jm.runExpirySweep(ctx)
	go jm.runRetentionPurge(ctx)
}

// Stop stops all background jobs.
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping maintenance job manager")
	close(jm.stopCh)
}

// runExpirySweep marks ACTIVE sparks past their soft expiry as EXPIRED.
func (jm *JobManager) runExpirySweep(ctx context.Context) {
	// Jitter the start so co-deployed instances don't sweep in lockstep.
	ticker := time.NewTicker(1*time.Hour + time.Duration(rand.Int63n(int64(time.Minute))))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			if err := jm.sweepExpiredSparks(ctx); err != nil {
				jm.logger.WithError(err).Error("Expiry sweep failed")
			}
		}
	}
}

// runRetentionPurge enforces the hard TTL on sparks and the retention
// window on interactions. The purge stands in for a store-native TTL.
func (jm *JobManager) runRetentionPurge(ctx context.Context) {
	ticker := time.NewTicker(24*time.Hour + time.Duration(rand.Int63n(int64(time.Minute))))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			if err := jm.purgeExpiredRecords(ctx); err != nil {
				jm.logger.WithError(err).Error("Retention purge failed")
			}
		}
	}
}

func (jm *JobManager) sweepExpiredSparks(ctx context.Context) error {
	// Marks expired sparks and returns their staked energy to the authors'
	// account counters in one statement, so a crash between the two cannot
	// leave stakes pinned forever.
	result, err := jm.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id, author_id, staked_energy
			FROM lantern.sparks
			WHERE status = 'ACTIVE' AND expires_at <= NOW()
			FOR UPDATE
		), marked AS (
			UPDATE lantern.sparks s
			SET status = 'EXPIRED', staked_energy = 0, updated_at = NOW()
			FROM expired e
			WHERE s.id = e.id
		)
		UPDATE lantern.accounts a
		SET staked_energy = GREATEST(a.staked_energy - t.total, 0), updated_at = NOW()
		FROM (
			SELECT author_id, SUM(staked_energy) AS total
			FROM expired
			WHERE author_id IS NOT NULL
			GROUP BY author_id
		) t
		WHERE a.id = t.author_id
	`)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		jm.logger.WithField("authors", rows).Info("Expiry sweep released stakes")
	}
	return nil
}

func (jm *JobManager) purgeExpiredRecords(ctx context.Context) error {
	cfg, err := jm.cfg.Config(ctx)
	if err != nil {
		return err
	}

	if _, err := jm.db.ExecContext(ctx, `
		DELETE FROM lantern.sparks WHERE hard_expires_at <= NOW()
	`); err != nil {
		jm.logger.WithError(err).Error("Hard-TTL purge failed")
	}

	result, err := jm.db.ExecContext(ctx, `
		DELETE FROM lantern.interactions
		WHERE created_at <= NOW() - make_interval(days => $1)
	`, cfg.VoteRetentionDays)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		jm.logger.WithField("purged", rows).Info("Interaction retention purge completed")
	}
	return nil
}
