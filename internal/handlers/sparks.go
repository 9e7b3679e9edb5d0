package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sparkfield/internal/economy"
	"sparkfield/internal/geo"
	"sparkfield/pkg/api/lantern"
	"sparkfield/pkg/events"
	"sparkfield/pkg/logging"
	"sparkfield/pkg/middleware"
	"sparkfield/pkg/models"
)

// Content and radius bounds for new sparks.
const (
	maxContentLength = 280
	minRadiusM       = 10.0
	maxRadiusM       = 500.0
	defaultRadiusM   = 50.0
)

// CreateSparkRequest is the payload for planting a new spark.
type CreateSparkRequest struct {
	Content   string  `json:"content" binding:"required"`
	Kind      string  `json:"kind"`
	Latitude  float64 `json:"latitude" binding:"required"`
	Longitude float64 `json:"longitude" binding:"required"`
	RadiusM   float64 `json:"radius_m"`
}

// CreateSpark plants a location-bound claim. Total creation cost is
// baseCreateCost + progressive spatial rent + risk deposit, charged up
// front; the deposit is slashable if the spark later withers.
func CreateSpark(c middleware.Context) {
	accountID := c.GetString("account_id")

	var req CreateSparkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "invalid request body", Code: CodeInvalidTarget})
		return
	}

	if len(req.Content) == 0 || len(req.Content) > maxContentLength {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "content must be 1-280 characters", Code: CodeInvalidTarget})
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindHardFact
	}
	if req.Kind != models.KindHardFact && req.Kind != models.KindSoftVibe {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "unknown spark kind", Code: CodeInvalidTarget})
		return
	}
	if req.RadiusM == 0 {
		req.RadiusM = defaultRadiusM
	}
	if req.RadiusM < minRadiusM || req.RadiusM > maxRadiusM {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "radius_m out of bounds", Code: CodeInvalidTarget})
		return
	}
	if !geo.ValidLatLon(req.Latitude, req.Longitude) {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "invalid coordinates", Code: CodeInvalidCoordinates})
		return
	}

	ctx := c.Request.Context()

	cells, err := geo.Coverage(req.Latitude, req.Longitude, req.RadiusM)
	if err != nil {
		respondError(c, err)
		return
	}
	ghash, err := geo.GeohashFor(req.Latitude, req.Longitude)
	if err != nil {
		respondError(c, err)
		return
	}

	cfg, err := cfgStore.Config(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	rent, err := policy.SpatialRent(ctx, accountID, cells)
	if err != nil {
		respondError(c, err)
		return
	}

	totalCost := cfg.CreateCost + rent + cfg.RiskDeposit
	auth, err := policy.Authorize(ctx, accountID, economy.ActionCreate, totalCost)
	if err != nil {
		respondError(c, err)
		return
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(cfg.ClaimLifetimeDays) * 24 * time.Hour)
	hardExpiresAt := now.Add(time.Duration(2*cfg.ClaimLifetimeDays) * 24 * time.Hour)

	sparkID := uuid.New().String()
	_, err = db.ExecContext(ctx, `
		INSERT INTO lantern.sparks (
			id, author_id, content, kind, latitude, longitude, radius_m, cells, geohash,
			spatial_rent, deposit, staked_energy, status, expires_at, hard_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'ACTIVE', $13, $14)
	`, sparkID, accountID, req.Content, req.Kind, req.Latitude, req.Longitude, req.RadiusM,
		pq.Array(cells), ghash, rent, cfg.RiskDeposit, auth.ChargedCost, expiresAt, hardExpiresAt)
	if err != nil {
		logger.WithError(err).WithField("account_id", accountID).Error("Failed to insert spark")
		c.JSON(http.StatusInternalServerError, lantern.ErrorResponse{Error: "failed to create spark"})
		return
	}

	// The full charge (penalty surcharge included) counts as staked energy on
	// the account until the spark leaves the ACTIVE state.
	if err := policy.Stake(ctx, accountID, auth.ChargedCost); err != nil {
		logger.WithError(err).WithField("account_id", accountID).Warn("Failed to record account stake")
	}

	metrics.SparksCreated.WithLabelValues(req.Kind).Inc()
	producer.Publish(ctx, events.SparkEvent{
		EventType: events.TypeSparkCreated,
		SparkID:   sparkID,
		AccountID: accountID,
		Cell:      cells[0],
	})

	logger.WithFields(logging.Fields{
		"spark_id":   sparkID,
		"account_id": accountID,
		"cells":      len(cells),
		"rent":       rent,
		"charged":    auth.ChargedCost,
	}).Info("Spark created")

	c.JSON(http.StatusCreated, lantern.SuccessResponse{
		Success: true,
		Data: middleware.H{
			"id":           sparkID,
			"cells":        cells,
			"spatial_rent": rent,
			"deposit":      cfg.RiskDeposit,
			"charged_cost": auth.ChargedCost,
			"new_balance":  auth.NewBalance,
			"expires_at":   expiresAt.Unix(),
		},
	})
}

// DeleteSpark is the erasure path: only the author may erase their own
// spark. The record flips to EXPIRED and the author reference is removed;
// the location and content row is left for the hard-TTL purge.
func DeleteSpark(c middleware.Context) {
	accountID := c.GetString("account_id")
	sparkID := c.Param("id")
	ctx := c.Request.Context()

	var authorID *string
	var staked int64
	var status string
	err := db.QueryRowContext(ctx, `
		SELECT author_id, staked_energy, status FROM lantern.sparks WHERE id = $1
	`, sparkID).Scan(&authorID, &staked, &status)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, lantern.ErrorResponse{Error: "spark not found", Code: CodeInvalidTarget})
		return
	}
	if authorID == nil || *authorID != accountID {
		c.JSON(http.StatusForbidden, lantern.ErrorResponse{Error: "not the author of this spark", Code: CodeNotAuthorized})
		return
	}

	_, err = db.ExecContext(ctx, `
		UPDATE lantern.sparks
		SET status = 'EXPIRED',
		    author_id = NULL,
		    staked_energy = 0,
		    revision = revision + 1,
		    modifications = modifications || jsonb_build_array(jsonb_build_object('op', 'erased', 'at', NOW())),
		    updated_at = NOW()
		WHERE id = $1
	`, sparkID)
	if err != nil {
		logger.WithError(err).WithField("spark_id", sparkID).Error("Failed to erase spark")
		c.JSON(http.StatusInternalServerError, lantern.ErrorResponse{Error: "failed to erase spark"})
		return
	}

	// Only a still-ACTIVE spark carries a live account stake; liquidation
	// and the expiry sweep release theirs themselves.
	if status == models.SparkActive {
		if err := policy.ReleaseStake(ctx, accountID, staked); err != nil {
			logger.WithError(err).WithField("spark_id", sparkID).Warn("Failed to release account stake")
		}
	}

	c.JSON(http.StatusOK, lantern.SuccessResponse{Success: true, Message: "spark erased"})
}

// SetSparkStatus is the moderation surface (service-token only): BANNED
// and SHADOW_BANNED sparks are excluded from search and voting. Every
// change lands in the append-only modification log.
func SetSparkStatus(c middleware.Context) {
	sparkID := c.Param("id")
	ctx := c.Request.Context()

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "invalid request body", Code: CodeInvalidTarget})
		return
	}
	if req.Status != models.SparkBanned && req.Status != models.SparkShadowBanned && req.Status != models.SparkActive {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "unsupported status", Code: CodeInvalidTarget})
		return
	}

	result, err := db.ExecContext(ctx, `
		UPDATE lantern.sparks
		SET status = $2,
		    revision = revision + 1,
		    modifications = modifications || jsonb_build_array(jsonb_build_object('op', 'status', 'to', $2::text, 'at', NOW())),
		    updated_at = NOW()
		WHERE id = $1
	`, sparkID, req.Status)
	if err != nil {
		logger.WithError(err).WithField("spark_id", sparkID).Error("Failed to update spark status")
		c.JSON(http.StatusInternalServerError, lantern.ErrorResponse{Error: "failed to update status"})
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		c.JSON(http.StatusUnprocessableEntity, lantern.ErrorResponse{Error: "spark not found", Code: CodeInvalidTarget})
		return
	}

	c.JSON(http.StatusOK, lantern.SuccessResponse{Success: true})
}
