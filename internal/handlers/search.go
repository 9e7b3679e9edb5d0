package handlers

import (
	"net/http"
	"strconv"

	"sparkfield/internal/economy"
	"sparkfield/internal/geo"
	"sparkfield/pkg/api/lantern"
	"sparkfield/pkg/middleware"
	"sparkfield/pkg/models"
)

// Search is the ping/scan surface. Mode "cell" matches the caller's grid
// cell; mode "radius" is the legacy geohash-assisted range search and
// carries the remote-action surcharge when paid.
//
// The first free_daily_pings searches per day are free (the hard rate
// floor still applies); after that every search is charged and a fraction
// of the charge is paid out as dividends to the returned sparks.
func Search(c middleware.Context) {
	accountID := c.GetString("account_id")
	ctx := c.Request.Context()

	lat, latErr := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("longitude"), 64)
	if latErr != nil || lonErr != nil || !geo.ValidLatLon(lat, lon) {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "invalid coordinates", Code: CodeInvalidCoordinates})
		return
	}

	mode := c.DefaultQuery("mode", "cell")
	radiusM := 500.0
	if v := c.Query("radius_m"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			radiusM = parsed
		}
	}

	cfg, err := cfgStore.Config(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	free, err := policy.ConsumeDailyQuota(ctx, accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	var charged int64
	if free {
		// Quota-free, but the hard floor still blocks rapid-fire probing.
		if err := policy.TouchAction(ctx, accountID); err != nil {
			respondError(c, err)
			return
		}
	} else {
		cost := cfg.PingCost
		if mode == "radius" {
			cost += cfg.RemoteSurcharge
		}
		auth, err := policy.Authorize(ctx, accountID, economy.ActionPing, cost)
		if err != nil {
			respondError(c, err)
			return
		}
		charged = auth.ChargedCost
	}

	var sparks []models.Spark
	switch mode {
	case "cell":
		sparks, err = searching.SearchCell(ctx, accountID, lat, lon, charged)
	case "radius":
		sparks, err = searching.SearchRadius(ctx, accountID, lat, lon, radiusM, charged)
	default:
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "unknown search mode", Code: CodeInvalidTarget})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	metrics.Searches.WithLabelValues(mode).Inc()

	views := make([]lantern.SparkView, 0, len(sparks))
	for _, s := range sparks {
		views = append(views, lantern.SparkView{
			ID:         s.ID,
			Content:    s.Content,
			Kind:       s.Kind,
			Latitude:   s.Latitude,
			Longitude:  s.Longitude,
			Confidence: s.Confidence,
			RewardPool: s.VerifierRewardPool,
			CreatedAt:  s.CreatedAt.Unix(),
		})
	}

	c.JSON(http.StatusOK, middleware.H{
		"results":      views,
		"charged_cost": charged,
		"free":         free,
	})
}
