package handlers

import (
	"net/http"

	"sparkfield/pkg/api/lantern"
	"sparkfield/pkg/middleware"
	"sparkfield/pkg/models"
)

// VoteRequest is the payload for confirming or challenging a spark.
type VoteRequest struct {
	Action    string  `json:"action" binding:"required"`
	Latitude  float64 `json:"latitude" binding:"required"`
	Longitude float64 `json:"longitude" binding:"required"`
	Meta      struct {
		DeviceHash string `json:"device_hash"`
		CoLocated  bool   `json:"co_located"`
	} `json:"meta"`
}

// Vote records the caller's stance on a spark. The verification cost is
// charged up front and flows into the spark's reward pool.
func Vote(c middleware.Context) {
	accountID := c.GetString("account_id")
	sparkID := c.Param("id")

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "invalid request body", Code: CodeInvalidTarget})
		return
	}

	meta := models.InteractionMeta{
		DeviceHash: req.Meta.DeviceHash,
		IPHint:     c.ClientIP(),
		CoLocated:  req.Meta.CoLocated,
	}

	result, err := voting.Vote(c.Request.Context(), accountID, sparkID, req.Action, req.Latitude, req.Longitude, meta)
	if err != nil {
		metrics.Interactions.WithLabelValues(req.Action, "rejected").Inc()
		respondError(c, err)
		return
	}

	metrics.Interactions.WithLabelValues(req.Action, "recorded").Inc()
	if result.Status == models.SparkWithered {
		metrics.Liquidations.WithLabelValues("withered").Inc()
	}

	c.JSON(http.StatusOK, lantern.VoteResult{
		Confidence: result.Confidence,
		RewardPool: result.RewardPool,
		Status:     result.Status,
	})
}

// Harvest pays out the caller's proportional share of a spark's current
// reward pool.
func Harvest(c middleware.Context) {
	accountID := c.GetString("account_id")
	sparkID := c.Param("id")

	claimed, err := voting.Harvest(c.Request.Context(), accountID, sparkID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, lantern.HarvestResult{Claimed: claimed})
}
