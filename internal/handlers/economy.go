package handlers

import (
	"net/http"

	"sparkfield/pkg/api/lantern"
	"sparkfield/pkg/middleware"
	"sparkfield/pkg/models"
)

// GetEconomyConfig returns the current tunables.
func GetEconomyConfig(c middleware.Context) {
	cfg, err := cfgStore.Config(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// PatchEconomyConfig applies a partial update to the tunables. Only the
// fields present in the body change; this is a service-token surface.
func PatchEconomyConfig(c middleware.Context) {
	var patch models.EconomyConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: "invalid request body", Code: CodeInvalidTarget})
		return
	}

	cfg, err := cfgStore.Update(c.Request.Context(), patch)
	if err != nil {
		logger.WithError(err).Error("Failed to patch economy config")
		c.JSON(http.StatusInternalServerError, lantern.ErrorResponse{Error: "failed to update config"})
		return
	}

	logger.Info("Economy config updated")
	c.JSON(http.StatusOK, cfg)
}

// GetAccount returns the caller's economic snapshot.
func GetAccount(c middleware.Context) {
	accountID := c.GetString("account_id")

	account, err := policy.Account(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
