package handlers

import (
	"errors"
	"net/http"

	"sparkfield/internal/consensus"
	"sparkfield/internal/economy"
	"sparkfield/internal/geo"
	"sparkfield/pkg/api/lantern"
	"sparkfield/pkg/middleware"
)

// Stable error codes surfaced to callers.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeInsufficientEnergy = "INSUFFICIENT_ENERGY"
	CodeInvalidTarget      = "INVALID_TARGET"
	CodeInvalidCoordinates = "INVALID_COORDINATES"
	CodeNotAuthorized      = "NOT_AUTHORIZED"
)

// respondError maps engine failures onto the stable code/message taxonomy.
func respondError(c middleware.Context, err error) {
	switch {
	case errors.Is(err, economy.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, lantern.ErrorResponse{Error: err.Error(), Code: CodeRateLimited})
	case errors.Is(err, economy.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, lantern.ErrorResponse{Error: err.Error(), Code: CodeInsufficientEnergy})
	case errors.Is(err, consensus.ErrInvalidTarget):
		c.JSON(http.StatusUnprocessableEntity, lantern.ErrorResponse{Error: err.Error(), Code: CodeInvalidTarget})
	case errors.Is(err, geo.ErrInvalidCoordinates):
		c.JSON(http.StatusBadRequest, lantern.ErrorResponse{Error: err.Error(), Code: CodeInvalidCoordinates})
	default:
		logger.WithError(err).Error("Unhandled engine error")
		c.JSON(http.StatusInternalServerError, lantern.ErrorResponse{Error: "internal error"})
	}
}
