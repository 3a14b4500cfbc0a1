package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/settlement"
)

var errStatus = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrNotAuthorized, http.StatusForbidden},
	{domain.ErrInsufficientPayment, http.StatusPaymentRequired},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
	{domain.ErrInvalidPrice, http.StatusBadRequest},
	{domain.ErrZeroPrincipal, http.StatusBadRequest},
	{domain.ErrAlreadyListed, http.StatusConflict},
	{domain.ErrNotActive, http.StatusConflict},
	{domain.ErrListingStale, http.StatusConflict},
	{domain.ErrTicketTooLarge, http.StatusRequestEntityTooLarge},
	{settlement.ErrPayoutDisabled, http.StatusServiceUnavailable},
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	for _, e := range errStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
