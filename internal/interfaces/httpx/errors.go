// Package httpx holds the HTTP response helpers shared by the stream and
// REST handlers.
package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/logger"
)

// StatusFor maps a stream access error to its HTTP status and public message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidTxRef):
		return http.StatusBadRequest, "Invalid transaction reference"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Access denied"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "Transaction not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// AbortWithError writes {"error": ...} for err. Server-side failures are
// logged; client errors only at debug.
func AbortWithError(c *gin.Context, err error, log logger.Logger) {
	status, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
	} else {
		log.WithError(err).Debugf("Request rejected with %d", status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// ServiceUnavailable is returned while the hub is not accepting subscribers.
func ServiceUnavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error": "Service temporarily unavailable",
	})
}
