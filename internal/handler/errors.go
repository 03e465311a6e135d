package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"assetflow/internal/middleware"
	"assetflow/internal/policy"
	"assetflow/internal/service"
	"assetflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// statusFor maps a service error class to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStageMismatch), errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope. Internal errors are recorded on the context and hidden from the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	// errors.Join separates messages with newlines
	msg := strings.ReplaceAll(err.Error(), "\n", "; ")
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "Internal server error"
	}
	c.JSON(status, response.Error(status, msg))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, msg))
}

func currentActor(c *gin.Context) (policy.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
	}
	return actor, ok
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Invalid id")
		return 0, false
	}
	return uint(id), true
}
