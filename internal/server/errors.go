package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/instance"
	"github.com/tablelift/cadence/internal/sequences"
	"github.com/tablelift/cadence/internal/tasks"
)

// respondError maps service errors onto HTTP status codes. Unknown
// errors are reported as 500 without leaking internals.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, db.ErrTemplateNotFound),
		errors.Is(err, db.ErrStepNotFound),
		errors.Is(err, db.ErrInstanceNotFound),
		errors.Is(err, db.ErrTaskNotFound),
		errors.Is(err, db.ErrRestaurantNotFound):
		status = http.StatusNotFound

	case errors.Is(err, sequences.ErrInvalidTemplate),
		errors.Is(err, sequences.ErrInvalidStepOrder),
		errors.Is(err, db.ErrInvalidTask),
		errors.Is(err, db.ErrInvalidRestaurant),
		errors.Is(err, instance.ErrTemplateInactive),
		errors.Is(err, instance.ErrTemplateEmpty),
		errors.Is(err, instance.ErrNotPaused):
		status = http.StatusBadRequest

	case errors.Is(err, sequences.ErrTemplateInUse),
		errors.Is(err, instance.ErrDuplicateActiveInstance),
		errors.Is(err, instance.ErrInstanceFinished),
		errors.Is(err, tasks.ErrTaskAlreadyDone),
		errors.Is(err, db.ErrDuplicateStepOrder),
		errors.Is(err, db.ErrConcurrencyConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
