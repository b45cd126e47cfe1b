package sessionquery

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/mediant-lab/mediant/internal/core/errors"
	"github.com/mediant-lab/mediant/internal/core/mediation"
)

// RegisterRoutes registers the session query routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/sessions/:session_id", s.GetSessionHandler)
}

// GetSessionHandler handles HTTP GET requests for one session's live state.
// The session start timestamp arrives as an RFC 3339 query parameter because
// a session id alone does not identify a session instance.
func (s *Service) GetSessionHandler(c *gin.Context) {
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRecordError,
			Message:   "session_id must be an integer",
		})
		return
	}

	startRaw := c.Query("session_start")
	if startRaw == "" {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRecordError,
			Message:   "session_start query parameter is required (RFC 3339)",
		})
		return
	}
	sessionStart, err := time.Parse(time.RFC3339Nano, startRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRecordError,
			Message:   "session_start must be an RFC 3339 timestamp",
		})
		return
	}

	key := mediation.SessionKey{SessionID: sessionID, SessionStartUTC: sessionStart.UTC()}

	view, err := s.GetSession(c.Request.Context(), key)
	if err != nil {
		slog.Error("Failed to query session", "error", err, "session_id", sessionID)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query session",
		})
		return
	}

	c.JSON(http.StatusOK, view)
}
