package ingestion

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	httperr "github.com/mediant-lab/mediant/internal/core/errors"
	core "github.com/mediant-lab/mediant/internal/core/mediation"
	"github.com/mediant-lab/mediant/internal/mediation"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgProcessFailed   = "Failed to process detail record"
	msgDuplicateRecord = "Sequence number already observed for this session"
	msgLateRecord      = "Record is older than the lateness bound"
)

// IngestHandler handles HTTP POST requests for detail record ingestion.
// Every syntactically valid record gets a terminal outcome: folded into its
// session, finalizing it, or rejected into the audit trail.
func (s *Service) IngestHandler(c *gin.Context) {
	rec, payloadSize, ok := s.parseRecord(c)
	if !ok {
		return
	}

	if err := rec.Validate(); err != nil {
		slog.Warn("Record validation failed", "error", err, "session_id", rec.SessionID, "seqno", rec.Seqno)
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRecordError,
			Message:   err.Error(),
		})
		return
	}

	slog.Debug("Received detail record",
		"session_id", rec.SessionID,
		"seqno", rec.Seqno,
		"event_type", rec.EventType,
		"payload_size", payloadSize)

	outcome, err := s.engine.Process(c.Request.Context(), rec)
	if err != nil {
		slog.Error("Failed to process detail record", "error", err, "session_id", rec.SessionID, "seqno", rec.Seqno)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   msgProcessFailed,
		})
		return
	}

	writeOutcome(c, outcome)
}

// parseRecord reads the raw request body with a size cap and binds it into a
// DetailRecord. Returns ok=false after writing the error response itself.
func (s *Service) parseRecord(c *gin.Context) (*v1.DetailRecord, int, bool) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   msgReadBodyFailed,
		})
		return nil, 0, false
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		c.JSON(http.StatusRequestEntityTooLarge, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Request body exceeds maximum allowed size",
			Details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		})
		return nil, len(bodyBytes), false
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var rec v1.DetailRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
		})
		return nil, len(bodyBytes), false
	}

	return &rec, len(bodyBytes), true
}

// writeOutcome maps an engine outcome to an HTTP response. Rejections are
// terminal, recorded outcomes, not server errors.
func writeOutcome(c *gin.Context, outcome mediation.Outcome) {
	switch {
	case outcome.Status != mediation.StatusRejected:
		c.JSON(http.StatusAccepted, outcome)
	case outcome.Reason == core.RejectDup:
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.HttpDuplicateError,
			Message:   msgDuplicateRecord,
			Details:   outcome,
		})
	default:
		// LATESESSION / LATERECORD
		c.JSON(http.StatusUnprocessableEntity, httperr.ErrorResponse{
			ErrorType: httperr.HttpLateError,
			Message:   msgLateRecord,
			Details:   outcome,
		})
	}
}
