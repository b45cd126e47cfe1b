package ingestion

import (
	"context"

	"github.com/gin-gonic/gin"
	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/mediant-lab/mediant/internal/mediation"
)

// DecisionEngine is the ingest decision procedure the transport hands each
// record to. Satisfied by *mediation.Engine.
type DecisionEngine interface {
	Process(ctx context.Context, rec *v1.DetailRecord) (mediation.Outcome, error)
}

type Service struct {
	engine           DecisionEngine
	maxBodySizeBytes int
}

func NewService(engine DecisionEngine, maxBodySizeMB int) *Service {
	if engine == nil {
		panic("ingestion: engine must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		engine:           engine,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/records", s.IngestHandler)
}
