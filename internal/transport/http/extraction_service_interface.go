package http

import (
	"context"

	"portex/internal/pipeline"
	"portex/pkg/contracts/domain"
)

// ExtractionServiceInterface defines the run operations the handler
// depends on. The concrete implementation lives in internal/services.
type ExtractionServiceInterface interface {
	Extract(ctx context.Context, req *domain.ExtractionRequest) (*domain.ExtractionResponse, error)
	Submit(ctx context.Context, req *domain.ExtractionRequest) (*pipeline.Run, error)
	GetRun(ctx context.Context, id string) (*pipeline.Run, error)
	ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]*pipeline.Run, error)
	DeleteRun(ctx context.Context, id string) error
}
