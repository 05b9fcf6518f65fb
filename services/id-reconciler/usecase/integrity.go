package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/service"
)

// IntegrityUseCase runs the read-only integrity verification
type IntegrityUseCase struct {
	schema   *entity.Schema
	loader   *service.CatalogLoader
	verifier *service.Verifier
	logger   *zap.Logger
}

// NewIntegrityUseCase creates a new integrity use case
func NewIntegrityUseCase(schema *entity.Schema, loader *service.CatalogLoader, verifier *service.Verifier, logger *zap.Logger) *IntegrityUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntegrityUseCase{
		schema:   schema,
		loader:   loader,
		verifier: verifier,
		logger:   logger,
	}
}

// VerifyIntegrity checks the selected collections, or all of them
func (uc *IntegrityUseCase) VerifyIntegrity(ctx context.Context, runID string, collections ...string) (*entity.VerificationReport, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	defs, err := uc.schema.Select(collections...)
	if err != nil {
		return nil, err
	}

	catalog, err := uc.loader.Load(ctx)
	if err != nil {
		uc.logger.Error("Failed to load reference catalog", zap.Error(err))
		return nil, fmt.Errorf("failed to load reference catalog: %w", err)
	}

	return uc.verifier.Verify(ctx, service.VerifyRequest{
		RunID:       runID,
		Collections: defs,
		Mode:        entity.ModeDryRun,
	}, catalog)
}
