package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/service"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/redis"
)

// ReconcileRequest describes one reconciliation run
type ReconcileRequest struct {
	// RunID is generated when empty
	RunID string
	// Collections limits the run; empty means every known collection
	Collections []string
	Options     service.RunOptions
}

// ReconciliationUseCase orchestrates catalog loading, backfill, rewrite
// and deduplication across collections
type ReconciliationUseCase struct {
	schema     *entity.Schema
	loader     *service.CatalogLoader
	reconciler *service.Reconciler
	locker     redis.Locker
	healthy    func(ctx context.Context) bool
	logger     *zap.Logger
	now        func() time.Time
}

// ReconciliationOption customises a ReconciliationUseCase
type ReconciliationOption func(*ReconciliationUseCase)

// WithHealthCheck is consulted before the run starts and after a
// collection fails; an unhealthy store stops the run with a connection error
func WithHealthCheck(fn func(ctx context.Context) bool) ReconciliationOption {
	return func(uc *ReconciliationUseCase) { uc.healthy = fn }
}

// NewReconciliationUseCase creates a new reconciliation use case. A nil
// locker disables run locking.
func NewReconciliationUseCase(
	schema *entity.Schema,
	loader *service.CatalogLoader,
	reconciler *service.Reconciler,
	locker redis.Locker,
	logger *zap.Logger,
	opts ...ReconciliationOption,
) *ReconciliationUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = redis.NoopLock{}
	}
	uc := &ReconciliationUseCase{
		schema:     schema,
		loader:     loader,
		reconciler: reconciler,
		locker:     locker,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// RunReconciliation runs every step over the selected collections and
// returns the per-collection summary. Failures confined to one collection
// are recorded in its row and the run moves on; an unknown collection, a
// held lock, an unreadable catalog or an unhealthy store abort the run.
// Cancellation or a lost run lock stops the run after the current batch
// and marks the summary interrupted.
func (uc *ReconciliationUseCase) RunReconciliation(ctx context.Context, req ReconcileRequest) (*entity.RunSummary, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Options.Mode == "" {
		req.Options.Mode = entity.ModeDryRun
	}

	logger := uc.logger.With(zap.String("mode", string(req.Options.Mode)))

	defs, err := uc.schema.Select(req.Collections...)
	if err != nil {
		return nil, err
	}

	if uc.healthy != nil && !uc.healthy(ctx) {
		return nil, common.ErrDatabaseConnection(errors.New("document store did not answer a ping"))
	}

	if req.Options.Execute() {
		if err := uc.locker.Acquire(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := uc.locker.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release run lock", zap.Error(err))
			}
		}()
		req.Options.Heartbeat = uc.locker.Refresh
	}

	summary := &entity.RunSummary{
		RunID:     req.RunID,
		Mode:      req.Options.Mode,
		StartedAt: uc.now(),
	}
	for _, def := range defs {
		summary.Collection(def.Name)
	}

	logger.Info("Reconciliation started",
		zap.Int("collections", len(defs)),
		zap.Bool("prune_orphans", req.Options.PruneOrphans),
		zap.Bool("ensure_indexes", req.Options.EnsureIndexes))

	catalog, err := uc.loader.Load(ctx)
	if err != nil {
		logger.Error("Failed to load reference catalog", zap.Error(err))
		return summary, fmt.Errorf("failed to load reference catalog: %w", err)
	}

	// Backfill first so references to newly identified entities resolve
	for _, def := range defs {
		if def.Kind != entity.KindEntity {
			continue
		}
		entityDef, ok := uc.schema.Entity(def.Entity)
		if !ok {
			continue
		}

		err := uc.heartbeat(ctx, req.Options)
		if err == nil {
			err = uc.reconciler.Backfill(ctx, entityDef, catalog, req.Options, summary.Collection(def.Name))
		}
		if stop, fatal := uc.handleCollectionError(ctx, logger, summary, def.Name, err); stop {
			return uc.finish(logger, summary), fatal
		}
	}

	for _, def := range defs {
		err := uc.heartbeat(ctx, req.Options)
		if err == nil {
			err = uc.reconciler.ReconcileCollection(ctx, def, catalog, req.Options, summary.Collection(def.Name))
		}
		if stop, fatal := uc.handleCollectionError(ctx, logger, summary, def.Name, err); stop {
			return uc.finish(logger, summary), fatal
		}
	}

	return uc.finish(logger, summary), nil
}

// heartbeat extends the run lock before a collection is scanned
func (uc *ReconciliationUseCase) heartbeat(ctx context.Context, opts service.RunOptions) error {
	if opts.Heartbeat == nil {
		return nil
	}
	return opts.Heartbeat(ctx)
}

// handleCollectionError records err against its collection and reports
// whether the run must stop, and with which error
func (uc *ReconciliationUseCase) handleCollectionError(ctx context.Context, logger *zap.Logger, summary *entity.RunSummary, collection string, err error) (bool, error) {
	if err == nil {
		return false, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrLockLost) || ctx.Err() != nil {
		summary.Interrupted = true
		logger.Warn("Reconciliation interrupted",
			zap.String("collection", collection),
			zap.Error(err))
		return true, nil
	}

	row := summary.Collection(collection)
	row.Errors++
	row.ErrorDetails = append(row.ErrorDetails, err.Error())
	logger.Error("Collection reconciliation failed",
		zap.String("collection", collection),
		zap.Error(err))

	if uc.healthy != nil && !uc.healthy(ctx) {
		logger.Error("Document store unreachable, stopping run",
			zap.String("collection", collection))
		return true, common.ErrDatabaseConnection(err)
	}
	return false, nil
}

func (uc *ReconciliationUseCase) finish(logger *zap.Logger, summary *entity.RunSummary) *entity.RunSummary {
	summary.FinishedAt = uc.now()

	var rewrite, updated, review, deleted int64
	for _, c := range summary.Collections {
		rewrite += c.Rewrite
		updated += c.Updated
		review += c.Review
		deleted += c.Deleted
	}

	logger.Info("Reconciliation finished",
		zap.Int64("rewrite", rewrite),
		zap.Int64("updated", updated),
		zap.Int64("review", review),
		zap.Int64("deleted", deleted),
		zap.Int64("errors", summary.Errors()),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))

	return summary
}
