package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

// VerifyRequest selects what the verifier checks
type VerifyRequest struct {
	RunID       string
	Collections []entity.CollectionDef
	// Mode must be dry-run; the verifier refuses write intent
	Mode entity.Mode
}

// Verifier re-scans every declared relationship and reports whether the
// store is fully reconciled. It has no write path.
type Verifier struct {
	scanner *Scanner
	config  ScannerConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewVerifier creates a new integrity verifier
func NewVerifier(scanner *Scanner, config ScannerConfig, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		scanner: scanner,
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Verify scans the requested collections. A scan failure is recorded
// against its collection and the remaining collections are still checked.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest, catalog *Catalog) (*entity.VerificationReport, error) {
	if req.Mode == entity.ModeExecute {
		return nil, common.ErrForbidden("the integrity verifier is read-only")
	}

	report := &entity.VerificationReport{
		RunID:     req.RunID,
		CheckedAt: v.now(),
	}

	for _, def := range req.Collections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := &entity.CollectionVerification{Collection: def.Name}
		report.Collections = append(report.Collections, result)

		scan, err := v.scanner.ScanCollection(ctx, def, catalog)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			result.Error = err.Error()
			v.logger.Error("Failed to verify collection",
				zap.String("collection", def.Name),
				zap.Error(err))
			continue
		}

		result.Documents = scan.Documents
		result.Fields = scan.Fields

		if def.IsTwoSided() {
			v.checkOrphans(scan, result)
		}

		totals := scan.Totals()
		v.logger.Info("Collection verified",
			zap.String("collection", def.Name),
			zap.Int64("documents", scan.Documents),
			zap.Int64("valid", totals.Valid),
			zap.Int64("legacy", totals.Legacy()),
			zap.Int64("broken", totals.Broken),
			zap.Int64("orphans", result.Orphans))
	}

	report.Finalize()

	v.logger.Info("Verification finished",
		zap.String("verdict", string(report.Verdict)),
		zap.Int64("valid", report.Valid),
		zap.Int64("legacy", report.Legacy),
		zap.Int64("broken", report.Broken),
		zap.Int64("orphans", report.Orphans),
		zap.Int64("errors", report.Errors))

	return report, nil
}

// checkOrphans counts relationship rows with at least one required side
// that resolves to no entity
func (v *Verifier) checkOrphans(scan *entity.CollectionScan, result *entity.CollectionVerification) {
	seen := make(map[string]bool)
	for _, ref := range scan.Broken {
		if seen[ref.DocumentKey] {
			continue
		}
		seen[ref.DocumentKey] = true
		result.Orphans++

		if len(result.OrphanSamples) < v.config.SampleLimit {
			reason := entity.ReasonOrphan + ": " + ref.Path
			result.OrphanSamples = append(result.OrphanSamples, entity.Sample{
				DocumentID: ref.DocumentKey,
				Path:       ref.Path,
				Raw:        rawString(v.scanner.codec, ref.Raw),
				Reason:     reason,
			})
		}
	}
}
