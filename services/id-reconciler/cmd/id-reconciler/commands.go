package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/service"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/usecase"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/backup"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/mongodb"
)

func runReconcile(cmd *cobra.Command, opts *options, out io.Writer) error {
	a, ctx, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.close()

	runID := uuid.NewString()
	a.forRun(runID)
	runOpts := service.RunOptions{
		Mode:          opts.mode(),
		PruneOrphans:  opts.pruneOrphans,
		EnsureIndexes: opts.ensureIndexes,
	}
	if !runOpts.Execute() && (opts.pruneOrphans || opts.ensureIndexes || opts.journalPath != "") {
		a.logger.Warn("Write-only options have no effect in a dry run",
			zap.Bool("prune_orphans", opts.pruneOrphans),
			zap.Bool("ensure_indexes", opts.ensureIndexes),
			zap.String("journal", opts.journalPath))
	}

	reconcilerOpts := []service.Option{
		service.WithRetryable(mongodb.IsTransient),
		service.WithMetrics(a.metrics),
	}
	if runOpts.Execute() && opts.journalPath != "" {
		journal, err := backup.Open(opts.journalPath, runID, a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := journal.Close(); err != nil {
				a.logger.Error("Failed to close journal", zap.Error(err))
			}
		}()
		reconcilerOpts = append(reconcilerOpts, service.WithJournal(journal))
	}

	locker, err := a.locker(ctx, runID)
	if err != nil {
		return err
	}

	reconciler := service.NewReconciler(a.store, a.codec, a.scanner(), a.config.ReconcilerConfig(), a.logger, reconcilerOpts...)
	uc := usecase.NewReconciliationUseCase(a.schema, a.catalogLoader(), reconciler, locker, a.logger,
		usecase.WithHealthCheck(a.client.Health))

	summary, err := uc.RunReconciliation(ctx, usecase.ReconcileRequest{
		RunID:       runID,
		Collections: opts.collections,
		Options:     runOpts,
	})
	a.pushMetrics(ctx)
	if err != nil {
		return err
	}

	if err := renderRunSummary(out, summary); err != nil {
		return err
	}
	if opts.reportPath != "" {
		if err := writeJSONReport(opts.reportPath, summary); err != nil {
			return err
		}
	}

	if summary.Interrupted {
		return withExitCode(exitFailure, fmt.Errorf("run %s interrupted before completion", runID))
	}
	if summary.Errors() > 0 {
		return withExitCode(exitFailure, nil)
	}
	return nil
}

func runVerify(cmd *cobra.Command, opts *options, out io.Writer, perField bool) error {
	if opts.execute {
		return common.ErrForbidden("verify is read-only and cannot be run with --execute")
	}

	a, ctx, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.close()

	runID := uuid.NewString()
	a.forRun(runID)
	uc := usecase.NewIntegrityUseCase(a.schema, a.catalogLoader(), service.NewVerifier(a.scanner(), a.config.ScannerConfig(), a.logger), a.logger)

	report, err := uc.VerifyIntegrity(ctx, runID, opts.collections...)
	a.pushMetrics(ctx)
	if err != nil {
		return err
	}

	if perField {
		err = renderScan(out, report)
	} else {
		err = renderVerification(out, report)
	}
	if err != nil {
		return err
	}

	if opts.reportPath != "" {
		if err := writeJSONReport(opts.reportPath, report); err != nil {
			return err
		}
	}

	if perField {
		if report.Errors > 0 {
			return withExitCode(exitFailure, nil)
		}
		return nil
	}
	if report.Verdict != entity.VerdictPass {
		return withExitCode(exitFailure, nil)
	}
	return nil
}
