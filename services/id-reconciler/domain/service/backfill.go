package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/backup"
)

// Backfill assigns a fresh numeric string id to every entity document
// that lacks one, and indexes it in the catalog so later rewrites in the
// same run can resolve references to it. Values that are present but not
// strings are reported, not replaced.
func (r *Reconciler) Backfill(ctx context.Context, def entity.EntityDef, catalog *Catalog, opts RunOptions, summary *entity.CollectionSummary) error {
	ec := catalog.Entity(def.Type)
	logger := r.logger.With(zap.String("collection", def.Collection))

	var (
		updates  []repository.ConditionalUpdate
		assigned []Projection
	)

	err := r.store.Scan(ctx, def.Collection, nil, func(doc repository.Document) error {
		raw, present := doc[def.IDField]
		switch v := raw.(type) {
		case nil:
		case string:
			if v != "" {
				return nil
			}
		default:
			logger.Warn("Entity id has an unexpected type",
				zap.String("document_id", rawString(r.codec, doc.ID())),
				zap.String("type", fmt.Sprintf("%T", raw)))
			return nil
		}

		match := interface{}(repository.Missing)
		if present && raw != nil {
			match = raw
		}

		sid := ec.NextID(def.IDBase)
		p := Projection{InternalID: doc.ID(), StringID: sid}
		if hex, ok := r.codec.Hex(doc.ID()); ok {
			p.InternalHex = hex
		}
		assigned = append(assigned, p)

		updates = append(updates, repository.ConditionalUpdate{
			ID:    doc.ID(),
			Match: map[string]interface{}{def.IDField: match},
			Set:   map[string]interface{}{def.IDField: sid},
		})
		summary.Writes = append(summary.Writes, entity.PlannedWrite{
			DocumentID: rawString(r.codec, doc.ID()),
			Path:       def.IDField,
			To:         sid,
			Resolved:   true,
			Target:     def.Type,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s for missing ids: %w", def.Collection, err)
	}

	summary.Backfill = int64(len(updates))
	if len(updates) == 0 {
		return nil
	}

	if !opts.Execute() {
		for _, p := range assigned {
			ec.Add(p)
		}
		logger.Info("String ids would be backfilled", zap.Int("documents", len(updates)))
		return nil
	}

	out, applyErr := r.applyInBatches(ctx, opts, def.Collection, backup.OpBackfill, updates)
	out.addTo(summary)

	// Index what the store actually holds: a conflicting writer may have
	// assigned a different id, or the batch may have failed.
	readCtx := context.WithoutCancel(ctx)
	for _, p := range assigned {
		doc, found, err := r.store.FindOne(readCtx, def.Collection, repository.Filter{repository.InternalIDField: p.InternalID})
		if err != nil || !found {
			continue
		}
		if sid, ok := doc[def.IDField].(string); ok && sid != "" {
			p.StringID = sid
			ec.Add(p)
		}
	}

	logger.Info("String ids backfilled",
		zap.Int("planned", len(updates)),
		zap.Int64("updated", out.applied),
		zap.Int64("errors", out.failed))

	return applyErr
}
