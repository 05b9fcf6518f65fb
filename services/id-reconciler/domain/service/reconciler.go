package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agrawalpuran/uds-refresh-sub000/pkg/metrics"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/backup"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/dal"
)

// Journal receives before-images of documents about to be modified
type Journal interface {
	Record(collection, documentID string, op backup.Operation, doc interface{}) error
}

// ReconcilerConfig configures write batching
type ReconcilerConfig struct {
	BatchSize           int             `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	MaxBatchesPerSecond float64         `yaml:"max_batches_per_second" json:"max_batches_per_second" mapstructure:"max_batches_per_second"`
	Retry               dal.RetryPolicy `yaml:"retry" json:"retry" mapstructure:"retry"`
}

// DefaultReconcilerConfig returns the default write settings
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		BatchSize:           200,
		MaxBatchesPerSecond: 0,
		Retry:               dal.DefaultRetryPolicy(),
	}
}

// RunOptions are the per-run switches of a reconciliation
type RunOptions struct {
	Mode          entity.Mode
	PruneOrphans  bool
	EnsureIndexes bool
	// Heartbeat, when set, runs before every write batch and delete. An
	// error stops the collection like a cancellation.
	Heartbeat func(ctx context.Context) error
}

// Execute reports whether the run may write
func (o RunOptions) Execute() bool {
	return o.Mode == entity.ModeExecute
}

func (o RunOptions) beat(ctx context.Context) error {
	if o.Heartbeat == nil {
		return nil
	}
	return o.Heartbeat(ctx)
}

// Option customises a Reconciler
type Option func(*Reconciler)

// WithJournal records before-images of every write
func WithJournal(j Journal) Option {
	return func(r *Reconciler) { r.journal = j }
}

// WithRetryable sets the predicate deciding which write errors are retried
func WithRetryable(fn func(error) bool) Option {
	return func(r *Reconciler) { r.retryable = fn }
}

// WithMetrics records write outcomes
func WithMetrics(m *metrics.Manager) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler rewrites legacy references, backfills string ids and merges
// duplicate relationship rows
type Reconciler struct {
	store     repository.DocumentStore
	codec     repository.IDCodec
	scanner   *Scanner
	config    ReconcilerConfig
	limiter   *rate.Limiter
	retrier   *dal.Retrier
	retryable func(error) bool
	journal   Journal
	metrics   *metrics.Manager
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(store repository.DocumentStore, codec repository.IDCodec, scanner *Scanner, config ReconcilerConfig, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultReconcilerConfig().BatchSize
	}

	r := &Reconciler{
		store:   store,
		codec:   codec,
		scanner: scanner,
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}

	limit := rate.Inf
	if config.MaxBatchesPerSecond > 0 {
		limit = rate.Limit(config.MaxBatchesPerSecond)
	}
	r.limiter = rate.NewLimiter(limit, 1)
	r.retrier = dal.NewRetrier(config.Retry, r.retryable, logger)

	return r
}

// Plan computes the rewrites for the flagged references of a scan. It has
// no side effects. Unresolvable references keep (or get) their string form
// and are returned for manual review.
func (r *Reconciler) Plan(scan *entity.CollectionScan, catalog *Catalog) ([]entity.PlannedWrite, []entity.ReviewItem, []repository.ConditionalUpdate) {
	var (
		writes  []entity.PlannedWrite
		reviews []entity.ReviewItem
		updates []repository.ConditionalUpdate
	)
	byDoc := make(map[string]int)

	for _, ref := range scan.Flagged {
		hex, from := r.legacyForm(ref)
		sid, resolved := catalog.Resolve(ref.Field.Target, hex)

		to := sid
		if !resolved {
			to = from
			reviews = append(reviews, entity.ReviewItem{
				Collection: scan.Collection,
				DocumentID: ref.DocumentKey,
				Path:       ref.Path,
				Raw:        from,
				Target:     ref.Field.Target,
				Reason:     entity.ReasonUnresolved,
			})
		}

		// An unresolved hex string already holds its string form
		if s, ok := ref.Raw.(string); ok && s == to {
			continue
		}

		writes = append(writes, entity.PlannedWrite{
			DocumentID: ref.DocumentKey,
			Path:       ref.Path,
			From:       from,
			To:         to,
			Resolved:   resolved,
			Target:     ref.Field.Target,
			Raw:        ref.Raw,
		})

		i, ok := byDoc[ref.DocumentKey]
		if !ok {
			i = len(updates)
			byDoc[ref.DocumentKey] = i
			updates = append(updates, repository.ConditionalUpdate{
				ID:    ref.DocumentID,
				Match: make(map[string]interface{}),
				Set:   make(map[string]interface{}),
			})
		}
		updates[i].Match[ref.Path] = ref.Raw
		updates[i].Set[ref.Path] = to
	}

	return writes, reviews, updates
}

// legacyForm returns the lowercase hex used for resolution and the raw
// value's string form
func (r *Reconciler) legacyForm(ref entity.Reference) (string, string) {
	if hex, ok := r.codec.Hex(ref.Raw); ok {
		return strings.ToLower(hex), hex
	}
	s, _ := ref.Raw.(string)
	return strings.ToLower(s), s
}

// ReconcileCollection runs rewrite, deduplication and the opt-in pruning
// and index steps for one collection, filling summary. Only cancellation
// and read failures are returned; write failures are counted.
func (r *Reconciler) ReconcileCollection(ctx context.Context, def entity.CollectionDef, catalog *Catalog, opts RunOptions, summary *entity.CollectionSummary) error {
	logger := r.logger.With(zap.String("collection", def.Name))

	scan, err := r.scanner.ScanCollection(ctx, def, catalog)
	if err != nil {
		return err
	}
	summary.Total = scan.Documents

	writes, reviews, updates := r.Plan(scan, catalog)
	summary.Rewrite = int64(len(updates))
	summary.Review += int64(len(reviews))
	summary.Writes = append(summary.Writes, writes...)
	summary.ReviewItems = append(summary.ReviewItems, reviews...)

	for _, item := range reviews {
		logger.Warn("Reference needs manual review",
			zap.String("document_id", item.DocumentID),
			zap.String("field", item.Path),
			zap.String("raw", item.Raw),
			zap.String("target", string(item.Target)))
	}

	if def.IsRelationship() {
		summary.Orphans = countDocuments(scan.Broken)
	}

	if opts.Execute() && len(updates) > 0 {
		out, err := r.applyInBatches(ctx, opts, def.Name, backup.OpRewrite, updates)
		out.addTo(summary)
		if err != nil {
			return err
		}
	}

	logger.Info("References reconciled",
		zap.String("mode", string(opts.Mode)),
		zap.Int64("documents", scan.Documents),
		zap.Int64("rewrite", summary.Rewrite),
		zap.Int64("updated", summary.Updated),
		zap.Int64("review", int64(len(reviews))),
		zap.Int64("errors", summary.Errors))

	if len(def.UniqueKey) > 0 {
		if err := r.Deduplicate(ctx, def, catalog, opts, summary); err != nil {
			return err
		}
	}

	if opts.Execute() && opts.PruneOrphans && def.IsRelationship() {
		if err := r.PruneOrphans(ctx, def, catalog, opts, summary); err != nil {
			return err
		}
	}

	if opts.Execute() && opts.EnsureIndexes && len(def.UniqueKey) > 0 {
		r.ensureIndex(ctx, def, summary)
	}

	return nil
}

// PruneOrphans deletes relationship rows with a required reference that
// resolves to nothing. Rows whose references are merely legacy-shaped are
// kept for review.
func (r *Reconciler) PruneOrphans(ctx context.Context, def entity.CollectionDef, catalog *Catalog, opts RunOptions, summary *entity.CollectionSummary) error {
	if !def.IsRelationship() {
		return fmt.Errorf("refusing to prune entity collection %s", def.Name)
	}

	scan, err := r.scanner.ScanCollection(ctx, def, catalog)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var deleted int64
	for _, ref := range scan.Broken {
		if seen[ref.DocumentKey] {
			continue
		}
		seen[ref.DocumentKey] = true

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := opts.beat(ctx); err != nil {
			return err
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		ok, err := r.deleteOne(context.WithoutCancel(ctx), def.Name, ref.DocumentID, ref.DocumentKey)
		if err != nil {
			summary.Errors++
			summary.ErrorDetails = append(summary.ErrorDetails, err.Error())
			continue
		}
		if ok {
			deleted++
		}
	}

	summary.Deleted += deleted
	r.metrics.RecordWrites(def.Name, "prune", "applied", int(deleted))

	r.logger.Info("Orphaned rows pruned",
		zap.String("collection", def.Name),
		zap.Int64("deleted", deleted))

	return nil
}

func (r *Reconciler) ensureIndex(ctx context.Context, def entity.CollectionDef, summary *entity.CollectionSummary) {
	created, err := r.store.EnsureUniqueIndex(context.WithoutCancel(ctx), def.Name, def.UniqueKey)
	if err != nil {
		summary.Errors++
		summary.ErrorDetails = append(summary.ErrorDetails, fmt.Sprintf("unique index: %v", err))
		r.logger.Error("Failed to ensure unique index",
			zap.String("collection", def.Name),
			zap.Strings("keys", def.UniqueKey),
			zap.Error(err))
		return
	}
	summary.IndexCreated = created
}

// batchOutcome accumulates the result of batched writes
type batchOutcome struct {
	applied   int64
	conflicts int64
	failed    int64
	errors    []string
}

func (o batchOutcome) addTo(summary *entity.CollectionSummary) {
	summary.Updated += o.applied
	summary.Conflicts += o.conflicts
	summary.Errors += o.failed
	summary.ErrorDetails = append(summary.ErrorDetails, o.errors...)
}

// applyInBatches writes updates in bounded batches. Context cancellation
// and heartbeat failures are honoured only between batches; each batch is submitted on a context
// that ignores cancellation so it is never abandoned half-way. A failed
// batch is counted and the next batch proceeds.
func (r *Reconciler) applyInBatches(ctx context.Context, opts RunOptions, collection string, op backup.Operation, updates []repository.ConditionalUpdate) (batchOutcome, error) {
	var out batchOutcome

	for start, batchNo := 0, 0; start < len(updates); start, batchNo = start+r.config.BatchSize, batchNo+1 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := opts.beat(ctx); err != nil {
			return out, err
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return out, err
		}

		end := start + r.config.BatchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]
		writeCtx := context.WithoutCancel(ctx)

		if err := r.journalBatch(writeCtx, collection, op, batch); err != nil {
			out.failed += int64(len(batch))
			out.errors = append(out.errors, fmt.Sprintf("batch %d: %v", batchNo, err))
			r.metrics.RecordWrites(collection, string(op), "failed", len(batch))
			continue
		}

		started := time.Now()
		var res repository.BatchResult
		attempts, err := r.retrier.Do(writeCtx, func(c context.Context) error {
			var applyErr error
			res, applyErr = r.store.ApplyBatch(c, collection, batch)
			return applyErr
		})
		r.metrics.RecordBatch(collection, string(op), time.Since(started))

		if err != nil {
			out.failed += int64(len(batch))
			out.errors = append(out.errors, fmt.Sprintf("batch %d: %v", batchNo, err))
			r.metrics.RecordWrites(collection, string(op), "failed", len(batch))
			r.logger.Error("Batch write failed",
				zap.String("collection", collection),
				zap.String("operation", string(op)),
				zap.Int("batch", batchNo),
				zap.Int("size", len(batch)),
				zap.Int("attempts", attempts),
				zap.Error(err))
			continue
		}

		conflicts := int64(len(batch)) - res.Matched - res.Failed
		if conflicts < 0 {
			conflicts = 0
		}
		out.applied += res.Matched
		out.conflicts += conflicts
		out.failed += res.Failed
		for _, e := range res.Errors {
			out.errors = append(out.errors, fmt.Sprintf("batch %d: %s", batchNo, e))
		}

		r.metrics.RecordWrites(collection, string(op), "applied", int(res.Matched))
		r.metrics.RecordWrites(collection, string(op), "conflict", int(conflicts))
		r.metrics.RecordWrites(collection, string(op), "failed", int(res.Failed))

		if conflicts > 0 {
			r.logger.Warn("Documents changed since scan were left untouched",
				zap.String("collection", collection),
				zap.Int("batch", batchNo),
				zap.Int64("conflicts", conflicts))
		}

		r.logger.Debug("Batch applied",
			zap.String("collection", collection),
			zap.String("operation", string(op)),
			zap.Int("batch", batchNo),
			zap.Int64("matched", res.Matched),
			zap.Int64("modified", res.Modified),
			zap.Int64("failed", res.Failed))
	}

	return out, nil
}

// journalBatch records the current state of every document in batch
func (r *Reconciler) journalBatch(ctx context.Context, collection string, op backup.Operation, batch []repository.ConditionalUpdate) error {
	if r.journal == nil {
		return nil
	}
	for _, u := range batch {
		if err := r.journalDocument(ctx, collection, op, u.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) journalDocument(ctx context.Context, collection string, op backup.Operation, id interface{}) error {
	if r.journal == nil {
		return nil
	}

	doc, found, err := r.store.FindOne(ctx, collection, repository.Filter{repository.InternalIDField: id})
	if err != nil {
		return fmt.Errorf("failed to read before-image: %w", err)
	}
	if !found {
		return nil
	}

	if err := r.journal.Record(collection, rawString(r.codec, id), op, map[string]interface{}(doc)); err != nil {
		return fmt.Errorf("failed to journal document: %w", err)
	}
	return nil
}

// deleteOne journals and deletes a single document with retries
func (r *Reconciler) deleteOne(ctx context.Context, collection string, id interface{}, key string) (bool, error) {
	if err := r.journalDocument(ctx, collection, backup.OpDelete, id); err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}

	var deleted bool
	_, err := r.retrier.Do(ctx, func(c context.Context) error {
		var delErr error
		deleted, delErr = r.store.DeleteOne(c, collection, id)
		return delErr
	})
	if err != nil {
		r.metrics.RecordWrites(collection, string(backup.OpDelete), "failed", 1)
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return deleted, nil
}

func countDocuments(refs []entity.Reference) int64 {
	seen := make(map[string]bool)
	for _, ref := range refs {
		seen[ref.DocumentKey] = true
	}
	return int64(len(seen))
}
