package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/backup"
)

// mergedFromField lists, on a keeper, the internal ids of the rows whose
// quantities it already holds
const mergedFromField = "mergedFrom"

// duplicateGroup is a set of rows sharing one compound key. The keeper
// is always rows[0].
type duplicateGroup struct {
	key  string
	rows []repository.Document
}

// mergePlan is the outcome of inspecting a duplicate group before writing
type mergePlan struct {
	// Losers not yet summed into any surviving row
	contributing []repository.Document
	// Ids to record on the keeper once the merge is written
	mergedFrom []string
	// True when the keeper already accounts for every loser
	absorbed bool
	// Merge field values that cannot be summed
	review []entity.ReviewItem
}

// Deduplicate collapses rows sharing the collection's unique key into the
// most recently updated one. Numeric merge fields of the losers are summed
// into the keeper, which records the losers' ids in the same write; only
// then are the losers deleted. A re-run after a failed delete finds the
// loser already absorbed and only deletes it. Groups with a merge field
// that is not numeric are left for review.
func (r *Reconciler) Deduplicate(ctx context.Context, def entity.CollectionDef, catalog *Catalog, opts RunOptions, summary *entity.CollectionSummary) error {
	logger := r.logger.With(zap.String("collection", def.Name))

	groups, err := r.findDuplicates(ctx, def, catalog)
	if err != nil {
		return err
	}

	for _, g := range groups {
		summary.Duplicates += int64(len(g.rows) - 1)
	}
	if len(groups) == 0 {
		return nil
	}

	mergeable := make([]duplicateGroup, 0, len(groups))
	plans := make([]mergePlan, 0, len(groups))
	for _, g := range groups {
		plan := r.planMerge(def, g)
		if len(plan.review) > 0 {
			summary.Review += int64(len(plan.review))
			summary.ReviewItems = append(summary.ReviewItems, plan.review...)
			logger.Warn("Duplicate group left in place, merge field is not numeric",
				zap.String("keeper", rawString(r.codec, g.rows[0].ID())),
				zap.Int("rows", len(g.rows)))
			continue
		}
		mergeable = append(mergeable, g)
		plans = append(plans, plan)
	}

	logger.Info("Duplicate rows found",
		zap.Int("groups", len(groups)),
		zap.Int("mergeable", len(mergeable)),
		zap.Int64("duplicates", summary.Duplicates),
		zap.Strings("unique_key", def.UniqueKey))

	if !opts.Execute() {
		return nil
	}

	var deleted int64
	defer func() {
		summary.Deleted += deleted
		r.metrics.RecordDuplicatesDeleted(def.Name, int(deleted))
	}()

	for i, g := range mergeable {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.mergeGroup(ctx, def, g, plans[i], opts, summary)
		deleted += n
		if err != nil {
			return err
		}
	}

	logger.Info("Duplicate rows merged",
		zap.Int("groups", len(mergeable)),
		zap.Int64("deleted", deleted))

	return nil
}

// findDuplicates groups the rows of a collection by their normalised key.
// Key values are compared after resolving legacy references, so a dry run
// reports the duplicates the rewrite would create.
func (r *Reconciler) findDuplicates(ctx context.Context, def entity.CollectionDef, catalog *Catalog) ([]duplicateGroup, error) {
	byKey := make(map[string][]repository.Document)
	var order []string

	err := r.store.Scan(ctx, def.Name, nil, func(doc repository.Document) error {
		key, ok := r.uniqueKey(def, catalog, doc)
		if !ok {
			return nil
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for duplicates: %w", def.Name, err)
	}

	var groups []duplicateGroup
	for _, key := range order {
		rows := byKey[key]
		if len(rows) < 2 {
			continue
		}
		r.sortByRecency(def, rows)
		r.absorbedLast(rows)
		groups = append(groups, duplicateGroup{key: key, rows: rows})
	}
	return groups, nil
}

func (r *Reconciler) uniqueKey(def entity.CollectionDef, catalog *Catalog, doc repository.Document) (string, bool) {
	parts := make([]string, len(def.UniqueKey))
	for i, path := range def.UniqueKey {
		v, _ := lookupPath(doc, path)
		if v == nil {
			return "", false
		}

		ref, isRef := def.Reference(path)
		switch {
		case r.codec.IsInternalID(v):
			hex, _ := r.codec.Hex(v)
			parts[i] = r.normalizeLegacy(catalog, ref, isRef, hex)
		case isString(v) && hexIDPattern.MatchString(v.(string)):
			parts[i] = r.normalizeLegacy(catalog, ref, isRef, v.(string))
		case isString(v):
			parts[i] = v.(string)
		default:
			parts[i] = fmt.Sprintf("%T:%v", v, v)
		}
	}
	return strings.Join(parts, "\x00"), true
}

func (r *Reconciler) normalizeLegacy(catalog *Catalog, ref entity.ReferenceField, isRef bool, hex string) string {
	hex = strings.ToLower(hex)
	if isRef {
		if sid, ok := catalog.Resolve(ref.Target, hex); ok {
			return sid
		}
	}
	return hex
}

// sortByRecency orders rows newest first by the updated-at field, breaking
// ties by descending internal id
func (r *Reconciler) sortByRecency(def entity.CollectionDef, rows []repository.Document) {
	sort.SliceStable(rows, func(i, j int) bool {
		ti := updatedAt(def, rows[i])
		tj := updatedAt(def, rows[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return rawString(r.codec, rows[i].ID()) > rawString(r.codec, rows[j].ID())
	})
}

// absorbedLast moves rows already summed into another row of the group
// behind the rest, so the keeper is never one of them
func (r *Reconciler) absorbedLast(rows []repository.Document) {
	absorbed := make(map[string]bool)
	for _, row := range rows {
		for _, id := range mergedFrom(row) {
			absorbed[id] = true
		}
	}
	if len(absorbed) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return !absorbed[rawString(r.codec, rows[i].ID())] && absorbed[rawString(r.codec, rows[j].ID())]
	})
}

func updatedAt(def entity.CollectionDef, doc repository.Document) time.Time {
	if def.UpdatedAtField == "" {
		return time.Time{}
	}
	t, _ := doc[def.UpdatedAtField].(time.Time)
	return t
}

// mergedFrom returns the ids a row records as already summed into it
func mergedFrom(doc repository.Document) []string {
	var ids []string
	switch v := doc[mergedFromField].(type) {
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				ids = append(ids, s)
			}
		}
	case []string:
		ids = append(ids, v...)
	}
	return ids
}

// planMerge works out which losers still have to be summed into the keeper
// and checks that their merge fields can be summed
func (r *Reconciler) planMerge(def entity.CollectionDef, g duplicateGroup) mergePlan {
	var plan mergePlan

	keeper := g.rows[0]
	keeperKey := rawString(r.codec, keeper.ID())

	absorbed := make(map[string]bool)
	recorded := make(map[string]bool)
	for _, id := range mergedFrom(keeper) {
		recorded[id] = true
	}
	for _, row := range g.rows {
		for _, id := range mergedFrom(row) {
			absorbed[id] = true
		}
	}

	ids := make(map[string]bool)
	for id := range absorbed {
		ids[id] = true
	}

	plan.absorbed = true
	for _, loser := range g.rows[1:] {
		key := rawString(r.codec, loser.ID())
		ids[key] = true
		if !recorded[key] {
			plan.absorbed = false
		}
		if !absorbed[key] {
			plan.contributing = append(plan.contributing, loser)
		}
	}
	delete(ids, keeperKey)

	plan.mergedFrom = make([]string, 0, len(ids))
	for id := range ids {
		plan.mergedFrom = append(plan.mergedFrom, id)
	}
	sort.Strings(plan.mergedFrom)

	rows := append([]repository.Document{keeper}, plan.contributing...)
	for _, row := range rows {
		docKey := rawString(r.codec, row.ID())
		for _, field := range def.MergeFields {
			for _, bad := range unsummable(field, row[field]) {
				plan.review = append(plan.review, entity.ReviewItem{
					Collection: def.Name,
					DocumentID: docKey,
					Path:       bad.path,
					Raw:        fmt.Sprintf("%v", bad.value),
					Reason:     entity.ReasonNonNumericMerge,
				})
			}
		}
	}

	return plan
}

// mergeGroup writes the merged keeper and deletes the losers. It returns
// the number of rows deleted; only cancellation and heartbeat failures are
// returned as errors.
func (r *Reconciler) mergeGroup(ctx context.Context, def entity.CollectionDef, g duplicateGroup, plan mergePlan, opts RunOptions, summary *entity.CollectionSummary) (int64, error) {
	keeper := g.rows[0]
	keeperKey := rawString(r.codec, keeper.ID())
	logger := r.logger.With(
		zap.String("collection", def.Name),
		zap.String("keeper", keeperKey))

	if !plan.absorbed {
		if ok, err := r.writeMerge(ctx, def, keeper, plan, opts, summary, logger); !ok || err != nil {
			return 0, err
		}
	} else {
		logger.Info("Keeper already holds the duplicates, deleting leftovers",
			zap.Int("rows", len(g.rows)-1))
	}

	var deleted int64
	for _, loser := range g.rows[1:] {
		if err := opts.beat(ctx); err != nil {
			return deleted, err
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return deleted, err
		}

		loserKey := rawString(r.codec, loser.ID())
		ok, err := r.deleteOne(context.WithoutCancel(ctx), def.Name, loser.ID(), loserKey)
		if err != nil {
			summary.Errors++
			summary.ErrorDetails = append(summary.ErrorDetails, err.Error())
			logger.Error("Failed to delete merged duplicate",
				zap.String("duplicate", loserKey),
				zap.Error(err))
			continue
		}
		if ok {
			deleted++
			r.metrics.RecordWrites(def.Name, string(backup.OpDelete), "applied", 1)
		}
	}

	logger.Debug("Duplicate group merged",
		zap.Int("rows", len(g.rows)),
		zap.Int64("deleted", deleted))

	return deleted, nil
}

// writeMerge sums the contributing losers into the keeper and records
// every loser id on it in one conditional update. It reports whether the
// write was applied.
func (r *Reconciler) writeMerge(ctx context.Context, def entity.CollectionDef, keeper repository.Document, plan mergePlan, opts RunOptions, summary *entity.CollectionSummary, logger *zap.Logger) (bool, error) {
	set := make(map[string]interface{})
	for _, field := range def.MergeFields {
		values := make([]interface{}, 0, len(plan.contributing)+1)
		for _, row := range append([]repository.Document{keeper}, plan.contributing...) {
			if v, ok := row[field]; ok && v != nil {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		set[field] = mergeValues(values)
	}

	ids := make([]interface{}, len(plan.mergedFrom))
	for i, id := range plan.mergedFrom {
		ids[i] = id
	}
	set[mergedFromField] = ids

	match := make(map[string]interface{})
	for _, path := range def.UniqueKey {
		v, _ := lookupPath(keeper, path)
		match[path] = v
	}
	if def.UpdatedAtField != "" {
		if v, ok := keeper[def.UpdatedAtField]; ok && v != nil {
			match[def.UpdatedAtField] = v
		} else {
			match[def.UpdatedAtField] = repository.Missing
		}
		set[def.UpdatedAtField] = r.now()
	}

	update := repository.ConditionalUpdate{ID: keeper.ID(), Match: match, Set: set}
	out, err := r.applyInBatches(ctx, opts, def.Name, backup.OpMerge, []repository.ConditionalUpdate{update})
	if err != nil {
		return false, err
	}
	out.addTo(summary)

	if out.applied != 1 || out.failed > 0 {
		if out.conflicts > 0 {
			logger.Warn("Keeper changed since scan, duplicates left in place")
		} else {
			logger.Error("Merge write failed, duplicates left in place",
				zap.Strings("errors", out.errors))
		}
		return false, nil
	}
	return true, nil
}

type leaf struct {
	path  string
	value interface{}
}

// unsummable returns the leaves under a merge field that are neither
// numbers nor sub-documents
func unsummable(path string, v interface{}) []leaf {
	if v == nil {
		return nil
	}
	if m, ok := asMap(v); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out []leaf
		for _, k := range keys {
			out = append(out, unsummable(joinPath(path, k), m[k])...)
		}
		return out
	}
	if _, ok := sumNumbers([]interface{}{v}); ok {
		return nil
	}
	return []leaf{{path: path, value: v}}
}

// mergeValues combines one field across a duplicate group, keeper first.
// Sub-documents are merged key by key and numbers are summed; any other
// value keeps the keeper's.
func mergeValues(values []interface{}) interface{} {
	if len(values) == 1 {
		if m, ok := asMap(values[0]); ok {
			return mergeValues([]interface{}{m, map[string]interface{}{}})
		}
		if n, ok := sumNumbers(values); ok {
			return n
		}
		return values[0]
	}

	maps := make([]map[string]interface{}, 0, len(values))
	for _, v := range values {
		m, ok := asMap(v)
		if !ok {
			break
		}
		maps = append(maps, m)
	}
	if len(maps) == len(values) {
		merged := make(map[string]interface{})
		var keys []string
		for _, m := range maps {
			for k := range m {
				if _, seen := merged[k]; !seen {
					merged[k] = nil
					keys = append(keys, k)
				}
			}
		}
		for _, k := range keys {
			var vs []interface{}
			for _, m := range maps {
				if v, ok := m[k]; ok && v != nil {
					vs = append(vs, v)
				}
			}
			if len(vs) == 0 {
				merged[k] = nil
				continue
			}
			merged[k] = mergeValues(vs)
		}
		return merged
	}

	if n, ok := sumNumbers(values); ok {
		return n
	}
	return values[0]
}

// sumNumbers adds numeric values, returning int64 when all are integers
func sumNumbers(values []interface{}) (interface{}, bool) {
	var (
		ints    int64
		floats  float64
		isFloat bool
	)
	for _, v := range values {
		switch n := v.(type) {
		case int:
			ints += int64(n)
		case int32:
			ints += int64(n)
		case int64:
			ints += n
		case float32:
			floats += float64(n)
			isFloat = true
		case float64:
			floats += n
			isFloat = true
		default:
			return nil, false
		}
	}
	if isFloat {
		return floats + float64(ints), true
	}
	return ints, true
}

func lookupPath(doc repository.Document, path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}
