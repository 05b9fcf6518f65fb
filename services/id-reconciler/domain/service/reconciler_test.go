package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/backup"
)

func TestReconcileRewritesLegacyProductID(t *testing.T) {
	tests := []struct {
		name string
		raw  func(f *fixture) interface{}
	}{
		{"hex string", func(f *fixture) interface{} { return legacyProductHex }},
		{"internal id", func(f *fixture) interface{} { return f.productOID }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ids := f.store.Insert("productvendors", repository.Document{"productId": tt.raw(f), "vendorId": "100002"})

			summary := &entity.CollectionSummary{Collection: "productvendors"}
			err := f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, summary)
			require.NoError(t, err)

			doc, ok := f.store.Get("productvendors", ids[0])
			require.True(t, ok)
			assert.Equal(t, "300045", doc["productId"])
			assert.Equal(t, "100002", doc["vendorId"])

			assert.Equal(t, int64(1), summary.Total)
			assert.Equal(t, int64(1), summary.Rewrite)
			assert.Equal(t, int64(1), summary.Updated)
			assert.Zero(t, summary.Errors)
			assert.Zero(t, summary.Review)
		})
	}
}

func TestDryRunPlansWithoutWriting(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("productvendors",
		repository.Document{"productId": f.productOID, "vendorId": "100002"},
		repository.Document{"productId": "300045", "vendorId": legacyProductHex},
	)
	f.store.Insert("orders", repository.Document{
		"id": "600001", "employeeId": "300001", "companyId": "100001",
		"items": []interface{}{map[string]interface{}{"productId": legacyProductHex}},
	})
	before := f.store.Snapshot()

	r := f.reconciler()
	catalog := f.catalog()
	for _, name := range []string{"productvendors", "orders"} {
		summary := &entity.CollectionSummary{Collection: name}
		require.NoError(t, r.ReconcileCollection(context.Background(), f.collection(name), catalog, dryRun, summary))
		assert.Equal(t, int64(1), summary.Rewrite, name)
		assert.Zero(t, summary.Updated, name)
	}

	summary := &entity.CollectionSummary{Collection: "orders"}
	require.NoError(t, r.ReconcileCollection(context.Background(), f.collection("orders"), catalog, dryRun, summary))
	require.Len(t, summary.Writes, 1)
	assert.Equal(t, "items.0.productId", summary.Writes[0].Path)
	assert.Equal(t, "300045", summary.Writes[0].To)
	assert.True(t, summary.Writes[0].Resolved)

	assert.Equal(t, before, f.store.Snapshot())
	assert.Zero(t, f.store.Writes())
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("productvendors",
		repository.Document{"productId": f.productOID, "vendorId": "100001"},
		repository.Document{"productId": legacyProductHex, "vendorId": "100002"},
		repository.Document{"productId": primitive.NewObjectID(), "vendorId": "100002"},
	)

	r := f.reconciler()
	first := &entity.CollectionSummary{}
	require.NoError(t, r.ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, first))
	assert.Equal(t, int64(3), first.Updated)
	writes := f.store.Writes()

	second := &entity.CollectionSummary{}
	require.NoError(t, r.ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, second))
	assert.Zero(t, second.Rewrite)
	assert.Zero(t, second.Updated)
	assert.Equal(t, writes, f.store.Writes())
}

func TestUnresolvedInternalIDIsKeptForReview(t *testing.T) {
	f := newFixture(t)
	deleted := primitive.NewObjectID()
	ids := f.store.Insert("productvendors", repository.Document{"productId": deleted, "vendorId": "100001"})

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, summary))

	doc, _ := f.store.Get("productvendors", ids[0])
	assert.Equal(t, deleted.Hex(), doc["productId"])

	require.Len(t, summary.ReviewItems, 1)
	item := summary.ReviewItems[0]
	assert.Equal(t, deleted.Hex(), item.Raw)
	assert.Equal(t, entity.EntityProduct, item.Target)
	assert.Equal(t, entity.ReasonUnresolved, item.Reason)
	assert.Equal(t, int64(1), summary.Review)

	// Still surfaced on the next run, without another write
	writes := f.store.Writes()
	again := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, again))
	assert.Equal(t, int64(1), again.Review)
	assert.Zero(t, again.Updated)
	assert.Equal(t, writes, f.store.Writes())
}

func TestFailedBatchDoesNotStopLaterBatches(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("vendors", repository.Document{"id": "100003", "name": "Initech"})
	for _, vendor := range []string{"100001", "100002", "100003"} {
		f.store.Insert("productvendors", repository.Document{"productId": legacyProductHex, "vendorId": vendor})
	}
	f.store.FailBatch = func(collection string, batch int) error {
		if batch == 0 {
			return errors.New("write concern timeout")
		}
		return nil
	}

	r := f.reconciler()
	r.config.BatchSize = 1

	summary := &entity.CollectionSummary{}
	require.NoError(t, r.ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, summary))

	assert.Equal(t, int64(3), summary.Rewrite)
	assert.Equal(t, int64(2), summary.Updated)
	assert.Equal(t, int64(1), summary.Errors)
	require.Len(t, summary.ErrorDetails, 1)
	assert.Contains(t, summary.ErrorDetails[0], "write concern timeout")
}

func TestTransientBatchFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("productvendors", repository.Document{"productId": legacyProductHex, "vendorId": "100001"})

	attempts := 0
	f.store.FailBatch = func(collection string, batch int) error {
		attempts++
		if attempts == 1 {
			return errors.New("connection reset")
		}
		return nil
	}

	config := DefaultReconcilerConfig()
	config.Retry.InitialInterval = time.Millisecond
	config.Retry.Jitter = false
	r := NewReconciler(f.store, f.codec, f.scanner(), config, zaptest.NewLogger(t))

	summary := &entity.CollectionSummary{}
	require.NoError(t, r.ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, summary))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), summary.Updated)
	assert.Zero(t, summary.Errors)
}

func TestCancellationStopsBetweenBatches(t *testing.T) {
	f := newFixture(t)
	ids := f.store.Insert("productvendors",
		repository.Document{"productId": legacyProductHex, "vendorId": "100001"},
		repository.Document{"productId": legacyProductHex, "vendorId": "100002"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.FailBatch = func(collection string, batch int) error {
		cancel()
		return nil
	}

	r := f.reconciler()
	r.config.BatchSize = 1

	summary := &entity.CollectionSummary{}
	err := r.ReconcileCollection(ctx, f.collection("productvendors"), f.catalog(), execute, summary)
	require.ErrorIs(t, err, context.Canceled)

	// The batch in flight completes; the next one never starts
	first, _ := f.store.Get("productvendors", ids[0])
	second, _ := f.store.Get("productvendors", ids[1])
	assert.Equal(t, "300045", first["productId"])
	assert.Equal(t, legacyProductHex, second["productId"])
	assert.Equal(t, int64(1), summary.Updated)
}

func TestConcurrentWriteIsNotClobbered(t *testing.T) {
	f := newFixture(t)
	ids := f.store.Insert("productvendors", repository.Document{"productId": legacyProductHex, "vendorId": "100001"})

	r := f.reconciler()
	scan, err := r.scanner.ScanCollection(context.Background(), f.collection("productvendors"), f.catalog())
	require.NoError(t, err)
	_, _, updates := r.Plan(scan, f.catalog())
	require.Len(t, updates, 1)

	// Another writer changes the field after the scan
	_, err = f.store.ApplyBatch(context.Background(), "productvendors", []repository.ConditionalUpdate{{
		ID:  ids[0],
		Set: map[string]interface{}{"productId": "300046"},
	}})
	require.NoError(t, err)

	out, err := r.applyInBatches(context.Background(), execute, "productvendors", backup.OpRewrite, updates)
	require.NoError(t, err)
	assert.Zero(t, out.applied)
	assert.Equal(t, int64(1), out.conflicts)

	doc, _ := f.store.Get("productvendors", ids[0])
	assert.Equal(t, "300046", doc["productId"])
}

func TestJournalRecordsBeforeImages(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("productvendors", repository.Document{"productId": f.productOID, "vendorId": "100001"})

	path := filepath.Join(t.TempDir(), "run.journal")
	journal, err := backup.Open(path, "run-1", zaptest.NewLogger(t))
	require.NoError(t, err)

	summary := &entity.CollectionSummary{}
	err = f.reconciler(WithJournal(journal)).ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, summary)
	require.NoError(t, err)
	require.NoError(t, journal.Close())

	entries, err := backup.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, "productvendors", entries[0].Collection)
	assert.Equal(t, backup.OpRewrite, entries[0].Operation)
	assert.Contains(t, entries[0].Before, legacyProductHex)
}

func TestBackfillAssignsNextFreeID(t *testing.T) {
	f := newFixture(t)
	ids := f.store.Insert("vendors",
		repository.Document{"name": "Initech"},
		repository.Document{"name": "Umbrella", "id": ""},
	)
	vendor, _ := f.schema.Entity(entity.EntityVendor)
	catalog := f.catalog()

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().Backfill(context.Background(), vendor, catalog, execute, summary))

	assert.Equal(t, int64(2), summary.Backfill)
	assert.Equal(t, int64(2), summary.Updated)

	first, _ := f.store.Get("vendors", ids[0])
	second, _ := f.store.Get("vendors", ids[1])
	assert.Equal(t, "100003", first["id"])
	assert.Equal(t, "100004", second["id"])
	assert.True(t, catalog.Contains(entity.EntityVendor, "100003"))

	again := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().Backfill(context.Background(), vendor, f.catalog(), execute, again))
	assert.Zero(t, again.Backfill)
}

func TestBackfilledIDResolvesReferencesInDryRun(t *testing.T) {
	f := newFixture(t)
	ids := f.store.Insert("vendors", repository.Document{"name": "Initech"})
	f.store.Insert("productvendors", repository.Document{"productId": "300045", "vendorId": ids[0]})
	before := f.store.Snapshot()

	r := f.reconciler()
	catalog := f.catalog()
	vendor, _ := f.schema.Entity(entity.EntityVendor)

	backfill := &entity.CollectionSummary{}
	require.NoError(t, r.Backfill(context.Background(), vendor, catalog, dryRun, backfill))
	assert.Equal(t, int64(1), backfill.Backfill)

	summary := &entity.CollectionSummary{}
	require.NoError(t, r.ReconcileCollection(context.Background(), f.collection("productvendors"), catalog, dryRun, summary))
	require.Len(t, summary.Writes, 1)
	assert.Equal(t, "100003", summary.Writes[0].To)
	assert.Empty(t, summary.ReviewItems)

	assert.Equal(t, before, f.store.Snapshot())
}

func TestPruneOrphansDeletesOnlyBrokenRows(t *testing.T) {
	f := newFixture(t)
	ids := f.store.Insert("productvendors",
		repository.Document{"productId": "300045", "vendorId": "100001"},
		repository.Document{"productId": "399999", "vendorId": "100001"},
		repository.Document{"productId": primitive.NewObjectID(), "vendorId": "100002"},
	)

	opts := RunOptions{Mode: entity.ModeExecute, PruneOrphans: true}
	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), opts, summary))

	assert.Equal(t, int64(1), summary.Orphans)
	assert.Equal(t, int64(1), summary.Deleted)

	_, ok := f.store.Get("productvendors", ids[1])
	assert.False(t, ok)
	_, ok = f.store.Get("productvendors", ids[0])
	assert.True(t, ok)
	// Unresolvable legacy rows are kept for review, not pruned
	_, ok = f.store.Get("productvendors", ids[2])
	assert.True(t, ok)
}

func TestOrphansAreReportedButKeptByDefault(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("productvendors", repository.Document{"productId": "399999", "vendorId": "100001"})

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, summary))

	assert.Equal(t, int64(1), summary.Orphans)
	assert.Zero(t, summary.Deleted)
	assert.Zero(t, f.store.Writes())
}

func TestPruneOrphansRefusesEntityCollections(t *testing.T) {
	f := newFixture(t)
	err := f.reconciler().PruneOrphans(context.Background(), f.collection("employees"), f.catalog(), execute, &entity.CollectionSummary{})
	assert.Error(t, err)
}

func TestEnsureIndexes(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("productvendors", repository.Document{"productId": "300045", "vendorId": "100001"})

	opts := RunOptions{Mode: entity.ModeExecute, EnsureIndexes: true}
	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), opts, summary))

	assert.True(t, summary.IndexCreated)
	assert.Equal(t, [][]string{{"productId", "vendorId"}}, f.store.Indexes("productvendors"))

	again := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), opts, again))
	assert.False(t, again.IndexCreated)
}
