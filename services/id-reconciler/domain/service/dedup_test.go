package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
)

var (
	t1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
)

func insertDuplicateInventory(f *fixture) []interface{} {
	return f.store.Insert("vendorinventories",
		repository.Document{
			"vendorId":      "100002",
			"productId":     "300045",
			"sizeInventory": map[string]interface{}{"S": 5, "M": 3},
			"totalStock":    8,
			"updatedAt":     t1,
		},
		repository.Document{
			"vendorId":      "100002",
			"productId":     "300045",
			"sizeInventory": map[string]interface{}{"M": 2, "L": 4},
			"totalStock":    6,
			"updatedAt":     t2,
		},
	)
}

func TestDeduplicateMergesInventoryIntoNewestRow(t *testing.T) {
	f := newFixture(t)
	ids := insertDuplicateInventory(f)

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), execute, summary))

	assert.Equal(t, int64(1), summary.Duplicates)
	assert.Equal(t, int64(1), summary.Deleted)
	assert.Zero(t, summary.Errors)

	snapshot := f.store.Snapshot()
	require.Len(t, snapshot["vendorinventories"], 1)

	_, ok := f.store.Get("vendorinventories", ids[0])
	assert.False(t, ok)

	kept, ok := f.store.Get("vendorinventories", ids[1])
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"S": int64(5), "M": int64(5), "L": int64(4)}, kept["sizeInventory"])
	assert.Equal(t, int64(14), kept["totalStock"])
	assert.True(t, kept["updatedAt"].(time.Time).After(t2))

	again := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), execute, again))
	assert.Zero(t, again.Duplicates)
	assert.Zero(t, again.Deleted)
}

func TestDeduplicateDryRunOnlyCounts(t *testing.T) {
	f := newFixture(t)
	insertDuplicateInventory(f)
	before := f.store.Snapshot()

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), dryRun, summary))

	assert.Equal(t, int64(1), summary.Duplicates)
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, before, f.store.Snapshot())
}

func TestDeduplicateKeepsEverythingWhenMergeFails(t *testing.T) {
	f := newFixture(t)
	ids := insertDuplicateInventory(f)
	f.store.FailUpdate = func(collection string, u repository.ConditionalUpdate) error {
		return errors.New("document failed validation")
	}

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), execute, summary))

	assert.Equal(t, int64(1), summary.Duplicates)
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, int64(1), summary.Errors)

	for _, id := range ids {
		_, ok := f.store.Get("vendorinventories", id)
		assert.True(t, ok)
	}
	assert.Zero(t, f.store.Writes())
}

func TestDeduplicateSkipsDeletesWhenKeeperChanged(t *testing.T) {
	f := newFixture(t)
	ids := insertDuplicateInventory(f)

	r := f.reconciler()
	groups, err := r.findDuplicates(context.Background(), f.collection("vendorinventories"), f.catalog())
	require.NoError(t, err)
	require.Len(t, groups, 1)

	// An application write bumps the keeper after it was read
	_, err = f.store.ApplyBatch(context.Background(), "vendorinventories", []repository.ConditionalUpdate{{
		ID:  ids[1],
		Set: map[string]interface{}{"updatedAt": t2.Add(time.Minute)},
	}})
	require.NoError(t, err)

	def := f.collection("vendorinventories")
	summary := &entity.CollectionSummary{}
	deleted, err := r.mergeGroup(context.Background(), def, groups[0], r.planMerge(def, groups[0]), execute, summary)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Equal(t, int64(1), summary.Conflicts)

	_, ok := f.store.Get("vendorinventories", ids[0])
	assert.True(t, ok)
}

func TestDeduplicateRerunAfterFailedDeleteKeepsTotals(t *testing.T) {
	f := newFixture(t)
	ids := insertDuplicateInventory(f)
	loser := ids[0].(primitive.ObjectID).Hex()

	deletesFail := true
	f.store.FailDelete = func(collection string, id interface{}) error {
		if deletesFail {
			return errors.New("not primary")
		}
		return nil
	}

	first := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), execute, first))
	assert.Equal(t, int64(1), first.Errors)
	assert.Zero(t, first.Deleted)

	kept, ok := f.store.Get("vendorinventories", ids[1])
	require.True(t, ok)
	assert.Equal(t, int64(14), kept["totalStock"])
	assert.Equal(t, []interface{}{loser}, kept[mergedFromField])

	deletesFail = false
	second := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), execute, second))
	assert.Equal(t, int64(1), second.Duplicates)
	assert.Equal(t, int64(1), second.Deleted)
	assert.Zero(t, second.Errors)
	assert.Zero(t, second.Updated)

	require.Len(t, f.store.Snapshot()["vendorinventories"], 1)
	kept, ok = f.store.Get("vendorinventories", ids[1])
	require.True(t, ok)
	assert.Equal(t, int64(14), kept["totalStock"])
	assert.Equal(t, map[string]interface{}{"S": int64(5), "M": int64(5), "L": int64(4)}, kept["sizeInventory"])
}

func TestDeduplicateSkipsRowsAbsorbedByAnotherLoser(t *testing.T) {
	f := newFixture(t)
	absorbed, _ := primitive.ObjectIDFromHex("65f000000000000000000001")
	f.store.Insert("vendorinventories",
		repository.Document{"_id": absorbed, "vendorId": "100002", "productId": "300045", "totalStock": 3, "updatedAt": t1},
		repository.Document{
			"vendorId":      "100002",
			"productId":     "300045",
			"totalStock":    7,
			"updatedAt":     t1.Add(time.Hour),
			mergedFromField: []interface{}{absorbed.Hex()},
		},
		repository.Document{"vendorId": "100002", "productId": "300045", "totalStock": 2, "updatedAt": t2},
	)

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), execute, summary))
	assert.Equal(t, int64(2), summary.Deleted)

	rows := f.store.Snapshot()["vendorinventories"]
	require.Len(t, rows, 1)
	assert.Equal(t, int64(9), rows[0]["totalStock"])
}

func TestDeduplicateLeavesNonNumericMergeFieldsForReview(t *testing.T) {
	f := newFixture(t)
	ids := f.store.Insert("vendorinventories",
		repository.Document{
			"vendorId":      "100002",
			"productId":     "300045",
			"sizeInventory": map[string]interface{}{"S": "5"},
			"totalStock":    "5",
			"updatedAt":     t1,
		},
		repository.Document{
			"vendorId":      "100002",
			"productId":     "300045",
			"sizeInventory": map[string]interface{}{"S": 2},
			"totalStock":    2,
			"updatedAt":     t2,
		},
	)

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), execute, summary))

	assert.Equal(t, int64(1), summary.Duplicates)
	assert.Zero(t, summary.Deleted)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, int64(2), summary.Review)

	var paths []string
	for _, item := range summary.ReviewItems {
		assert.Equal(t, entity.ReasonNonNumericMerge, item.Reason)
		assert.Equal(t, ids[0].(primitive.ObjectID).Hex(), item.DocumentID)
		paths = append(paths, item.Path)
	}
	assert.ElementsMatch(t, []string{"sizeInventory.S", "totalStock"}, paths)

	assert.Len(t, f.store.Snapshot()["vendorinventories"], 2)
	kept, ok := f.store.Get("vendorinventories", ids[1])
	require.True(t, ok)
	assert.Equal(t, 2, kept["totalStock"])
	assert.Zero(t, f.store.Writes())
}

func TestDeduplicateStopsWhenHeartbeatFails(t *testing.T) {
	f := newFixture(t)
	ids := insertDuplicateInventory(f)
	lost := errors.New("run lock lost")

	opts := execute
	opts.Heartbeat = func(context.Context) error { return lost }

	summary := &entity.CollectionSummary{}
	err := f.reconciler().ReconcileCollection(context.Background(), f.collection("vendorinventories"), f.catalog(), opts, summary)
	assert.ErrorIs(t, err, lost)

	for _, id := range ids {
		_, ok := f.store.Get("vendorinventories", id)
		assert.True(t, ok)
	}
	assert.Zero(t, f.store.Writes())
}

func TestDuplicateKeysCompareAfterResolvingLegacyValues(t *testing.T) {
	f := newFixture(t)
	f.store.Insert("productvendors",
		repository.Document{"productId": f.productOID, "vendorId": "100001"},
		repository.Document{"productId": "300045", "vendorId": "100001"},
		repository.Document{"productId": "300045", "vendorId": "100002"},
	)

	groups, err := f.reconciler().findDuplicates(context.Background(), f.collection("productvendors"), f.catalog())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].rows, 2)
}

func TestKeeperTieBreakUsesInternalID(t *testing.T) {
	f := newFixture(t)
	low, _ := primitive.ObjectIDFromHex("65f000000000000000000001")
	high, _ := primitive.ObjectIDFromHex("65f000000000000000000002")
	f.store.Insert("productvendors",
		repository.Document{"_id": low, "productId": "300045", "vendorId": "100001"},
		repository.Document{"_id": high, "productId": "300045", "vendorId": "100001"},
	)

	summary := &entity.CollectionSummary{}
	require.NoError(t, f.reconciler().ReconcileCollection(context.Background(), f.collection("productvendors"), f.catalog(), execute, summary))

	_, ok := f.store.Get("productvendors", high)
	assert.True(t, ok)
	_, ok = f.store.Get("productvendors", low)
	assert.False(t, ok)
}

func TestMergeValues(t *testing.T) {
	tests := []struct {
		name   string
		values []interface{}
		want   interface{}
	}{
		{"integers", []interface{}{int32(2), int64(3), 4}, int64(9)},
		{"floats", []interface{}{1.5, 2}, 3.5},
		{"non-numeric keeps keeper", []interface{}{"blue", "red"}, "blue"},
		{
			"nested documents",
			[]interface{}{
				map[string]interface{}{"S": 1, "meta": map[string]interface{}{"bin": 2}},
				map[string]interface{}{"S": 2, "meta": map[string]interface{}{"bin": 3}},
			},
			map[string]interface{}{"S": int64(3), "meta": map[string]interface{}{"bin": int64(5)}},
		},
		{"mixed shapes keeps keeper", []interface{}{map[string]interface{}{"S": 1}, 4}, map[string]interface{}{"S": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeValues(tt.values))
		})
	}
}
