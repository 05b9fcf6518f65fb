package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/infrastructure/database"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/infrastructure/memory"
)

const legacyProductHex = "507f1f77bcf86cd799439011"

type fixture struct {
	t      *testing.T
	store  *memory.Store
	schema *entity.Schema
	codec  database.ObjectIDCodec

	productOID primitive.ObjectID
}

// newFixture seeds two vendors, two companies and one product whose
// internal id is legacyProductHex and string id is "300045"
func newFixture(t *testing.T) *fixture {
	t.Helper()

	schema, err := entity.DefaultSchema()
	require.NoError(t, err)

	oid, err := primitive.ObjectIDFromHex(legacyProductHex)
	require.NoError(t, err)

	store := memory.NewStore()
	store.Insert("vendors",
		repository.Document{"id": "100001", "name": "Northwind"},
		repository.Document{"id": "100002", "name": "Contoso"},
	)
	store.Insert("companies",
		repository.Document{"id": "100001", "name": "Acme"},
		repository.Document{"id": "100002", "name": "Globex"},
	)
	store.Insert("uniforms",
		repository.Document{"_id": oid, "id": "300045", "name": "Polo shirt"},
	)

	return &fixture{
		t:          t,
		store:      store,
		schema:     schema,
		productOID: oid,
	}
}

func (f *fixture) collection(name string) entity.CollectionDef {
	def, ok := f.schema.Collection(name)
	require.True(f.t, ok, name)
	return def
}

func (f *fixture) catalog() *Catalog {
	loader := NewCatalogLoader(f.store, f.codec, f.schema, nil, zaptest.NewLogger(f.t))
	catalog, err := loader.Load(context.Background())
	require.NoError(f.t, err)
	return catalog
}

func (f *fixture) scanner() *Scanner {
	return NewScanner(f.store, f.codec, DefaultScannerConfig(), zaptest.NewLogger(f.t), nil)
}

func (f *fixture) reconciler(opts ...Option) *Reconciler {
	config := DefaultReconcilerConfig()
	config.Retry.MaxAttempts = 1
	r := NewReconciler(f.store, f.codec, f.scanner(), config, zaptest.NewLogger(f.t), opts...)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

var (
	dryRun  = RunOptions{Mode: entity.ModeDryRun}
	execute = RunOptions{Mode: entity.ModeExecute}
)
