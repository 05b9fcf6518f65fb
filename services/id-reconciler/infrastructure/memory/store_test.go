package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
)

func TestConditionalUpdateOnPositionalPath(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ids := s.Insert("orders", repository.Document{
		"items": []interface{}{
			map[string]interface{}{"productId": "200001"},
			map[string]interface{}{"productId": "507f1f77bcf86cd799439011"},
		},
	})

	res, err := s.ApplyBatch(ctx, "orders", []repository.ConditionalUpdate{{
		ID:    ids[0],
		Match: map[string]interface{}{"items.1.productId": "507f1f77bcf86cd799439011"},
		Set:   map[string]interface{}{"items.1.productId": "200045"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)
	assert.Equal(t, int64(1), res.Modified)

	doc, ok := s.Get("orders", ids[0])
	require.True(t, ok)
	items := doc["items"].([]interface{})
	assert.Equal(t, "200045", items[1].(map[string]interface{})["productId"])

	// The flagged value is gone, so the same update no longer matches
	res, err = s.ApplyBatch(ctx, "orders", []repository.ConditionalUpdate{{
		ID:    ids[0],
		Match: map[string]interface{}{"items.1.productId": "507f1f77bcf86cd799439011"},
		Set:   map[string]interface{}{"items.1.productId": "200099"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Matched)
}

func TestMissingMatchesAbsentAndNull(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Insert("companies",
		repository.Document{"name": "Acme"},
		repository.Document{"name": "Globex", "id": nil},
		repository.Document{"name": "Initech", "id": "100001"},
	)

	n, err := s.Count(ctx, "companies", repository.Filter{"id": repository.Missing})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestScanReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ids := s.Insert("vendors", repository.Document{"id": "100001"})

	require.NoError(t, s.Scan(ctx, "vendors", nil, func(d repository.Document) error {
		d["id"] = "mutated"
		return nil
	}))

	doc, _ := s.Get("vendors", ids[0])
	assert.Equal(t, "100001", doc["id"])
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ids := s.Insert("productvendors", repository.Document{"vendorId": "x"})

	s.FailBatch = func(collection string, batch int) error {
		if batch == 0 {
			return errors.New("network down")
		}
		return nil
	}

	_, err := s.ApplyBatch(ctx, "productvendors", []repository.ConditionalUpdate{{ID: ids[0], Set: map[string]interface{}{"vendorId": "y"}}})
	assert.Error(t, err)

	res, err := s.ApplyBatch(ctx, "productvendors", []repository.ConditionalUpdate{{ID: ids[0], Set: map[string]interface{}{"vendorId": "y"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Modified)
	assert.Equal(t, 1, s.Writes())
}

func TestEnsureUniqueIndexRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	ids := s.Insert("vendorinventories",
		repository.Document{"vendorId": "100002", "productId": "200045"},
		repository.Document{"vendorId": "100002", "productId": "200045"},
	)

	_, err := s.EnsureUniqueIndex(ctx, "vendorinventories", []string{"vendorId", "productId"})
	assert.Error(t, err)

	deleted, err := s.DeleteOne(ctx, "vendorinventories", ids[1])
	require.NoError(t, err)
	assert.True(t, deleted)

	created, err := s.EnsureUniqueIndex(ctx, "vendorinventories", []string{"vendorId", "productId"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureUniqueIndex(ctx, "vendorinventories", []string{"vendorId", "productId"})
	require.NoError(t, err)
	assert.False(t, created)
}
