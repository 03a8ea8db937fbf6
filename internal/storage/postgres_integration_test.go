//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
)

func TestProductStore_Postgres(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("clothing_data"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, "postgres", dsn, PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2})
	require.NoError(t, err)
	defer db.Close()

	composer := catalog.NewComposer(catalog.NewWhitelist(catalog.DefaultSources))
	require.NoError(t, EnsureSchema(ctx, db, composer))

	vec := "[0.6, 0.8]"
	require.NoError(t, InsertProduct(ctx, db, composer,
		Product{ID: 10, Name: "OVERSIZED HOODIE", Price: 249.9, ImageURL: "http://img/10", Category: "Hoodiessweatshirts", Source: "weekday_products"}, &vec))
	require.NoError(t, InsertProduct(ctx, db, composer,
		Product{ID: 11, Name: "WIDE JEANS", Price: 599, ImageURL: "http://img/11", Category: "Jeans", Source: "weekday_products"}, nil))
	require.NoError(t, InsertProduct(ctx, db, composer,
		Product{ID: 10, Name: "BLAZER", Price: 1299, ImageURL: "http://img/f10", Category: "Blazerssuits", Source: "follestad_products"}, nil))

	store := NewProductStore(db, composer)

	plan, err := composer.Compose([]string{"weekday_products", "follestad_products"}, []string{"Hoodie", "Blazer"})
	require.NoError(t, err)

	grouped, err := store.FetchPlan(ctx, plan)
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	require.Len(t, grouped[0], 1)
	assert.Equal(t, "weekday_products:10", grouped[0][0].Key)
	assert.InDelta(t, 249.9, grouped[0][0].Price, 1e-9)
	require.Len(t, grouped[1], 1)
	assert.Equal(t, "follestad_products:10", grouped[1][0].Key)

	single, err := store.Fetch(ctx, plan.Queries[1])
	require.NoError(t, err)
	assert.Equal(t, grouped[1], single)

	queries, err := composer.Candidates([]string{"weekday_products"})
	require.NoError(t, err)
	cands, err := store.FetchCandidates(ctx, queries[0])
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, vec, cands[0].RawVector)

	require.NoError(t, store.UpdateVector(ctx, "weekday_products", 11, "[1, 0]"))
	pending, err := store.PendingImages(ctx, "weekday_products", 0, 10, false)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
