package main

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

func newSeedFixture(t *testing.T) (*db.Client, inventory.Service) {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "migrate-test", Level: zerolog.Disabled, Output: io.Discard})
	outboxSvc := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	svc, err := inventory.NewService(inventory.NewRepository(client.DB()), client, outboxSvc, logg)
	require.NoError(t, err)
	return client, svc
}

func TestSeedProductRecordsInitialStock(t *testing.T) {
	client, svc := newSeedFixture(t)

	product, err := seedProduct(context.Background(), client, svc, productSeed{
		Name:      " Trail Mix ",
		SKU:       "TM-001",
		Category:  "snacks",
		Stock:     25,
		Threshold: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Trail Mix", product.Name)
	assert.Equal(t, 3, product.LowStockThreshold)
	assert.Equal(t, 25, dbtest.Inventory(t, client, product.ID))
	assert.Equal(t, 25, dbtest.LedgerSum(t, client, product.ID))
}

func TestSeedProductWithoutStockWritesNoLedger(t *testing.T) {
	client, svc := newSeedFixture(t)

	product, err := seedProduct(context.Background(), client, svc, productSeed{Name: "Empty", SKU: "EMPTY-1"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, client.DB().Model(&models.InventoryAdjustment{}).Where("product_id = ?", product.ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, dbtest.Inventory(t, client, product.ID))
}

func TestSeedProductDuplicateSKURollsBack(t *testing.T) {
	client, svc := newSeedFixture(t)

	_, err := seedProduct(context.Background(), client, svc, productSeed{Name: "First", SKU: "DUP", Stock: 4})
	require.NoError(t, err)

	_, err = seedProduct(context.Background(), client, svc, productSeed{Name: "Second", SKU: "DUP", Stock: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	var count int64
	require.NoError(t, client.DB().Model(&models.Product{}).Where("sku = ?", "DUP").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSeedProductValidation(t *testing.T) {
	client, svc := newSeedFixture(t)

	cases := map[string]productSeed{
		"missing name":       {SKU: "A"},
		"missing sku":        {Name: "A"},
		"negative stock":     {Name: "A", SKU: "A", Stock: -1},
		"negative threshold": {Name: "A", SKU: "A", Threshold: -1},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := seedProduct(context.Background(), client, svc, seed)
			require.Error(t, err)
		})
	}
}
