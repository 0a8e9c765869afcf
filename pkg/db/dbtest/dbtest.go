// Package dbtest opens throwaway sqlite databases carrying the storefront schema.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Open returns a client over a private in-memory database with every table
// migrated. The pool is pinned to one connection so concurrent transactions
// queue behind each other the way row locks serialize them on Postgres.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:storefront_%s?mode=memory&cache=shared", uuid.NewString())
	client, err := db.Open(context.Background(), sqlite.Open(dsn), config.DBConfig{MaxOpenConns: 1}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.DB().AutoMigrate(
		&models.Product{},
		&models.InventoryAdjustment{},
		&models.Order{},
		&models.OrderLine{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return client
}

// SeedProduct inserts an active product holding stock units and the INITIAL
// ledger entry that explains them.
func SeedProduct(t testing.TB, client *db.Client, name string, stock int) models.Product {
	t.Helper()

	product := models.Product{
		SKU:               fmt.Sprintf("SKU-%s", uuid.NewString()[:8]),
		Name:              name,
		Category:          "general",
		IsActive:          true,
		Inventory:         stock,
		LowStockThreshold: 5,
	}
	if err := client.DB().Create(&product).Error; err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	if stock > 0 {
		entry := models.InventoryAdjustment{
			ProductID:     product.ID,
			QuantityDelta: stock,
			ChangeType:    enums.InventoryChangeInitial,
			Reason:        "seed",
		}
		if err := client.DB().Create(&entry).Error; err != nil {
			t.Fatalf("seed initial adjustment %s: %v", name, err)
		}
	}
	return product
}

// Inventory reads the current stock for a product.
func Inventory(t testing.TB, client *db.Client, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := client.DB().Where("id = ?", productID).Take(&product).Error; err != nil {
		t.Fatalf("load product %s: %v", productID, err)
	}
	return product.Inventory
}

// LedgerSum totals every adjustment recorded for a product.
func LedgerSum(t testing.TB, client *db.Client, productID uuid.UUID) int {
	t.Helper()
	var sum int
	if err := client.DB().Model(&models.InventoryAdjustment{}).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Where("product_id = ?", productID).
		Scan(&sum).Error; err != nil {
		t.Fatalf("sum adjustments %s: %v", productID, err)
	}
	return sum
}
