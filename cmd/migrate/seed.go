package main

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

const seedActor = "migrate"

type productSeed struct {
	Name      string
	SKU       string
	Category  string
	Stock     int
	Threshold int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// seedProduct creates an active product and, when stock is positive, the
// INITIAL ledger entry that backs it. Both land in one transaction.
func seedProduct(ctx context.Context, runner txRunner, inventorySvc inventory.Service, seed productSeed) (*models.Product, error) {
	seed.Name = strings.TrimSpace(seed.Name)
	seed.SKU = strings.TrimSpace(seed.SKU)
	if seed.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if seed.SKU == "" {
		return nil, fmt.Errorf("sku is required")
	}
	if seed.Stock < 0 {
		return nil, fmt.Errorf("stock must be >= 0")
	}
	if seed.Threshold < 0 {
		return nil, fmt.Errorf("threshold must be >= 0")
	}

	product := &models.Product{
		SKU:               seed.SKU,
		Name:              seed.Name,
		Category:          strings.TrimSpace(seed.Category),
		IsActive:          true,
		LowStockThreshold: seed.Threshold,
	}
	err := runner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(product).Error; err != nil {
			if db.IsUniqueViolation(err, "sku") {
				return fmt.Errorf("sku %q already exists", seed.SKU)
			}
			return fmt.Errorf("create product: %w", err)
		}
		if seed.Stock == 0 {
			return nil
		}
		if _, err := inventorySvc.RecordInitial(ctx, tx, product.ID, seed.Stock, seedActor); err != nil {
			return fmt.Errorf("record initial stock: %w", err)
		}
		product.Inventory = seed.Stock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}
