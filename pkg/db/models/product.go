package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is the catalog row the ledger adjusts. Only Inventory is owned by this service.
type Product struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SKU               string    `gorm:"column:sku;not null;uniqueIndex:ux_products_sku"`
	Name              string    `gorm:"column:name;not null"`
	Category          string    `gorm:"column:category;not null;default:''"`
	IsActive          bool      `gorm:"column:is_active;not null;default:true"`
	Inventory         int       `gorm:"column:inventory;not null;default:0;check:chk_products_inventory_non_negative,inventory >= 0"`
	LowStockThreshold int       `gorm:"column:low_stock_threshold;not null;default:5"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// IsLowStock reports whether stock is positive but at or below threshold.
func (p Product) IsLowStock(threshold int) bool {
	if threshold <= 0 {
		threshold = p.LowStockThreshold
	}
	return p.Inventory > 0 && p.Inventory <= threshold
}
