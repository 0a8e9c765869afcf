package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// MovementInput describes an order-driven reserve or release.
type MovementInput struct {
	ProductID   uuid.UUID
	Quantity    int
	Reason      string
	ReferenceID string
	ActorID     string
}

// AdjustInput describes an operator correction. Delta is signed.
type AdjustInput struct {
	ProductID  uuid.UUID
	Delta      int
	ChangeType enums.InventoryChangeType
	Reason     string
	ActorID    string
}

// BulkUpdate sets one product to an absolute stock level.
type BulkUpdate struct {
	ProductID      uuid.UUID `json:"productId"`
	TargetQuantity int       `json:"targetQuantity"`
}

// BulkSetError records why a single bulk update was skipped.
type BulkSetError struct {
	ProductID uuid.UUID `json:"productId"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// BulkSetResult is the best-effort outcome of BulkSet.
type BulkSetResult struct {
	UpdatedCount int            `json:"updatedCount"`
	Errors       []BulkSetError `json:"errors"`
}

// Availability is the stock view used to build shortage reports.
type Availability struct {
	ProductID  uuid.UUID `json:"productId"`
	Requested  int       `json:"requested"`
	Available  int       `json:"available"`
	Active     bool      `json:"active"`
	Sufficient bool      `json:"sufficient"`
}

// Shortage is reported for every line a checkout could not cover.
type Shortage struct {
	ProductID uuid.UUID `json:"productId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	ShortBy   int       `json:"shortBy"`
}

// ShortageOf converts an insufficient availability into a Shortage.
func ShortageOf(a Availability) Shortage {
	available := a.Available
	if !a.Active {
		available = 0
	}
	short := a.Requested - available
	if short < 0 {
		short = 0
	}
	return Shortage{
		ProductID: a.ProductID,
		Requested: a.Requested,
		Available: available,
		ShortBy:   short,
	}
}

// HistoryFilters narrows the adjustment log. Zero values are ignored.
type HistoryFilters struct {
	ProductID  *uuid.UUID
	ChangeType *enums.InventoryChangeType
	DateFrom   *time.Time
	DateTo     *time.Time
}

// HistoryPage is one cursor page of adjustments, newest first.
type HistoryPage struct {
	Items      []models.InventoryAdjustment `json:"items"`
	NextCursor string                       `json:"nextCursor,omitempty"`
}

// Summary aggregates stock levels across active products.
type Summary struct {
	TotalProducts      int64 `json:"totalProducts" gorm:"column:total_products"`
	LowStockProducts   int64 `json:"lowStockProducts" gorm:"column:low_stock_products"`
	OutOfStockProducts int64 `json:"outOfStockProducts" gorm:"column:out_of_stock_products"`
	TotalUnitsInStock  int64 `json:"totalUnitsInStock" gorm:"column:total_units_in_stock"`
}
