package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// InventoryAdjustment is an append-only record of a single stock movement.
// ReferenceID is a soft link (usually an order id) and carries no foreign key.
type InventoryAdjustment struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID     uuid.UUID                 `gorm:"column:product_id;type:uuid;not null;index:ix_inventory_adjustments_product_created,priority:1" json:"productId"`
	QuantityDelta int                       `gorm:"column:quantity_delta;not null" json:"quantityDelta"`
	ChangeType    enums.InventoryChangeType `gorm:"column:change_type;type:varchar(32);not null;index" json:"changeType"`
	Reason        string                    `gorm:"column:reason;not null;default:''" json:"reason"`
	ReferenceID   *string                   `gorm:"column:reference_id;index" json:"referenceId,omitempty"`
	ActorID       *string                   `gorm:"column:actor_id" json:"actorId,omitempty"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime;index:ix_inventory_adjustments_product_created,priority:2" json:"createdAt"`
}

func (a *InventoryAdjustment) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
