package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is a checkout placed by either a registered user or a guest, never both.
type Order struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID           *uuid.UUID        `gorm:"column:user_id;type:uuid;index"`
	GuestEmail       *string           `gorm:"column:guest_email;index"`
	GuestName        *string           `gorm:"column:guest_name"`
	IsGuestOrder     bool              `gorm:"column:is_guest_order;not null;default:false"`
	Status           enums.OrderStatus `gorm:"column:status;type:varchar(20);not null;index"`
	TrackingNumber   *string           `gorm:"column:tracking_number;uniqueIndex:ux_orders_tracking_number"`
	Total            decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	PaymentReference *string           `gorm:"column:payment_reference"`
	ShippingAddress  types.Address     `gorm:"column:shipping_address;type:jsonb;not null"`
	ShippedAt        *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt      *time.Time        `gorm:"column:delivered_at"`
	CancelledAt      *time.Time        `gorm:"column:cancelled_at"`
	RefundedAt       *time.Time        `gorm:"column:refunded_at"`
	Lines            []OrderLine       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderLine is one immutable cart line captured at checkout.
type OrderLine struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	Position  int             `gorm:"column:position;not null;default:0"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	Quantity  int             `gorm:"column:quantity;not null;check:chk_order_lines_quantity_positive,quantity > 0"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Product   *Product        `gorm:"foreignKey:ProductID;references:ID"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// Subtotal returns quantity times unit price.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
