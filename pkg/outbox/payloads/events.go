package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderLine is the line snapshot carried by order_created.
type OrderLine struct {
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// OrderCreatedEvent is emitted once the order and its reservations commit.
type OrderCreatedEvent struct {
	OrderID      uuid.UUID         `json:"orderId"`
	Status       enums.OrderStatus `json:"status"`
	Total        decimal.Decimal   `json:"total"`
	IsGuestOrder bool              `json:"isGuestOrder"`
	UserID       *uuid.UUID        `json:"userId,omitempty"`
	GuestEmail   *string           `json:"guestEmail,omitempty"`
	Lines        []OrderLine       `json:"lines"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// OrderStatusChangedEvent is emitted on every effective status transition.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"orderId"`
	FromStatus     enums.OrderStatus `json:"fromStatus"`
	ToStatus       enums.OrderStatus `json:"toStatus"`
	TrackingNumber *string           `json:"trackingNumber,omitempty"`
	ActorType      enums.ActorType   `json:"actorType"`
	ActorID        string            `json:"actorId,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// LowStockReachedEvent fires when a reservation drops stock to its threshold.
type LowStockReachedEvent struct {
	ProductID uuid.UUID `json:"productId"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Inventory int       `json:"inventory"`
	Threshold int       `json:"threshold"`
}
