package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Payer identifies who placed the order: a registered user or a guest, never both.
type Payer struct {
	UserID     *uuid.UUID
	GuestEmail string
	GuestName  string
}

// Normalized trims the guest fields and treats a zero user id as absent.
func (p Payer) Normalized() Payer {
	if p.UserID != nil && *p.UserID == uuid.Nil {
		p.UserID = nil
	}
	p.GuestEmail = strings.TrimSpace(p.GuestEmail)
	p.GuestName = strings.TrimSpace(p.GuestName)
	return p
}

// HasUser reports whether the payer carries a usable user id.
func (p Payer) HasUser() bool {
	return p.UserID != nil && *p.UserID != uuid.Nil
}

// IsGuest reports whether the payer is a guest checkout.
func (p Payer) IsGuest() bool {
	return !p.HasUser() && strings.TrimSpace(p.GuestEmail) != ""
}

// LineInput is one cart line captured at checkout.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

// CreateOrderInput carries a validated cart snapshot.
type CreateOrderInput struct {
	Payer            Payer
	Lines            []LineInput
	ShippingAddress  types.Address
	PaymentReference string
}

// Filters narrow the admin order listing.
type Filters struct {
	Status     *enums.OrderStatus
	UserID     *uuid.UUID
	GuestEmail string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// FulfillmentQuery selects orders the scheduler should advance, oldest first.
type FulfillmentQuery struct {
	Status        enums.OrderStatus
	UpdatedBefore *time.Time
	After         *pagination.Cursor
	Limit         int
}

// Page is a cursor-paginated slice of orders, newest first.
type Page struct {
	Items      []models.Order
	NextCursor string
}

// Stats aggregates order volume and revenue. Revenue ignores cancelled and refunded orders.
type Stats struct {
	TotalOrders       int64                       `json:"totalOrders"`
	TotalRevenue      decimal.Decimal             `json:"totalRevenue"`
	AverageOrderValue decimal.Decimal             `json:"averageOrderValue"`
	CountsByStatus    map[enums.OrderStatus]int64 `json:"countsByStatus"`
}

// LineView is the JSON shape of an order line.
type LineView struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Category    string          `json:"category,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderView is the JSON shape of an order with its lines.
type OrderView struct {
	ID               uuid.UUID         `json:"id"`
	Status           enums.OrderStatus `json:"status"`
	UserID           *uuid.UUID        `json:"userId,omitempty"`
	GuestEmail       *string           `json:"guestEmail,omitempty"`
	GuestName        *string           `json:"guestName,omitempty"`
	IsGuestOrder     bool              `json:"isGuestOrder"`
	TrackingNumber   *string           `json:"trackingNumber,omitempty"`
	Total            decimal.Decimal   `json:"total"`
	PaymentReference *string           `json:"paymentReference,omitempty"`
	ShippingAddress  types.Address     `json:"shippingAddress"`
	ShippedAt        *time.Time        `json:"shippedAt,omitempty"`
	DeliveredAt      *time.Time        `json:"deliveredAt,omitempty"`
	CancelledAt      *time.Time        `json:"cancelledAt,omitempty"`
	RefundedAt       *time.Time        `json:"refundedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Lines            []LineView        `json:"lines"`
}

// PageView is the JSON shape of a Page.
type PageView struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

func NewOrderView(order models.Order) OrderView {
	view := OrderView{
		ID:               order.ID,
		Status:           order.Status,
		UserID:           order.UserID,
		GuestEmail:       order.GuestEmail,
		GuestName:        order.GuestName,
		IsGuestOrder:     order.IsGuestOrder,
		TrackingNumber:   order.TrackingNumber,
		Total:            order.Total,
		PaymentReference: order.PaymentReference,
		ShippingAddress:  order.ShippingAddress,
		ShippedAt:        order.ShippedAt,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		RefundedAt:       order.RefundedAt,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
		Lines:            make([]LineView, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		lv := LineView{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal(),
		}
		if line.Product != nil {
			lv.ProductName = line.Product.Name
			lv.Category = line.Product.Category
		}
		view.Lines = append(view.Lines, lv)
	}
	return view
}

func NewPageView(page *Page) PageView {
	out := PageView{Orders: make([]OrderView, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, order := range page.Items {
		out.Orders = append(out.Orders, NewOrderView(order))
	}
	return out
}
