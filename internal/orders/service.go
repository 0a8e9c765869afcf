package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the durable order store. It never touches inventory; the
// lifecycle engine pairs its writes with ledger movements.
type Service interface {
	Create(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error)
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockForUpdate(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error)
	FindByGuestEmail(ctx context.Context, email string, params pagination.Params) (*Page, error)
	FindAll(ctx context.Context, filters Filters, params pagination.Params) (*Page, error)
	Search(ctx context.Context, query string, params pagination.Params) (*Page, error)
	ListForFulfillment(ctx context.Context, query FulfillmentQuery) ([]models.Order, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, at time.Time) (*models.Order, error)
	UpdateShippingAddress(ctx context.Context, orderID uuid.UUID, address types.Address) (*models.Order, error)
	Stats(ctx context.Context, userID *uuid.UUID) (*Stats, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	logg     *logger.Logger
	tracking TrackingGenerator
}

// Option customizes the order service.
type Option func(*service)

// WithTrackingGenerator swaps the tracking number source.
func WithTrackingGenerator(gen TrackingGenerator) Option {
	return func(s *service) {
		if gen != nil {
			s.tracking = gen
		}
	}
}

// NewService builds the order store service.
func NewService(repo Repository, tx txRunner, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	svc := &service{repo: repo, tx: tx, logg: logg, tracking: NewTrackingNumber}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *service) Create(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error) {
	if err := ValidateCreate(input); err != nil {
		return nil, err
	}
	payer := input.Payer.Normalized()

	order := &models.Order{
		Status:           enums.OrderStatusPending,
		Total:            Total(input.Lines),
		PaymentReference: optionalString(input.PaymentReference),
		ShippingAddress:  input.ShippingAddress.Normalized(),
		Lines:            make([]models.OrderLine, 0, len(input.Lines)),
	}
	if payer.IsGuest() {
		email := payer.GuestEmail
		order.GuestEmail = &email
		order.GuestName = optionalString(payer.GuestName)
		order.IsGuestOrder = true
	} else {
		userID := *payer.UserID
		order.UserID = &userID
	}
	for i, line := range input.Lines {
		order.Lines = append(order.Lines, models.OrderLine{
			Position:  i + 1,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ValidateCreate checks a checkout snapshot without touching storage.
func ValidateCreate(input CreateOrderInput) error {
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeEmptyOrder, "order must contain at least one line")
	}
	for i, line := range input.Lines {
		reason := ""
		switch {
		case line.ProductID == uuid.Nil:
			reason = "product id is required"
		case line.Quantity <= 0:
			reason = "quantity must be greater than zero"
		case line.UnitPrice.IsNegative():
			reason = "unit price must not be negative"
		}
		if reason != "" {
			return pkgerrors.New(pkgerrors.CodeInvalidLine, fmt.Sprintf("line %d: %s", i+1, reason)).
				WithDetails(map[string]any{"line": i + 1, "productId": line.ProductID, "reason": reason})
		}
	}

	payer := input.Payer.Normalized()
	if payer.HasUser() == (payer.GuestEmail != "") {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires exactly one of user id or guest email")
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	return nil
}

// Total sums quantity times unit price across lines.
func Total(lines []LineInput) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

func (s *service) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	return order, nil
}

func (s *service) LockForUpdate(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order lock requires a transaction")
	}
	order, err := s.repo.WithTx(tx).LockByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err, orderID)
	}
	return order, nil
}

func (s *service) FindByUserID(ctx context.Context, userID uuid.UUID, params pagination.Params) (*Page, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.FindAll(ctx, Filters{UserID: &userID}, params)
}

func (s *service) FindByGuestEmail(ctx context.Context, email string, params pagination.Params) (*Page, error) {
	if strings.TrimSpace(email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guest email is required")
	}
	return s.FindAll(ctx, Filters{GuestEmail: email}, params)
}

func (s *service) FindAll(ctx context.Context, filters Filters, params pagination.Params) (*Page, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", *filters.Status))
	}
	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateTo.Before(*filters.DateFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dateTo must not be before dateFrom")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filters, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return toPage(rows, params.Limit), nil
}

func (s *service) Search(ctx context.Context, query string, params pagination.Params) (*Page, error) {
	if strings.TrimSpace(query) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search query is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.Search(ctx, query, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "search orders")
	}
	return toPage(rows, params.Limit), nil
}

func (s *service) ListForFulfillment(ctx context.Context, query FulfillmentQuery) ([]models.Order, error) {
	if !query.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", query.Status))
	}
	query.Limit = pagination.NormalizeLimit(query.Limit)
	rows, err := s.repo.ListForFulfillment(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders for fulfillment")
	}
	return rows, nil
}

// UpdateStatus persists the new status and its timestamp. The first move to
// SHIPPED also assigns a tracking number; an existing one is never replaced.
func (s *service) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, at time.Time) (*models.Order, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", status))
	}
	at = at.UTC()

	var updated *models.Order
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return mapOrderErr(err, orderID)
		}

		updates := map[string]any{"status": status, "updated_at": at}
		if column := timestampColumn(status); column != "" {
			updates[column] = at
		}

		if status == enums.OrderStatusShipped && current.TrackingNumber == nil {
			if err := s.assignTracking(ctx, tx, repo, orderID, updates, at); err != nil {
				return err
			}
		} else if err := repo.Update(ctx, orderID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}

		updated, err = repo.FindByID(ctx, orderID)
		if err != nil {
			return mapOrderErr(err, orderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// assignTracking writes the status update together with a fresh tracking
// number, retrying inside a savepoint when the unique index rejects it.
func (s *service) assignTracking(ctx context.Context, tx *gorm.DB, repo Repository, orderID uuid.UUID, updates map[string]any, at time.Time) error {
	for attempt := 1; attempt <= maxTrackingAttempts; attempt++ {
		number, err := s.tracking(at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate tracking number")
		}
		savepoint := fmt.Sprintf("tracking_attempt_%d", attempt)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create savepoint")
		}

		updates["tracking_number"] = number
		err = repo.Update(ctx, orderID, updates)
		if err == nil {
			return nil
		}
		if !dbpkg.IsUniqueViolation(err, "tracking_number") {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, rbErr, "rollback savepoint")
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "attempt": attempt})
		s.logg.Warn(logCtx, "tracking number collision, retrying")
	}
	return pkgerrors.New(pkgerrors.CodeTrackingCollision, "could not assign a unique tracking number").
		WithDetails(map[string]any{"orderId": orderID, "attempts": maxTrackingAttempts})
}

func (s *service) UpdateShippingAddress(ctx context.Context, orderID uuid.UUID, address types.Address) (*models.Order, error) {
	if err := address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return mapOrderErr(err, orderID)
		}
		if current.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeOrderNotEditable, fmt.Sprintf("shipping address can only change while PENDING; order is %s", current.Status)).
				WithDetails(map[string]any{"orderId": orderID, "currentStatus": current.Status})
		}
		if err := repo.Update(ctx, orderID, map[string]any{
			"shipping_address": address.Normalized(),
			"updated_at":       time.Now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update shipping address")
		}
		updated, err = repo.FindByID(ctx, orderID)
		if err != nil {
			return mapOrderErr(err, orderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Stats(ctx context.Context, userID *uuid.UUID) (*Stats, error) {
	stats, err := s.repo.Stats(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "order stats")
	}
	return stats, nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.tx.WithTx(ctx, fn)
}

func timestampColumn(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusShipped:
		return "shipped_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	case enums.OrderStatusRefunded:
		return "refunded_at"
	default:
		return ""
	}
}

func toPage(rows []models.Order, limit int) *Page {
	items, next := pagination.Trim(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	if items == nil {
		items = []models.Order{}
	}
	return &Page{Items: items, NextCursor: next}
}

func mapOrderErr(err error, orderID uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
			WithDetails(map[string]any{"orderId": orderID})
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
