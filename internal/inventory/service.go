package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service is the only writer of product stock. Every change appends exactly one
// adjustment in the same transaction as the stock write.
type Service interface {
	CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (bool, error)
	Availability(ctx context.Context, productID uuid.UUID, quantity int) (*Availability, error)
	Reserve(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.InventoryAdjustment, error)
	Release(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.InventoryAdjustment, error)
	ManualAdjust(ctx context.Context, input AdjustInput) (*models.InventoryAdjustment, error)
	Restock(ctx context.Context, productID uuid.UUID, quantity int, reason, actorID string) (*models.InventoryAdjustment, error)
	RecordInitial(ctx context.Context, tx *gorm.DB, productID uuid.UUID, quantity int, actorID string) (*models.InventoryAdjustment, error)
	BulkSet(ctx context.Context, updates []BulkUpdate, reason, actorID string) (*BulkSetResult, error)
	History(ctx context.Context, filters HistoryFilters, params pagination.Params) (*HistoryPage, error)
	Summary(ctx context.Context, lowStockThreshold int) (*Summary, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService wires the ledger. The outbox publisher is optional; without it
// low-stock notifications are skipped.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc, logg: logg}, nil
}

func (s *service) CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	availability, err := s.Availability(ctx, productID, quantity)
	if err != nil {
		return false, err
	}
	return availability.Sufficient, nil
}

func (s *service) Availability(ctx context.Context, productID uuid.UUID, quantity int) (*Availability, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, mapProductErr(err, productID)
	}
	return &Availability{
		ProductID:  productID,
		Requested:  quantity,
		Available:  product.Inventory,
		Active:     product.IsActive,
		Sufficient: product.IsActive && product.Inventory >= quantity,
	}, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.InventoryAdjustment, error) {
	if err := validateQuantity(input.Quantity); err != nil {
		return nil, err
	}

	var adjustment *models.InventoryAdjustment
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.DecrementIfAvailable(ctx, input.ProductID, input.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve inventory")
		}
		if !ok {
			product, findErr := repo.FindProduct(ctx, input.ProductID)
			if findErr != nil {
				return mapProductErr(findErr, input.ProductID)
			}
			return InsufficientErr([]Shortage{{
				ProductID: input.ProductID,
				Requested: input.Quantity,
				Available: product.Inventory,
				ShortBy:   input.Quantity - product.Inventory,
			}})
		}

		adjustment, err = s.append(ctx, repo, input.ProductID, -input.Quantity, enums.InventoryChangeOrderPlaced, defaultReason(input.Reason, "order placed"), input.ReferenceID, input.ActorID)
		if err != nil {
			return err
		}
		return s.maybeEmitLowStock(ctx, tx, repo, input.ProductID, input.Quantity)
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.InventoryAdjustment, error) {
	if err := validateQuantity(input.Quantity); err != nil {
		return nil, err
	}

	var adjustment *models.InventoryAdjustment
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Increment(ctx, input.ProductID, input.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release inventory")
		}
		if !ok {
			return notFoundErr(input.ProductID)
		}
		adjustment, err = s.append(ctx, repo, input.ProductID, input.Quantity, enums.InventoryChangeOrderReturned, defaultReason(input.Reason, "order returned"), input.ReferenceID, input.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

func (s *service) ManualAdjust(ctx context.Context, input AdjustInput) (*models.InventoryAdjustment, error) {
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "delta must be non-zero")
	}
	changeType := input.ChangeType
	if changeType == "" {
		changeType = enums.InventoryChangeManualAdjustment
	}
	if !changeType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid change type %q", changeType))
	}
	if changeType.IsReservation() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("change type %s is reserved for orders", changeType))
	}

	var adjustment *models.InventoryAdjustment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		product, err := repo.LockProduct(ctx, input.ProductID)
		if err != nil {
			return mapProductErr(err, input.ProductID)
		}

		next := product.Inventory + input.Delta
		if next < 0 {
			next = 0
		}
		applied := next - product.Inventory

		if applied != 0 {
			if err := repo.SetInventory(ctx, product.ID, next); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update inventory")
			}
		}
		adjustment, err = s.append(ctx, repo, product.ID, applied, changeType, defaultReason(input.Reason, "manual adjustment"), "", input.ActorID)
		if err != nil {
			return err
		}

		if applied != input.Delta {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"product_id":      product.ID.String(),
				"requested_delta": input.Delta,
				"applied_delta":   applied,
			})
			s.logg.Warn(logCtx, "manual adjustment clamped at zero stock")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

func (s *service) Restock(ctx context.Context, productID uuid.UUID, quantity int, reason, actorID string) (*models.InventoryAdjustment, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}
	return s.ManualAdjust(ctx, AdjustInput{
		ProductID:  productID,
		Delta:      quantity,
		ChangeType: enums.InventoryChangeRestock,
		Reason:     defaultReason(reason, "restock"),
		ActorID:    actorID,
	})
}

// RecordInitial brings a freshly created product from zero to its opening stock.
func (s *service) RecordInitial(ctx context.Context, tx *gorm.DB, productID uuid.UUID, quantity int, actorID string) (*models.InventoryAdjustment, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	var adjustment *models.InventoryAdjustment
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Increment(ctx, productID, quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record initial inventory")
		}
		if !ok {
			return notFoundErr(productID)
		}
		adjustment, err = s.append(ctx, repo, productID, quantity, enums.InventoryChangeInitial, "initial stock", "", actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

// BulkSet applies each update in its own transaction so one bad row never
// rolls back the others.
func (s *service) BulkSet(ctx context.Context, updates []BulkUpdate, reason, actorID string) (*BulkSetResult, error) {
	if len(updates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one update is required")
	}

	result := &BulkSetResult{Errors: []BulkSetError{}}
	for _, update := range updates {
		if err := s.setOne(ctx, update, reason, actorID); err != nil {
			result.Errors = append(result.Errors, bulkError(update.ProductID, err))
			continue
		}
		result.UpdatedCount++
	}

	if len(result.Errors) > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"updated": result.UpdatedCount,
			"failed":  len(result.Errors),
		})
		s.logg.Warn(logCtx, "bulk inventory set finished with errors")
	}
	return result, nil
}

func (s *service) setOne(ctx context.Context, update BulkUpdate, reason, actorID string) error {
	if update.TargetQuantity < 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "target quantity must be zero or greater")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		product, err := repo.LockProduct(ctx, update.ProductID)
		if err != nil {
			return mapProductErr(err, update.ProductID)
		}
		delta := update.TargetQuantity - product.Inventory
		if delta == 0 {
			return nil
		}
		if err := repo.SetInventory(ctx, product.ID, update.TargetQuantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update inventory")
		}
		_, err = s.append(ctx, repo, product.ID, delta, enums.InventoryChangeManualAdjustment, defaultReason(reason, "bulk set"), "", actorID)
		return err
	})
}

func (s *service) History(ctx context.Context, filters HistoryFilters, params pagination.Params) (*HistoryPage, error) {
	if filters.ChangeType != nil && !filters.ChangeType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid change type %q", *filters.ChangeType))
	}
	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateTo.Before(*filters.DateFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dateTo must not be before dateFrom")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListAdjustments(ctx, filters, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list inventory adjustments")
	}
	items, next := pagination.Trim(rows, params.Limit, func(a models.InventoryAdjustment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return &HistoryPage{Items: items, NextCursor: next}, nil
}

func (s *service) Summary(ctx context.Context, lowStockThreshold int) (*Summary, error) {
	summary, err := s.repo.Summary(ctx, lowStockThreshold)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summarize inventory")
	}
	return summary, nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.tx.WithTx(ctx, fn)
}

func (s *service) append(ctx context.Context, repo Repository, productID uuid.UUID, delta int, changeType enums.InventoryChangeType, reason, referenceID, actorID string) (*models.InventoryAdjustment, error) {
	adjustment := &models.InventoryAdjustment{
		ProductID:     productID,
		QuantityDelta: delta,
		ChangeType:    changeType,
		Reason:        reason,
		ReferenceID:   optionalString(referenceID),
		ActorID:       optionalString(actorID),
	}
	if err := repo.InsertAdjustment(ctx, adjustment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append inventory adjustment")
	}
	return adjustment, nil
}

// maybeEmitLowStock fires once, on the reservation that crosses the threshold.
func (s *service) maybeEmitLowStock(ctx context.Context, tx *gorm.DB, repo Repository, productID uuid.UUID, reserved int) error {
	if s.outbox == nil {
		return nil
	}
	product, err := repo.FindProduct(ctx, productID)
	if err != nil {
		return mapProductErr(err, productID)
	}
	before := product.Inventory + reserved
	if product.Inventory > product.LowStockThreshold || before <= product.LowStockThreshold {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLowStockReached,
		AggregateType: enums.AggregateProduct,
		AggregateID:   product.ID,
		Data: payloads.LowStockReachedEvent{
			ProductID: product.ID,
			SKU:       product.SKU,
			Name:      product.Name,
			Inventory: product.Inventory,
			Threshold: product.LowStockThreshold,
		},
	})
}

func validateQuantity(quantity int) error {
	if quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be greater than zero").
			WithDetails(map[string]any{"quantity": quantity})
	}
	return nil
}

func mapProductErr(err error, productID uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr(productID)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
}

func notFoundErr(productID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", productID)).
		WithDetails(map[string]any{"productId": productID})
}

// InsufficientErr reports every short line of a checkout in one error.
func InsufficientErr(shortages []Shortage) error {
	parts := make([]string, 0, len(shortages))
	for _, s := range shortages {
		parts = append(parts, fmt.Sprintf("product %s requested %d, available %d", s.ProductID, s.Requested, s.Available))
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory: "+strings.Join(parts, ", ")).
		WithDetails(map[string]any{"shortages": shortages})
}

func bulkError(productID uuid.UUID, err error) BulkSetError {
	code := string(pkgerrors.CodeInternal)
	if typed := pkgerrors.As(err); typed != nil {
		code = string(typed.Code())
	}
	return BulkSetError{ProductID: productID, Code: code, Message: err.Error()}
}

func defaultReason(reason, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return fallback
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
