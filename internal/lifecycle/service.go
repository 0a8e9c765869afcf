package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Actor identifies who asked for a status change.
type Actor struct {
	Type enums.ActorType
	ID   string
}

// TransitionResult reports the outcome of Transition. Changed is false when
// the order already had the requested status.
type TransitionResult struct {
	Order   *models.Order
	From    enums.OrderStatus
	To      enums.OrderStatus
	Changed bool
}

// Service couples order writes with inventory movements so stock and order
// state never drift apart.
type Service interface {
	CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error)
	Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor Actor) (*TransitionResult, error)
}

type service struct {
	orders    orders.Service
	inventory inventory.Service
	tx        txRunner
	outbox    outboxPublisher
	metrics   *metrics.OrderMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the lifecycle engine. A nil metrics recorder is allowed.
func NewService(
	orderSvc orders.Service,
	inventorySvc inventory.Service,
	tx txRunner,
	publisher outboxPublisher,
	recorder *metrics.OrderMetrics,
	logg *logger.Logger,
) (Service, error) {
	if orderSvc == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if inventorySvc == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		orders:    orderSvc,
		inventory: inventorySvc,
		tx:        tx,
		outbox:    publisher,
		metrics:   recorder,
		logg:      logg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error) {
	if err := orders.ValidateCreate(input); err != nil {
		return nil, err
	}
	if err := s.precheck(ctx, input.Lines); err != nil {
		return nil, err
	}

	actor := payerActor(input.Payer)
	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.Create(ctx, tx, input)
		if err != nil {
			return err
		}
		for _, line := range order.Lines {
			_, err := s.inventory.Reserve(ctx, tx, inventory.MovementInput{
				ProductID:   line.ProductID,
				Quantity:    line.Quantity,
				Reason:      "order placed",
				ReferenceID: order.ID.String(),
				ActorID:     actor.ID,
			})
			if err != nil {
				return err
			}
		}
		if err := s.emitCreated(ctx, tx, order); err != nil {
			return err
		}
		if err := s.emitStatusChanged(ctx, tx, order, "", actor); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInsufficientInventory) {
			s.metrics.IncReservationFailure()
		}
		return nil, err
	}

	s.metrics.IncCreated()
	s.metrics.IncTransition("NONE", string(enums.OrderStatusPending))
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": created.ID.String(),
		"lines":    len(created.Lines),
		"total":    created.Total.String(),
	})
	s.logg.Info(ctx, "order created")

	return s.reload(ctx, created)
}

// precheck reports every short product before any write happens.
func (s *service) precheck(ctx context.Context, lines []orders.LineInput) error {
	order := make([]uuid.UUID, 0, len(lines))
	requested := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		if _, seen := requested[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}

	var shortages []inventory.Shortage
	for _, productID := range order {
		availability, err := s.inventory.Availability(ctx, productID, requested[productID])
		if err != nil {
			return err
		}
		if !availability.Sufficient {
			shortages = append(shortages, inventory.ShortageOf(*availability))
		}
	}
	if len(shortages) > 0 {
		s.metrics.IncReservationFailure()
		return inventory.InsufficientErr(shortages)
	}
	return nil
}

func (s *service) Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor Actor) (*TransitionResult, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", target)).
			WithDetails(map[string]any{"requestedStatus": target})
	}
	if !actor.Type.IsValid() {
		actor.Type = enums.ActorTypeSystem
	}

	result := &TransitionResult{To: target}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result.From = order.Status
		if order.Status == target {
			result.Order = order
			return nil
		}
		if !CanTransition(order.Status, target) {
			return invalidTransitionErr(order, target)
		}

		if releasesInventory(target) {
			for _, line := range order.Lines {
				_, err := s.inventory.Release(ctx, tx, inventory.MovementInput{
					ProductID:   line.ProductID,
					Quantity:    line.Quantity,
					Reason:      releaseReason(target),
					ReferenceID: order.ID.String(),
					ActorID:     actor.ID,
				})
				if err != nil {
					return err
				}
			}
		}

		updated, err := s.orders.UpdateStatus(ctx, tx, orderID, target, s.now())
		if err != nil {
			return err
		}
		if err := s.emitStatusChanged(ctx, tx, updated, result.From, actor); err != nil {
			return err
		}
		result.Order = updated
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Changed {
		return result, nil
	}

	s.metrics.IncTransition(string(result.From), string(result.To))
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":    orderID.String(),
		"from_status": string(result.From),
		"to_status":   string(result.To),
		"actor_type":  string(actor.Type),
	})
	s.logg.Info(ctx, "order status changed")

	reloaded, err := s.reload(ctx, result.Order)
	if err != nil {
		return nil, err
	}
	result.Order = reloaded
	return result, nil
}

func (s *service) emitCreated(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	lines := make([]payloads.OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, payloads.OrderLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderCreatedEvent{
			OrderID:      order.ID,
			Status:       order.Status,
			Total:        order.Total,
			IsGuestOrder: order.IsGuestOrder,
			UserID:       order.UserID,
			GuestEmail:   order.GuestEmail,
			Lines:        lines,
			CreatedAt:    order.CreatedAt,
		},
	})
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus, actor Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{Type: string(actor.Type), ID: actor.ID},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:        order.ID,
			FromStatus:     from,
			ToStatus:       order.Status,
			TrackingNumber: order.TrackingNumber,
			ActorType:      actor.Type,
			ActorID:        actor.ID,
			Timestamp:      s.now(),
		},
	})
}

// reload returns the committed order with product details on each line.
func (s *service) reload(ctx context.Context, order *models.Order) (*models.Order, error) {
	fresh, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "reload order after commit failed", err)
		return order, nil
	}
	return fresh, nil
}

func invalidTransitionErr(order *models.Order, target enums.OrderStatus) error {
	allowed := AllowedTransitions(order.Status)
	names := make([]string, 0, len(allowed))
	for _, status := range allowed {
		names = append(names, string(status))
	}
	msg := fmt.Sprintf("cannot move order from %s to %s", order.Status, target)
	if len(names) == 0 {
		msg += fmt.Sprintf("; %s is terminal", order.Status)
	} else {
		msg += "; allowed: " + strings.Join(names, ", ")
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, msg).WithDetails(map[string]any{
		"orderId":         order.ID,
		"currentStatus":   order.Status,
		"requestedStatus": target,
		"allowed":         allowed,
	})
}

func releaseReason(target enums.OrderStatus) string {
	if target == enums.OrderStatusRefunded {
		return "order refunded"
	}
	return "order cancelled"
}

func payerActor(payer orders.Payer) Actor {
	if payer.HasUser() {
		return Actor{Type: enums.ActorTypeCustomer, ID: payer.UserID.String()}
	}
	return Actor{Type: enums.ActorTypeCustomer, ID: strings.ToLower(strings.TrimSpace(payer.GuestEmail))}
}
