package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type failingPublisher struct {
	inner  outboxPublisher
	failOn enums.OutboxEventType
}

func (p failingPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if event.EventType == p.failOn {
		return errors.New("outbox unavailable")
	}
	return p.inner.Emit(ctx, tx, event)
}

type fixture struct {
	client   *db.Client
	engine   Service
	orders   orders.Service
	outbox   *outbox.Repository
	registry *prometheus.Registry
}

func newFixture(t *testing.T, wrap ...func(outboxPublisher) outboxPublisher) fixture {
	t.Helper()
	return buildFixture(t, wrap, nil)
}

func buildFixture(t *testing.T, wrapPublisher []func(outboxPublisher) outboxPublisher, wrapInventory func(inventory.Service) inventory.Service) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "lifecycle-test", Level: zerolog.Disabled, Output: io.Discard})
	outboxRepo := outbox.NewRepository(client.DB())
	var publisher outboxPublisher = outbox.NewService(outboxRepo, logg)
	for _, w := range wrapPublisher {
		publisher = w(publisher)
	}

	orderSvc, err := orders.NewService(orders.NewRepository(client.DB()), client, logg)
	require.NoError(t, err)
	inventorySvc, err := inventory.NewService(inventory.NewRepository(client.DB()), client, publisher, logg)
	require.NoError(t, err)
	if wrapInventory != nil {
		inventorySvc = wrapInventory(inventorySvc)
	}

	registry := prometheus.NewRegistry()
	engine, err := NewService(orderSvc, inventorySvc, client, publisher, metrics.NewOrderMetrics(registry), logg)
	require.NoError(t, err)

	return fixture{client: client, engine: engine, orders: orderSvc, outbox: outboxRepo, registry: registry}
}

func checkout(email string, lines ...orders.LineInput) orders.CreateOrderInput {
	return orders.CreateOrderInput{
		Payer: orders.Payer{GuestEmail: email},
		Lines: lines,
		ShippingAddress: types.Address{
			RecipientName: "Grace Hopper",
			Line1:         "1 Compiler Ct",
			City:          "Arlington",
			State:         "VA",
			PostalCode:    "22201",
		},
	}
}

func line(productID uuid.UUID, qty int, price string) orders.LineInput {
	return orders.LineInput{ProductID: productID, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func operator() Actor {
	return Actor{Type: enums.ActorTypeOperator, ID: "ops-1"}
}

func countOrders(t *testing.T, client *db.Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, client.DB().Model(&models.Order{}).Count(&n).Error)
	return n
}

func adjustmentsFor(t *testing.T, client *db.Client, orderID uuid.UUID) []models.InventoryAdjustment {
	t.Helper()
	var rows []models.InventoryAdjustment
	require.NoError(t, client.DB().Where("reference_id = ?", orderID.String()).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func eventTypes(t *testing.T, f fixture, orderID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	rows, err := f.outbox.ListByAggregate(context.Background(), enums.AggregateOrder, orderID)
	require.NoError(t, err)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestCreateOrderReservesStock(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	p2 := dbtest.SeedProduct(t, f.client, "teapot", 1)

	order, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com",
		line(p1.ID, 2, "500"),
		line(p2.ID, 1, "1000"),
	))
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(2000)))
	require.Len(t, order.Lines, 2)
	require.NotNil(t, order.Lines[0].Product)
	assert.Equal(t, "kettle", order.Lines[0].Product.Name)

	assert.Equal(t, 3, dbtest.Inventory(t, f.client, p1.ID))
	assert.Equal(t, 0, dbtest.Inventory(t, f.client, p2.ID))
	assert.Equal(t, 3, dbtest.LedgerSum(t, f.client, p1.ID))
	assert.Equal(t, 0, dbtest.LedgerSum(t, f.client, p2.ID))

	adjustments := adjustmentsFor(t, f.client, order.ID)
	require.Len(t, adjustments, 2)
	for _, adj := range adjustments {
		assert.Equal(t, enums.InventoryChangeOrderPlaced, adj.ChangeType)
	}

	assert.ElementsMatch(t,
		[]enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderStatusChanged},
		eventTypes(t, f, order.ID))
	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_orders_created_total"))
}

func TestCreateOrderReportsEveryShortage(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 1)
	p2 := dbtest.SeedProduct(t, f.client, "teapot", 0)

	_, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com",
		line(p1.ID, 2, "500"),
		line(p2.ID, 1, "1000"),
	))
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientInventory))

	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	shortages, ok := details["shortages"].([]inventory.Shortage)
	require.True(t, ok)
	assert.Equal(t, []inventory.Shortage{
		{ProductID: p1.ID, Requested: 2, Available: 1, ShortBy: 1},
		{ProductID: p2.ID, Requested: 1, Available: 0, ShortBy: 1},
	}, shortages)

	assert.Zero(t, countOrders(t, f.client))
	assert.Equal(t, 1, dbtest.Inventory(t, f.client, p1.ID))
	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_inventory_reservation_failures_total"))
}

func TestCreateOrderAggregatesDuplicateProducts(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 3)

	_, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com",
		line(p1.ID, 2, "10"),
		line(p1.ID, 2, "10"),
	))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientInventory))
	details := pkgerrors.As(err).Details().(map[string]any)
	shortages := details["shortages"].([]inventory.Shortage)
	require.Len(t, shortages, 1)
	assert.Equal(t, 4, shortages[0].Requested)
	assert.Equal(t, 3, dbtest.Inventory(t, f.client, p1.ID))
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com", line(uuid.New(), 1, "10")))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com"))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeEmptyOrder))
}

func TestCreateOrderRollsBackWhenEventFails(t *testing.T) {
	f := newFixture(t, func(inner outboxPublisher) outboxPublisher {
		return failingPublisher{inner: inner, failOn: enums.EventOrderCreated}
	})
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)

	_, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com", line(p1.ID, 2, "10")))
	require.Error(t, err)

	assert.Zero(t, countOrders(t, f.client))
	assert.Equal(t, 5, dbtest.Inventory(t, f.client, p1.ID))
	assert.Equal(t, 5, dbtest.LedgerSum(t, f.client, p1.ID))
}

// drainingInventory zeroes a product's stock inside the checkout transaction
// right before its reservation, as a competing checkout would after the
// precheck already passed.
type drainingInventory struct {
	inventory.Service
	drain *uuid.UUID
}

func (d drainingInventory) Reserve(ctx context.Context, tx *gorm.DB, input inventory.MovementInput) (*models.InventoryAdjustment, error) {
	if input.ProductID == *d.drain {
		if err := tx.Model(&models.Product{}).Where("id = ?", *d.drain).Update("inventory", 0).Error; err != nil {
			return nil, err
		}
	}
	return d.Service.Reserve(ctx, tx, input)
}

func TestCreateOrderRollsBackEarlierReservationsWhenLaterLineFails(t *testing.T) {
	drain := new(uuid.UUID)
	f := buildFixture(t, nil, func(inner inventory.Service) inventory.Service {
		return drainingInventory{Service: inner, drain: drain}
	})
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	p2 := dbtest.SeedProduct(t, f.client, "teapot", 1)
	*drain = p2.ID

	_, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com", line(p1.ID, 2, "500"), line(p2.ID, 1, "1000")))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientInventory), "got %v", err)

	assert.Zero(t, countOrders(t, f.client))
	assert.Equal(t, 5, dbtest.Inventory(t, f.client, p1.ID), "first line's reservation is rolled back")
	assert.Equal(t, 5, dbtest.LedgerSum(t, f.client, p1.ID))
	assert.Equal(t, 1, dbtest.Inventory(t, f.client, p2.ID))

	var p1Entries int64
	require.NoError(t, f.client.DB().Model(&models.InventoryAdjustment{}).Where("product_id = ?", p1.ID).Count(&p1Entries).Error)
	assert.Equal(t, int64(1), p1Entries, "only the opening entry remains")

	var events int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Count(&events).Error)
	assert.Zero(t, events)
	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_inventory_reservation_failures_total"))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 3)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com", line(p1.ID, 1, "10")))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientInventory):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, 0, dbtest.Inventory(t, f.client, p1.ID))
	assert.Equal(t, int64(3), countOrders(t, f.client))
	assert.Equal(t, 0, dbtest.LedgerSum(t, f.client, p1.ID))
}

func TestCancelReleasesStock(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	p2 := dbtest.SeedProduct(t, f.client, "teapot", 1)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, checkout("guest@example.com", line(p1.ID, 2, "500"), line(p2.ID, 1, "1000")))
	require.NoError(t, err)

	result, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusCancelled, operator())
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, enums.OrderStatusPending, result.From)
	assert.Equal(t, enums.OrderStatusCancelled, result.Order.Status)
	require.NotNil(t, result.Order.CancelledAt)

	assert.Equal(t, 5, dbtest.Inventory(t, f.client, p1.ID))
	assert.Equal(t, 1, dbtest.Inventory(t, f.client, p2.ID))
	assert.Equal(t, 5, dbtest.LedgerSum(t, f.client, p1.ID))

	returned := 0
	for _, adj := range adjustmentsFor(t, f.client, order.ID) {
		if adj.ChangeType == enums.InventoryChangeOrderReturned {
			returned++
		}
	}
	assert.Equal(t, 2, returned)

	again, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusCancelled, operator())
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, 5, dbtest.Inventory(t, f.client, p1.ID), "repeat cancel must not release twice")
	assert.Len(t, eventTypes(t, f, order.ID), 3)
}

func TestFullLifecycleAssignsTracking(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, checkout("guest@example.com", line(p1.ID, 1, "25")))
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, order.ID, enums.OrderStatusProcessing, operator())
	require.NoError(t, err)
	shipped, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusShipped, operator())
	require.NoError(t, err)
	require.NotNil(t, shipped.Order.TrackingNumber)
	require.NotNil(t, shipped.Order.ShippedAt)

	delivered, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusDelivered, operator())
	require.NoError(t, err)
	assert.Equal(t, *shipped.Order.TrackingNumber, *delivered.Order.TrackingNumber)
	require.NotNil(t, delivered.Order.DeliveredAt)

	assert.Equal(t, 4, dbtest.Inventory(t, f.client, p1.ID), "shipping and delivery leave stock alone")
	assert.Equal(t, 4.0, counterValue(t, f.registry, "storefront_order_transitions_total"))

	_, err = f.engine.Transition(ctx, order.ID, enums.OrderStatusRefunded, operator())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, enums.OrderStatusDelivered, details["currentStatus"])
	assert.Empty(t, details["allowed"])
	assert.Contains(t, err.Error(), "DELIVERED")
}

func TestRepeatedTransitionsAreNoOps(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, checkout("guest@example.com", line(p1.ID, 1, "25")))
	require.NoError(t, err)

	first, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusProcessing, operator())
	require.NoError(t, err)
	require.True(t, first.Changed)
	eventsAfterFirst := len(eventTypes(t, f, order.ID))

	again, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusProcessing, operator())
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, enums.OrderStatusProcessing, again.From)
	assert.Equal(t, enums.OrderStatusProcessing, again.Order.Status)
	assert.Len(t, eventTypes(t, f, order.ID), eventsAfterFirst)

	shipped, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusShipped, operator())
	require.NoError(t, err)
	require.NotNil(t, shipped.Order.TrackingNumber)
	tracking := *shipped.Order.TrackingNumber
	transitions := counterValue(t, f.registry, "storefront_order_transitions_total")

	reshipped, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusShipped, operator())
	require.NoError(t, err)
	assert.False(t, reshipped.Changed)
	require.NotNil(t, reshipped.Order.TrackingNumber)
	assert.Equal(t, tracking, *reshipped.Order.TrackingNumber)

	current, err := f.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, current.TrackingNumber)
	assert.Equal(t, tracking, *current.TrackingNumber)
	assert.Equal(t, transitions, counterValue(t, f.registry, "storefront_order_transitions_total"))
	assert.Equal(t, 4, dbtest.Inventory(t, f.client, p1.ID))
}

type unreadableOrders struct {
	orders.Service
}

func (unreadableOrders) FindByID(context.Context, uuid.UUID) (*models.Order, error) {
	return nil, errors.New("connection reset by peer")
}

func TestReloadFailureKeepsCommittedOrderAndLogsCause(t *testing.T) {
	var buf bytes.Buffer
	svc := &service{
		orders: unreadableOrders{},
		logg:   logger.New(logger.Options{ServiceName: "lifecycle-test", Output: &buf}),
	}
	order := &models.Order{ID: uuid.New(), Status: enums.OrderStatusProcessing}

	got, err := svc.reload(context.Background(), order)
	require.NoError(t, err)
	assert.Same(t, order, got)
	assert.Contains(t, buf.String(), "reload order after commit failed")
	assert.Contains(t, buf.String(), "connection reset by peer")
	assert.Contains(t, buf.String(), order.ID.String())
}

func TestRefundAfterShipmentReleasesStock(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, checkout("guest@example.com", line(p1.ID, 2, "25")))
	require.NoError(t, err)
	for _, status := range []enums.OrderStatus{enums.OrderStatusProcessing, enums.OrderStatusShipped} {
		_, err := f.engine.Transition(ctx, order.ID, status, operator())
		require.NoError(t, err)
	}

	_, err = f.engine.Transition(ctx, order.ID, enums.OrderStatusCancelled, operator())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition), "shipped orders cannot be cancelled")

	refunded, err := f.engine.Transition(ctx, order.ID, enums.OrderStatusRefunded, operator())
	require.NoError(t, err)
	require.NotNil(t, refunded.Order.RefundedAt)
	assert.Equal(t, 5, dbtest.Inventory(t, f.client, p1.ID))
}

func TestInvalidTransitionListsAllowed(t *testing.T) {
	f := newFixture(t)
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	order, err := f.engine.CreateOrder(context.Background(), checkout("guest@example.com", line(p1.ID, 1, "25")))
	require.NoError(t, err)

	_, err = f.engine.Transition(context.Background(), order.ID, enums.OrderStatusShipped, operator())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, order.ID, details["orderId"])
	assert.Equal(t, enums.OrderStatusShipped, details["requestedStatus"])
	assert.Equal(t, []enums.OrderStatus{
		enums.OrderStatusProcessing,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
	}, details["allowed"])
}

func TestTransitionRollsBackWhenEventFails(t *testing.T) {
	f := newFixture(t, func(inner outboxPublisher) outboxPublisher {
		return &cancelFailer{inner: inner}
	})
	p1 := dbtest.SeedProduct(t, f.client, "kettle", 5)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, checkout("guest@example.com", line(p1.ID, 2, "25")))
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, order.ID, enums.OrderStatusCancelled, operator())
	require.Error(t, err)

	current, err := f.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, current.Status)
	assert.Equal(t, 3, dbtest.Inventory(t, f.client, p1.ID))
	assert.Equal(t, 3, dbtest.LedgerSum(t, f.client, p1.ID))
}

func TestTransitionRejectsUnknownInputs(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Transition(context.Background(), uuid.New(), enums.OrderStatusProcessing, operator())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = f.engine.Transition(context.Background(), uuid.New(), enums.OrderStatus("LOST"), operator())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

// cancelFailer lets order creation through and fails the CANCELLED status event.
type cancelFailer struct {
	inner outboxPublisher
}

func (p *cancelFailer) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if changed, ok := event.Data.(payloads.OrderStatusChangedEvent); ok && changed.ToStatus == enums.OrderStatusCancelled {
		return errors.New("outbox unavailable")
	}
	return p.inner.Emit(ctx, tx, event)
}
