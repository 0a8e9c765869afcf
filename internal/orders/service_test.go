package orders

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func newTestService(t *testing.T, opts ...Option) (Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Level: zerolog.Disabled, Output: io.Discard})
	svc, err := NewService(NewRepository(client.DB()), client, logg, opts...)
	require.NoError(t, err)
	return svc, client
}

func testAddress() types.Address {
	return types.Address{
		RecipientName: "Ada Lovelace",
		Line1:         "12 Analytical Way",
		City:          "Springfield",
		State:         "IL",
		PostalCode:    "62701",
	}
}

func guestInput(email string, lines ...LineInput) CreateOrderInput {
	return CreateOrderInput{
		Payer:           Payer{GuestEmail: email, GuestName: "Ada"},
		Lines:           lines,
		ShippingAddress: testAddress(),
	}
}

func price(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestCreatePersistsOrderAndLines(t *testing.T) {
	svc, client := newTestService(t)
	p1 := dbtest.SeedProduct(t, client, "kettle", 5)
	p2 := dbtest.SeedProduct(t, client, "teapot", 1)

	created, err := svc.Create(context.Background(), nil, guestInput("Guest@Example.com",
		LineInput{ProductID: p1.ID, Quantity: 2, UnitPrice: price("500")},
		LineInput{ProductID: p2.ID, Quantity: 1, UnitPrice: price("1000")},
	))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, created.Status)
	assert.True(t, created.Total.Equal(price("2000")))
	assert.True(t, created.IsGuestOrder)

	loaded, err := svc.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, p1.ID, loaded.Lines[0].ProductID)
	require.NotNil(t, loaded.Lines[0].Product)
	assert.Equal(t, "kettle", loaded.Lines[0].Product.Name)
	assert.Equal(t, "US", loaded.ShippingAddress.Country)

	assert.Equal(t, 5, dbtest.Inventory(t, client, p1.ID), "order store never touches stock")
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	userID := uuid.New()
	productID := uuid.New()

	cases := []struct {
		name  string
		input CreateOrderInput
		code  pkgerrors.Code
	}{
		{
			name:  "no lines",
			input: guestInput("a@example.com"),
			code:  pkgerrors.CodeEmptyOrder,
		},
		{
			name:  "zero quantity",
			input: guestInput("a@example.com", LineInput{ProductID: productID, Quantity: 0, UnitPrice: price("1")}),
			code:  pkgerrors.CodeInvalidLine,
		},
		{
			name:  "negative price",
			input: guestInput("a@example.com", LineInput{ProductID: productID, Quantity: 1, UnitPrice: price("-1")}),
			code:  pkgerrors.CodeInvalidLine,
		},
		{
			name:  "missing product",
			input: guestInput("a@example.com", LineInput{Quantity: 1, UnitPrice: price("1")}),
			code:  pkgerrors.CodeInvalidLine,
		},
		{
			name: "both payers",
			input: CreateOrderInput{
				Payer:           Payer{UserID: &userID, GuestEmail: "a@example.com"},
				Lines:           []LineInput{{ProductID: productID, Quantity: 1, UnitPrice: price("1")}},
				ShippingAddress: testAddress(),
			},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "no payer",
			input: CreateOrderInput{
				Lines:           []LineInput{{ProductID: productID, Quantity: 1, UnitPrice: price("1")}},
				ShippingAddress: testAddress(),
			},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "oversized address",
			input: CreateOrderInput{
				Payer: Payer{UserID: &userID},
				Lines: []LineInput{{ProductID: productID, Quantity: 1, UnitPrice: price("1")}},
				ShippingAddress: func() types.Address {
					addr := testAddress()
					addr.PostalCode = strings.Repeat("9", 21)
					return addr
				}(),
			},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "missing address",
			input: CreateOrderInput{
				Payer: Payer{UserID: &userID},
				Lines: []LineInput{{ProductID: productID, Quantity: 1, UnitPrice: price("1")}},
			},
			code: pkgerrors.CodeValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), nil, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, tc.code), "expected %s, got %v", tc.code, err)
		})
	}
}

func TestCreateTreatsZeroUserIDAsGuest(t *testing.T) {
	svc, client := newTestService(t)
	product := dbtest.SeedProduct(t, client, "kettle", 5)
	zero := uuid.Nil

	input := guestInput(" guest@example.com ", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price("10")})
	input.Payer.UserID = &zero

	created, err := svc.Create(context.Background(), nil, input)
	require.NoError(t, err)
	assert.True(t, created.IsGuestOrder)
	assert.Nil(t, created.UserID)
	require.NotNil(t, created.GuestEmail)
	assert.Equal(t, "guest@example.com", *created.GuestEmail)

	loaded, err := svc.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.UserID)
	require.NotNil(t, loaded.GuestEmail)

	_, err = svc.Create(context.Background(), nil, CreateOrderInput{
		Payer:           Payer{UserID: &zero},
		Lines:           []LineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: price("10")}},
		ShippingAddress: testAddress(),
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "zero user id alone is no payer: %v", err)
}

func TestPayerNormalized(t *testing.T) {
	zero := uuid.Nil
	payer := Payer{UserID: &zero, GuestEmail: "  a@example.com ", GuestName: " Ada "}.Normalized()
	assert.Nil(t, payer.UserID)
	assert.False(t, payer.HasUser())
	assert.True(t, payer.IsGuest())
	assert.Equal(t, "a@example.com", payer.GuestEmail)
	assert.Equal(t, "Ada", payer.GuestName)

	userID := uuid.New()
	registered := Payer{UserID: &userID}
	assert.True(t, registered.HasUser())
	assert.False(t, registered.IsGuest())
}

func TestUpdateStatusAssignsTrackingOnce(t *testing.T) {
	svc, client := newTestService(t)
	product := dbtest.SeedProduct(t, client, "lamp", 3)
	userID := uuid.New()

	created, err := svc.Create(context.Background(), nil, CreateOrderInput{
		Payer:           Payer{UserID: &userID},
		Lines:           []LineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: price("25.50")}},
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)

	shippedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	shipped, err := svc.UpdateStatus(context.Background(), nil, created.ID, enums.OrderStatusShipped, shippedAt)
	require.NoError(t, err)
	require.NotNil(t, shipped.TrackingNumber)
	require.NotNil(t, shipped.ShippedAt)
	assert.True(t, shipped.ShippedAt.Equal(shippedAt))
	first := *shipped.TrackingNumber

	again, err := svc.UpdateStatus(context.Background(), nil, created.ID, enums.OrderStatusShipped, shippedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, *again.TrackingNumber)

	delivered, err := svc.UpdateStatus(context.Background(), nil, created.ID, enums.OrderStatusDelivered, shippedAt.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, *delivered.TrackingNumber)
	require.NotNil(t, delivered.DeliveredAt)
}

func TestUpdateStatusRetriesTrackingCollisions(t *testing.T) {
	candidates := []string{"TRKTAKEN", "TRKTAKEN", "TRKFRESH"}
	calls := 0
	gen := func(time.Time) (string, error) {
		value := candidates[calls]
		calls++
		return value, nil
	}
	svc, client := newTestService(t, WithTrackingGenerator(gen))
	product := dbtest.SeedProduct(t, client, "globe", 5)

	existing, err := svc.Create(context.Background(), nil, guestInput("first@example.com", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price("10")}))
	require.NoError(t, err)
	taken := "TRKTAKEN"
	require.NoError(t, client.DB().Model(&models.Order{}).Where("id = ?", existing.ID).Update("tracking_number", taken).Error)

	order, err := svc.Create(context.Background(), nil, guestInput("second@example.com", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price("10")}))
	require.NoError(t, err)

	shipped, err := svc.UpdateStatus(context.Background(), nil, order.ID, enums.OrderStatusShipped, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "TRKFRESH", *shipped.TrackingNumber)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)
	assert.Equal(t, 3, calls)
}

func TestUpdateStatusGivesUpAfterRepeatedCollisions(t *testing.T) {
	calls := 0
	gen := func(time.Time) (string, error) {
		calls++
		return "TRKTAKEN", nil
	}
	svc, client := newTestService(t, WithTrackingGenerator(gen))
	product := dbtest.SeedProduct(t, client, "clock", 5)

	existing, err := svc.Create(context.Background(), nil, guestInput("first@example.com", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price("10")}))
	require.NoError(t, err)
	require.NoError(t, client.DB().Model(&models.Order{}).Where("id = ?", existing.ID).Update("tracking_number", "TRKTAKEN").Error)

	order, err := svc.Create(context.Background(), nil, guestInput("second@example.com", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price("10")}))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), nil, order.ID, enums.OrderStatusShipped, time.Now())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeTrackingCollision))
	assert.Equal(t, maxTrackingAttempts, calls)

	reloaded, err := svc.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
	assert.Nil(t, reloaded.TrackingNumber)
}

func TestUpdateShippingAddressOnlyWhilePending(t *testing.T) {
	svc, client := newTestService(t)
	product := dbtest.SeedProduct(t, client, "mirror", 2)

	order, err := svc.Create(context.Background(), nil, guestInput("a@example.com", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price("40")}))
	require.NoError(t, err)

	moved := testAddress()
	moved.Line1 = "99 New Street"
	updated, err := svc.UpdateShippingAddress(context.Background(), order.ID, moved)
	require.NoError(t, err)
	assert.Equal(t, "99 New Street", updated.ShippingAddress.Line1)

	_, err = svc.UpdateStatus(context.Background(), nil, order.ID, enums.OrderStatusProcessing, time.Now())
	require.NoError(t, err)

	_, err = svc.UpdateShippingAddress(context.Background(), order.ID, testAddress())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeOrderNotEditable))

	_, err = svc.UpdateShippingAddress(context.Background(), uuid.New(), testAddress())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestListingsAndSearch(t *testing.T) {
	svc, client := newTestService(t)
	product := dbtest.SeedProduct(t, client, "chair", 50)
	userID := uuid.New()

	var userOrders []uuid.UUID
	for i := 0; i < 3; i++ {
		order, err := svc.Create(context.Background(), nil, CreateOrderInput{
			Payer:            Payer{UserID: &userID},
			Lines:            []LineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: price("10")}},
			ShippingAddress:  testAddress(),
			PaymentReference: "pay_ref_" + string(rune('a'+i)),
		})
		require.NoError(t, err)
		userOrders = append(userOrders, order.ID)
	}
	guest, err := svc.Create(context.Background(), nil, CreateOrderInput{
		Payer:           Payer{GuestEmail: "Grace@Example.com", GuestName: "Grace Hopper"},
		Lines:           []LineInput{{ProductID: product.ID, Quantity: 2, UnitPrice: price("10")}},
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)

	page, err := svc.FindByUserID(context.Background(), userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, userOrders[2], page.Items[0].ID, "newest first")
	require.Len(t, page.Items[0].Lines, 1)

	rest, err := svc.FindByUserID(context.Background(), userID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Equal(t, userOrders[0], rest.Items[0].ID)
	assert.Empty(t, rest.NextCursor)

	byEmail, err := svc.FindByGuestEmail(context.Background(), "grace@EXAMPLE.com", pagination.Params{})
	require.NoError(t, err)
	require.Len(t, byEmail.Items, 1)
	assert.Equal(t, guest.ID, byEmail.Items[0].ID)

	pending := enums.OrderStatusPending
	all, err := svc.FindAll(context.Background(), Filters{Status: &pending}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 4)

	for query, expected := range map[string]uuid.UUID{
		"hopper":              guest.ID,
		"PAY_REF_B":           userOrders[1],
		guest.ID.String()[:8]: guest.ID,
		"GRACE@EXAMP":         guest.ID,
	} {
		found, err := svc.Search(context.Background(), query, pagination.Params{})
		require.NoError(t, err)
		require.Len(t, found.Items, 1, "query %q", query)
		assert.Equal(t, expected, found.Items[0].ID, "query %q", query)
	}

	_, err = svc.Search(context.Background(), "  ", pagination.Params{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestStatsExcludeCancelledAndRefunded(t *testing.T) {
	svc, client := newTestService(t)
	product := dbtest.SeedProduct(t, client, "desk", 50)

	amounts := []string{"10.00", "20.00", "35.50", "99.99"}
	var ids []uuid.UUID
	for _, amount := range amounts {
		order, err := svc.Create(context.Background(), nil, guestInput("stats@example.com", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price(amount)}))
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}
	_, err := svc.UpdateStatus(context.Background(), nil, ids[2], enums.OrderStatusCancelled, time.Now())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), nil, ids[3], enums.OrderStatusRefunded, time.Now())
	require.NoError(t, err)

	stats, err := svc.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalOrders)
	assert.True(t, stats.TotalRevenue.Equal(price("30")), "revenue %s", stats.TotalRevenue)
	assert.True(t, stats.AverageOrderValue.Equal(price("15")), "average %s", stats.AverageOrderValue)
	assert.Equal(t, int64(2), stats.CountsByStatus[enums.OrderStatusPending])
	assert.Equal(t, int64(1), stats.CountsByStatus[enums.OrderStatusCancelled])
	assert.Equal(t, int64(0), stats.CountsByStatus[enums.OrderStatusShipped])

	nobody := uuid.New()
	empty, err := svc.Stats(context.Background(), &nobody)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalOrders)
	assert.True(t, empty.AverageOrderValue.IsZero())
}

func TestListForFulfillmentPagesOldestFirst(t *testing.T) {
	svc, client := newTestService(t)
	product := dbtest.SeedProduct(t, client, "rug", 50)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		order, err := svc.Create(context.Background(), nil, guestInput("f@example.com", LineInput{ProductID: product.ID, Quantity: 1, UnitPrice: price("5")}))
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}

	first, err := svc.ListForFulfillment(context.Background(), FulfillmentQuery{Status: enums.OrderStatusPending, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[0], first[0].ID)

	last := first[len(first)-1]
	second, err := svc.ListForFulfillment(context.Background(), FulfillmentQuery{
		Status: enums.OrderStatusPending,
		Limit:  2,
		After:  &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, ids[2], second[0].ID)

	cutoff := time.Now().UTC().Add(-time.Hour)
	stale, err := svc.ListForFulfillment(context.Background(), FulfillmentQuery{Status: enums.OrderStatusPending, UpdatedBefore: &cutoff})
	require.NoError(t, err)
	assert.Empty(t, stale)
}
