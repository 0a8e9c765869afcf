package inventory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	internalinventory "github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

type fixture struct {
	client *db.Client
	svc    internalinventory.Service
	logg   *logger.Logger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "inventory-controller-test", Level: zerolog.Disabled, Output: io.Discard})
	outboxSvc := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	svc, err := internalinventory.NewService(internalinventory.NewRepository(client.DB()), client, outboxSvc, logg)
	require.NoError(t, err)
	return fixture{client: client, svc: svc, logg: logg}
}

func operatorRequest(method, target, body string, params map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	ctx = middleware.WithUserID(ctx, "op-1")
	ctx = middleware.WithRole(ctx, string(enums.ActorTypeOperator))
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestAdjustClampsAndRecordsAppliedDelta(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.client, "kettle", 4)

	req := operatorRequest(http.MethodPost, "/", `{"delta":-10,"changeType":"damaged","reason":"water leak"}`, map[string]string{"productId": product.ID.String()})
	resp := httptest.NewRecorder()
	Adjust(f.svc, f.logg).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var adj models.InventoryAdjustment
	decodeData(t, resp, &adj)
	assert.Equal(t, -4, adj.QuantityDelta)
	assert.Equal(t, enums.InventoryChangeDamaged, adj.ChangeType)
	require.NotNil(t, adj.ActorID)
	assert.Equal(t, "op-1", *adj.ActorID)
	assert.Equal(t, 0, dbtest.Inventory(t, f.client, product.ID))
	assert.Equal(t, 0, dbtest.LedgerSum(t, f.client, product.ID))
}

func TestAdjustRejectsReservationTypesAndZeroDelta(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.client, "kettle", 4)
	params := map[string]string{"productId": product.ID.String()}

	resp := httptest.NewRecorder()
	Adjust(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"delta":1,"changeType":"ORDER_PLACED","reason":"x"}`, params))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	Adjust(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"delta":0,"reason":"x"}`, params))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeInvalidQuantity), errorCode(t, resp))

	resp = httptest.NewRecorder()
	Adjust(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"delta":1}`, params))
	assert.Equal(t, http.StatusBadRequest, resp.Code, "reason is required")

	assert.Equal(t, 4, dbtest.Inventory(t, f.client, product.ID))
}

func TestAdjustUnknownProduct(t *testing.T) {
	f := newFixture(t)
	resp := httptest.NewRecorder()
	Adjust(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"delta":1,"reason":"x"}`, map[string]string{"productId": uuid.NewString()}))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRestock(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.client, "tea", 1)

	resp := httptest.NewRecorder()
	Restock(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"quantity":9,"reason":"delivery"}`, map[string]string{"productId": product.ID.String()}))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, 10, dbtest.Inventory(t, f.client, product.ID))

	resp = httptest.NewRecorder()
	Restock(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"quantity":0}`, map[string]string{"productId": product.ID.String()}))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestBulkSetReportsPerItemErrors(t *testing.T) {
	f := newFixture(t)
	a := dbtest.SeedProduct(t, f.client, "a", 3)
	b := dbtest.SeedProduct(t, f.client, "b", 8)
	missing := uuid.New()

	body := `{"reason":"stocktake","updates":[` +
		`{"productId":"` + a.ID.String() + `","targetQuantity":10},` +
		`{"productId":"` + missing.String() + `","targetQuantity":1},` +
		`{"productId":"` + b.ID.String() + `","targetQuantity":-1}]}`

	resp := httptest.NewRecorder()
	BulkSet(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/api/v1/inventory/bulk-set", body, nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var result internalinventory.BulkSetResult
	decodeData(t, resp, &result)
	assert.Equal(t, 1, result.UpdatedCount)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, missing, result.Errors[0].ProductID)
	assert.Equal(t, string(pkgerrors.CodeNotFound), result.Errors[0].Code)
	assert.Equal(t, b.ID, result.Errors[1].ProductID)

	assert.Equal(t, 10, dbtest.Inventory(t, f.client, a.ID))
	assert.Equal(t, 8, dbtest.Inventory(t, f.client, b.ID))
}

func TestBulkSetRequiresUpdates(t *testing.T) {
	f := newFixture(t)
	resp := httptest.NewRecorder()
	BulkSet(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"updates":[]}`, nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSummaryUsesThresholdQuery(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedProduct(t, f.client, "empty", 0)
	dbtest.SeedProduct(t, f.client, "low", 3)
	dbtest.SeedProduct(t, f.client, "plenty", 40)

	resp := httptest.NewRecorder()
	Summary(f.svc, 0, f.logg).ServeHTTP(resp, operatorRequest(http.MethodGet, "/api/v1/inventory/summary?threshold=10", "", nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var summary internalinventory.Summary
	decodeData(t, resp, &summary)
	assert.Equal(t, int64(3), summary.TotalProducts)
	assert.Equal(t, int64(1), summary.LowStockProducts)
	assert.Equal(t, int64(1), summary.OutOfStockProducts)
	assert.Equal(t, int64(43), summary.TotalUnitsInStock)
}

func TestHistoryFiltersByProductAndType(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.client, "pen", 5)
	other := dbtest.SeedProduct(t, f.client, "ink", 5)
	_, err := f.svc.Restock(context.Background(), product.ID, 2, "delivery", "op-1")
	require.NoError(t, err)
	_, err = f.svc.Restock(context.Background(), other.ID, 2, "delivery", "op-1")
	require.NoError(t, err)

	url := "/api/v1/inventory/history?changeType=restock&productId=" + product.ID.String()
	resp := httptest.NewRecorder()
	History(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodGet, url, "", nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var page internalinventory.HistoryPage
	decodeData(t, resp, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, product.ID, page.Items[0].ProductID)
	assert.Equal(t, enums.InventoryChangeRestock, page.Items[0].ChangeType)

	resp = httptest.NewRecorder()
	History(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodGet, "/api/v1/inventory/history?changeType=LOST", "", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.client, "cup", 2)
	params := map[string]string{"productId": product.ID.String()}

	resp := httptest.NewRecorder()
	Availability(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodGet, "/?quantity=3", "", params))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var availability internalinventory.Availability
	decodeData(t, resp, &availability)
	assert.False(t, availability.Sufficient)
	assert.Equal(t, 2, availability.Available)

	resp = httptest.NewRecorder()
	Availability(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodGet, "/?quantity=2", "", params))
	decodeData(t, resp, &availability)
	assert.True(t, availability.Sufficient)

	resp = httptest.NewRecorder()
	Availability(f.svc, f.logg).ServeHTTP(resp, operatorRequest(http.MethodGet, "/?quantity=0", "", params))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
