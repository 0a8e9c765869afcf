package inventory

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	internalinventory "github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const maxBulkUpdates = 500

type adjustRequest struct {
	Delta      int    `json:"delta"`
	ChangeType string `json:"changeType" validate:"omitempty,max=32"`
	Reason     string `json:"reason" validate:"required,max=500"`
}

type restockRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason" validate:"omitempty,max=500"`
}

type bulkSetRequest struct {
	Updates []internalinventory.BulkUpdate `json:"updates" validate:"required,min=1,max=500"`
	Reason  string                         `json:"reason" validate:"omitempty,max=500"`
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
}

// Summary reports stock totals. The threshold query overrides the configured default.
func Summary(svc internalinventory.Service, defaultThreshold int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg)
			return
		}

		threshold, err := validators.ParseQueryInt(r, "threshold", defaultThreshold, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Summary(r.Context(), threshold)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// History pages the adjustment log newest first.
func History(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg)
			return
		}

		filters, err := historyFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.History(r.Context(), filters, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func historyFilters(r *http.Request) (internalinventory.HistoryFilters, error) {
	var filters internalinventory.HistoryFilters
	var err error

	if filters.ProductID, err = validators.ParseQueryUUID(r, "productId"); err != nil {
		return filters, err
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("changeType")); raw != "" {
		changeType, err := enums.ParseInventoryChangeType(strings.ToUpper(raw))
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid changeType").WithDetails(map[string]any{"field": "changeType"})
		}
		filters.ChangeType = &changeType
	}
	if filters.DateFrom, err = validators.ParseQueryTime(r, "from"); err != nil {
		return filters, err
	}
	if filters.DateTo, err = validators.ParseQueryTime(r, "to"); err != nil {
		return filters, err
	}
	return filters, nil
}

// Adjust applies a signed manual correction. Stock never drops below zero;
// the recorded delta is the one actually applied.
func Adjust(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg)
			return
		}

		productID, err := validators.ParseURLParamUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var changeType enums.InventoryChangeType
		if raw := strings.TrimSpace(payload.ChangeType); raw != "" {
			changeType, err = enums.ParseInventoryChangeType(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid changeType").
					WithDetails(map[string]any{"field": "changeType"}))
				return
			}
		}

		adjustment, err := svc.ManualAdjust(r.Context(), internalinventory.AdjustInput{
			ProductID:  productID,
			Delta:      payload.Delta,
			ChangeType: changeType,
			Reason:     validators.SanitizeString(payload.Reason, 500),
			ActorID:    middleware.UserIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, adjustment)
	}
}

// Restock adds received units to a product.
func Restock(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg)
			return
		}

		productID, err := validators.ParseURLParamUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		adjustment, err := svc.Restock(r.Context(), productID, payload.Quantity,
			validators.SanitizeString(payload.Reason, 500), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, adjustment)
	}
}

// BulkSet sets absolute stock levels. Items fail independently; the response
// lists every item that was skipped.
func BulkSet(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg)
			return
		}

		var payload bulkSetRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(payload.Updates) > maxBulkUpdates {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "too many updates").
				WithDetails(map[string]any{"max": maxBulkUpdates}))
			return
		}

		result, err := svc.BulkSet(r.Context(), payload.Updates,
			validators.SanitizeString(payload.Reason, 500), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Availability reports whether a product can cover the requested quantity.
func Availability(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg)
			return
		}

		productID, err := validators.ParseURLParamUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quantity, err := validators.ParseQueryInt(r, "quantity", 1, 1, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		availability, err := svc.Availability(r.Context(), productID, quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, availability)
	}
}
