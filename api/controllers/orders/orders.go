package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/lifecycle"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type transitioner interface {
	Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor lifecycle.Actor) (*lifecycle.TransitionResult, error)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

type transitionResponse struct {
	Order   internalorders.OrderView `json:"order"`
	From    enums.OrderStatus        `json:"fromStatus"`
	To      enums.OrderStatus        `json:"toStatus"`
	Changed bool                     `json:"changed"`
}

// caller is the authenticated identity behind a request, if any.
type caller struct {
	userID   *uuid.UUID
	role     enums.ActorType
	operator bool
}

func callerFrom(r *http.Request) (caller, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return caller{}, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return caller{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	role := enums.ActorType(middleware.RoleFromContext(r.Context()))
	return caller{userID: &id, role: role, operator: role == enums.ActorTypeOperator}, nil
}

// owns reports whether the caller may see the order. Anonymous callers prove
// ownership of a guest order with the email it was placed under.
func (c caller) owns(order *models.Order, guestEmail string) bool {
	if c.operator {
		return true
	}
	if c.userID != nil {
		return order.UserID != nil && *order.UserID == *c.userID
	}
	if !order.IsGuestOrder || order.GuestEmail == nil {
		return false
	}
	email := strings.TrimSpace(guestEmail)
	return email != "" && strings.EqualFold(email, *order.GuestEmail)
}

func orderNotFound(orderID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").WithDetails(map[string]any{"orderId": orderID})
}

// Get returns one order with its lines.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		who, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseURLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.FindByID(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !who.owns(order, r.URL.Query().Get("email")) {
			responses.WriteError(r.Context(), logg, w, orderNotFound(orderID))
			return
		}

		responses.WriteSuccess(w, internalorders.NewOrderView(*order))
	}
}

// List pages orders newest first. Customers only ever see their own orders;
// operators may filter, or search with q.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		who, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if who.userID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		var page *internalorders.Page
		switch {
		case !who.operator:
			page, err = svc.FindByUserID(r.Context(), *who.userID, params)
		case strings.TrimSpace(r.URL.Query().Get("q")) != "":
			page, err = svc.Search(r.Context(), validators.SanitizeString(r.URL.Query().Get("q"), 200), params)
		default:
			var filters listFilters
			filters, err = buildFilters(r)
			if err != nil {
				break
			}
			if filters.onlyGuestEmail() {
				page, err = svc.FindByGuestEmail(r.Context(), filters.GuestEmail, params)
				break
			}
			page, err = svc.FindAll(r.Context(), filters.Filters, params)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, internalorders.NewPageView(page))
	}
}

type listFilters struct {
	internalorders.Filters
}

func (f listFilters) onlyGuestEmail() bool {
	return f.GuestEmail != "" && f.Status == nil && f.UserID == nil && f.DateFrom == nil && f.DateTo == nil
}

func buildFilters(r *http.Request) (listFilters, error) {
	var out listFilters
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(strings.ToUpper(raw))
		if err != nil {
			return out, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"})
		}
		out.Status = &status
	}

	userID, err := validators.ParseQueryUUID(r, "userId")
	if err != nil {
		return out, err
	}
	out.UserID = userID

	out.GuestEmail = validators.SanitizeString(q.Get("guestEmail"), 320)

	if out.DateFrom, err = validators.ParseQueryTime(r, "from"); err != nil {
		return out, err
	}
	if out.DateTo, err = validators.ParseQueryTime(r, "to"); err != nil {
		return out, err
	}
	if out.DateFrom != nil && out.DateTo != nil && out.DateTo.Before(*out.DateFrom) {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from")
	}
	return out, nil
}

// UpdateShippingAddress replaces the address of a PENDING order.
func UpdateShippingAddress(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		who, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseURLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload types.Address
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !who.operator {
			existing, err := svc.FindByID(r.Context(), orderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if !who.owns(existing, "") {
				responses.WriteError(r.Context(), logg, w, orderNotFound(orderID))
				return
			}
		}

		order, err := svc.UpdateShippingAddress(r.Context(), orderID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(*order))
	}
}

// Transition moves an order to the requested status. Customers may only
// cancel their own orders.
func Transition(svc internalorders.Service, engine transitioner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service unavailable"))
			return
		}

		who, err := callerFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if who.userID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		orderID, err := validators.ParseURLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(payload.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
				WithDetails(map[string]any{"field": "status"}))
			return
		}

		actor := lifecycle.Actor{Type: enums.ActorTypeOperator, ID: who.userID.String()}
		if !who.operator {
			if target != enums.OrderStatusCancelled {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "customers may only cancel orders"))
				return
			}
			existing, err := svc.FindByID(r.Context(), orderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if !who.owns(existing, "") {
				responses.WriteError(r.Context(), logg, w, orderNotFound(orderID))
				return
			}
			actor.Type = enums.ActorTypeCustomer
		}

		result, err := engine.Transition(r.Context(), orderID, target, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, transitionResponse{
			Order:   internalorders.NewOrderView(*result.Order),
			From:    result.From,
			To:      result.To,
			Changed: result.Changed,
		})
	}
}

// Stats reports order volume and revenue, optionally for one user.
func Stats(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := validators.ParseQueryUUID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stats, err := svc.Stats(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
