package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type orderCreator interface {
	CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error)
}

type checkoutRequest struct {
	Guest            *checkoutGuest        `json:"guest,omitempty"`
	Lines            []checkoutLineRequest `json:"lines"`
	ShippingAddress  types.Address         `json:"shippingAddress"`
	PaymentReference string                `json:"paymentReference" validate:"omitempty,max=200"`
}

type checkoutGuest struct {
	Email string `json:"email" validate:"required,email,max=320"`
	Name  string `json:"name" validate:"omitempty,max=200"`
}

type checkoutLineRequest struct {
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Checkout places an order from a cart snapshot. A bearer token makes the
// caller the payer; anonymous callers must supply guest details.
func Checkout(svc orderCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payer, err := payerFromRequest(r, payload.Guest)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := orders.CreateOrderInput{
			Payer:            payer,
			Lines:            make([]orders.LineInput, 0, len(payload.Lines)),
			ShippingAddress:  payload.ShippingAddress,
			PaymentReference: validators.SanitizeString(payload.PaymentReference, 200),
		}
		for _, line := range payload.Lines {
			input.Lines = append(input.Lines, orders.LineInput{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
		}

		order, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, orders.NewOrderView(*order))
	}
}

func payerFromRequest(r *http.Request, guest *checkoutGuest) (orders.Payer, error) {
	if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return orders.Payer{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
		}
		return orders.Payer{UserID: &userID}, nil
	}
	if guest == nil || strings.TrimSpace(guest.Email) == "" {
		return orders.Payer{}, pkgerrors.New(pkgerrors.CodeValidation, "guest details required for anonymous checkout").
			WithDetails(map[string]string{"guest": "is required"})
	}
	return orders.Payer{
		GuestEmail: strings.TrimSpace(guest.Email),
		GuestName:  validators.SanitizeString(guest.Name, 200),
	}, nil
}
