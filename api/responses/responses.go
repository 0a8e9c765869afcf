package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as an error envelope. Client errors (4xx) carry the
// error's own message; server errors only ever show the public message for
// their code. Untyped errors become INTERNAL_ERROR.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	clientError := meta.HTTPStatus < http.StatusInternalServerError

	payload := types.ErrorEnvelope{
		Error: types.ErrorBody{
			Code:      string(typed.Code()),
			Message:   meta.PublicMessage,
			RequestID: w.Header().Get(types.RequestIDHeader),
		},
	}
	if m := typed.Message(); clientError && m != "" {
		payload.Error.Message = m
	}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	if logg != nil {
		fields := pkgerrors.Dump(err).Fields()
		fields["error_code"] = string(typed.Code())
		fields["status"] = meta.HTTPStatus
		ctx = logg.WithFields(ctx, fields)
		if clientError {
			logg.Warn(ctx, "request.rejected")
		} else {
			logg.Error(ctx, "request.error", err)
		}
	}

	writeJSONLogged(ctx, logg, w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSONLogged(context.Background(), nil, w, status, payload)
}

func writeJSONLogged(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; a failed encode can only be logged.
	if err := json.NewEncoder(w).Encode(payload); err != nil && logg != nil {
		logg.Error(ctx, "failed to encode response", err)
	}
}
