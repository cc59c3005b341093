package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/apperr"
)

const (
	maxBodyBytes = 1 << 20
	// retryAfter is sent with failures that left no partial state.
	retryAfter = "1"
)

var errBadBody = apperr.Validation("invalid_body", "malformed request body")

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindSignature:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody maps err to a status and body. Persistence and gateway failures
// get generic messages.
func errorBody(err error) (int, errorResponse) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	resp := errorResponse{Code: status, Error: apperr.CodeOf(err)}

	switch kind {
	case apperr.KindGateway:
		resp.Message = "payment could not be initiated, please retry"
	case apperr.KindPersistence, apperr.KindUnknown:
		resp.Error = "internal_error"
		resp.Message = "internal server error"
	case apperr.KindSignature:
		resp.Message = "invalid webhook signature"
	default:
		var e *apperr.Error
		if errors.As(err, &e) {
			resp.Message = e.Message
		}
	}
	return status, resp
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorBody(err)
	lg := zctx.From(r.Context())
	retryable := apperr.Retryable(err)
	if retryable {
		w.Header().Set("Retry-After", retryAfter)
	}
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed",
			zap.String("error_code", resp.Error),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
	} else {
		lg.Debug("Request rejected", zap.String("error_code", resp.Error), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeStatus(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errBadBody.With(err)
	}
	return nil
}

// money renders an amount as a JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func optMoney(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	m := money(d.Decimal)
	return &m
}
