package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/kbkonsulting/Safe2Tow/internal/payments"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/autodev"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/httpx"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/requestctx"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
	"go.uber.org/zap"
)

const maxJSONBodySize = 256 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// writeServiceError maps service, core and platform errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var (
		plateErr *autodev.APIError
		httpErr  httpx.Error
	)
	switch {
	case errors.As(err, &httpErr):
		httpx.WriteError(ctx, w, httpErr)
	case errors.Is(err, towing.ErrInvalidQuery):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", trimPrefix(err), http.StatusBadRequest))
	case errors.Is(err, towing.ErrBackendUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("backend_unavailable", "the towing advisor is unavailable, please try again", http.StatusServiceUnavailable))
	case errors.Is(err, towing.ErrMalformedResponse):
		httpx.WriteError(ctx, w, httpx.NewError("malformed_response", "the towing advisor returned an unreadable answer, please try again", http.StatusBadGateway))
	case errors.Is(err, towing.ErrUnrecognizedVehicle):
		httpx.WriteError(ctx, w, httpx.NewError("unrecognized_vehicle", "the vehicle could not be recognized, check the year, make and model", http.StatusUnprocessableEntity))
	case errors.Is(err, towing.ErrExtractionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("extraction_not_found", "could not read a VIN or vehicle, try a clearer image", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", trimPrefix(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrProRequired):
		httpx.WriteError(ctx, w, httpx.NewError("pro_required", "this feature requires a Pro membership", http.StatusForbidden))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user profile not found", http.StatusNotFound))
	case errors.Is(err, services.ErrFeatureDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("feature_disabled", "this operation is disabled", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentsUnavailable), errors.Is(err, payments.ErrNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are not configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrPaymentNotCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_completed", "the payment has not completed for this account", http.StatusPaymentRequired))
	case errors.Is(err, payments.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPlateDecodingUnavailable), errors.Is(err, autodev.ErrPlateDecoderNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("plate_decoding_unavailable", "license plate decoding is not available", http.StatusServiceUnavailable))
	case errors.As(err, &plateErr):
		httpx.WriteError(ctx, w, httpx.NewError("plate_decoder_error", plateErr.Message, http.StatusBadGateway))
	case errors.Is(err, pagination.ErrInvalidPageSize):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_page_size", err.Error(), http.StatusBadRequest))
	case errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_page_token", "pageToken is invalid", http.StatusBadRequest))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "the request timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_canceled", "the request was canceled", 499))
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "an unexpected error occurred", http.StatusInternalServerError))
	}
}

// trimPrefix drops the "pkg: sentinel: " chain so clients see the specific reason.
func trimPrefix(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 && idx+2 < len(msg) {
		return msg[idx+2:]
	}
	return msg
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a bounded JSON body into dst, writing the error response itself.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxJSONBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		} else {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}
