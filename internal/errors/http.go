package errors

import (
	"encoding/json"
	"net/http"
)

// StatusFor maps a Kind to its HTTP status class under this module's
// error propagation policy.
func StatusFor(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTierUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransportError:
		return http.StatusBadGateway
	case KindQueueOverflow:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the uniform JSON body every HTTP handler renders for
// a failed operation. Every response (success or failure) carries a
// timestamp.
type ErrorResponse struct {
	Timestamped
	Error struct {
		Kind    Kind   `json:"kind"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteJSON renders err as the uniform JSON error body, choosing the status
// code from its Kind (defaulting to 500 for errors outside the taxonomy).
func WriteJSON(w http.ResponseWriter, err error) {
	kind, ok := KindOf(err)
	if !ok {
		kind = KindInternal
	}
	resp := ErrorResponse{Timestamped: Now()}
	resp.Error.Kind = kind
	if ce, ok := asCoreError(err); ok {
		resp.Error.Code = ce.Code
		resp.Error.Message = ce.Message
	} else {
		resp.Error.Code = string(KindInternal)
		resp.Error.Message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(kind))
	_ = json.NewEncoder(w).Encode(resp)
}

func asCoreError(err error) (*CoreError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			return ce, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
