package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"modelpass/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a JSON request body.
const maxRequestBodySize = 1 << 20 // 1 MB

// errCodeValidationInvalidJSON is specific to the HTTP layer.
const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

// APIErrorResponse is the body of every error response.
type APIErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// JSON writes data with the given status. If marshalling fails it falls back
// to a 500 error body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error:     "failed to marshal response",
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: types.GetRequestID(r.Context()),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an APIErrorResponse. AppErrors choose the status from
// their code; anything else becomes a 500 whose message is not exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	ErrorWithStatus(w, r, 0, err)
}

// ErrorWithStatus is Error with the HTTP status forced to status when it is
// non-zero.
func ErrorWithStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if status == 0 {
			status = appErr.HTTPStatus()
		}
		JSON(w, r, status, APIErrorResponse{
			Error:     appErr.Message,
			Code:      string(appErr.Code),
			Details:   appErr.Details,
			RequestID: requestID,
		})
		return
	}

	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSON(w, r, status, APIErrorResponse{
		Error:     "an unexpected error occurred",
		Code:      string(types.ErrCodeInternalUnexpected),
		RequestID: requestID,
	})
}

// DecodeJSON reads a single JSON object from the request body into dst,
// rejecting unknown fields and bodies over 1 MB. Failures are
// validation_invalid_json AppErrors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not exceed 1MB", err)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppError(errCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewAppErrorWithDetails(errCodeValidationInvalidJSON, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	}

	if strings.HasPrefix(err.Error(), "json: unknown field") {
		return types.NewAppError(errCodeValidationInvalidJSON,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	}

	if errors.Is(err, io.EOF) {
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not be empty", err)
	}

	return types.NewAppError(errCodeValidationInvalidJSON, "invalid JSON in request body", err)
}
