package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "bloodledger/pkg/domain-errors"
)

// statusByCode maps domain error codes to HTTP statuses. Codes not listed
// here are treated as internal faults.
var statusByCode = map[dErrors.Code]int{
	dErrors.CodeValidation:             http.StatusBadRequest,
	dErrors.CodeBadRequest:             http.StatusBadRequest,
	dErrors.CodeUnauthorized:           http.StatusUnauthorized,
	dErrors.CodeForbidden:              http.StatusForbidden,
	dErrors.CodeNotFound:               http.StatusNotFound,
	dErrors.CodeConflict:               http.StatusConflict,
	dErrors.CodeInsufficientStock:      http.StatusConflict,
	dErrors.CodeConcurrentModification: http.StatusConflict,
	dErrors.CodeInconsistentState:      http.StatusInternalServerError,
	dErrors.CodeInternal:               http.StatusInternalServerError,
}

// WriteError renders a domain error as JSON. Server-side faults omit the
// description so internals never leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		code = dErrors.CodeInternal
		status = http.StatusInternalServerError
	}

	body := map[string]string{"error": string(code)}
	if status < http.StatusInternalServerError {
		body["error_description"] = dErrors.MessageOf(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
