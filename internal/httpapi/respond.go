// Package httpapi wires admission, the inference worker, the lifecycle
// manager, retrieval, and the embeddings delegate into the HTTP surface
// clients and operators talk to.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the shape of every non-2xx JSON response.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Field   string `json:"field,omitempty"`
	} `json:"error"`
}

// respondError maps err to its HTTP status via [apperr.StatusFor] and
// writes a JSON body naming the error kind, field (if any), and a safe
// message. Errors that are not an [*apperr.Error] are reported as a
// generic internal error, never exposing their raw text.
func respondError(w http.ResponseWriter, err error) {
	status := apperr.StatusFor(err)
	body := errorBody{}
	if ae, ok := apperr.As(err); ok {
		body.Error.Kind = string(ae.Kind)
		body.Error.Message = ae.Message
		body.Error.Field = ae.Field
	} else {
		body.Error.Kind = "internal_error"
		body.Error.Message = "an internal error occurred"
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "request body is not valid JSON", err)
	}
	return nil
}
