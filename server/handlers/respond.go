// Package handlers implements the HTTP layer over the explorer packages.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/localsql/explorer/server/apierror"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := apierror.FromError(err)
	writeJSON(w, apierror.HTTPStatus(apiErr.Code), apiErr.ToResponse())
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.NewInvalidParameterError("body", "invalid JSON")
	}
	return nil
}
