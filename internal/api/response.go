package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/bgp-orchestrator/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeAPIError translates an apierr.Error (or any other error, treated as
// internal) into the wire shape: a conflict error carries its full
// structured conflict list, everything else a plain message.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}

	if apiErr.Kind == apierr.KindConflict {
		writeJSON(w, apiErr.HTTPStatus(), map[string]any{
			"message":        apiErr.Detail,
			"conflicts":      apiErr.Conflicts,
			"correlation_id": apiErr.CorrelationID,
		})
		return
	}

	writeJSON(w, apiErr.HTTPStatus(), map[string]string{
		"message":        apiErr.Detail,
		"correlation_id": apiErr.CorrelationID,
	})
}
