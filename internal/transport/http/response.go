package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"receipt-scan-service/internal/entity"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeEvent writes one server-sent event named after the snapshot status and flushes it.
func writeEvent(w http.ResponseWriter, rc *http.ResponseController, snap entity.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", snap.Status, data); err != nil {
		return err
	}
	return rc.Flush()
}

func writeHeartbeat(w http.ResponseWriter, rc *http.ResponseController) error {
	if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
		return err
	}
	return rc.Flush()
}
