package api

import (
	"encoding/json"
	"net/http"
)

// Success writes data as a JSON response with statusCode, the success-path
// counterpart to internal/errors.WriteJSON's error-path rendering. Grounded
// on the teacher's pkg/api/helpers.go Success/Error pair, trimmed to the
// success half since error rendering now goes through the shared taxonomy.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
