package handlers

import (
	"encoding/json"
	"net/http"
)

// WriteJSON sends v as the JSON body of a response with the given
// status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError reports a failure in the {"error": message} shape the
// desktop UI's API client expects.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
