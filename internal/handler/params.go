package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// chatIDParam reads the required chat_id query parameter. On failure it has
// already written the error response.
func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("chat_id")
	if raw == "" {
		http.Error(w, `{"error":"chat_id required"}`, http.StatusBadRequest)
		return 0, false
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || chatID == 0 {
		http.Error(w, `{"error":"invalid chat_id"}`, http.StatusBadRequest)
		return 0, false
	}
	return chatID, true
}

func alertIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, `{"error":"invalid alert id"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
