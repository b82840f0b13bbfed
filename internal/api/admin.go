package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felipepmaragno/tutor-gateway/internal/circuitbreaker"
	"github.com/felipepmaragno/tutor-gateway/internal/keypool"
	"github.com/felipepmaragno/tutor-gateway/internal/repository"
)

const defaultAttemptLimit = 50

// AdminHandler exposes the key pool, breaker states and the attempt log.
// Mount it behind auth.RequireAdmin.
type AdminHandler struct {
	keys     *keypool.Pool
	breakers *circuitbreaker.Set
	attempts repository.AttemptLog
	mux      *http.ServeMux
}

func NewAdminHandler(keys *keypool.Pool, breakers *circuitbreaker.Set, attempts repository.AttemptLog) *AdminHandler {
	h := &AdminHandler{
		keys:     keys,
		breakers: breakers,
		attempts: attempts,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /admin/keys", h.listKeys)
	h.mux.HandleFunc("POST /admin/keys/reset", h.resetKeys)
	h.mux.HandleFunc("GET /admin/breakers", h.listBreakers)
	h.mux.HandleFunc("GET /admin/sessions/{id}/attempts", h.listAttempts)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listKeys(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"keys":   h.keys.Masked(),
		"cursor": h.keys.Cursor(),
		"count":  h.keys.Len(),
	})
}

func (h *AdminHandler) resetKeys(w http.ResponseWriter, r *http.Request) {
	h.keys.Reset()
	slog.Info("key pool cursor reset")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"cursor": h.keys.Cursor()})
}

func (h *AdminHandler) listBreakers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"circuit_breakers": h.breakers.States(r.Context()),
	})
}

func (h *AdminHandler) listAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeAdminError(w, http.StatusNotFound, "attempt log disabled")
		return
	}

	limit := defaultAttemptLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeAdminError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	records, err := h.attempts.BySession(r.Context(), id, limit)
	if err != nil {
		slog.Error("failed to read attempt log", "session_id", id, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to read attempts")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"attempts": records,
		"count":    len(records),
	})
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
	})
}
