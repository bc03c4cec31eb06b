package monitor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenkeep/plantmonitor/internal/model"
)

// NewRouter exposes the session's plant operations and the usual
// operational endpoints. This is an ops surface, not a UI.
func NewRouter(m *Monitor) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		ready := m.cancel != nil
		m.mu.Unlock()
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/plants", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Plants())
	})

	r.Post("/plants", func(w http.ResponseWriter, r *http.Request) {
		var p model.Plant
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		created, err := m.AddPlant(r.Context(), p)
		if err != nil {
			httpError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	r.Get("/plants/{id}", func(w http.ResponseWriter, r *http.Request) {
		p, err := m.Plant(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	r.Patch("/plants/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body struct {
			Name *string `json:"name"`
			Settings
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		if body.Name != nil {
			if _, err := m.Rename(r.Context(), id, *body.Name); err != nil {
				httpError(w, statusFor(err), err)
				return
			}
		}
		updated, err := m.UpdateSettings(r.Context(), id, body.Settings)
		if err != nil {
			httpError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	})

	r.Delete("/plants/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := m.DeletePlant(r.Context(), chi.URLParam(r, "id")); err != nil {
			httpError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/plants/{id}/water", func(w http.ResponseWriter, r *http.Request) {
		if err := m.WaterNow(r.Context(), chi.URLParam(r, "id")); err != nil {
			httpError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/plants/{id}/light", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			On bool `json:"on"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		if err := m.SetLight(r.Context(), chi.URLParam(r, "id"), body.On); err != nil {
			httpError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadName), errors.Is(err, ErrNameTaken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
