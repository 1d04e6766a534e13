// The node agent's lightweight resource-provider management endpoint
// (health, capabilities, resource start/stop/patch), built on
// go-chi/chi/v5 and kept separate from the orchestrator's heavier
// labstack/echo control plane since agents run on constrained nodes
// (SPEC_FULL.md "Domain stack").
package agent

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"edgeless/internal/model"
)

// Router builds the agent's chi-based management surface.
func (a *Agent) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", a.handleHealth)
	r.Get("/capabilities", a.handleCapabilities)
	r.Post("/resources/{providerId}", a.handleStartResource)
	r.Delete("/resources/{providerId}/{resourceId}", a.handleStopResource)
	r.Patch("/resources/{providerId}/{resourceId}", a.handlePatchResource)
	return r
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Health())
}

func (a *Agent) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.capabilities)
}

func (a *Agent) handleStartResource(w http.ResponseWriter, r *http.Request) {
	providerId := chi.URLParam(r, "providerId")
	var body struct {
		ResourceId    string            `json:"resource_id"`
		Configuration map[string]string `json:"configuration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resourceId, err := parseComponentId(body.ResourceId)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.StartResourceInstance(r.Context(), providerId, resourceId, body.Configuration); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *Agent) handleStopResource(w http.ResponseWriter, r *http.Request) {
	providerId := chi.URLParam(r, "providerId")
	resourceId, err := parseComponentId(chi.URLParam(r, "resourceId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.StopResourceInstance(r.Context(), providerId, resourceId); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handlePatchResource(w http.ResponseWriter, r *http.Request) {
	providerId := chi.URLParam(r, "providerId")
	resourceId, err := parseComponentId(chi.URLParam(r, "resourceId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var configuration map[string]string
	if err := json.NewDecoder(r.Body).Decode(&configuration); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.PatchResourceInstance(r.Context(), providerId, resourceId, configuration); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseComponentId(s string) (model.ComponentId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return model.ComponentId{}, err
	}
	return model.ComponentId(u), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
