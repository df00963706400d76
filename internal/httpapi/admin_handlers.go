package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"clustercard.org/internal/blob"
	"clustercard.org/internal/cohort"
)

type clusterRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Category string `json:"category,omitempty"`
}

type clusterResponse struct {
	Success bool `json:"success"`
	cohort.Cluster
}

func (a *API) listClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := a.registry.ListClusters(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"clusters": clusters,
	})
}

func (a *API) createCluster(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.registry.CreateCluster(r.Context(), cohort.Cluster{
		Name:     strings.TrimSpace(req.Name),
		Capacity: req.Capacity,
		Category: strings.TrimSpace(req.Category),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/admin/clusters/"+c.ID)
	writeJSON(w, http.StatusCreated, clusterResponse{Success: true, Cluster: c})
}

func (a *API) getCluster(w http.ResponseWriter, r *http.Request) {
	c, err := a.registry.GetCluster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clusterResponse{Success: true, Cluster: c})
}

func (a *API) updateCluster(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.registry.UpdateCluster(r.Context(), cohort.Cluster{
		ID:       chi.URLParam(r, "id"),
		Name:     strings.TrimSpace(req.Name),
		Capacity: req.Capacity,
		Category: strings.TrimSpace(req.Category),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clusterResponse{Success: true, Cluster: c})
}

func (a *API) deleteCluster(w http.ResponseWriter, r *http.Request) {
	removed, err := a.registry.DeleteCluster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if removed != "" {
		if err := a.blobs.Delete(r.Context(), removed); err != nil && err != blob.ErrNotFound {
			a.log.Warn("delete cluster artifact", zap.String("file", removed), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
