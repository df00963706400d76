package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"clustercard.org/internal/blob"
	"clustercard.org/internal/cohort"
	"clustercard.org/internal/obs"
	"clustercard.org/internal/vcard"
)

type statusResponse struct {
	Success bool `json:"success"`
	cohort.Status
}

type joinRequest struct {
	ClusterID         string `json:"cluster_id"`
	UserID            string `json:"user_id"`
	DisplayProfession bool   `json:"display_profession"`
}

type leaveRequest struct {
	ClusterID string `json:"cluster_id"`
	UserID    string `json:"user_id"`
}

type trackDownloadRequest struct {
	ClusterID string `json:"cluster_id"`
	UserID    string `json:"user_id"`
}

type resetRequest struct {
	ClusterID string `json:"cluster_id"`
	CohortID  string `json:"cohort_id"`
}

func (a *API) cohortStatus(w http.ResponseWriter, r *http.Request) {
	clusterID := strings.TrimSpace(r.URL.Query().Get("cluster_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if clusterID == "" {
		writeError(w, r, http.StatusBadRequest, "cluster_id is required")
		return
	}

	st, err := a.registry.Status(r.Context(), clusterID, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// A cohort stuck in full_pending_exchange means an earlier generation
	// failed; any status poll retries it.
	if st.State == cohort.StateFullPending {
		if retried, err := a.exchange.EnsureArtifact(r.Context(), clusterID, userID); err != nil {
			a.log.Warn("artifact generation retry failed",
				zap.String("cluster_id", clusterID), zap.Error(err))
		} else {
			st = retried
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: st})
}

func (a *API) joinCluster(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ClusterID = strings.TrimSpace(req.ClusterID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ClusterID == "" || req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "cluster_id and user_id are required")
		return
	}

	st, err := a.registry.Join(r.Context(), req.ClusterID, req.UserID, req.DisplayProfession)
	if err != nil {
		switch {
		case errors.Is(err, cohort.ErrAlreadyMember):
			obs.JoinsTotal.WithLabelValues("duplicate").Inc()
		case errors.Is(err, cohort.ErrClusterFull):
			obs.JoinsTotal.WithLabelValues("full").Inc()
		default:
			obs.JoinsTotal.WithLabelValues("error").Inc()
		}
		handleDomainError(w, r, err)
		return
	}
	obs.JoinsTotal.WithLabelValues("ok").Inc()

	// The join that fills the cohort triggers artifact generation. Failure is
	// not fatal for the join itself; the cohort stays full_pending_exchange
	// and status polls retry.
	if st.State == cohort.StateFullPending {
		if generated, err := a.exchange.EnsureArtifact(r.Context(), req.ClusterID, req.UserID); err != nil {
			a.log.Error("artifact generation failed",
				zap.String("cluster_id", req.ClusterID),
				zap.String("cohort_id", st.CohortID),
				zap.Error(err))
		} else {
			st = generated
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: st})
}

func (a *API) leaveCluster(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ClusterID = strings.TrimSpace(req.ClusterID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ClusterID == "" || req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "cluster_id and user_id are required")
		return
	}

	st, err := a.registry.Leave(r.Context(), req.ClusterID, req.UserID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: st})
}

func (a *API) clusterStats(w http.ResponseWriter, r *http.Request) {
	clusterID := strings.TrimSpace(r.URL.Query().Get("cluster_id"))
	viewerCountry := strings.TrimSpace(r.URL.Query().Get("user_country"))
	if clusterID == "" {
		writeError(w, r, http.StatusBadRequest, "cluster_id is required")
		return
	}

	st, err := a.registry.Status(r.Context(), clusterID, "")
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	members, err := a.exchange.MemberProfiles(r.Context(), clusterID, st.CohortID)
	if err != nil {
		a.log.Error("load member profiles", zap.String("cluster_id", clusterID), zap.Error(err))
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"cluster_name":   st.ClusterName,
		"cohort_id":      st.CohortID,
		"cohort_members": members,
		"cluster_stats":  cohort.ComputeStats(members, viewerCountry),
	})
}

func (a *API) trackDownload(w http.ResponseWriter, r *http.Request) {
	var req trackDownloadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ClusterID = strings.TrimSpace(req.ClusterID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ClusterID == "" || req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "cluster_id and user_id are required")
		return
	}

	count, err := a.registry.TrackDownload(r.Context(), req.ClusterID, req.UserID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.DownloadsTracked.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"vcf_download_count": count,
	})
}

func (a *API) downloadContacts(w http.ResponseWriter, r *http.Request) {
	fileName := strings.TrimSpace(r.URL.Query().Get("file_name"))
	clusterID := strings.TrimSpace(r.URL.Query().Get("cluster_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

	switch {
	case fileName != "":
		if _, ok := vcard.ParseFileName(fileName); !ok {
			writeError(w, r, http.StatusBadRequest, "malformed file name")
			return
		}
	case clusterID != "" && userID != "":
		st, err := a.registry.Status(r.Context(), clusterID, userID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if !st.UserIsMember {
			writeError(w, r, http.StatusForbidden, "not a member of this cluster")
			return
		}
		if !st.VCFUploaded || st.VCFFileName == "" {
			writeError(w, r, http.StatusConflict, "contact exchange is not ready yet")
			return
		}
		fileName = st.VCFFileName
	default:
		writeError(w, r, http.StatusBadRequest, "file_name or cluster_id and user_id are required")
		return
	}

	data, contentType, err := a.blobs.Get(r.Context(), fileName)
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		a.log.Error("artifact download", zap.String("file", fileName), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if contentType == "" {
		contentType = "text/vcard; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) resetCluster(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ClusterID = strings.TrimSpace(req.ClusterID)
	req.CohortID = strings.TrimSpace(req.CohortID)
	if req.ClusterID == "" || req.CohortID == "" {
		writeError(w, r, http.StatusBadRequest, "cluster_id and cohort_id are required")
		return
	}

	removed, err := a.registry.Reset(r.Context(), req.ClusterID, req.CohortID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if removed != "" {
		if err := a.blobs.Delete(r.Context(), removed); err != nil && !errors.Is(err, blob.ErrNotFound) {
			a.log.Warn("delete reset artifact", zap.String("file", removed), zap.Error(err))
		}
	}
	a.log.Info("cluster reset",
		zap.String("cluster_id", req.ClusterID),
		zap.String("cohort_id", req.CohortID))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
