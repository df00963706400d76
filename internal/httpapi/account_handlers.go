package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"clustercard.org/internal/profile"
)

type waitlistRequest struct {
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	Nickname     string   `json:"nickname"`
	WhatsApp     string   `json:"whatsapp"`
	Age          *int     `json:"age,omitempty"`
	Country      string   `json:"country,omitempty"`
	Gender       string   `json:"gender,omitempty"`
	Profession   string   `json:"profession,omitempty"`
	LookingFor   []string `json:"looking_for,omitempty"`
	AvailableFor []string `json:"available_for,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// waitlist creates the auth account and the profile. The two stores are
// independent services with no shared transaction, so a failed profile insert
// is compensated by deleting the freshly created account.
func (a *API) waitlist(w http.ResponseWriter, r *http.Request) {
	var req waitlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	if strings.TrimSpace(req.Nickname) == "" {
		writeError(w, r, http.StatusBadRequest, "nickname is required")
		return
	}

	acc, err := a.accounts.CreateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	p := &profile.Profile{
		UserID:       acc.ID,
		Nickname:     strings.TrimSpace(req.Nickname),
		Email:        acc.Email,
		WhatsApp:     strings.TrimSpace(req.WhatsApp),
		Age:          req.Age,
		Country:      strings.TrimSpace(req.Country),
		Gender:       strings.TrimSpace(req.Gender),
		Profession:   strings.TrimSpace(req.Profession),
		LookingFor:   req.LookingFor,
		AvailableFor: req.AvailableFor,
	}
	if err := a.profiles.Create(r.Context(), p); err != nil {
		// Compensating delete; the account must not outlive a failed signup.
		if delErr := a.accounts.DeleteUser(r.Context(), acc.ID); delErr != nil {
			a.log.Error("signup rollback failed",
				zap.String("user_id", acc.ID), zap.Error(delErr))
		}
		handleDomainError(w, r, err)
		return
	}

	a.log.Info("waitlist signup", zap.String("user_id", acc.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"user_id": acc.ID,
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	acc, err := a.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	roles := []string{"user"}
	if a.isAdminEmail(acc.Email) {
		roles = append(roles, "admin")
	}
	token, err := a.tokens.Generate(acc.ID, roles, tokenTTL)
	if err != nil {
		a.log.Error("issue token", zap.String("user_id", acc.ID), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": acc.ID,
		"token":   token,
	})
}

// secureData serves the referral leaderboard to authenticated users.
func (a *API) secureData(w http.ResponseWriter, r *http.Request) {
	entries, err := a.profiles.Leaderboard(r.Context(), 100)
	if err != nil {
		a.log.Error("leaderboard read", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"leaderboard": entries,
	})
}
