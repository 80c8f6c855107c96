package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"attendance.client/internal/core"
	"attendance.client/internal/core/model"
	"attendance.client/internal/core/notice"
	"github.com/rs/zerolog/log"
)

// Reducer is the state holder the presentation layer drives.
type Reducer interface {
	State() model.ViewState
	ToggleClock() error
	CreateCompany(companyName, userName string) error
	JoinCompany(inviteCode, userName string) error
	DeleteAccount() error
	ClearNotices()
	SignOut()
	ReloadUser(ctx context.Context) error
}

// Session accepts identity tokens obtained from the identity provider.
type Session interface {
	SignIn(raw string) (*model.Identity, error)
	Refresh(raw string) (*model.Identity, error)
}

type AttendanceHandler struct {
	Service Reducer
	Session Session
}

type SessionRequest struct {
	Token string `json:"token"`
}

type CreateCompanyRequest struct {
	CompanyName string `json:"companyName"`
	UserName    string `json:"userName"`
}

type JoinCompanyRequest struct {
	InviteCode string `json:"inviteCode"`
	UserName   string `json:"userName"`
}

// StateResponse is the ViewState with notices rendered in the caller's language.
type StateResponse struct {
	SignedIn    bool   `json:"signedIn"`
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email,omitempty"`
	IsVerified  bool   `json:"isVerified"`
	UserName    string `json:"userName"`
	CompanyID   string `json:"companyId,omitempty"`
	CompanyName string `json:"companyName"`
	Role        string `json:"role,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
	IsClockedIn bool   `json:"isClockedIn"`
	IsBusy      bool   `json:"isBusy"`
	ErrorNotice string `json:"errorNotice,omitempty"`
	InfoNotice  string `json:"infoNotice,omitempty"`
}

func (h *AttendanceHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}

	if _, err := h.Session.SignIn(req.Token); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Sign-in rejected")
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	h.writeState(w, r, http.StatusOK)
}

// Reload swaps in a fresh token when one is given and re-reads the
// identity, e.g. after the email address was verified.
func (h *AttendanceHandler) Reload(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if req.Token != "" {
		if _, err := h.Session.Refresh(req.Token); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Token refresh rejected")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
	}

	if err := h.Service.ReloadUser(r.Context()); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Reload failed")
		http.Error(w, "Not signed in", http.StatusUnauthorized)
		return
	}
	h.writeState(w, r, http.StatusOK)
}

func (h *AttendanceHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.Service.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func (h *AttendanceHandler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, r, http.StatusOK)
}

func (h *AttendanceHandler) ClearNotices(w http.ResponseWriter, r *http.Request) {
	h.Service.ClearNotices()
	w.WriteHeader(http.StatusNoContent)
}

func (h *AttendanceHandler) ToggleClock(w http.ResponseWriter, r *http.Request) {
	h.accepted(w, r, h.Service.ToggleClock())
}

func (h *AttendanceHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.accepted(w, r, h.Service.CreateCompany(req.CompanyName, req.UserName))
}

func (h *AttendanceHandler) JoinCompany(w http.ResponseWriter, r *http.Request) {
	var req JoinCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.accepted(w, r, h.Service.JoinCompany(req.InviteCode, req.UserName))
}

func (h *AttendanceHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	h.accepted(w, r, h.Service.DeleteAccount())
}

// accepted answers an action that was started (202 with the busy state)
// or rejected before reaching the backend.
func (h *AttendanceHandler) accepted(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		h.writeState(w, r, http.StatusAccepted)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrSignedOut):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrBusy), errors.Is(err, core.ErrNoCompany):
		status = http.StatusConflict
	case errors.Is(err, core.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	log.Ctx(r.Context()).Debug().Err(err).Int("status", status).Msg("Action rejected")
	http.Error(w, err.Error(), status)
}

func (h *AttendanceHandler) writeState(w http.ResponseWriter, r *http.Request, status int) {
	tag := notice.Match(r.Header.Get("Accept-Language"))
	s := h.Service.State()

	resp := StateResponse{
		SignedIn:    s.Identity != nil,
		IsVerified:  s.IsVerified,
		UserName:    s.UserName,
		CompanyID:   s.CompanyID,
		CompanyName: s.CompanyName,
		Role:        s.Role,
		IsAdmin:     s.IsAdmin(),
		IsClockedIn: s.IsClockedIn,
		IsBusy:      s.IsBusy,
		ErrorNotice: s.ErrorNotice.Render(tag),
		InfoNotice:  s.InfoNotice.Render(tag),
	}
	if s.Identity != nil {
		resp.UID = s.Identity.UID
		resp.Email = s.Identity.Email
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write state")
	}
}
