package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attendance.client/internal/auth"
	"attendance.client/internal/core"
	"attendance.client/internal/core/model"
	"attendance.client/internal/ports/messaging"
	"attendance.client/internal/ports/repository"
	"attendance.client/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Store is the write side of the document store the callables run against.
type Store interface {
	CreateCompany(ctx context.Context, uid, companyName, userName string) (*model.Company, error)
	JoinCompany(ctx context.Context, uid, inviteCode, userName string) (*model.Company, error)
	RecordAttendance(ctx context.Context, uid, companyID string, kind model.AttendanceType, at time.Time) (*model.AttendanceRecord, error)
	DeleteAccountAndCompany(ctx context.Context, uid string) (*repository.Deletion, error)
}

type ChangePublisher interface {
	PublishChange(ctx context.Context, event messaging.ChangeEvent) error
}

// Backend serves the callable protocol: POST /{name} with {"data": ...},
// answered by {"result": ...} or {"error": {"status", "message"}}.
type Backend struct {
	store      Store
	changes    ChangePublisher
	signingKey []byte
	now        func() time.Time
}

func NewBackend(store Store, changes ChangePublisher, signingKey []byte) *Backend {
	return &Backend{
		store:      store,
		changes:    changes,
		signingKey: signingKey,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (b *Backend) Routes(r *mux.Router) {
	r.HandleFunc("/dev/token", b.issueToken).Methods(http.MethodPost)
	r.HandleFunc("/{name}", b.call).Methods(http.MethodPost)
}

type apiError struct {
	code    int
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (e *apiError) Error() string { return e.Status + ": " + e.Message }

func invalidArgument(msg string) *apiError {
	return &apiError{code: http.StatusBadRequest, Status: "INVALID_ARGUMENT", Message: msg}
}

func toAPIError(err error) *apiError {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, repository.ErrInvalidInviteCode):
		return &apiError{code: http.StatusNotFound, Status: "NOT_FOUND", Message: "Invite code not found"}
	case errors.Is(err, repository.ErrAccountNotFound):
		return &apiError{code: http.StatusNotFound, Status: "NOT_FOUND", Message: "Account not found"}
	case errors.Is(err, repository.ErrAlreadyMember):
		return &apiError{code: http.StatusConflict, Status: "ALREADY_EXISTS", Message: "You already belong to a company"}
	case errors.Is(err, repository.ErrNotMember):
		return &apiError{code: http.StatusForbidden, Status: "PERMISSION_DENIED", Message: "You do not belong to this company"}
	}
	return &apiError{code: http.StatusInternalServerError, Status: "INTERNAL"}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *apiError) {
	writeJSON(w, err.code, map[string]any{"error": err})
}

func (b *Backend) call(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	id, err := auth.Verify(b.signingKey, raw)
	if err != nil {
		writeError(w, &apiError{code: http.StatusUnauthorized, Status: "UNAUTHENTICATED", Message: "The request has no valid identity token"})
		return
	}

	var req struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidArgument("Invalid request body"))
		return
	}

	ctx := telemetry.WithUID(r.Context(), id.UID)
	logger := log.Ctx(ctx).With().Str("callable", name).Str("uid", id.UID).Logger()

	var events []messaging.ChangeEvent
	switch name {
	case core.FnRecordAttendance:
		events, err = b.recordAttendance(ctx, id.UID, req.Data)
	case core.FnCreateCompany:
		events, err = b.createCompany(ctx, id.UID, req.Data)
	case core.FnJoinCompany:
		events, err = b.joinCompany(ctx, id.UID, req.Data)
	case core.FnDeleteAccountAndCompany:
		events, err = b.deleteAccountAndCompany(ctx, id.UID)
	default:
		writeError(w, &apiError{code: http.StatusNotFound, Status: "NOT_FOUND", Message: "Unknown function " + name})
		return
	}
	if err != nil {
		ae := toAPIError(err)
		if ae.code >= http.StatusInternalServerError {
			logger.Error().Err(err).Msg("Callable failed")
		} else {
			logger.Info().Err(err).Msg("Callable rejected")
		}
		writeError(w, ae)
		return
	}

	for _, event := range events {
		event.OccurredAt = b.now()
		if err := b.changes.PublishChange(ctx, event); err != nil {
			// The write is done; clients catch up on the next change.
			logger.Error().Err(err).Str("collection", event.Collection).Msg("Failed to publish change")
		}
	}
	logger.Info().Int("changes", len(events)).Msg("Callable succeeded")
	writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{}})
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return invalidArgument("Missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalidArgument("Malformed data")
	}
	return nil
}

func (b *Backend) recordAttendance(ctx context.Context, uid string, data json.RawMessage) ([]messaging.ChangeEvent, error) {
	var in struct {
		Type      model.AttendanceType `json:"type"`
		CompanyID string               `json:"companyId"`
	}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if in.Type != model.ClockIn && in.Type != model.ClockOut {
		return nil, invalidArgument("type must be clock_in or clock_out")
	}
	if in.CompanyID == "" {
		return nil, invalidArgument("companyId is required")
	}

	rec, err := b.store.RecordAttendance(ctx, uid, in.CompanyID, in.Type, b.now())
	if err != nil {
		return nil, err
	}
	return []messaging.ChangeEvent{{
		Collection: messaging.CollectionAttendance,
		DocumentID: strconv.FormatInt(rec.ID, 10),
		UID:        uid,
		CompanyID:  in.CompanyID,
	}}, nil
}

func (b *Backend) createCompany(ctx context.Context, uid string, data json.RawMessage) ([]messaging.ChangeEvent, error) {
	var in struct {
		CompanyName string `json:"companyName"`
		UserName    string `json:"userName"`
	}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.CompanyName) == "" || strings.TrimSpace(in.UserName) == "" {
		return nil, invalidArgument("companyName and userName are required")
	}

	company, err := b.store.CreateCompany(ctx, uid, in.CompanyName, in.UserName)
	if err != nil {
		return nil, err
	}
	return []messaging.ChangeEvent{
		{Collection: messaging.CollectionCompanies, DocumentID: company.ID},
		{Collection: messaging.CollectionUsers, DocumentID: uid, UID: uid, CompanyID: company.ID},
	}, nil
}

func (b *Backend) joinCompany(ctx context.Context, uid string, data json.RawMessage) ([]messaging.ChangeEvent, error) {
	var in struct {
		InviteCode string `json:"inviteCode"`
		UserName   string `json:"userName"`
	}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(in.InviteCode))
	if len(code) < core.MinInviteCodeLength || strings.TrimSpace(in.UserName) == "" {
		return nil, invalidArgument("inviteCode and userName are required")
	}

	company, err := b.store.JoinCompany(ctx, uid, code, in.UserName)
	if err != nil {
		return nil, err
	}
	return []messaging.ChangeEvent{
		{Collection: messaging.CollectionUsers, DocumentID: uid, UID: uid, CompanyID: company.ID},
	}, nil
}

func (b *Backend) deleteAccountAndCompany(ctx context.Context, uid string) ([]messaging.ChangeEvent, error) {
	deletion, err := b.store.DeleteAccountAndCompany(ctx, uid)
	if err != nil {
		return nil, err
	}

	events := make([]messaging.ChangeEvent, 0, len(deletion.DeletedUIDs)+1)
	for _, member := range deletion.DeletedUIDs {
		events = append(events, messaging.ChangeEvent{Collection: messaging.CollectionUsers, DocumentID: member, UID: member})
	}
	if deletion.CompanyDeleted {
		events = append(events, messaging.ChangeEvent{Collection: messaging.CollectionCompanies, DocumentID: deletion.CompanyID})
	}
	return events, nil
}

type tokenRequest struct {
	UID           string   `json:"uid"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"emailVerified"`
	Providers     []string `json:"providers"`
}

// issueToken mints identity tokens for local testing.
func (b *Backend) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidArgument("Invalid request body"))
		return
	}
	if req.UID == "" {
		req.UID = uuid.NewString()
	}
	if len(req.Providers) == 0 {
		req.Providers = []string{model.PasswordProvider}
	}

	token, err := auth.Issue(b.signingKey, model.Identity{
		UID:           req.UID,
		Email:         req.Email,
		EmailVerified: req.EmailVerified,
		Providers:     req.Providers,
	}, time.Hour)
	if err != nil {
		writeError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uid": req.UID, "token": token})
}
