package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"attendance.client/internal/api/handler"
	"attendance.client/internal/core"
	"attendance.client/internal/core/model"
	"attendance.client/internal/core/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReducer struct {
	state     model.ViewState
	actionErr error
	reloadErr error
	calls     []string
	args      []string
}

func (f *fakeReducer) State() model.ViewState { return f.state }

func (f *fakeReducer) ToggleClock() error {
	f.calls = append(f.calls, "toggle")
	return f.actionErr
}

func (f *fakeReducer) CreateCompany(companyName, userName string) error {
	f.calls = append(f.calls, "create")
	f.args = append(f.args, companyName, userName)
	return f.actionErr
}

func (f *fakeReducer) JoinCompany(inviteCode, userName string) error {
	f.calls = append(f.calls, "join")
	f.args = append(f.args, inviteCode, userName)
	return f.actionErr
}

func (f *fakeReducer) DeleteAccount() error {
	f.calls = append(f.calls, "delete")
	return f.actionErr
}

func (f *fakeReducer) ClearNotices() { f.calls = append(f.calls, "clear") }

func (f *fakeReducer) SignOut() { f.calls = append(f.calls, "signout") }

func (f *fakeReducer) ReloadUser(context.Context) error {
	f.calls = append(f.calls, "reload")
	return f.reloadErr
}

type fakeSession struct {
	err    error
	tokens []string
}

func (f *fakeSession) SignIn(raw string) (*model.Identity, error) {
	f.tokens = append(f.tokens, "signin:"+raw)
	return &model.Identity{UID: "u1"}, f.err
}

func (f *fakeSession) Refresh(raw string) (*model.Identity, error) {
	f.tokens = append(f.tokens, "refresh:"+raw)
	return &model.Identity{UID: "u1"}, f.err
}

func serve(t *testing.T, reducer *fakeReducer, session *fakeSession, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	NewRouter(reducer, session).ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) handler.StateResponse {
	t.Helper()
	var resp handler.StateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestGetStateRendersNotices(t *testing.T) {
	reducer := &fakeReducer{state: model.ViewState{
		Identity:    &model.Identity{UID: "u1", Email: "ann@example.com"},
		IsVerified:  true,
		UserName:    "Ann",
		CompanyID:   "C1",
		CompanyName: "Acme",
		Role:        model.RoleAdmin,
		IsClockedIn: true,
		InfoNotice:  notice.Message(notice.ClockedIn),
		ErrorNotice: notice.Text("backend says no"),
	}}

	rec := serve(t, reducer, &fakeSession{}, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeState(t, rec)
	assert.Equal(t, handler.StateResponse{
		SignedIn:    true,
		UID:         "u1",
		Email:       "ann@example.com",
		IsVerified:  true,
		UserName:    "Ann",
		CompanyID:   "C1",
		CompanyName: "Acme",
		Role:        model.RoleAdmin,
		IsAdmin:     true,
		IsClockedIn: true,
		ErrorNotice: "backend says no",
		InfoNotice:  "Clocked in",
	}, resp)

	rec = serve(t, reducer, &fakeSession{}, http.MethodGet, "/api/v1/state", "", "Accept-Language", "ja-JP,ja;q=0.9")
	assert.Equal(t, "出勤しました", decodeState(t, rec).InfoNotice)
}

func TestSignedOutState(t *testing.T) {
	rec := serve(t, &fakeReducer{}, &fakeSession{}, http.MethodGet, "/api/v1/state", "")
	resp := decodeState(t, rec)
	assert.False(t, resp.SignedIn)
	assert.Empty(t, resp.UID)
}

func TestActionStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		err    error
		status int
	}{
		{"toggle accepted", http.MethodPost, "/api/v1/attendance/toggle", "", nil, http.StatusAccepted},
		{"toggle busy", http.MethodPost, "/api/v1/attendance/toggle", "", core.ErrBusy, http.StatusConflict},
		{"toggle without company", http.MethodPost, "/api/v1/attendance/toggle", "", core.ErrNoCompany, http.StatusConflict},
		{"create accepted", http.MethodPost, "/api/v1/company", `{"companyName":"Acme","userName":"Ann"}`, nil, http.StatusAccepted},
		{"create invalid", http.MethodPost, "/api/v1/company", `{"companyName":"","userName":"Ann"}`, core.ErrInvalidInput, http.StatusBadRequest},
		{"create bad body", http.MethodPost, "/api/v1/company", `{`, nil, http.StatusBadRequest},
		{"join accepted", http.MethodPost, "/api/v1/company/join", `{"inviteCode":"ABCDEF","userName":"Ann"}`, nil, http.StatusAccepted},
		{"join signed out", http.MethodPost, "/api/v1/company/join", `{"inviteCode":"ABCDEF","userName":"Ann"}`, core.ErrSignedOut, http.StatusUnauthorized},
		{"delete accepted", http.MethodDelete, "/api/v1/account", "", nil, http.StatusAccepted},
		{"delete closed", http.MethodDelete, "/api/v1/account", "", core.ErrClosed, http.StatusServiceUnavailable},
		{"unknown failure", http.MethodDelete, "/api/v1/account", "", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeReducer{actionErr: tt.err}, &fakeSession{}, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestActionArgumentsReachReducer(t *testing.T) {
	reducer := &fakeReducer{}

	serve(t, reducer, &fakeSession{}, http.MethodPost, "/api/v1/company", `{"companyName":"Acme","userName":"Ann"}`)
	serve(t, reducer, &fakeSession{}, http.MethodPost, "/api/v1/company/join", `{"inviteCode":"abcdef","userName":"Bob"}`)

	assert.Equal(t, []string{"create", "join"}, reducer.calls)
	assert.Equal(t, []string{"Acme", "Ann", "abcdef", "Bob"}, reducer.args)
}

func TestSession(t *testing.T) {
	t.Run("sign in", func(t *testing.T) {
		session := &fakeSession{}
		rec := serve(t, &fakeReducer{}, session, http.MethodPost, "/api/v1/session", `{"token":"abc"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"signin:abc"}, session.tokens)
	})

	t.Run("sign in without token", func(t *testing.T) {
		rec := serve(t, &fakeReducer{}, &fakeSession{}, http.MethodPost, "/api/v1/session", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sign in rejected", func(t *testing.T) {
		rec := serve(t, &fakeReducer{}, &fakeSession{err: errors.New("expired")}, http.MethodPost, "/api/v1/session", `{"token":"abc"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("reload with token", func(t *testing.T) {
		session := &fakeSession{}
		reducer := &fakeReducer{}
		rec := serve(t, reducer, session, http.MethodPost, "/api/v1/session/reload", `{"token":"fresh"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"refresh:fresh"}, session.tokens)
		assert.Equal(t, []string{"reload"}, reducer.calls)
	})

	t.Run("reload without body", func(t *testing.T) {
		session := &fakeSession{}
		reducer := &fakeReducer{}
		rec := serve(t, reducer, session, http.MethodPost, "/api/v1/session/reload", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, session.tokens)
		assert.Equal(t, []string{"reload"}, reducer.calls)
	})

	t.Run("reload signed out", func(t *testing.T) {
		rec := serve(t, &fakeReducer{reloadErr: core.ErrSignedOut}, &fakeSession{}, http.MethodPost, "/api/v1/session/reload", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("sign out", func(t *testing.T) {
		reducer := &fakeReducer{}
		rec := serve(t, reducer, &fakeSession{}, http.MethodDelete, "/api/v1/session", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"signout"}, reducer.calls)
	})
}

func TestClearNoticesAndHealth(t *testing.T) {
	reducer := &fakeReducer{}
	rec := serve(t, reducer, &fakeSession{}, http.MethodPost, "/api/v1/notices/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"clear"}, reducer.calls)

	rec = serve(t, reducer, &fakeSession{}, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, reducer, &fakeSession{}, http.MethodGet, "/api/v1/attendance/toggle", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
