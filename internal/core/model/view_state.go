package model

import "attendance.client/internal/core/notice"

// ViewState is everything the presentation layer renders. It lives only in
// process memory and is rebuilt from the feeds after every sign-in.
type ViewState struct {
	Identity    *Identity
	IsVerified  bool
	UserName    string
	CompanyID   string // empty until the user has joined a company
	CompanyName string
	Role        string
	IsClockedIn bool
	IsBusy      bool

	ErrorNotice *notice.Notice
	InfoNotice  *notice.Notice
}

// HasCompany reports whether the user belongs to a company.
func (s ViewState) HasCompany() bool {
	return s.CompanyID != ""
}

// IsAdmin reports whether the user administers their company.
func (s ViewState) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// Reset returns the default state, carrying over any notice that has not
// been displayed yet.
func (s ViewState) Reset() ViewState {
	return ViewState{
		ErrorNotice: s.ErrorNotice,
		InfoNotice:  s.InfoNotice,
	}
}
