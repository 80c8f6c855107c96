package ports

import (
	"context"
	"errors"
	"fmt"

	"attendance.client/internal/core/model"
)

// IdentityProvider is the input port for authentication state.
type IdentityProvider interface {
	// OnAuthStateChanged registers fn and calls it with the current identity,
	// then again on every sign-in and sign-out. A nil identity means signed out.
	OnAuthStateChanged(fn func(*model.Identity)) (remove func())
	// Reload returns the latest known identity without notifying listeners.
	Reload(ctx context.Context) (*model.Identity, error)
	SignOut()
}

// ErrIndexRequired is reported by a feed whose query has no backing index.
var ErrIndexRequired = errors.New("query requires an index")

// Subscription is a live feed registration.
type Subscription interface {
	// Cancel detaches the feed. It never blocks and nothing is delivered afterwards.
	Cancel()
}

// DocumentFeeds delivers the full current value of a document or query on
// every change. Implementations deliver on their own goroutines and never
// call fn before Watch* has returned. A nil document means it does not exist.
type DocumentFeeds interface {
	WatchAccount(uid string, fn func(*model.Account, error)) Subscription
	WatchCompany(companyID string, fn func(*model.Company, error)) Subscription
	// WatchLatestAttendance follows the most recent record of uid in companyID.
	WatchLatestAttendance(uid, companyID string, fn func(*model.AttendanceRecord, error)) Subscription
}

// Functions is the output port for remote callable procedures.
type Functions interface {
	Call(ctx context.Context, name string, data any) error
}

// CallError is a failure reported by the callable backend itself.
type CallError struct {
	Status   string
	Message  string
	HTTPCode int
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("callable failed with status %s (%d)", e.Status, e.HTTPCode)
	}
	return fmt.Sprintf("callable failed with status %s: %s", e.Status, e.Message)
}
