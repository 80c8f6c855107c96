package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attendance.client/internal/core/model"
	"attendance.client/internal/ports/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu         sync.Mutex
	accounts   map[string]*model.Account
	companies  map[string]*model.Company
	attendance map[string]*model.AttendanceRecord
	err        error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		accounts:   make(map[string]*model.Account),
		companies:  make(map[string]*model.Company),
		attendance: make(map[string]*model.AttendanceRecord),
	}
}

func (f *fakeReader) GetAccount(_ context.Context, uid string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[uid], f.err
}

func (f *fakeReader) GetCompany(_ context.Context, companyID string) (*model.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companies[companyID], f.err
}

func (f *fakeReader) FindLatestAttendance(_ context.Context, uid, companyID string) (*model.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attendance[uid+"/"+companyID], f.err
}

func (f *fakeReader) set(fn func(*fakeReader)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type accountUpdate struct {
	acct *model.Account
	err  error
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func assertNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchAccountDeliversInitialSnapshotAndChanges(t *testing.T) {
	reader := newFakeReader()
	reader.accounts["u1"] = &model.Account{UserName: "Ann"}
	hub := NewHub(reader)
	defer hub.Close()

	updates := make(chan accountUpdate, 4)
	sub := hub.WatchAccount("u1", func(acct *model.Account, err error) {
		updates <- accountUpdate{acct, err}
	})
	defer sub.Cancel()

	first := receive(t, updates)
	require.NoError(t, first.err)
	assert.Equal(t, "Ann", first.acct.UserName)

	reader.set(func(f *fakeReader) {
		f.accounts["u1"] = &model.Account{UserName: "Ann", CompanyID: "C1", Role: model.RoleUser}
	})
	n := hub.Notify(context.Background(), messaging.ChangeEvent{Collection: messaging.CollectionUsers, DocumentID: "u1"})
	assert.Equal(t, 1, n)

	second := receive(t, updates)
	assert.Equal(t, "C1", second.acct.CompanyID)

	// Another user's change does not touch this feed
	assert.Equal(t, 0, hub.Notify(context.Background(), messaging.ChangeEvent{Collection: messaging.CollectionUsers, DocumentID: "u2"}))
	assertNothing(t, updates)
}

func TestWatchAccountReportsMissingDocumentAndErrors(t *testing.T) {
	reader := newFakeReader()
	hub := NewHub(reader)
	defer hub.Close()

	updates := make(chan accountUpdate, 4)
	hub.WatchAccount("u1", func(acct *model.Account, err error) {
		updates <- accountUpdate{acct, err}
	})

	missing := receive(t, updates)
	assert.NoError(t, missing.err)
	assert.Nil(t, missing.acct)

	reader.set(func(f *fakeReader) { f.err = errors.New("connection refused") })
	hub.Notify(context.Background(), messaging.ChangeEvent{Collection: messaging.CollectionUsers, DocumentID: "u1"})

	failed := receive(t, updates)
	assert.EqualError(t, failed.err, "connection refused")
}

func TestCancelStopsDeliveries(t *testing.T) {
	reader := newFakeReader()
	reader.companies["C1"] = &model.Company{ID: "C1", Name: "Acme"}
	hub := NewHub(reader)
	defer hub.Close()

	names := make(chan string, 4)
	sub := hub.WatchCompany("C1", func(c *model.Company, err error) {
		names <- c.Name
	})
	assert.Equal(t, "Acme", receive(t, names))

	sub.Cancel()
	sub.Cancel()

	assert.Equal(t, 0, hub.Notify(context.Background(), messaging.ChangeEvent{Collection: messaging.CollectionCompanies, DocumentID: "C1"}))
	assertNothing(t, names)
}

func TestWatchLatestAttendanceKeyedByUserAndCompany(t *testing.T) {
	reader := newFakeReader()
	hub := NewHub(reader)
	defer hub.Close()

	types := make(chan *model.AttendanceRecord, 4)
	hub.WatchLatestAttendance("u1", "C1", func(rec *model.AttendanceRecord, err error) {
		types <- rec
	})
	assert.Nil(t, receive(t, types))

	reader.set(func(f *fakeReader) {
		f.attendance["u1/C1"] = &model.AttendanceRecord{UID: "u1", CompanyID: "C1", Type: model.ClockIn}
	})

	// Same user in another company
	hub.Notify(context.Background(), messaging.ChangeEvent{Collection: messaging.CollectionAttendance, DocumentID: "7", UID: "u1", CompanyID: "C2"})
	assertNothing(t, types)

	hub.Notify(context.Background(), messaging.ChangeEvent{Collection: messaging.CollectionAttendance, DocumentID: "8", UID: "u1", CompanyID: "C1"})
	rec := receive(t, types)
	require.NotNil(t, rec)
	assert.Equal(t, model.ClockIn, rec.Type)
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		event messaging.ChangeEvent
		key   string
		ok    bool
	}{
		{messaging.ChangeEvent{Collection: messaging.CollectionUsers, DocumentID: "u1"}, "users/u1", true},
		{messaging.ChangeEvent{Collection: messaging.CollectionCompanies, DocumentID: "C1"}, "companies/C1", true},
		{messaging.ChangeEvent{Collection: messaging.CollectionAttendance, UID: "u1", CompanyID: "C1"}, "attendance/u1/C1", true},
		{messaging.ChangeEvent{Collection: messaging.CollectionAttendance, UID: "u1"}, "", false},
		{messaging.ChangeEvent{Collection: messaging.CollectionUsers}, "", false},
		{messaging.ChangeEvent{Collection: "invoices", DocumentID: "i1"}, "", false},
	}
	for _, tt := range tests {
		key, ok := keyFor(tt.event)
		assert.Equal(t, tt.ok, ok, "%+v", tt.event)
		assert.Equal(t, tt.key, key)
	}
}

func TestCloseCancelsEverything(t *testing.T) {
	reader := newFakeReader()
	hub := NewHub(reader)

	updates := make(chan accountUpdate, 4)
	hub.WatchAccount("u1", func(acct *model.Account, err error) {
		updates <- accountUpdate{acct, err}
	})
	receive(t, updates)

	hub.Close()

	assert.Equal(t, 0, hub.Notify(context.Background(), messaging.ChangeEvent{Collection: messaging.CollectionUsers, DocumentID: "u1"}))
	assertNothing(t, updates)
}
