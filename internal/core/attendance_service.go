package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"attendance.client/internal/core/model"
	"attendance.client/internal/core/notice"
	"attendance.client/internal/ports"
	"attendance.client/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// Remote procedures the service invokes.
const (
	FnRecordAttendance        = "recordAttendance"
	FnCreateCompany           = "createCompany"
	FnJoinCompany             = "joinCompany"
	FnDeleteAccountAndCompany = "deleteAccountAndCompany"
)

// MinInviteCodeLength is the shortest invite code JoinCompany accepts.
const MinInviteCodeLength = 6

var (
	ErrBusy         = errors.New("another action is in progress")
	ErrNoCompany    = errors.New("user has not joined a company")
	ErrInvalidInput = errors.New("invalid input")
	ErrSignedOut    = errors.New("not signed in")
	ErrClosed       = errors.New("attendance service is closed")
)

type recordAttendanceRequest struct {
	Type      model.AttendanceType `json:"type"`
	CompanyID string               `json:"companyId"`
}

type createCompanyRequest struct {
	CompanyName string `json:"companyName"`
	UserName    string `json:"userName"`
}

type joinCompanyRequest struct {
	InviteCode string `json:"inviteCode"`
	UserName   string `json:"userName"`
}

type Option func(*AttendanceService)

// WithCallTimeout bounds every remote procedure call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *AttendanceService) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// feedSlot is an open feed and the generation it was opened with. A delivery
// is applied only while its generation still occupies the slot.
type feedSlot struct {
	sub ports.Subscription
	gen uint64
}

func (f *feedSlot) cancel() {
	if f.sub != nil {
		f.sub.Cancel()
	}
	*f = feedSlot{}
}

// AttendanceService owns the ViewState of one client. Feed deliveries,
// action completions and caller operations all mutate it under mu.
type AttendanceService struct {
	identity    ports.IdentityProvider
	feeds       ports.DocumentFeeds
	functions   ports.Functions
	callTimeout time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	inflight   sync.WaitGroup
	removeAuth func()

	mu    sync.Mutex
	state model.ViewState
	// epoch changes on every reset; completions of older actions are dropped.
	epoch uint64
	// deleting is set while deleteAccountAndCompany runs; the account
	// document disappearing then is the expected outcome.
	deleting   bool
	gen        uint64
	account    feedSlot
	company    feedSlot
	attendance feedSlot
	watchers   map[chan model.ViewState]struct{}
	closed     bool
}

// NewAttendanceService builds the service and registers it with the
// identity provider. Close releases everything it opened.
func NewAttendanceService(identity ports.IdentityProvider, feeds ports.DocumentFeeds, functions ports.Functions, opts ...Option) *AttendanceService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &AttendanceService{
		identity:    identity,
		feeds:       feeds,
		functions:   functions,
		callTimeout: 10 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
		watchers:    make(map[chan model.ViewState]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.removeAuth = identity.OnAuthStateChanged(s.onAuthStateChanged)
	return s
}

// State returns the current snapshot.
func (s *AttendanceService) State() model.ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Watch streams snapshots, starting with the current one. A slow reader
// only sees the latest state. The channel is closed when ctx ends or the
// service is closed.
func (s *AttendanceService) Watch(ctx context.Context) <-chan model.ViewState {
	ch := make(chan model.ViewState, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- s.state
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
	}()
	return ch
}

// ToggleClock flips IsClockedIn right away and records the new state
// remotely. A failed call restores the previous value.
func (s *AttendanceService) ToggleClock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActionLocked(); err != nil {
		return err
	}
	if !s.state.HasCompany() {
		return ErrNoCompany
	}

	prev := s.state.IsClockedIn
	target := !prev
	kind := model.ClockIn
	if prev {
		kind = model.ClockOut
	}
	companyID := s.state.CompanyID

	s.state.IsClockedIn = target
	s.runLocked(FnRecordAttendance, recordAttendanceRequest{Type: kind, CompanyID: companyID}, func(err error) bool {
		// A company switch in the meantime already reset the clock state.
		if s.state.CompanyID == companyID {
			if err != nil {
				s.state.IsClockedIn = prev
			} else {
				s.state.IsClockedIn = target
			}
		}
		if err != nil {
			s.state.ErrorNotice = failureNotice(err, notice.RecordAttendanceFailed)
			return false
		}
		if target {
			s.state.InfoNotice = notice.Message(notice.ClockedIn)
		} else {
			s.state.InfoNotice = notice.Message(notice.ClockedOut)
		}
		return false
	})
	return nil
}

// CreateCompany creates a company administered by the current user.
func (s *AttendanceService) CreateCompany(companyName, userName string) error {
	companyName = strings.TrimSpace(companyName)
	userName = strings.TrimSpace(userName)
	if companyName == "" || userName == "" {
		return fmt.Errorf("%w: company name and user name are required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActionLocked(); err != nil {
		return err
	}

	s.runLocked(FnCreateCompany, createCompanyRequest{CompanyName: companyName, UserName: userName}, func(err error) bool {
		if err != nil {
			s.state.ErrorNotice = failureNotice(err, notice.CreateCompanyFailed)
			return false
		}
		s.state.InfoNotice = notice.Message(notice.CompanyCreated)
		return false
	})
	return nil
}

// JoinCompany joins the company identified by inviteCode. Codes are
// matched case-insensitively.
func (s *AttendanceService) JoinCompany(inviteCode, userName string) error {
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	userName = strings.TrimSpace(userName)
	if len(inviteCode) < MinInviteCodeLength {
		return fmt.Errorf("%w: invite code must have at least %d characters", ErrInvalidInput, MinInviteCodeLength)
	}
	if userName == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActionLocked(); err != nil {
		return err
	}

	s.runLocked(FnJoinCompany, joinCompanyRequest{InviteCode: inviteCode, UserName: userName}, func(err error) bool {
		if err != nil {
			s.state.ErrorNotice = failureNotice(err, notice.JoinCompanyFailed)
			return false
		}
		s.state.InfoNotice = notice.Message(notice.CompanyJoined)
		return false
	})
	return nil
}

// DeleteAccount deletes the account (and the company, for an admin) and
// signs out once the backend confirms.
func (s *AttendanceService) DeleteAccount() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActionLocked(); err != nil {
		return err
	}

	s.deleting = true
	s.runLocked(FnDeleteAccountAndCompany, nil, func(err error) bool {
		s.deleting = false
		if err != nil {
			s.state.ErrorNotice = failureNotice(err, notice.DeleteAccountFailed)
			if s.account.sub == nil {
				s.openAccountLocked(s.state.Identity.UID)
			}
			return false
		}
		s.state.InfoNotice = notice.Message(notice.AccountDeletionCompleted)
		// The account document is about to disappear; that is expected now.
		s.cancelFeedsLocked()
		return true
	})
	return nil
}

// ClearNotices drops both notices once the presentation layer showed them.
func (s *AttendanceService) ClearNotices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ErrorNotice == nil && s.state.InfoNotice == nil {
		return
	}
	s.state.ErrorNotice = nil
	s.state.InfoNotice = nil
	s.publishLocked()
}

// SignOut signs the user out. The state is reset when the identity
// provider reports the change.
func (s *AttendanceService) SignOut() {
	s.identity.SignOut()
}

// ReloadUser fetches the latest identity, e.g. after the user confirmed
// their email address, and recomputes IsVerified.
func (s *AttendanceService) ReloadUser(ctx context.Context) error {
	id, err := s.identity.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if id == nil || s.state.Identity == nil || s.state.Identity.UID != id.UID {
		return ErrSignedOut
	}
	s.state.Identity = id
	s.state.IsVerified = id.Verified()
	s.publishLocked()
	return nil
}

// Close stops listening for identity changes, cancels every feed and every
// outstanding call, and closes all Watch channels.
func (s *AttendanceService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelFeedsLocked()
	s.mu.Unlock()

	if s.removeAuth != nil {
		s.removeAuth()
	}
	s.cancel()
	s.inflight.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
}

func (s *AttendanceService) onAuthStateChanged(id *model.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if id == nil {
		if s.state.Identity != nil {
			log.Info().Str("uid", s.state.Identity.UID).Msg("Identity gone, resetting state")
		}
		s.resetLocked()
		s.publishLocked()
		return
	}

	if s.state.Identity == nil || s.state.Identity.UID != id.UID {
		s.resetLocked()
		s.state.Identity = id
		s.state.IsVerified = id.Verified()
		s.openAccountLocked(id.UID)
	} else {
		s.state.Identity = id
		s.state.IsVerified = id.Verified()
	}
	s.publishLocked()
}

func (s *AttendanceService) onAccount(gen uint64, acct *model.Account, err error) {
	s.mu.Lock()
	if s.closed || s.account.gen != gen {
		s.mu.Unlock()
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("uid", s.state.Identity.UID).Msg("Account feed failed")
		s.state.ErrorNotice = notice.Message(notice.AccountFetchFailed, err.Error())
		s.publishLocked()
		s.mu.Unlock()
		return
	}

	if acct == nil {
		if s.deleting {
			s.cancelFeedsLocked()
			s.mu.Unlock()
			return
		}
		if !s.state.HasCompany() {
			s.mu.Unlock()
			return
		}
		log.Warn().Str("uid", s.state.Identity.UID).Str("company_id", s.state.CompanyID).Msg("Account document disappeared, forcing sign-out")
		s.state.ErrorNotice = notice.Message(notice.AccountDeleted)
		s.cancelFeedsLocked()
		s.publishLocked()
		s.mu.Unlock()
		s.identity.SignOut()
		return
	}

	s.state.UserName = acct.UserName
	s.state.Role = acct.Role
	switch {
	case acct.CompanyID == "":
		s.closeCompanyFeedsLocked()
		s.state.CompanyID = ""
		s.state.CompanyName = ""
		s.state.IsClockedIn = false
	case acct.CompanyID != s.state.CompanyID || s.company.sub == nil:
		s.closeCompanyFeedsLocked()
		s.state.CompanyID = acct.CompanyID
		s.state.CompanyName = ""
		s.state.IsClockedIn = false
		s.openCompanyFeedsLocked(s.state.Identity.UID, acct.CompanyID)
	}
	s.publishLocked()
	s.mu.Unlock()
}

func (s *AttendanceService) onCompany(gen uint64, company *model.Company, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.company.gen != gen {
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("company_id", s.state.CompanyID).Msg("Company feed failed")
		s.state.ErrorNotice = notice.Message(notice.CompanyFetchFailed, err.Error())
		s.publishLocked()
		return
	}
	if company == nil {
		return
	}
	s.state.CompanyName = company.Name
	s.publishLocked()
}

func (s *AttendanceService) onAttendance(gen uint64, rec *model.AttendanceRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.attendance.gen != gen {
		return
	}

	if err != nil {
		log.Warn().Err(err).Str("company_id", s.state.CompanyID).Msg("Attendance feed failed")
		if isIndexRequired(err) {
			s.state.ErrorNotice = notice.Message(notice.AttendanceIndexRequired)
		} else {
			s.state.ErrorNotice = notice.Message(notice.AttendanceFetchFailed, err.Error())
		}
		s.publishLocked()
		return
	}
	if rec == nil {
		return
	}
	s.state.IsClockedIn = rec.Type == model.ClockIn
	s.publishLocked()
}

func (s *AttendanceService) checkActionLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.state.Identity == nil:
		return ErrSignedOut
	case s.state.IsBusy:
		return ErrBusy
	}
	return nil
}

// runLocked marks the service busy and calls name in the background.
// complete runs under mu with the call result unless the state was reset
// in between; returning true signs the user out afterwards.
func (s *AttendanceService) runLocked(name string, data any, complete func(err error) (signOut bool)) {
	epoch := s.epoch
	uid := s.state.Identity.UID
	s.state.IsBusy = true
	s.publishLocked()

	logger := log.With().Str("callable", name).Str("uid", uid).Logger()
	logger.Debug().Msg("Calling remote procedure")

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(telemetry.WithUID(s.ctx, uid), s.callTimeout)
		err := s.functions.Call(ctx, name, data)
		cancel()

		s.mu.Lock()
		if s.closed || s.epoch != epoch {
			s.mu.Unlock()
			logger.Debug().Err(err).Msg("Discarding result of a call made before the state was reset")
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Remote procedure failed")
		} else {
			logger.Info().Msg("Remote procedure succeeded")
		}
		s.state.IsBusy = false
		signOut := complete(err)
		s.publishLocked()
		s.mu.Unlock()

		if signOut {
			s.identity.SignOut()
		}
	}()
}

func (s *AttendanceService) nextGenLocked() uint64 {
	s.gen++
	return s.gen
}

func (s *AttendanceService) openAccountLocked(uid string) {
	gen := s.nextGenLocked()
	sub := s.feeds.WatchAccount(uid, func(acct *model.Account, err error) {
		s.onAccount(gen, acct, err)
	})
	s.account = feedSlot{sub: sub, gen: gen}
}

func (s *AttendanceService) openCompanyFeedsLocked(uid, companyID string) {
	companyGen := s.nextGenLocked()
	companySub := s.feeds.WatchCompany(companyID, func(company *model.Company, err error) {
		s.onCompany(companyGen, company, err)
	})
	s.company = feedSlot{sub: companySub, gen: companyGen}

	attendanceGen := s.nextGenLocked()
	attendanceSub := s.feeds.WatchLatestAttendance(uid, companyID, func(rec *model.AttendanceRecord, err error) {
		s.onAttendance(attendanceGen, rec, err)
	})
	s.attendance = feedSlot{sub: attendanceSub, gen: attendanceGen}
}

func (s *AttendanceService) closeCompanyFeedsLocked() {
	s.company.cancel()
	s.attendance.cancel()
}

func (s *AttendanceService) cancelFeedsLocked() {
	s.account.cancel()
	s.closeCompanyFeedsLocked()
}

// resetLocked discards everything but pending notices.
func (s *AttendanceService) resetLocked() {
	s.cancelFeedsLocked()
	s.state = s.state.Reset()
	s.deleting = false
	s.epoch++
}

func (s *AttendanceService) publishLocked() {
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state
	}
}

// failureNotice shows the backend's own message when it sent one.
func failureNotice(err error, fallback notice.Key) *notice.Notice {
	var callErr *ports.CallError
	if errors.As(err, &callErr) && callErr.Message != "" {
		return notice.Text(callErr.Message)
	}
	return notice.Message(fallback)
}

// isIndexRequired reports whether a query failed because the index it
// needs does not exist.
func isIndexRequired(err error) bool {
	return errors.Is(err, ports.ErrIndexRequired)
}
