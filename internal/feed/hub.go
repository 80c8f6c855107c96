// Package feed turns document reads plus change notifications into live
// subscriptions: every subscriber receives the full current value when it
// subscribes and again whenever a change touching its key is reported.
package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"attendance.client/internal/core/model"
	"attendance.client/internal/ports"
	"attendance.client/internal/ports/messaging"
	"attendance.client/internal/ports/repository"
	"github.com/rs/zerolog/log"
)

// Hub implements ports.DocumentFeeds on top of a repository.DocumentReader.
type Hub struct {
	reader repository.DocumentReader

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

var _ ports.DocumentFeeds = (*Hub)(nil)

func NewHub(reader repository.DocumentReader) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		reader: reader,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

func accountKey(uid string) string {
	return messaging.CollectionUsers + "/" + uid
}

func companyKey(companyID string) string {
	return messaging.CollectionCompanies + "/" + companyID
}

func attendanceKey(uid, companyID string) string {
	return messaging.CollectionAttendance + "/" + uid + "/" + companyID
}

// keyFor maps a change event to the key of the feeds it affects.
func keyFor(event messaging.ChangeEvent) (string, bool) {
	switch event.Collection {
	case messaging.CollectionUsers:
		if event.DocumentID == "" {
			return "", false
		}
		return accountKey(event.DocumentID), true
	case messaging.CollectionCompanies:
		if event.DocumentID == "" {
			return "", false
		}
		return companyKey(event.DocumentID), true
	case messaging.CollectionAttendance:
		if event.UID == "" || event.CompanyID == "" {
			return "", false
		}
		return attendanceKey(event.UID, event.CompanyID), true
	}
	return "", false
}

func (h *Hub) WatchAccount(uid string, fn func(*model.Account, error)) ports.Subscription {
	return h.watch(accountKey(uid), func(ctx context.Context) func() {
		acct, err := h.reader.GetAccount(ctx, uid)
		return func() { fn(acct, err) }
	})
}

func (h *Hub) WatchCompany(companyID string, fn func(*model.Company, error)) ports.Subscription {
	return h.watch(companyKey(companyID), func(ctx context.Context) func() {
		company, err := h.reader.GetCompany(ctx, companyID)
		return func() { fn(company, err) }
	})
}

func (h *Hub) WatchLatestAttendance(uid, companyID string, fn func(*model.AttendanceRecord, error)) ports.Subscription {
	return h.watch(attendanceKey(uid, companyID), func(ctx context.Context) func() {
		rec, err := h.reader.FindLatestAttendance(ctx, uid, companyID)
		return func() { fn(rec, err) }
	})
}

// Notify redelivers every feed the event touches. It returns once all of
// them have been read and delivered.
func (h *Hub) Notify(ctx context.Context, event messaging.ChangeEvent) int {
	key, ok := keyFor(event)
	if !ok {
		log.Ctx(ctx).Warn().Str("collection", event.Collection).Str("document_id", event.DocumentID).Msg("Ignoring change event without a feed key")
		return 0
	}

	h.mu.Lock()
	targets := make([]*subscription, 0, len(h.subs[key]))
	for sub := range h.subs[key] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.refresh(ctx)
	}
	return len(targets)
}

// Close cancels every subscription and in-flight read.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for sub := range subs {
			sub.canceled.Store(true)
		}
	}
	h.subs = make(map[string]map[*subscription]struct{})
}

func (h *Hub) watch(key string, read func(ctx context.Context) func()) *subscription {
	sub := &subscription{hub: h, key: key, read: read}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscription]struct{})
	}
	h.subs[key][sub] = struct{}{}
	h.mu.Unlock()

	go sub.refresh(h.ctx)
	return sub
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[sub.key], sub)
	if len(h.subs[sub.key]) == 0 {
		delete(h.subs, sub.key)
	}
}

type subscription struct {
	hub  *Hub
	key  string
	read func(ctx context.Context) func()

	// deliverMu serializes read+deliver so values reach the subscriber in
	// the order they were read.
	deliverMu sync.Mutex
	canceled  atomic.Bool
}

func (s *subscription) refresh(ctx context.Context) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.canceled.Load() {
		return
	}
	deliver := s.read(ctx)
	if s.canceled.Load() || ctx.Err() != nil {
		return
	}
	deliver()
}

// Cancel detaches the subscription without waiting for a running delivery.
func (s *subscription) Cancel() {
	if s.canceled.Swap(true) {
		return
	}
	s.hub.remove(s)
}
