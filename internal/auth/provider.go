package auth

import (
	"context"
	"errors"
	"sync"

	"attendance.client/internal/core/model"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotSignedIn     = errors.New("not signed in")
	ErrSubjectMismatch = errors.New("token belongs to a different user")
)

// Provider keeps the signed-in identity of this client and tells listeners
// whenever it changes.
type Provider struct {
	key []byte

	// notifyMu keeps listener notifications in the order the changes happened.
	notifyMu sync.Mutex

	mu        sync.Mutex
	identity  *model.Identity
	token     string
	listeners map[int]func(*model.Identity)
	nextID    int
}

func NewProvider(signingKey []byte) *Provider {
	return &Provider{
		key:       signingKey,
		listeners: make(map[int]func(*model.Identity)),
	}
}

// OnAuthStateChanged calls fn with the current identity and after every
// sign-in or sign-out. Listeners must not sign in or out synchronously.
func (p *Provider) OnAuthStateChanged(fn func(*model.Identity)) (remove func()) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.identity
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SignIn verifies raw and makes its identity the current one.
func (p *Provider) SignIn(raw string) (*model.Identity, error) {
	identity, err := Verify(p.key, raw)
	if err != nil {
		return nil, err
	}

	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.identity = identity
	p.token = raw
	fns := p.listenersLocked()
	p.mu.Unlock()

	log.Info().Str("uid", identity.UID).Msg("Signed in")
	for _, fn := range fns {
		fn(identity)
	}
	return identity, nil
}

// SignOut forgets the current identity. It is a no-op when nobody is signed in.
func (p *Provider) SignOut() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if p.identity == nil {
		p.mu.Unlock()
		return
	}
	uid := p.identity.UID
	p.identity = nil
	p.token = ""
	fns := p.listenersLocked()
	p.mu.Unlock()

	log.Info().Str("uid", uid).Msg("Signed out")
	for _, fn := range fns {
		fn(nil)
	}
}

// Refresh replaces the token of the signed-in user, e.g. after the email
// address was verified. Listeners are not notified.
func (p *Provider) Refresh(raw string) (*model.Identity, error) {
	identity, err := Verify(p.key, raw)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return nil, ErrNotSignedIn
	}
	if p.identity.UID != identity.UID {
		return nil, ErrSubjectMismatch
	}
	p.identity = identity
	p.token = raw
	return identity, nil
}

// Reload returns the latest identity of the signed-in user.
func (p *Provider) Reload(_ context.Context) (*model.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return nil, ErrNotSignedIn
	}
	return p.identity, nil
}

// Token returns the raw token of the signed-in user, or "" when signed out.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *Provider) listenersLocked() []func(*model.Identity) {
	fns := make([]func(*model.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	return fns
}
