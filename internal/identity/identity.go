// Package identity supplies the signed-in user the ledgers scope their
// subscriptions by. The ledgers only need a stable identifier, a signed-in
// flag and a change feed to re-subscribe on.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type User struct {
	ID          string
	DisplayName string
	Anonymous   bool
}

// Change is emitted on every sign-in and sign-out. User is nil after
// sign-out.
type Change struct {
	User *User
}

type Provider interface {
	// CurrentUser returns the active user and whether anyone is signed in.
	CurrentUser() (User, bool)
	SignInAnonymously(ctx context.Context) (User, error)
	SignIn(ctx context.Context, name string) (User, error)
	SignOut(ctx context.Context) error
	// Changes delivers identity transitions. The channel is never closed
	// while the provider is in use; slow consumers drop events.
	Changes() <-chan Change
}

// SettingsStore persists the anonymous identifier so an anonymous session
// survives process restarts, the way a device-local credential would.
type SettingsStore interface {
	GetSetting(ctx context.Context, userID, key string) (string, bool, error)
	PutSetting(ctx context.Context, userID, key, value string) error
}

const (
	deviceScope     = "_device"
	anonymousIDKey  = "anonymous_user_id"
	changeBufferLen = 4
)

// LocalProvider is an in-process identity provider: anonymous sign-in mints a
// uuid (reused across restarts via the settings store), named sign-in derives
// a stable identifier from the name.
type LocalProvider struct {
	mu       sync.Mutex
	settings SettingsStore
	current  *User
	changes  chan Change
}

func NewLocalProvider(settings SettingsStore) *LocalProvider {
	return &LocalProvider{
		settings: settings,
		changes:  make(chan Change, changeBufferLen),
	}
}

func (p *LocalProvider) CurrentUser() (User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return User{}, false
	}
	return *p.current, true
}

func (p *LocalProvider) SignInAnonymously(ctx context.Context) (User, error) {
	id, ok, err := p.settings.GetSetting(ctx, deviceScope, anonymousIDKey)
	if err != nil {
		return User{}, fmt.Errorf("load anonymous id: %w", err)
	}
	if !ok {
		id = uuid.NewString()
		if err := p.settings.PutSetting(ctx, deviceScope, anonymousIDKey, id); err != nil {
			return User{}, fmt.Errorf("persist anonymous id: %w", err)
		}
	}

	user := User{ID: id, Anonymous: true}
	p.setCurrent(&user)
	slog.InfoContext(ctx, "Signed in anonymously", "user_id", id, "reused", ok)
	return user, nil
}

func (p *LocalProvider) SignIn(ctx context.Context, name string) (User, error) {
	if name == "" {
		return User{}, fmt.Errorf("sign in: empty name")
	}
	// Deterministic id so the same name always maps to the same ledger scope.
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
	user := User{ID: id, DisplayName: name}
	p.setCurrent(&user)
	slog.InfoContext(ctx, "Signed in", "user_id", id, "display_name", name)
	return user, nil
}

func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.setCurrent(nil)
	slog.InfoContext(ctx, "Signed out")
	return nil
}

func (p *LocalProvider) Changes() <-chan Change {
	return p.changes
}

func (p *LocalProvider) setCurrent(user *User) {
	p.mu.Lock()
	p.current = user
	p.mu.Unlock()

	select {
	case p.changes <- Change{User: user}:
	default:
		slog.Warn("Identity change dropped, consumer too slow")
	}
}
