package svc

import (
	"context"
	"fmt"
	"sync"

	"github.com/torantis/torenms/auth"
	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/model"
)

// Bootstrap states.
const (
	StateInitializing  BootState = "INITIALIZING"
	StateAuthCheck     BootState = "AUTH_CHECK"
	StateAuthenticated BootState = "AUTHENTICATED"
	StateAnonymous     BootState = "ANONYMOUS"
	StateReady         BootState = "READY"
	StateMaintenance   BootState = "MAINTENANCE"
)

var bootTransitions = map[BootState][]BootState{
	StateInitializing:  {StateAuthCheck},
	StateAuthCheck:     {StateAuthenticated, StateAnonymous, StateMaintenance},
	StateAuthenticated: {StateReady},
	StateAnonymous:     {StateReady},
}

type (
	// BootState is a state of the app bootstrap.
	BootState string

	// BootstrapCfg is used to initialize an instance of Bootstrap.
	BootstrapCfg struct {
		Log      log.Logger
		Store    store.Gateway
		Sessions *SessionStore
	}

	// Bootstrap populates the session from the app document and the signed in user.
	Bootstrap struct {
		log      log.Logger
		store    store.Gateway
		sessions *SessionStore

		mu    sync.Mutex
		state BootState
	}
)

// NewBootstrap creates and initializes a new instance of Bootstrap.
func NewBootstrap(c *BootstrapCfg) *Bootstrap {
	return &Bootstrap{
		log:      c.Log.With("component", "bootstrap"),
		store:    c.Store,
		sessions: c.Sessions,
		state:    StateInitializing,
	}
}

// State returns the current state.
func (b *Bootstrap) State() BootState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bootstrap) transition(to BootState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range bootTransitions[b.state] {
		if s == to {
			b.log.Debugf("transition(): %s -> %s", b.state, to)
			b.state = to
			return nil
		}
	}
	return fmt.Errorf("bootstrap: illegal transition %s -> %s", b.state, to)
}

// Run reads the app document once and, when email isn't empty, the user document. It stops at
// MAINTENANCE when the app is in maintenance mode, otherwise at READY.
func (b *Bootstrap) Run(ctx context.Context, email string) (BootState, error) {
	if err := b.transition(StateAuthCheck); err != nil {
		return b.State(), err
	}
	b.dispatch(SetIsLoading(true))
	defer b.dispatch(SetIsLoading(false))

	app, err := b.loadApp(ctx)
	if err != nil {
		b.dispatch(SetErrorApp(ErrorApp{IsError: true, Message: err.Error()}))
		return b.State(), err
	}
	b.dispatch(SetApp(app))

	if app.MaintenanceMode {
		if err := b.transition(StateMaintenance); err != nil {
			return b.State(), err
		}
		b.log.With("event", log.EventAppBootstrapped).Infof("state: %s", StateMaintenance)
		return StateMaintenance, nil
	}

	next := StateAnonymous
	if email != "" {
		u, err := b.loadUser(ctx, email)
		if err != nil {
			b.dispatch(SetErrorApp(ErrorApp{IsError: true, Message: err.Error()}))
			return b.State(), err
		}
		if u != nil {
			b.dispatch(SetCurrentUser(u))
			next = StateAuthenticated
		}
	}
	if err := b.transition(next); err != nil {
		return b.State(), err
	}
	if err := b.transition(StateReady); err != nil {
		return b.State(), err
	}

	b.log.With("event", log.EventAppBootstrapped).Infof("state: %s", StateReady)
	return StateReady, nil
}

// loadApp treats a missing app document as a default one.
func (b *Bootstrap) loadApp(ctx context.Context) (*model.App, error) {
	d, err := b.store.Get(ctx, store.App, model.AppID)
	if errors.IsNotFound(err) {
		b.log.Warnf("loadApp(): %s, using defaults", err)
		return &model.App{ID: model.AppID}, nil
	}
	if err != nil {
		return nil, err
	}
	return model.DecodeApp(d)
}

// loadUser returns nil when the user document doesn't exist.
func (b *Bootstrap) loadUser(ctx context.Context, email string) (*model.User, error) {
	d, err := b.store.Get(ctx, store.Users, auth.Key(email))
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.DecodeUser(d)
}

func (b *Bootstrap) dispatch(a Action) {
	if err := b.sessions.Dispatch(a); err != nil {
		b.log.Errorf("dispatch(): %s", err)
	}
}
