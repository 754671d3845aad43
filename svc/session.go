package svc

import (
	"context"
	"fmt"
	"sync"

	"github.com/torantis/torenms/store/model"
)

// Session actions. Each one fully replaces its slice of the session.
const (
	ActionSetApp         ActionType = "SET_APP"
	ActionSetCurrentUser ActionType = "SET_CURRENT_USER"
	ActionSetIsLoading   ActionType = "SET_IS_LOADING"
	ActionSetErrorApp    ActionType = "SET_ERROR_APP"
)

type (
	// ActionType names a session update.
	ActionType string

	// Action is a session update carrying the new value of one slice.
	Action struct {
		Type    ActionType
		Payload interface{}
	}

	// ErrorApp is an app-wide error flag shown instead of the regular content.
	ErrorApp struct {
		IsError bool   `json:"isError"`
		Message string `json:"message"`
	}

	// Session is an immutable view of the authenticated user and the app-wide flags.
	Session struct {
		App         *model.App  `json:"appState"`
		CurrentUser *model.User `json:"currentUser"`
		IsLoading   bool        `json:"isLoading"`
		ErrorApp    ErrorApp    `json:"errorApp"`
	}

	// SessionStore holds the current session and applies actions to it.
	SessionStore struct {
		mu sync.RWMutex
		s  Session
	}

	sessionKey struct{}
)

// SetApp .
func SetApp(a *model.App) Action { return Action{Type: ActionSetApp, Payload: a} }

// SetCurrentUser .
func SetCurrentUser(u *model.User) Action { return Action{Type: ActionSetCurrentUser, Payload: u} }

// SetIsLoading .
func SetIsLoading(v bool) Action { return Action{Type: ActionSetIsLoading, Payload: v} }

// SetErrorApp .
func SetErrorApp(e ErrorApp) Action { return Action{Type: ActionSetErrorApp, Payload: e} }

// Reduce returns the session with the action applied. The given session is left untouched.
func Reduce(s Session, a Action) (Session, error) {
	switch a.Type {
	case ActionSetApp:
		v, ok := a.Payload.(*model.App)
		if !ok {
			return s, payloadError(a)
		}
		s.App = v
	case ActionSetCurrentUser:
		v, ok := a.Payload.(*model.User)
		if !ok {
			return s, payloadError(a)
		}
		s.CurrentUser = v
	case ActionSetIsLoading:
		v, ok := a.Payload.(bool)
		if !ok {
			return s, payloadError(a)
		}
		s.IsLoading = v
	case ActionSetErrorApp:
		v, ok := a.Payload.(ErrorApp)
		if !ok {
			return s, payloadError(a)
		}
		s.ErrorApp = v
	default:
		return s, fmt.Errorf("unhandled action type: %s", a.Type)
	}
	return s, nil
}

func payloadError(a Action) error {
	return fmt.Errorf("action %s: unexpected payload %T", a.Type, a.Payload)
}

// NewSessionStore creates a new instance of SessionStore holding s.
func NewSessionStore(s Session) *SessionStore {
	return &SessionStore{s: s}
}

// Dispatch applies the action.
func (st *SessionStore) Dispatch(a Action) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := Reduce(st.s, a)
	if err != nil {
		return err
	}
	st.s = s
	return nil
}

// Current returns the current session.
func (st *SessionStore) Current() Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// WithSessionStore returns a copy of ctx carrying the store.
func WithSessionStore(ctx context.Context, st *SessionStore) context.Context {
	return context.WithValue(ctx, sessionKey{}, st)
}

// SessionStoreFrom returns the store carried by ctx. Reading the session outside of the scope that owns
// it is a programming error, so it panics instead of returning an empty session.
func SessionStoreFrom(ctx context.Context) *SessionStore {
	st, ok := ctx.Value(sessionKey{}).(*SessionStore)
	if !ok || st == nil {
		panic("svc: SessionStoreFrom() must be used within a scope created by WithSessionStore()")
	}
	return st
}
