package api

import (
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"

	"github.com/torantis/torenms/auth"
	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/svc"
)

func (a *API) registerRoute(method, path string, handler http.HandlerFunc, middlewares ...func(next http.HandlerFunc, name string) http.HandlerFunc) {
	for _, mw := range middlewares {
		handler = mw(handler, path)
	}
	a.router.Handle(path, handler).Methods(method)
}

func (a *API) requestLogger(next http.HandlerFunc, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		a.log.With("method", r.Method, "uri", r.URL.Path, "name", name, "duration", time.Since(start)).Info()
	}
}

// authenticate rejects requests without a valid session token. The token is taken from the
// Authorization header or, for websocket clients, from the token query parameter.
func (a *API) authenticate(next http.HandlerFunc, _ string) http.HandlerFunc {
	return a.jwt.CheckJWT(next).ServeHTTP
}

func (a *API) jwtError(w http.ResponseWriter, _ *http.Request, err error) {
	a.metric.ErrorCounter("api_jwt")
	a.respError(w, errors.NewAuthError("", errors.ReasonBadToken, err.Error()))
}

// withSession builds the request's session from the app session and the token's user.
func (a *API) withSession(next http.HandlerFunc, _ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := auth.Subject(r.Context().Value(jwtmiddleware.ContextKey{}))
		if !ok {
			a.respError(w, errors.NewAuthError("", errors.ReasonBadToken, "token carries no subject"))
			return
		}

		u, err := a.accounts.User(r.Context(), email)
		if err != nil {
			if errors.IsNotFound(err) {
				err = errors.NewAuthError("email", errors.ReasonUserNotFound, "user no longer exists")
			}
			a.respError(w, err)
			return
		}

		st := svc.NewSessionStore(a.sessions.Current())
		if err := st.Dispatch(svc.SetCurrentUser(u)); err != nil {
			a.respError(w, err)
			return
		}
		next(w, r.WithContext(svc.WithSessionStore(r.Context(), st)))
	}
}

// maintenance answers 503 while the app is in maintenance mode.
func (a *API) maintenance(next http.HandlerFunc, _ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app := a.sessions.Current().App; app != nil && app.MaintenanceMode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"` + errors.ErrService + `","message":"maintenance"}`))
			return
		}
		next(w, r)
	}
}
