package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/svc"
)

type (
	signUpRequest struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}

	signInRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	commandRequest struct {
		Command  svc.Command `json:"command"`
		Password string      `json:"password"`
	}
)

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.check != nil {
		if err := a.check(); err != nil {
			a.log.Errorf("health(): %s", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeBody(r, &req); err != nil {
		a.respError(w, err)
		return
	}

	u, err := a.accounts.SignUp(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		a.respError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	a.resp(w, u, nil)
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeBody(r, &req); err != nil {
		a.respError(w, err)
		return
	}

	u, token, err := a.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		a.respError(w, err)
		return
	}
	a.resp(w, u, map[string]interface{}{"token": token})
}

func (a *API) getApp(w http.ResponseWriter, r *http.Request) {
	a.resp(w, a.sessions.Current(), nil)
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	s := a.state.Snapshot()
	if s.Raw == nil {
		a.respError(w, errors.NotFoundError{Collection: "DEVICES", ID: a.deviceID})
		return
	}
	a.resp(w, s.Raw, map[string]interface{}{"synced": s.Synced})
}

func (a *API) postCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		a.respError(w, err)
		return
	}

	sess := svc.SessionStoreFrom(r.Context()).Current()
	res, err := a.dispatcher.Dispatch(r.Context(), sess, req.Command, req.Password)
	if err != nil {
		a.respError(w, err)
		return
	}

	var meta map[string]interface{}
	if res.HistoryErr != nil {
		meta = map[string]interface{}{"historyError": res.HistoryErr.Error()}
	}
	a.resp(w, res, meta)
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		a.respError(w, err)
		return
	}

	entries, next, err := a.feeds.History(r.Context(), p)
	if err != nil {
		a.respError(w, err)
		return
	}
	a.resp(w, entries, map[string]interface{}{"next": next})
}

func (a *API) getNotifications(w http.ResponseWriter, r *http.Request) {
	p, err := page(r)
	if err != nil {
		a.respError(w, err)
		return
	}

	entries, next, err := a.feeds.Notifications(r.Context(), p)
	if err != nil {
		a.respError(w, err)
		return
	}
	a.resp(w, entries, map[string]interface{}{"next": next})
}

func (a *API) getUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.accounts.Users(r.Context())
	if err != nil {
		a.respError(w, err)
		return
	}
	a.resp(w, users, nil)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ValidationError{Field: "body", Message: "malformed json: " + err.Error()}
	}
	return nil
}

func page(r *http.Request) (svc.Page, error) {
	q := r.URL.Query()
	p := svc.Page{After: q.Get("after")}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return p, errors.ValidationError{Field: "limit", Message: "must be an integer"}
		}
		p.Limit = n
	}
	return p, nil
}
