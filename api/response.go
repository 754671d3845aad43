package api

import (
	"encoding/json"
	"net/http"

	"github.com/torantis/torenms/errors"
)

func (a *API) resp(w http.ResponseWriter, data interface{}, meta map[string]interface{}) {
	resp := map[string]interface{}{"data": data}
	if len(meta) > 0 {
		resp["meta"] = meta
	}

	b, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err = w.Write(b); err != nil {
		a.log.Errorf("resp(): Write() failed: %s", err)
	}
}

func (a *API) respError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	code := http.StatusInternalServerError
	resp := map[string]interface{}{
		"code":    errors.Code(err),
		"message": "Internal Server Error",
	}

	var (
		nf errors.NotFoundError
		ve errors.ValidationError
		ae errors.AuthError
		se errors.StoreError
	)
	switch {
	case errors.As(err, &nf):
		code = http.StatusNotFound
		resp["message"] = nf.Error()
	case errors.As(err, &ve):
		code = http.StatusBadRequest
		resp["message"] = ve.Message
		resp["field"] = ve.Field
	case errors.As(err, &ae):
		code = http.StatusUnauthorized
		resp["message"] = ae.Message
		resp["reason"] = ae.Reason
		if ae.Field != "" {
			resp["field"] = ae.Field
		}
	case errors.As(err, &se):
		code = http.StatusBadGateway
		resp["message"] = "store is unavailable"
		a.log.Errorf("respError(): %s", err)
	default:
		a.log.Errorf("respError(): %s", err)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		a.log.Errorf("respError(): Marshal() failed: %s", err)
	}

	w.WriteHeader(code)

	if _, err = w.Write(b); err != nil {
		a.log.Errorf("respError(): Write() failed: %s", err)
	}
}
