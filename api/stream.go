package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/svc"
)

const writeWait = 10 * time.Second

type stateFrame struct {
	Synced bool           `json:"synced"`
	Device store.Document `json:"device"`
}

// stream pushes every change of the device document to a websocket client. Each connection owns
// its own mirror, which is released whatever way the connection ends.
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Errorf("stream(): Upgrade() failed: %s", err)
		return
	}
	defer conn.Close()

	l := a.log.With("remote", r.RemoteAddr)
	l.With("event", log.EventWSConnAdded).Info()
	defer l.With("event", log.EventWSConnRemoved).Info()

	m := svc.NewMirror(&svc.MirrorCfg{
		Log:      a.log,
		Metric:   a.metric,
		Store:    a.store,
		DeviceID: a.deviceID,
	})
	defer func() {
		if err := m.Close(); err != nil {
			l.Errorf("stream(): Close() failed: %s", err)
		}
	}()

	var (
		mu     sync.Mutex
		broken bool
	)
	cancel := m.Observe(func(s svc.DeviceState) {
		mu.Lock()
		defer mu.Unlock()
		if broken {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(stateFrame{Synced: s.Synced, Device: s.Raw}); err != nil {
			l.Errorf("stream(): WriteJSON() failed: %s", err)
			broken = true
			_ = conn.Close()
		}
	})
	defer cancel()

	if err := m.Start(r.Context()); err != nil {
		a.metric.ErrorCounter("api_stream")
		l.Errorf("stream(): Start() failed: %s", err)
		mu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "device is unavailable"))
		mu.Unlock()
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Errorf("stream(): ReadMessage() failed: %s", err)
			}
			return
		}
	}
}
