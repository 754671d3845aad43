package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/torantis/torenms/auth"
	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/metric"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/model"
)

// Device commands.
const (
	CmdToggleStatus Command = "toggle_status"
	CmdTogglePump   Command = "toggle_pump"
)

const (
	fieldDeviceStatus    = "deviceStatus"
	fieldWaterPumpStatus = "deviceWaterPumpStatus"
)

type (
	// Command is a user intent on the device.
	Command string

	command struct {
		field   string
		subject string
	}

	// StateReader gives the last known device state.
	StateReader interface {
		Snapshot() DeviceState
	}

	// Notifier pushes a fresh history entry to the interested parties.
	Notifier interface {
		Notify(ctx context.Context, deviceID string, e *model.HistoryEntry) error
	}

	// DispatcherCfg is used to initialize an instance of Dispatcher.
	DispatcherCfg struct {
		Log      log.Logger
		Metric   *metric.Metric
		Store    store.Gateway
		State    StateReader
		Identity auth.Identifier
		Notifier Notifier
		DeviceID string
	}

	// Dispatcher turns commands into device updates followed by history entries.
	Dispatcher struct {
		log      log.Logger
		metric   *metric.Metric
		store    store.Gateway
		state    StateReader
		identity auth.Identifier
		notifier Notifier
		deviceID string
		now      func() time.Time
	}

	// Result describes a dispatched command. The device update has happened; HistoryErr is set when
	// the history entry that should follow it couldn't be written.
	Result struct {
		Command    Command             `json:"command"`
		Field      string              `json:"field"`
		Value      bool                `json:"value"`
		History    *model.HistoryEntry `json:"history,omitempty"`
		HistoryErr error               `json:"-"`
	}
)

var commands = map[Command]command{
	CmdToggleStatus: {field: fieldDeviceStatus, subject: "pump"},
	CmdTogglePump:   {field: fieldWaterPumpStatus, subject: "pump motor"},
}

// NewDispatcher creates and initializes a new instance of Dispatcher.
func NewDispatcher(c *DispatcherCfg) *Dispatcher {
	return &Dispatcher{
		log:      c.Log.With("component", "dispatcher", "device", c.DeviceID),
		metric:   c.Metric,
		store:    c.Store,
		state:    c.State,
		identity: c.Identity,
		notifier: c.Notifier,
		deviceID: c.DeviceID,
		now:      time.Now,
	}
}

// Dispatch runs the command for the session user. The target field must be known: an unsynced mirror,
// a missing document or an absent field refuse the command. While the device is on, the password is
// verified with the identity provider first. The device update and the history append are separate
// writes: a failed append is reported in Result.HistoryErr and isn't compensated. Concurrent
// dispatches aren't serialized.
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, cmd Command, password string) (*Result, error) {
	c, ok := commands[cmd]
	if !ok {
		return nil, errors.ValidationError{Field: "command", Message: fmt.Sprintf("unknown command %q", cmd)}
	}

	state := d.state.Snapshot()
	if !state.Synced || state.Raw == nil {
		return nil, d.reject(cmd, errors.ValidationError{Field: "command", Message: "device state is unknown"})
	}
	on, _, err := flag(state.Raw, fieldDeviceStatus)
	if err != nil {
		return nil, d.reject(cmd, err)
	}
	cur, known, err := flag(state.Raw, c.field)
	if err != nil {
		return nil, d.reject(cmd, err)
	}
	if !known {
		return nil, d.reject(cmd, errors.ValidationError{Field: "command", Message: c.field + " is unknown"})
	}
	if on {
		if err := d.authorize(ctx, sess, password); err != nil {
			return nil, d.reject(cmd, err)
		}
	}

	next := !cur
	if err := d.store.Update(ctx, store.Devices, d.deviceID, store.Document{c.field: next}); err != nil {
		d.metric.CommandCounter(string(cmd), "failed")
		d.log.Errorf("Dispatch(): Update() failed: %s", err)
		return nil, err
	}
	d.metric.CommandCounter(string(cmd), "done")
	d.log.With("event", log.EventCmdDispatched).Infof("command: %s, %s: %t", cmd, c.field, next)

	res := &Result{Command: cmd, Field: c.field, Value: next}
	res.History, res.HistoryErr = d.appendHistory(ctx, c.subject, next)
	if res.HistoryErr != nil || d.notifier == nil {
		return res, nil
	}
	if err := d.notifier.Notify(ctx, d.deviceID, res.History); err != nil {
		d.log.Warnf("Dispatch(): Notify() failed: %s", err)
		d.metric.ErrorCounter("dispatcher_notify")
	}
	return res, nil
}

func (d *Dispatcher) reject(cmd Command, err error) error {
	d.metric.CommandCounter(string(cmd), "rejected")
	d.log.With("event", log.EventCmdRejected).Infof("command: %s, reason: %s", cmd, err)
	return err
}

// flag reads a boolean field of the raw device document, the same value the toggle negates. known is
// false when the field is absent or null; any other non-bool value is refused.
func flag(raw store.Document, field string) (val, known bool, err error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, false, errors.ValidationError{Field: field, Message: fmt.Sprintf("holds %T, not a bool", v)}
	}
	return b, true, nil
}

func (d *Dispatcher) authorize(ctx context.Context, sess Session, password string) error {
	if sess.CurrentUser == nil || sess.CurrentUser.Email == "" {
		return errors.NewAuthError("email", errors.ReasonUserNotFound, "no user is signed in")
	}
	return d.identity.Verify(ctx, sess.CurrentUser.Email, password)
}

func (d *Dispatcher) appendHistory(ctx context.Context, subject string, on bool) (*model.HistoryEntry, error) {
	e := &model.HistoryEntry{
		Message:   HistoryMessage(subject, on),
		CreatedAt: d.now().UTC().Format(time.RFC3339),
	}
	doc, err := model.ToDocument(e)
	if err != nil {
		return nil, err
	}
	id, err := d.store.SetWithGeneratedID(ctx, store.History, doc)
	if err != nil {
		d.log.With("event", log.EventHistoryLost).Errorf("message: %s: %s", e.Message, err)
		d.metric.ErrorCounter("dispatcher_history")
		return nil, err
	}
	e.ID = id
	d.log.With("event", log.EventHistoryAppended).Infof("id: %s, message: %s", id, e.Message)
	return e, nil
}

// HistoryMessage describes the new state of the subject.
func HistoryMessage(subject string, on bool) string {
	if on {
		return subject + " turned on"
	}
	return subject + " turned off"
}
