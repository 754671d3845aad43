// Package model provides typed schemas of the store collections. Documents are decoded at the
// gateway boundary, so a field of the wrong type is reported instead of being silently dropped.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/store"
)

// AppID is the id of the singleton App document.
const AppID = "general"

type (
	// Device is the reported state of the single device. A nil field is unknown, not false.
	Device struct {
		ID                *string  `mapstructure:"deviceId" json:"deviceId,omitempty"`
		Name              *string  `mapstructure:"deviceName" json:"deviceName,omitempty"`
		Status            *bool    `mapstructure:"deviceStatus" json:"deviceStatus,omitempty"`
		WaterPumpStatus   *bool    `mapstructure:"deviceWaterPumpStatus" json:"deviceWaterPumpStatus,omitempty"`
		WaterPumpProgress *float64 `mapstructure:"deviceWaterPumpProgress" json:"deviceWaterPumpProgress,omitempty"`
		CurrentSensor     *float64 `mapstructure:"deviceCurrentSensor" json:"deviceCurrentSensor,omitempty"`
		WaterFlowProgress *float64 `mapstructure:"deviceWaterFlowProgress" json:"deviceWaterFlowProgress,omitempty"`
		ConnectionType    *string  `mapstructure:"deviceConnectionType" json:"deviceConnectionType,omitempty"`
		InternetStatus    *bool    `mapstructure:"deviceInternetStatus" json:"deviceInternetStatus,omitempty"`
		WaterLevelStatus  *bool    `mapstructure:"deviceWaterLevelStatus" json:"deviceWaterLevelStatus,omitempty"`
	}

	// User is a USERS document. Credentials are kept by the identity provider only.
	User struct {
		ID             string `mapstructure:"userId" json:"userId"`
		Name           string `mapstructure:"userName" json:"userName"`
		Email          string `mapstructure:"userEmail" json:"userEmail"`
		Authentication bool   `mapstructure:"userAuthentication" json:"userAuthentication"`
		DeviceID       string `mapstructure:"userDeviceId" json:"userDeviceId,omitempty"`
	}

	// App is the singleton app configuration document.
	App struct {
		ID              string  `mapstructure:"appId" json:"appId"`
		MaintenanceMode bool    `mapstructure:"appMaintenanceMode" json:"appMaintenanceMode"`
		Version         float64 `mapstructure:"appVersion" json:"appVersion"`
	}

	// HistoryEntry is an append-only audit record. CreatedAt is RFC3339.
	HistoryEntry struct {
		ID        string `mapstructure:"historyId" json:"historyId,omitempty"`
		Message   string `mapstructure:"historyMessage" json:"historyMessage"`
		CreatedAt string `mapstructure:"historyCreatedAt" json:"historyCreatedAt"`
	}

	// Notification is an entry of the NOTIFICATIONS feed. CreatedAt is RFC3339.
	Notification struct {
		ID        string `mapstructure:"notificationId" json:"notificationId,omitempty"`
		Message   string `mapstructure:"notificationMessage" json:"notificationMessage"`
		CreatedAt string `mapstructure:"notificationCreatedAt" json:"notificationCreatedAt"`
	}
)

// DecodeDevice decodes a DEVICES document. A nil document yields a Device with every field unknown.
func DecodeDevice(d store.Document) (*Device, error) {
	var dev Device
	if err := decode(store.Devices, d, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

// DecodeDeviceFields decodes the DEVICES document field by field, so a stray or mistyped field doesn't
// hide the valid ones. The returned Device is never nil; the error names the rejected fields.
func DecodeDeviceFields(d store.Document) (*Device, error) {
	dev := &Device{}
	var rejected []string
	for k, v := range d {
		if k == store.IDField {
			continue
		}
		if err := decode(store.Devices, store.Document{k: v}, dev); err != nil {
			rejected = append(rejected, k)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return dev, errors.DecodeError{
			Collection: string(store.Devices),
			Err:        fmt.Errorf("rejected fields: %s", strings.Join(rejected, ", ")),
		}
	}
	return dev, nil
}

// DecodeUser decodes a USERS document.
func DecodeUser(d store.Document) (*User, error) {
	var u User
	if err := decode(store.Users, d, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodeApp decodes the APP document.
func DecodeApp(d store.Document) (*App, error) {
	var a App
	if err := decode(store.App, d, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DecodeHistoryEntry decodes a HISTORY document. The document id fills ID when it's not stored.
func DecodeHistoryEntry(d store.Document) (*HistoryEntry, error) {
	var h HistoryEntry
	if err := decode(store.History, d, &h); err != nil {
		return nil, err
	}
	if id, ok := d[store.IDField].(string); ok && h.ID == "" {
		h.ID = id
	}
	return &h, nil
}

// DecodeNotification decodes a NOTIFICATIONS document.
func DecodeNotification(d store.Document) (*Notification, error) {
	var n Notification
	if err := decode(store.Notifications, d, &n); err != nil {
		return nil, err
	}
	if id, ok := d[store.IDField].(string); ok && n.ID == "" {
		n.ID = id
	}
	return &n, nil
}

func decode(c store.Collection, d store.Document, out interface{}) error {
	if d == nil {
		return nil
	}
	in := make(map[string]interface{}, len(d))
	for k, v := range d {
		if k != store.IDField {
			in[k] = v
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return errors.DecodeError{Collection: string(c), Err: err}
	}
	if err := dec.Decode(in); err != nil {
		return errors.DecodeError{Collection: string(c), Err: err}
	}
	return nil
}

// ToDocument encodes any of the schemas into a document in stored form.
func ToDocument(v interface{}) (store.Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewStoreError("ToDocument", err)
	}
	d, err := store.Decode(b)
	if err != nil {
		return nil, errors.NewStoreError("ToDocument", err)
	}
	return d, nil
}

// Bool returns the value of an optional flag and whether it's known.
func Bool(p *bool) (bool, bool) {
	if p == nil {
		return false, false
	}
	return *p, true
}
