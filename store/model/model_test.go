package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/store"
)

func TestDecodeDevice(t *testing.T) {
	dev, err := DecodeDevice(store.Document{
		"deviceStatus":            true,
		"deviceWaterPumpStatus":   false,
		"deviceWaterPumpProgress": 42.5,
		"deviceConnectionType":    "wifi",
		store.IDField:             "device",
	})
	require.Nil(t, err)

	on, known := Bool(dev.Status)
	assert.True(t, on)
	assert.True(t, known)

	pump, known := Bool(dev.WaterPumpStatus)
	assert.False(t, pump)
	assert.True(t, known)

	_, known = Bool(dev.InternetStatus)
	assert.False(t, known)

	require.NotNil(t, dev.WaterPumpProgress)
	assert.Equal(t, 42.5, *dev.WaterPumpProgress)
	assert.Nil(t, dev.CurrentSensor)
}

func TestDecodeDeviceAbsent(t *testing.T) {
	dev, err := DecodeDevice(nil)
	require.Nil(t, err)
	assert.Nil(t, dev.Status)
	assert.Nil(t, dev.WaterPumpStatus)
}

func TestDecodeRejectsMistypedField(t *testing.T) {
	_, err := DecodeDevice(store.Document{"deviceStatus": "yes"})
	require.NotNil(t, err)

	var de errors.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "DEVICES", de.Collection)
	assert.Equal(t, errors.ErrDecode, errors.Code(err))
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	_, err := DecodeApp(store.Document{"appMaintenanceMode": false, "appColor": "red"})
	assert.Equal(t, errors.ErrDecode, errors.Code(err))
}

func TestDecodeHistoryEntryTakesDocumentID(t *testing.T) {
	h, err := DecodeHistoryEntry(store.Document{
		"historyMessage":   "pump turned on",
		"historyCreatedAt": "2026-10-17T10:00:00Z",
		store.IDField:      "42",
	})
	require.Nil(t, err)
	assert.Equal(t, "42", h.ID)
	assert.Equal(t, "pump turned on", h.Message)
}

func TestToDocumentKeepsKnownFalse(t *testing.T) {
	off := false
	d, err := ToDocument(&Device{Status: &off})
	require.Nil(t, err)

	assert.Equal(t, store.Document{"deviceStatus": false}, d)
}

func TestUserRoundTrip(t *testing.T) {
	u := &User{ID: "a@b.com", Name: "abcde", Email: "a@b.com", Authentication: true}
	d, err := ToDocument(u)
	require.Nil(t, err)
	_, hasPassword := d["userPassword"]
	assert.False(t, hasPassword)

	got, err := DecodeUser(d)
	require.Nil(t, err)
	assert.Equal(t, u, got)
}

func TestDecodeDeviceFieldsNamesRejected(t *testing.T) {
	dev, err := DecodeDeviceFields(store.Document{
		"deviceStatus":            true,
		"deviceWaterPumpProgress": "50",
		"deviceLastSeen":          "x",
		store.IDField:             "device",
	})
	require.NotNil(t, dev)
	require.NotNil(t, dev.Status)
	assert.True(t, *dev.Status)
	assert.Nil(t, dev.WaterPumpProgress)

	assert.Equal(t, errors.ErrDecode, errors.Code(err))
	assert.Contains(t, err.Error(), "rejected fields: deviceLastSeen, deviceWaterPumpProgress")
}

func TestDecodeDeviceFieldsClean(t *testing.T) {
	dev, err := DecodeDeviceFields(store.Document{"deviceWaterPumpStatus": false})
	require.Nil(t, err)
	require.NotNil(t, dev.WaterPumpStatus)
	assert.False(t, *dev.WaterPumpStatus)

	dev, err = DecodeDeviceFields(nil)
	require.Nil(t, err)
	assert.Nil(t, dev.Status)
}
