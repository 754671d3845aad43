package svc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/memory"
	"github.com/torantis/torenms/store/model"
)

type fakeWriter struct {
	api.WriteAPIBlocking
	mu     sync.Mutex
	points []*write.Point
	// gate, when set, holds every write until it's closed
	gate chan struct{}
}

func (f *fakeWriter) WritePoint(ctx context.Context, p ...*write.Point) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p...)
	return nil
}

func (f *fakeWriter) written() []*write.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*write.Point(nil), f.points...)
}

func fieldMap(p *write.Point) map[string]interface{} {
	m := make(map[string]interface{})
	for _, f := range p.FieldList() {
		m[f.Key] = f.Value
	}
	return m
}

func TestPoint(t *testing.T) {
	assert.Nil(t, Point("device", &model.Device{}, time.Now()))
	assert.Nil(t, Point("device", nil, time.Now()))

	on, wifi, sensor := true, "wifi", 0.7
	p := Point("device", &model.Device{Status: &on, ConnectionType: &wifi, CurrentSensor: &sensor}, time.Now())
	require.NotNil(t, p)
	assert.Equal(t, "device_state", p.Name())

	fields := fieldMap(p)
	assert.Equal(t, true, fields["status"])
	assert.Equal(t, 0.7, fields["current_sensor"])
	_, ok := fields["water_flow_progress"]
	assert.False(t, ok)

	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"device_id": "device", "connection_type": "wifi"}, tags)
}

func TestTelemetryRecordsMirroredChanges(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	mirror := newMirror(m)
	require.Nil(t, mirror.Start(ctx))
	defer mirror.Close() // nolint

	w := &fakeWriter{}
	ctrl := NewCtrl()
	NewTelemetry(&TelemetryCfg{
		Log:      log.NewNop(),
		Ctrl:     ctrl,
		Metric:   testMetric,
		Source:   mirror,
		Writer:   w,
		DeviceID: "device",
		Timeout:  time.Second,
	}).Run()

	require.Nil(t, m.Set(ctx, store.Devices, "device", store.Document{"deviceWaterFlowProgress": 12.5}))
	require.Eventually(t, func() bool { return len(w.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 12.5, fieldMap(w.written()[0])["water_flow_progress"])

	ctrl.Terminate()
}

func TestTelemetrySlowWriterDoesntStallMirror(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	mirror := newMirror(m)
	require.Nil(t, mirror.Start(ctx))
	defer mirror.Close() // nolint

	w := &fakeWriter{gate: make(chan struct{})}
	ctrl := NewCtrl()
	defer ctrl.Terminate()
	NewTelemetry(&TelemetryCfg{
		Log:      log.NewNop(),
		Ctrl:     ctrl,
		Metric:   testMetric,
		Source:   mirror,
		Writer:   w,
		DeviceID: "device",
		Timeout:  time.Minute,
		Buffer:   1,
	}).Run()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			assert.Nil(t, m.Set(ctx, store.Devices, "device", store.Document{"deviceCurrentSensor": float64(i)}))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror delivery blocked on the writer")
	}
	require.NotNil(t, mirror.Snapshot().Device.CurrentSensor)
	assert.Equal(t, 9.0, *mirror.Snapshot().Device.CurrentSensor)

	close(w.gate)
	require.Eventually(t, func() bool { return len(w.written()) > 0 }, time.Second, 5*time.Millisecond)
	// one point in the worker and one buffered at most
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, len(w.written()), 2)
}
