package svc

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/metric"
	"github.com/torantis/torenms/store/model"
)

const (
	measurement = "device_state"

	defaultTelemetryBuffer  = 64
	defaultTelemetryTimeout = 5 * time.Second
)

type (
	// StateSource is observed for device changes.
	StateSource interface {
		Observe(fn StateObserver) (cancel func())
	}

	// TelemetryCfg is used to initialize an instance of Telemetry.
	TelemetryCfg struct {
		Log      log.Logger
		Ctrl     *Ctrl
		Metric   *metric.Metric
		Source   StateSource
		Writer   api.WriteAPIBlocking
		DeviceID string
		Timeout  time.Duration
		// Buffer bounds the points waiting for the writer; points beyond it are dropped.
		Buffer int
	}

	// Telemetry records every known reading of the mirrored device as a time series point. Points are
	// queued by the observer and written by a single worker, so a slow bucket never stalls the mirror.
	Telemetry struct {
		log      log.Logger
		ctrl     *Ctrl
		metric   *metric.Metric
		source   StateSource
		writer   api.WriteAPIBlocking
		deviceID string
		timeout  time.Duration
		points   chan *write.Point
		now      func() time.Time
	}
)

// NewInfluxWriter creates the blocking write api of an InfluxDB bucket.
func NewInfluxWriter(url, token, org, bucket string) (influxdb2.Client, api.WriteAPIBlocking) {
	c := influxdb2.NewClient(url, token)
	return c, c.WriteAPIBlocking(org, bucket)
}

// NewTelemetry creates and initializes a new instance of Telemetry.
func NewTelemetry(c *TelemetryCfg) *Telemetry {
	buffer := c.Buffer
	if buffer <= 0 {
		buffer = defaultTelemetryBuffer
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTelemetryTimeout
	}
	return &Telemetry{
		log:      c.Log.With("component", "telemetry"),
		ctrl:     c.Ctrl,
		metric:   c.Metric,
		source:   c.Source,
		writer:   c.Writer,
		deviceID: c.DeviceID,
		timeout:  timeout,
		points:   make(chan *write.Point, buffer),
		now:      time.Now,
	}
}

// Run starts observing the source until the center terminates.
func (t *Telemetry) Run() {
	t.log.With("event", log.EventComponentStarted).Infof("")
	cancel := t.source.Observe(t.record)
	go t.write()

	go func() {
		<-t.ctrl.StopChan
		cancel()
		t.log.With("event", log.EventComponentShutdown).Infof("")
	}()
}

// record never blocks the observer.
func (t *Telemetry) record(s DeviceState) {
	p := Point(t.deviceID, s.Device, t.now())
	if p == nil {
		return
	}
	select {
	case t.points <- p:
	default:
		t.log.Warnf("record(): buffer is full, point dropped")
		t.metric.ErrorCounter("telemetry_dropped")
	}
}

func (t *Telemetry) write() {
	for {
		select {
		case p := <-t.points:
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			if err := t.writer.WritePoint(ctx, p); err != nil {
				t.log.Errorf("write(): WritePoint() failed: %s", err)
				t.metric.ErrorCounter("telemetry_write")
			}
			cancel()
		case <-t.ctrl.StopChan:
			return
		}
	}
}

// Point builds the point of the known readings of d, nil when nothing is known.
func Point(deviceID string, d *model.Device, ts time.Time) *write.Point {
	if d == nil {
		return nil
	}
	fields := make(map[string]interface{})
	for name, v := range map[string]*float64{
		"water_pump_progress": d.WaterPumpProgress,
		"current_sensor":      d.CurrentSensor,
		"water_flow_progress": d.WaterFlowProgress,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	for name, v := range map[string]*bool{
		"status":             d.Status,
		"water_pump_status":  d.WaterPumpStatus,
		"internet_status":    d.InternetStatus,
		"water_level_status": d.WaterLevelStatus,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"device_id": deviceID}
	if d.ConnectionType != nil {
		tags["connection_type"] = *d.ConnectionType
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}
