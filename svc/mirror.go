package svc

import (
	"context"
	"sync"

	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/metric"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/model"
)

type (
	// DeviceState is what the mirror currently knows about the device.
	DeviceState struct {
		// Raw is the full document as delivered by the store, nil when it doesn't exist.
		Raw store.Document
		// Device is never nil. Its fields are nil until known.
		Device *model.Device
		// Synced is false until the first delivery after Start.
		Synced bool
	}

	// StateObserver receives every change of the mirrored device.
	StateObserver func(DeviceState)

	// MirrorCfg is used to initialize an instance of Mirror.
	MirrorCfg struct {
		Log      log.Logger
		Metric   *metric.Metric
		Store    store.Gateway
		DeviceID string
	}

	// Mirror keeps a live copy of one device document by holding a single store subscription.
	Mirror struct {
		log      log.Logger
		metric   *metric.Metric
		store    store.Gateway
		deviceID string

		subMu sync.Mutex
		sub   store.Subscription

		mu        sync.RWMutex
		state     DeviceState
		observers map[uint64]StateObserver
		nextObs   uint64
	}
)

// NewMirror creates and initializes a new instance of Mirror.
func NewMirror(c *MirrorCfg) *Mirror {
	return &Mirror{
		log:       c.Log.With("component", "mirror", "device", c.DeviceID),
		metric:    c.Metric,
		store:     c.Store,
		deviceID:  c.DeviceID,
		state:     DeviceState{Device: &model.Device{}},
		observers: make(map[uint64]StateObserver),
	}
}

// Start opens the subscription. A subscription left from a previous Start is released first, so the
// mirror never holds more than one.
func (m *Mirror) Start(ctx context.Context) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.release()

	sub, err := m.store.Subscribe(ctx, store.Devices, m.deviceID, m.onChange)
	if err != nil {
		m.log.Errorf("Start(): Subscribe() failed: %s", err)
		m.metric.ErrorCounter("mirror_subscribe")
		return err
	}
	m.sub = sub
	m.log.With("event", log.EventMirrorStarted).Infof("")
	return nil
}

// Close releases the subscription. It's safe to call it more than once and on every exit path.
func (m *Mirror) Close() error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return m.release()
}

// release must be called with subMu held.
func (m *Mirror) release() error {
	if m.sub == nil {
		return nil
	}
	err := m.sub.Close()
	m.sub = nil

	m.mu.Lock()
	m.state.Synced = false
	m.mu.Unlock()

	if err != nil {
		m.log.Errorf("release(): Close() failed: %s", err)
		return err
	}
	m.log.With("event", log.EventMirrorClosed).Infof("")
	return nil
}

// Snapshot returns the latest known state.
func (m *Mirror) Snapshot() DeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Observe registers fn for every subsequent change. The returned func unregisters it.
func (m *Mirror) Observe(fn StateObserver) (cancel func()) {
	m.mu.Lock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// onChange relays the document as is. Fields that fail to decode are logged and stay unknown in the
// typed view; the raw document is relayed whole.
func (m *Mirror) onChange(d store.Document) {
	dev, err := model.DecodeDeviceFields(d)
	if err != nil {
		m.log.Errorf("onChange(): %s", err)
		m.metric.ErrorCounter("mirror_decode")
	}

	m.mu.Lock()
	m.state = DeviceState{Raw: d, Device: dev, Synced: true}
	state := m.state
	observers := make([]StateObserver, 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()

	for _, o := range observers {
		o(state)
	}
}
