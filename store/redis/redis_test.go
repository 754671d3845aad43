package redis

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torantis/torenms/cfg"
	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "doc:DEVICES:device", docKey(store.Devices, "device"))
	assert.Equal(t, "coll:HISTORY", collKey(store.History))
	assert.Equal(t, "ver:APP:general", verKey(store.App, "general"))
}

func TestJitter(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := jitter(3 * time.Second)
		assert.True(t, d >= time.Second && d <= 3*time.Second, d.String())
	}
	assert.Equal(t, time.Second, jitter(0))
}

func TestNewRejectsEmptyAddr(t *testing.T) {
	_, err := New(&Cfg{Addr: cfg.Addr{Port: 6379}, Log: log.NewNop()})
	assert.NotNil(t, err)

	_, err = New(&Cfg{Addr: cfg.Addr{Host: "localhost"}, Log: log.NewNop()})
	assert.NotNil(t, err)
}

// liveStore connects to the server named by REDIS_TEST_ADDR (host:port) or skips the test.
func liveStore(t *testing.T) *Redis {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR is not set")
	}
	parts := strings.SplitN(addr, ":", 2)
	require.Len(t, parts, 2)
	port, err := strconv.ParseUint(parts[1], 10, 64)
	require.Nil(t, err)

	r, err := New(&Cfg{
		Addr:             cfg.Addr{Host: parts[0], Port: port},
		Password:         os.Getenv("REDIS_TEST_PASSWORD"),
		MaxIdlePoolConns: 4,
		IdleTimeout:      time.Minute,
		RetryTimeout:     time.Second,
		RetryAttempts:    1,
		Log:              log.NewNop(),
	})
	require.Nil(t, err)
	t.Cleanup(func() { r.Close() }) // nolint
	return r
}

func TestLiveRoundTripAndUpdate(t *testing.T) {
	r := liveStore(t)
	ctx := context.Background()
	c := store.Collection("TEST_" + strconv.FormatInt(time.Now().UnixNano(), 10))

	_, err := r.Get(ctx, c, "device")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(r.Update(ctx, c, "device", store.Document{"deviceStatus": true})))

	require.Nil(t, r.Set(ctx, c, "device", store.Document{"deviceStatus": true, "deviceCurrentSensor": 0.5}))
	require.Nil(t, r.Update(ctx, c, "device", store.Document{"deviceStatus": false}))

	got, err := r.Get(ctx, c, "device")
	require.Nil(t, err)
	assert.Equal(t, store.Document{"deviceStatus": false, "deviceCurrentSensor": 0.5}, got)

	id, err := r.SetWithGeneratedID(ctx, c, store.Document{"historyMessage": "pump turned on"})
	require.Nil(t, err)
	res, err := r.QueryByField(ctx, c, "historyMessage", "pump turned on")
	require.Nil(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, id, res[0][store.IDField])
}

func TestLiveSubscribe(t *testing.T) {
	r := liveStore(t)
	ctx := context.Background()
	c := store.Collection("TEST_" + strconv.FormatInt(time.Now().UnixNano(), 10))

	var (
		mu  sync.Mutex
		got []store.Document
	)
	sub, err := r.Subscribe(ctx, c, "device", func(d store.Document) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})
	require.Nil(t, err)

	require.Nil(t, r.Set(ctx, c, "device", store.Document{"deviceStatus": true}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Nil(t, sub.Close())
	require.Nil(t, sub.Close())
	require.Nil(t, r.Set(ctx, c, "device", store.Document{"deviceStatus": false}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	assert.Equal(t, true, got[1]["deviceStatus"])
}

func TestUpdateRetriesAbortedTransaction(t *testing.T) {
	f := newFakeConn()
	f.data[docKey(store.Devices, "device")] = []byte(`{"deviceStatus":true,"deviceName":"pump"}`)
	f.abortExec = 2
	r := fakeRedis(f)

	require.Nil(t, r.Update(context.Background(), store.Devices, "device", store.Document{"deviceStatus": false}))

	assert.Equal(t, 3, f.execs)
	assert.JSONEq(t, `{"deviceStatus":false,"deviceName":"pump"}`, string(f.data[docKey(store.Devices, "device")]))
	require.Len(t, f.published, 1)
	assert.JSONEq(t, `{"version":1,"doc":{"deviceStatus":false,"deviceName":"pump"}}`, string(f.published[0]))
}

func TestUpdateGivesUpOnContention(t *testing.T) {
	f := newFakeConn()
	f.data[docKey(store.Devices, "device")] = []byte(`{"deviceStatus":true}`)
	f.abortExec = updateAttempts
	r := fakeRedis(f)

	err := r.Update(context.Background(), store.Devices, "device", store.Document{"deviceStatus": false})
	assert.Equal(t, errors.ErrStore, errors.Code(err))
	assert.Equal(t, updateAttempts, f.execs)
	assert.Empty(t, f.published)
}

func TestUpdateMissing(t *testing.T) {
	r := fakeRedis(newFakeConn())
	err := r.Update(context.Background(), store.Devices, "device", store.Document{"deviceStatus": false})
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateLosesRace(t *testing.T) {
	f := newFakeConn()
	f.abortExec = 1
	f.racer = func(f *fakeConn) {
		f.data[docKey(store.Identities, "a@b.com")] = []byte(`{"identityPasswordHash":"first"}`)
	}
	r := fakeRedis(f)

	err := r.Create(context.Background(), store.Identities, "a@b.com", store.Document{"identityPasswordHash": "second"})
	assert.True(t, errors.IsExists(err))
	assert.JSONEq(t, `{"identityPasswordHash":"first"}`, string(f.data[docKey(store.Identities, "a@b.com")]))
}

func TestCreateAndDelete(t *testing.T) {
	f := newFakeConn()
	r := fakeRedis(f)
	ctx := context.Background()

	require.Nil(t, r.Create(ctx, store.Users, "a@b.com", store.Document{"userName": "alice"}))
	assert.True(t, errors.IsExists(r.Create(ctx, store.Users, "a@b.com", store.Document{"userName": "bob"})))

	require.Nil(t, r.Delete(ctx, store.Users, "a@b.com"))
	_, ok := f.data[docKey(store.Users, "a@b.com")]
	assert.False(t, ok)
	require.Len(t, f.published, 2)
	assert.JSONEq(t, `{"version":2,"doc":null}`, string(f.published[1]))

	require.Nil(t, r.Delete(ctx, store.Users, "a@b.com"))
	assert.Len(t, f.published, 2)
}

func recordingSub() (*subscription, *[]store.Document) {
	var got []store.Document
	s := &subscription{
		fn:  func(d store.Document) { got = append(got, d) },
		log: log.NewNop(),
	}
	return s, &got
}

func TestSubscriptionDropsStaleVersions(t *testing.T) {
	s, got := recordingSub()

	s.deliver(store.Document{"deviceStatus": true}, 3)
	for _, v := range []uint64{2, 3} {
		msg, err := encodeEnvelope([]byte(`{"deviceStatus":false}`), v)
		require.Nil(t, err)
		s.handle(msg)
	}
	require.Len(t, *got, 1)

	msg, err := encodeEnvelope([]byte(`{"deviceStatus":false}`), 4)
	require.Nil(t, err)
	s.handle(msg)
	require.Len(t, *got, 2)
	assert.Equal(t, false, (*got)[1]["deviceStatus"])
}

func TestSubscriptionDeliversDeletionAsNil(t *testing.T) {
	s, got := recordingSub()
	s.deliver(store.Document{"deviceStatus": true}, 1)

	msg, err := encodeEnvelope(nil, 2)
	require.Nil(t, err)
	s.handle(msg)

	require.Len(t, *got, 2)
	assert.Nil(t, (*got)[1])
}

func TestSubscriptionInitialZeroVersion(t *testing.T) {
	s, got := recordingSub()
	s.deliver(nil, 0)

	msg, err := encodeEnvelope([]byte(`{"deviceStatus":true}`), 1)
	require.Nil(t, err)
	s.handle(msg)
	s.handle([]byte("not json"))

	require.Len(t, *got, 2)
	assert.Nil(t, (*got)[0])
	assert.Equal(t, true, (*got)[1]["deviceStatus"])
}

func TestSubscriptionClosedDeliversNothing(t *testing.T) {
	s, got := recordingSub()
	s.closed = true
	s.deliver(store.Document{"deviceStatus": true}, 1)
	assert.Empty(t, *got)
}
