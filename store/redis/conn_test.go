package redis

import (
	"fmt"
	"sync"

	redigo "github.com/garyburd/redigo/redis"

	"github.com/torantis/torenms/log"
)

// fakeConn plays the few commands the store issues against an in-memory keyspace. The first
// abortExec transactions are aborted the way Redis does when a watched key changes, after racer
// (if set) has had its chance to write.
type fakeConn struct {
	mu        sync.Mutex
	data      map[string][]byte
	counters  map[string]int64
	queued    [][]interface{}
	abortExec int
	execs     int
	racer     func(f *fakeConn)
	published [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		data:     make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

func fakeRedis(f *fakeConn) *Redis {
	return &Redis{
		pool: &redigo.Pool{
			Dial: func() (redigo.Conn, error) { return f, nil },
		},
		log: log.NewNop(),
	}
}

func (f *fakeConn) Close() error { return nil }
func (f *fakeConn) Err() error { return nil }
func (f *fakeConn) Flush() error { return nil }
func (f *fakeConn) Receive() (interface{}, error) { return nil, fmt.Errorf("fakeConn: Receive() unsupported") }

func (f *fakeConn) Send(cmd string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch cmd {
	case "MULTI", "UNWATCH":
	case "DISCARD":
		f.queued = nil
	default:
		f.queued = append(f.queued, append([]interface{}{cmd}, args...))
	}
	return nil
}

func (f *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch cmd {
	case "", "WATCH", "UNWATCH", "PING":
		return "OK", nil
	case "GET":
		if b, ok := f.data[args[0].(string)]; ok {
			return b, nil
		}
		return nil, nil
	case "EXISTS":
		if _, ok := f.data[args[0].(string)]; ok {
			return int64(1), nil
		}
		return int64(0), nil
	case "PUBLISH":
		f.published = append(f.published, args[1].([]byte))
		return int64(0), nil
	case "EXEC":
		q := f.queued
		f.queued = nil
		f.execs++
		if f.execs <= f.abortExec {
			if f.racer != nil {
				f.racer(f)
			}
			return nil, nil
		}
		replies := make([]interface{}, 0, len(q))
		for _, c := range q {
			replies = append(replies, f.apply(c))
		}
		return replies, nil
	}
	return nil, fmt.Errorf("fakeConn: unexpected command %s", cmd)
}

func (f *fakeConn) apply(c []interface{}) interface{} {
	key := c[1].(string)
	switch c[0] {
	case "SET":
		f.data[key] = c[2].([]byte)
		return "OK"
	case "DEL":
		if _, ok := f.data[key]; !ok {
			return int64(0)
		}
		delete(f.data, key)
		return int64(1)
	case "SADD", "SREM":
		return int64(1)
	case "INCR":
		f.counters[key]++
		return f.counters[key]
	}
	return fmt.Errorf("fakeConn: unexpected queued command %v", c[0])
}
