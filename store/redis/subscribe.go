package redis

import (
	"context"
	"encoding/json"
	"sync"

	redigo "github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"

	taxonomy "github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
)

type subscription struct {
	mu        sync.Mutex
	conn      redigo.PubSubConn
	channel   string
	fn        store.ChangeFunc
	closed    bool
	delivered bool
	version   uint64
	log       log.Logger
}

// Subscribe listens on the document channel before reading the current state, so no write between
// the two is lost. The current document (nil when absent) is delivered before Subscribe returns.
func (r *Redis) Subscribe(ctx context.Context, c store.Collection, id string,
	fn store.ChangeFunc) (store.Subscription, error) {

	if err := ctx.Err(); err != nil {
		return nil, taxonomy.NewStoreError("Subscribe", err)
	}

	s := &subscription{
		conn:    redigo.PubSubConn{Conn: r.pool.Get()},
		channel: docKey(c, id),
		fn:      fn,
		log:     r.log.With("func", "Subscribe", "channel", docKey(c, id)),
	}
	if err := s.conn.Subscribe(s.channel); err != nil {
		s.conn.Close() // nolint
		return nil, taxonomy.NewStoreError("Subscribe", errors.Wrap(err, "redis: Subscribe(): SUBSCRIBE failed"))
	}
	switch v := s.conn.Receive().(type) {
	case redigo.Subscription:
	case error:
		s.conn.Close() // nolint
		return nil, taxonomy.NewStoreError("Subscribe", errors.Wrap(v, "redis: Subscribe(): Receive() failed"))
	default:
		s.conn.Close() // nolint
		return nil, taxonomy.NewStoreError("Subscribe", errors.Errorf("redis: Subscribe(): unexpected reply %T", v))
	}

	d, v, err := r.current(c, id)
	if err != nil {
		s.conn.Close() // nolint
		return nil, taxonomy.NewStoreError("Subscribe", err)
	}
	s.deliver(d, v)

	go s.listen()
	return s, nil
}

// current reads the document together with its write counter.
func (r *Redis) current(c store.Collection, id string) (store.Document, uint64, error) {
	conn := r.pool.Get()
	defer conn.Close() // nolint

	reply, err := redigo.Values(conn.Do("MGET", docKey(c, id), verKey(c, id)))
	if err != nil {
		return nil, 0, errors.Wrap(err, "redis: current(): MGET failed")
	}
	b, ok := reply[0].([]byte)
	if !ok {
		return nil, 0, nil
	}
	var v uint64
	if reply[1] != nil {
		if v, err = redigo.Uint64(reply[1], nil); err != nil {
			return nil, 0, errors.Wrap(err, "redis: current(): bad version")
		}
	}
	d, err := store.Decode(b)
	if err != nil {
		return nil, 0, err
	}
	return d, v, nil
}

func (s *subscription) listen() {
	for {
		switch v := s.conn.Receive().(type) {
		case redigo.Message:
			s.handle(v.Data)
		case redigo.Subscription:
			if v.Count == 0 {
				return
			}
		case error:
			if !s.isClosed() {
				s.log.Errorf("Receive() failed: %s", v)
			}
			return
		}
	}
}

// handle decodes a published envelope and delivers it.
func (s *subscription) handle(data []byte) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		s.log.Errorf("Unmarshal() failed: %s", err)
		return
	}
	s.deliver(e.Doc, e.Version)
}

func (s *subscription) deliver(d store.Document, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// the initial read and the channel may overlap; never step back to an older version
	if s.delivered && version <= s.version {
		return
	}
	s.delivered = true
	s.version = version
	s.fn(d)
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close .
func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.conn.Unsubscribe(s.channel) // nolint
	return s.conn.Close()
}
