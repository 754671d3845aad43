// Package redis provides the production document store backed by Redis.
//
// Documents are kept as JSON under doc:<collection>:<id>, every collection has an id set under
// coll:<collection> and a write counter under ver:<collection>:<id>. Each write publishes the full
// document with its version on the doc:<collection>:<id> channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	redigo "github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"

	"github.com/torantis/torenms/cfg"
	taxonomy "github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
)

const (
	partialDocKey  = "doc:"
	partialCollKey = "coll:"
	partialVerKey  = "ver:"

	// updateAttempts bounds the optimistic WATCH/MULTI/EXEC loop of Update.
	updateAttempts = 5
)

type (
	// Cfg is used to initialize an instance of Redis.
	Cfg struct {
		Addr             cfg.Addr
		Password         string
		MaxIdlePoolConns uint32
		IdleTimeout      time.Duration
		RetryTimeout     time.Duration
		RetryAttempts    uint32
		Log              log.Logger
	}

	// Redis is used to provide a document store based on Redis.
	Redis struct {
		pool *redigo.Pool
		log  log.Logger
	}

	envelope struct {
		Version uint64         `json:"version"`
		Doc     store.Document `json:"doc"`
	}
)

// New creates a new instance of Redis and makes sure the server answers.
func New(c *Cfg) (*Redis, error) {
	if c.Addr.Host == "" {
		return nil, errors.New("redis: New(): host is empty")
	} else if c.Addr.Port == 0 {
		return nil, errors.New("redis: New(): port is empty")
	}

	addr := fmt.Sprintf("%s:%d", c.Addr.Host, c.Addr.Port)
	r := &Redis{
		pool: &redigo.Pool{
			MaxIdle:     int(c.MaxIdlePoolConns),
			IdleTimeout: c.IdleTimeout,
			Dial: func() (redigo.Conn, error) {
				return redigo.Dial("tcp", addr, redigo.DialPassword(c.Password))
			},
			TestOnBorrow: func(conn redigo.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := conn.Do("PING")
				return err
			},
		},
		log: c.Log.With("component", "store", "type", "redis"),
	}

	err := r.Check()
	for i := uint32(1); err != nil && i < c.RetryAttempts; i++ {
		r.log.Errorf("Check() failed: %s", err)
		time.Sleep(jitter(c.RetryTimeout))
		err = r.Check()
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis: New(): Check() failed")
	}

	r.log.With("event", log.EventStoreInit).Infof("connected to %s", addr)
	return r, nil
}

func jitter(retry time.Duration) time.Duration {
	secs := int(retry.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Second*time.Duration(rand.Intn(secs)) + time.Second
}

// Check issues PING Redis command to check if Redis is ok.
func (r *Redis) Check() error {
	conn := r.pool.Get()
	defer conn.Close() // nolint

	if _, err := conn.Do("PING"); err != nil {
		return errors.Wrap(err, "redis: Check(): PING failed")
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.pool.Close()
}

func docKey(c store.Collection, id string) string {
	return partialDocKey + string(c) + ":" + id
}

func collKey(c store.Collection) string {
	return partialCollKey + string(c)
}

func verKey(c store.Collection, id string) string {
	return partialVerKey + string(c) + ":" + id
}

// Get returns the document or errors.NotFoundError.
func (r *Redis) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, taxonomy.NewStoreError("Get", err)
	}

	conn := r.pool.Get()
	defer conn.Close() // nolint

	b, err := redigo.Bytes(conn.Do("GET", docKey(c, id)))
	if err == redigo.ErrNil {
		return nil, taxonomy.NotFoundError{Collection: string(c), ID: id}
	}
	if err != nil {
		return nil, taxonomy.NewStoreError("Get", errors.Wrap(err, "redis: Get(): GET failed"))
	}
	d, err := store.Decode(b)
	if err != nil {
		return nil, taxonomy.NewStoreError("Get", err)
	}
	return d, nil
}

// Set replaces the document.
func (r *Redis) Set(ctx context.Context, c store.Collection, id string, d store.Document) error {
	if err := ctx.Err(); err != nil {
		return taxonomy.NewStoreError("Set", err)
	}
	b, err := store.Encode(d)
	if err != nil {
		return taxonomy.NewStoreError("Set", err)
	}

	conn := r.pool.Get()
	defer conn.Close() // nolint

	if err := conn.Send("MULTI"); err != nil {
		return taxonomy.NewStoreError("Set", errors.Wrap(err, "redis: Set(): MULTI failed"))
	}
	v, err := r.write(conn, c, id, b)
	if err != nil {
		return taxonomy.NewStoreError("Set", errors.Wrap(err, "redis: Set(): EXEC failed"))
	}
	r.publish(conn, c, id, b, v)
	return nil
}

// Create stores the document unless the id is taken. The existence check runs under WATCH, so of
// two concurrent creates exactly one wins.
func (r *Redis) Create(ctx context.Context, c store.Collection, id string, d store.Document) error {
	if err := ctx.Err(); err != nil {
		return taxonomy.NewStoreError("Create", err)
	}
	b, err := store.Encode(d)
	if err != nil {
		return taxonomy.NewStoreError("Create", err)
	}

	conn := r.pool.Get()
	defer conn.Close() // nolint

	key := docKey(c, id)
	for i := 0; i < updateAttempts; i++ {
		if _, err := conn.Do("WATCH", key); err != nil {
			return taxonomy.NewStoreError("Create", errors.Wrap(err, "redis: Create(): WATCH failed"))
		}
		n, err := redigo.Int(conn.Do("EXISTS", key))
		if err != nil {
			conn.Do("UNWATCH") // nolint
			return taxonomy.NewStoreError("Create", errors.Wrap(err, "redis: Create(): EXISTS failed"))
		}
		if n > 0 {
			conn.Do("UNWATCH") // nolint
			return taxonomy.ExistsError{Collection: string(c), ID: id}
		}

		if err := conn.Send("MULTI"); err != nil {
			return taxonomy.NewStoreError("Create", errors.Wrap(err, "redis: Create(): MULTI failed"))
		}
		v, err := r.write(conn, c, id, b)
		if err == redigo.ErrNil {
			continue
		}
		if err != nil {
			return taxonomy.NewStoreError("Create", errors.Wrap(err, "redis: Create(): EXEC failed"))
		}
		r.publish(conn, c, id, b, v)
		return nil
	}
	return taxonomy.NewStoreError("Create", errors.Errorf("redis: Create(): %s/%s kept changing", c, id))
}

// Delete removes the document and publishes a nil document to its subscribers.
func (r *Redis) Delete(ctx context.Context, c store.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return taxonomy.NewStoreError("Delete", err)
	}

	conn := r.pool.Get()
	defer conn.Close() // nolint

	if err := conn.Send("MULTI"); err != nil {
		return taxonomy.NewStoreError("Delete", errors.Wrap(err, "redis: Delete(): MULTI failed"))
	}
	if err := conn.Send("DEL", docKey(c, id)); err != nil {
		return taxonomy.NewStoreError("Delete", errors.Wrap(err, "redis: Delete(): DEL failed"))
	}
	if err := conn.Send("SREM", collKey(c), id); err != nil {
		return taxonomy.NewStoreError("Delete", errors.Wrap(err, "redis: Delete(): SREM failed"))
	}
	if err := conn.Send("INCR", verKey(c, id)); err != nil {
		return taxonomy.NewStoreError("Delete", errors.Wrap(err, "redis: Delete(): INCR failed"))
	}
	replies, err := redigo.Values(conn.Do("EXEC"))
	if err != nil {
		return taxonomy.NewStoreError("Delete", errors.Wrap(err, "redis: Delete(): EXEC failed"))
	}
	if len(replies) != 3 {
		return taxonomy.NewStoreError("Delete", errors.Errorf("redis: Delete(): unexpected EXEC reply of %d elements", len(replies)))
	}
	removed, err := redigo.Int64(replies[0], nil)
	if err != nil || removed == 0 {
		return nil
	}
	v, err := redigo.Uint64(replies[2], nil)
	if err != nil {
		return taxonomy.NewStoreError("Delete", errors.Wrap(err, "redis: Delete(): bad version"))
	}
	r.publish(conn, c, id, nil, v)
	return nil
}

// SetWithGeneratedID stores the document under a fresh id.
func (r *Redis) SetWithGeneratedID(ctx context.Context, c store.Collection, d store.Document) (string, error) {
	id := uuid.NewV4().String()
	if err := r.Set(ctx, c, id, d); err != nil {
		return "", err
	}
	return id, nil
}

// Update merges the top-level fields of partial into an existing document. The merge runs under
// WATCH, so a concurrent write to the same document makes it start over from the fresh state.
func (r *Redis) Update(ctx context.Context, c store.Collection, id string, partial store.Document) error {
	if err := ctx.Err(); err != nil {
		return taxonomy.NewStoreError("Update", err)
	}

	conn := r.pool.Get()
	defer conn.Close() // nolint

	key := docKey(c, id)
	for i := 0; i < updateAttempts; i++ {
		if _, err := conn.Do("WATCH", key); err != nil {
			return taxonomy.NewStoreError("Update", errors.Wrap(err, "redis: Update(): WATCH failed"))
		}
		cur, err := redigo.Bytes(conn.Do("GET", key))
		if err == redigo.ErrNil {
			conn.Do("UNWATCH") // nolint
			return taxonomy.NotFoundError{Collection: string(c), ID: id}
		}
		if err != nil {
			conn.Do("UNWATCH") // nolint
			return taxonomy.NewStoreError("Update", errors.Wrap(err, "redis: Update(): GET failed"))
		}
		d, err := store.Decode(cur)
		if err != nil {
			conn.Do("UNWATCH") // nolint
			return taxonomy.NewStoreError("Update", err)
		}
		b, err := store.Encode(store.Merge(d, partial))
		if err != nil {
			conn.Do("UNWATCH") // nolint
			return taxonomy.NewStoreError("Update", err)
		}

		if err := conn.Send("MULTI"); err != nil {
			return taxonomy.NewStoreError("Update", errors.Wrap(err, "redis: Update(): MULTI failed"))
		}
		v, err := r.write(conn, c, id, b)
		if err == redigo.ErrNil {
			continue
		}
		if err != nil {
			return taxonomy.NewStoreError("Update", errors.Wrap(err, "redis: Update(): EXEC failed"))
		}
		r.publish(conn, c, id, b, v)
		return nil
	}
	return taxonomy.NewStoreError("Update", errors.Errorf("redis: Update(): %s/%s kept changing", c, id))
}

// write queues the document writes after MULTI and executes them. A nil reply of EXEC means a
// watched key changed and is returned as redigo.ErrNil.
func (r *Redis) write(conn redigo.Conn, c store.Collection, id string, b []byte) (uint64, error) {
	if err := conn.Send("SET", docKey(c, id), b); err != nil {
		return 0, err
	}
	if err := conn.Send("SADD", collKey(c), id); err != nil {
		return 0, err
	}
	if err := conn.Send("INCR", verKey(c, id)); err != nil {
		return 0, err
	}
	replies, err := redigo.Values(conn.Do("EXEC"))
	if err != nil {
		return 0, err
	}
	if len(replies) != 3 {
		return 0, errors.Errorf("unexpected EXEC reply of %d elements", len(replies))
	}
	v, err := redigo.Uint64(replies[2], nil)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// publish notifies subscribers. The document is already written, so a failure here is only logged.
// A nil b announces a deletion.
func (r *Redis) publish(conn redigo.Conn, c store.Collection, id string, b []byte, v uint64) {
	msg, err := encodeEnvelope(b, v)
	if err != nil {
		r.log.Errorf("publish(): Marshal() failed: %s", err)
		return
	}
	if _, err := conn.Do("PUBLISH", docKey(c, id), msg); err != nil {
		r.log.Errorf("publish(): PUBLISH failed: %s", err)
	}
}

func encodeEnvelope(b []byte, v uint64) ([]byte, error) {
	if b == nil {
		b = []byte("null")
	}
	return json.Marshal(struct {
		Version uint64          `json:"version"`
		Doc     json.RawMessage `json:"doc"`
	}{v, b})
}

// QueryByField returns the documents of the collection whose field equals value. There is no
// secondary index, the collection is scanned.
func (r *Redis) QueryByField(ctx context.Context, c store.Collection, field string,
	value interface{}) ([]store.Document, error) {

	all, err := r.List(ctx, c)
	if err != nil {
		return nil, err
	}
	var res []store.Document
	for _, d := range all {
		if store.Matches(d, field, value) {
			res = append(res, d)
		}
	}
	return res, nil
}

// List returns every document of the collection ordered by id.
func (r *Redis) List(ctx context.Context, c store.Collection) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, taxonomy.NewStoreError("List", err)
	}

	conn := r.pool.Get()
	defer conn.Close() // nolint

	ids, err := redigo.Strings(conn.Do("SORT", collKey(c), "ALPHA"))
	if err != nil {
		return nil, taxonomy.NewStoreError("List", errors.Wrap(err, "redis: List(): SORT failed"))
	}
	if len(ids) == 0 {
		return []store.Document{}, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = docKey(c, id)
	}
	raw, err := redigo.Values(conn.Do("MGET", args...))
	if err != nil {
		return nil, taxonomy.NewStoreError("List", errors.Wrap(err, "redis: List(): MGET failed"))
	}

	res := make([]store.Document, 0, len(ids))
	for i, v := range raw {
		b, ok := v.([]byte)
		if !ok {
			continue
		}
		d, err := store.Decode(b)
		if err != nil {
			return nil, taxonomy.NewStoreError("List", err)
		}
		res = append(res, store.WithID(d, ids[i]))
	}
	return res, nil
}
