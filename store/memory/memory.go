// Package memory provides an in-process document store with the same stored-form semantics as the
// redis backend. It backs local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/satori/go.uuid"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/store"
)

type (
	record struct {
		data    []byte
		version uint64
	}

	// Memory keeps documents encoded, the way a remote store would.
	Memory struct {
		mu      sync.RWMutex
		docs    map[store.Collection]map[string]record
		subs    map[string]map[uint64]*subscription
		nextSub uint64
		version uint64
	}

	subscription struct {
		mu          sync.Mutex
		id          uint64
		key         string
		fn          store.ChangeFunc
		closed      bool
		delivered   bool
		lastVersion uint64
		owner       *Memory
	}
)

// New creates an empty store.
func New() *Memory {
	return &Memory{
		docs: make(map[store.Collection]map[string]record),
		subs: make(map[string]map[uint64]*subscription),
	}
}

func subKey(c store.Collection, id string) string {
	return string(c) + "/" + id
}

// Get returns the document or errors.NotFoundError.
func (m *Memory) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("Get", err)
	}
	m.mu.RLock()
	r, ok := m.docs[c][id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NotFoundError{Collection: string(c), ID: id}
	}
	return store.Decode(r.data)
}

// Set replaces the document.
func (m *Memory) Set(ctx context.Context, c store.Collection, id string, d store.Document) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreError("Set", err)
	}
	b, err := store.Encode(d)
	if err != nil {
		return errors.NewStoreError("Set", err)
	}
	m.write(c, id, b)
	return nil
}

// Create stores the document unless the id is taken.
func (m *Memory) Create(ctx context.Context, c store.Collection, id string, d store.Document) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreError("Create", err)
	}
	b, err := store.Encode(d)
	if err != nil {
		return errors.NewStoreError("Create", err)
	}

	m.mu.Lock()
	if _, ok := m.docs[c][id]; ok {
		m.mu.Unlock()
		return errors.ExistsError{Collection: string(c), ID: id}
	}
	subs, v := m.put(c, id, b)
	m.mu.Unlock()

	notify(subs, b, v)
	return nil
}

// Delete removes the document and notifies its subscribers with nil.
func (m *Memory) Delete(ctx context.Context, c store.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreError("Delete", err)
	}

	m.mu.Lock()
	if _, ok := m.docs[c][id]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.docs[c], id)
	m.version++
	v := m.version
	subs := m.subscribers(c, id)
	m.mu.Unlock()

	notify(subs, nil, v)
	return nil
}

// SetWithGeneratedID stores the document under a fresh id.
func (m *Memory) SetWithGeneratedID(ctx context.Context, c store.Collection, d store.Document) (string, error) {
	id := uuid.NewV4().String()
	if err := m.Set(ctx, c, id, d); err != nil {
		return "", err
	}
	return id, nil
}

// Update merges the top-level fields of partial into an existing document.
func (m *Memory) Update(ctx context.Context, c store.Collection, id string, partial store.Document) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreError("Update", err)
	}

	m.mu.Lock()
	r, ok := m.docs[c][id]
	if !ok {
		m.mu.Unlock()
		return errors.NotFoundError{Collection: string(c), ID: id}
	}
	cur, err := store.Decode(r.data)
	if err != nil {
		m.mu.Unlock()
		return errors.NewStoreError("Update", err)
	}
	b, err := store.Encode(store.Merge(cur, partial))
	if err != nil {
		m.mu.Unlock()
		return errors.NewStoreError("Update", err)
	}
	subs, v := m.put(c, id, b)
	m.mu.Unlock()

	notify(subs, b, v)
	return nil
}

// QueryByField returns the documents of the collection whose field equals value.
func (m *Memory) QueryByField(ctx context.Context, c store.Collection, field string,
	value interface{}) ([]store.Document, error) {

	all, err := m.List(ctx, c)
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
func (m *Memory) List(ctx context.Context, c store.Collection) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("List", err)
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.docs[c]))
	raw := make(map[string][]byte, len(m.docs[c]))
	for id, r := range m.docs[c] {
		ids = append(ids, id)
		raw[id] = r.data
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	res := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		d, err := store.Decode(raw[id])
		if err != nil {
			return nil, errors.NewStoreError("List", err)
		}
		res = append(res, store.WithID(d, id))
	}
	return res, nil
}

// Subscribe delivers the current document right away and the full document after every write.
func (m *Memory) Subscribe(ctx context.Context, c store.Collection, id string,
	fn store.ChangeFunc) (store.Subscription, error) {

	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError("Subscribe", err)
	}

	key := subKey(c, id)
	m.mu.Lock()
	m.nextSub++
	s := &subscription{id: m.nextSub, key: key, fn: fn, owner: m}
	if m.subs[key] == nil {
		m.subs[key] = make(map[uint64]*subscription)
	}
	m.subs[key][s.id] = s
	r, ok := m.docs[c][id]
	m.mu.Unlock()

	if ok {
		s.deliver(r.data, r.version)
	} else {
		s.deliver(nil, 0)
	}
	return s, nil
}

// Listeners returns the number of open subscriptions on the document.
func (m *Memory) Listeners(c store.Collection, id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[subKey(c, id)])
}

func (m *Memory) write(c store.Collection, id string, b []byte) {
	m.mu.Lock()
	subs, v := m.put(c, id, b)
	m.mu.Unlock()
	notify(subs, b, v)
}

// put must be called with mu held.
func (m *Memory) put(c store.Collection, id string, b []byte) ([]*subscription, uint64) {
	if m.docs[c] == nil {
		m.docs[c] = make(map[string]record)
	}
	m.version++
	m.docs[c][id] = record{data: b, version: m.version}
	return m.subscribers(c, id), m.version
}

// subscribers must be called with mu held.
func (m *Memory) subscribers(c store.Collection, id string) []*subscription {
	subs := make([]*subscription, 0, len(m.subs[subKey(c, id)]))
	for _, s := range m.subs[subKey(c, id)] {
		subs = append(subs, s)
	}
	return subs
}

func notify(subs []*subscription, b []byte, version uint64) {
	for _, s := range subs {
		s.deliver(b, version)
	}
}

func (s *subscription) deliver(b []byte, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// concurrent writers may notify out of order; never step back to an older version
	if s.delivered && version <= s.lastVersion {
		return
	}
	s.delivered = true
	s.lastVersion = version

	var d store.Document
	if b != nil {
		var err error
		if d, err = store.Decode(b); err != nil {
			return
		}
	}
	s.fn(d)
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

	s.owner.mu.Lock()
	delete(s.owner.subs[s.key], s.id)
	if len(s.owner.subs[s.key]) == 0 {
		delete(s.owner.subs, s.key)
	}
	s.owner.mu.Unlock()
	return nil
}
