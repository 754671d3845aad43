// Package store provides means for document storage, retrieving and change subscription.
package store

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

// Collections of the document store.
const (
	Users         Collection = "USERS"
	Devices       Collection = "DEVICES"
	History       Collection = "HISTORY"
	Notifications Collection = "NOTIFICATIONS"
	App           Collection = "APP"
	Identities    Collection = "IDENTITIES"
)

// IDField is the key under which query results carry their document id.
const IDField = "id"

type (
	// Collection is a flat namespace of documents keyed by string id.
	Collection string

	// Document is an untyped document as kept by the store.
	Document map[string]interface{}

	// ChangeFunc receives the full current document, nil when it doesn't exist.
	ChangeFunc func(Document)

	// Subscription is a handle to a live document subscription. Close is idempotent and once it
	// returns no further ChangeFunc call happens. Close must not be called from inside the ChangeFunc.
	Subscription interface {
		Close() error
	}

	// Gateway is a contract for the document store. Operations are not retried: callers observe raw
	// failures as errors of the errors package taxonomy.
	Gateway interface {
		Get(ctx context.Context, c Collection, id string) (Document, error)
		Set(ctx context.Context, c Collection, id string, d Document) error
		// Create writes the document only when the id is free, errors.ExistsError otherwise.
		Create(ctx context.Context, c Collection, id string, d Document) error
		SetWithGeneratedID(ctx context.Context, c Collection, d Document) (string, error)
		Update(ctx context.Context, c Collection, id string, partial Document) error
		QueryByField(ctx context.Context, c Collection, field string, value interface{}) ([]Document, error)
		List(ctx context.Context, c Collection) ([]Document, error)
		// Delete removes the document; subscribers get nil. Deleting a missing document is not an error.
		Delete(ctx context.Context, c Collection, id string) error
		Subscribe(ctx context.Context, c Collection, id string, fn ChangeFunc) (Subscription, error)
	}
)

// Encode marshals the document into its stored form.
func Encode(d Document) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "store: Encode(): Marshal() failed")
	}
	return b, nil
}

// Decode unmarshals a stored document. Numbers come back as float64.
func Decode(b []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrap(err, "store: Decode(): Unmarshal() failed")
	}
	return d, nil
}

// Normalize returns a copy of d with the value types a stored document reads back with.
func Normalize(d Document) (Document, error) {
	b, err := Encode(d)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Merge returns a copy of base with the top-level fields of partial written over it.
func Merge(base, partial Document) Document {
	m := make(Document, len(base)+len(partial))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range partial {
		m[k] = v
	}
	return m
}

// Matches reports whether d holds value under field, comparing in stored form.
func Matches(d Document, field string, value interface{}) bool {
	got, ok := d[field]
	if !ok {
		return false
	}
	want, err := Normalize(Document{field: value})
	if err != nil {
		return false
	}
	return reflect.DeepEqual(got, want[field])
}

// WithID returns a copy of d carrying its id under IDField.
func WithID(d Document, id string) Document {
	return Merge(d, Document{IDField: id})
}
