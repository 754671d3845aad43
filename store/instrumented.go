package store

import (
	"context"
	"time"

	taxonomy "github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/metric"
)

type instrumented struct {
	next   Gateway
	metric *metric.Metric
	log    log.Logger
}

// Instrument wraps the gateway so every operation is timed and every failure is counted and logged.
// Missing documents and taken ids are expected outcomes and aren't counted.
func Instrument(g Gateway, m *metric.Metric, l log.Logger) Gateway {
	return &instrumented{
		next:   g,
		metric: m,
		log:    l.With("component", "store"),
	}
}

func (i *instrumented) observe(op string, c Collection, start time.Time, err error) {
	i.metric.Timing(start, "store_"+op)
	if err == nil || taxonomy.IsNotFound(err) || taxonomy.IsExists(err) {
		return
	}
	i.metric.ErrorCounter("store_" + op)
	i.log.With("func", op, "collection", string(c)).Errorf("%s", err)
}

func (i *instrumented) Get(ctx context.Context, c Collection, id string) (d Document, err error) {
	defer func(start time.Time) { i.observe("Get", c, start, err) }(time.Now())
	return i.next.Get(ctx, c, id)
}

func (i *instrumented) Set(ctx context.Context, c Collection, id string, d Document) (err error) {
	defer func(start time.Time) { i.observe("Set", c, start, err) }(time.Now())
	return i.next.Set(ctx, c, id, d)
}

func (i *instrumented) Create(ctx context.Context, c Collection, id string, d Document) (err error) {
	defer func(start time.Time) { i.observe("Create", c, start, err) }(time.Now())
	return i.next.Create(ctx, c, id, d)
}

func (i *instrumented) Delete(ctx context.Context, c Collection, id string) (err error) {
	defer func(start time.Time) { i.observe("Delete", c, start, err) }(time.Now())
	return i.next.Delete(ctx, c, id)
}

func (i *instrumented) SetWithGeneratedID(ctx context.Context, c Collection, d Document) (id string, err error) {
	defer func(start time.Time) { i.observe("SetWithGeneratedID", c, start, err) }(time.Now())
	return i.next.SetWithGeneratedID(ctx, c, d)
}

func (i *instrumented) Update(ctx context.Context, c Collection, id string, partial Document) (err error) {
	defer func(start time.Time) { i.observe("Update", c, start, err) }(time.Now())
	return i.next.Update(ctx, c, id, partial)
}

func (i *instrumented) QueryByField(ctx context.Context, c Collection, field string,
	value interface{}) (res []Document, err error) {

	defer func(start time.Time) { i.observe("QueryByField", c, start, err) }(time.Now())
	return i.next.QueryByField(ctx, c, field, value)
}

func (i *instrumented) List(ctx context.Context, c Collection) (res []Document, err error) {
	defer func(start time.Time) { i.observe("List", c, start, err) }(time.Now())
	return i.next.List(ctx, c)
}

func (i *instrumented) Subscribe(ctx context.Context, c Collection, id string,
	fn ChangeFunc) (s Subscription, err error) {

	defer func(start time.Time) { i.observe("Subscribe", c, start, err) }(time.Now())
	return i.next.Subscribe(ctx, c, id, fn)
}
