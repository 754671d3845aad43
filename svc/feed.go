package svc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/model"
)

var createdAtFields = map[store.Collection]string{
	store.History:       "historyCreatedAt",
	store.Notifications: "notificationCreatedAt",
}

type (
	// Page selects a window of a feed: up to Limit entries following the entry with id After.
	// A zero Limit means no limit, an empty After means from the start.
	Page struct {
		Limit int
		After string
	}

	// FeedCfg is used to initialize an instance of Feed.
	FeedCfg struct {
		Log   log.Logger
		Store store.Gateway
	}

	// Feed lists the append-only collections in creation order.
	Feed struct {
		log   log.Logger
		store store.Gateway
	}
)

// NewFeed creates and initializes a new instance of Feed.
func NewFeed(c *FeedCfg) *Feed {
	return &Feed{
		log:   c.Log.With("component", "feed"),
		store: c.Store,
	}
}

// History returns a page of history entries and the cursor of the next page, empty on the last one.
func (f *Feed) History(ctx context.Context, p Page) ([]*model.HistoryEntry, string, error) {
	docs, next, err := f.List(ctx, store.History, p)
	if err != nil {
		return nil, "", err
	}
	res := make([]*model.HistoryEntry, 0, len(docs))
	for _, d := range docs {
		h, err := model.DecodeHistoryEntry(d)
		if err != nil {
			return nil, "", err
		}
		res = append(res, h)
	}
	return res, next, nil
}

// Notifications returns a page of notifications and the cursor of the next page, empty on the last one.
func (f *Feed) Notifications(ctx context.Context, p Page) ([]*model.Notification, string, error) {
	docs, next, err := f.List(ctx, store.Notifications, p)
	if err != nil {
		return nil, "", err
	}
	res := make([]*model.Notification, 0, len(docs))
	for _, d := range docs {
		n, err := model.DecodeNotification(d)
		if err != nil {
			return nil, "", err
		}
		res = append(res, n)
	}
	return res, next, nil
}

// List returns a page of raw documents of the collection ordered by creation time, then by id.
func (f *Feed) List(ctx context.Context, c store.Collection, p Page) ([]store.Document, string, error) {
	field, ok := createdAtFields[c]
	if !ok {
		return nil, "", errors.ValidationError{Field: "collection", Message: fmt.Sprintf("%s is not a feed", c)}
	}
	if p.Limit < 0 {
		return nil, "", errors.ValidationError{Field: "limit", Message: "limit must not be negative"}
	}

	docs, err := f.store.List(ctx, c)
	if err != nil {
		return nil, "", err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if cmp := compareCreatedAt(docs[i][field], docs[j][field]); cmp != 0 {
			return cmp < 0
		}
		return docID(docs[i]) < docID(docs[j])
	})

	start := 0
	if p.After != "" {
		start = -1
		for i, d := range docs {
			if docID(d) == p.After {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, "", errors.ValidationError{Field: "after", Message: fmt.Sprintf("unknown cursor %q", p.After)}
		}
	}

	end := len(docs)
	if p.Limit > 0 && start+p.Limit < end {
		end = start + p.Limit
	}
	page := docs[start:end]

	next := ""
	if end < len(docs) && len(page) > 0 {
		next = docID(page[len(page)-1])
	}
	return page, next, nil
}

func docID(d store.Document) string {
	s, _ := d[store.IDField].(string)
	return s
}

// compareCreatedAt compares RFC3339 timestamps by time and anything else as text.
func compareCreatedAt(a, b interface{}) int {
	as, _ := a.(string)
	bs, _ := b.(string)
	at, errA := time.Parse(time.RFC3339, as)
	bt, errB := time.Parse(time.RFC3339, bs)
	if errA == nil && errB == nil {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		}
		return 0
	}
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}
