package svc

import (
	"context"
	"sync"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/metric"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/memory"
	"github.com/torantis/torenms/store/model"
)

var testMetric = metric.New("torenms-svc-test")

// fakeIdentity keeps plaintext passwords, which is fine for tests only.
type fakeIdentity struct {
	mu        sync.Mutex
	passwords map[string]string
	calls     int
	createErr error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{passwords: make(map[string]string)}
}

func (f *fakeIdentity) Create(_ context.Context, email, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.passwords[email]; ok {
		return errors.NewAuthError("email", errors.ReasonEmailInUse, "email address is already in use")
	}
	f.passwords[email] = password
	return nil
}

func (f *fakeIdentity) Delete(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.passwords, email)
	return nil
}

func (f *fakeIdentity) Verify(_ context.Context, email, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.passwords[email]
	if !ok {
		return errors.NewAuthError("email", errors.ReasonUserNotFound, "no such user")
	}
	if p != password {
		return errors.NewAuthError("password", errors.ReasonWrongPassword, "password is invalid")
	}
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	entries []*model.HistoryEntry
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, e *model.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

// flakyStore fails the writes of the named collection. Set fails only the first setFailures times.
type flakyStore struct {
	*memory.Memory
	failing     store.Collection
	setFailures int
}

func (f *flakyStore) Set(ctx context.Context, c store.Collection, id string, d store.Document) error {
	if c == f.failing && f.setFailures > 0 {
		f.setFailures--
		return errors.NewStoreError("Set", context.DeadlineExceeded)
	}
	return f.Memory.Set(ctx, c, id, d)
}

func (f *flakyStore) SetWithGeneratedID(ctx context.Context, c store.Collection, d store.Document) (string, error) {
	if c == f.failing {
		return "", errors.NewStoreError("SetWithGeneratedID", context.DeadlineExceeded)
	}
	return f.Memory.SetWithGeneratedID(ctx, c, d)
}

func (f *flakyStore) Update(ctx context.Context, c store.Collection, id string, partial store.Document) error {
	if c == f.failing {
		return errors.NewStoreError("Update", context.DeadlineExceeded)
	}
	return f.Memory.Update(ctx, c, id, partial)
}

func newMirror(g store.Gateway) *Mirror {
	return NewMirror(&MirrorCfg{
		Log:      log.NewNop(),
		Metric:   testMetric,
		Store:    g,
		DeviceID: "device",
	})
}
