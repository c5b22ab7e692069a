package orderjoin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/orderstore"
	"github.com/kevingbb/processorders/storage"
	"github.com/kevingbb/processorders/storage/objectstore"
)

const testKey = "20240101000000"

func fileURL(key string, ft message.FileType) string {
	return fmt.Sprintf("https://acct.blob.core.windows.net/incoming/%s-%s.csv", key, ft)
}

func fileRef(key string, ft message.FileType) message.FileReference {
	ref, ok := message.ParseFileReference(fileURL(key, ft))
	if !ok {
		panic("test url did not parse: " + fileURL(key, ft))
	}
	return ref
}

type mockMerger struct {
	mock.Mock
}

func (m *mockMerger) Combine(ctx context.Context, req message.MergeRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// countingMerger is a Merger for concurrency tests.
type countingMerger struct {
	calls   atomic.Int32
	delay   time.Duration
	content string
}

func (m *countingMerger) Combine(ctx context.Context, _ message.MergeRequest) (string, error) {
	m.calls.Add(1)
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return m.content, nil
}

// blockingMerger signals entered and waits for release or cancellation.
type blockingMerger struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	content string
}

func (m *blockingMerger) Combine(ctx context.Context, _ message.MergeRequest) (string, error) {
	if m.calls.Add(1) == 1 {
		close(m.entered)
	}
	select {
	case <-m.release:
		return m.content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// sizeLimitedPasses rejects ledger records whose encoding exceeds limit, the
// way a KV bucket with a value size limit does.
type sizeLimitedPasses struct {
	orderstore.PassStore
	limit int
}

func (s *sizeLimitedPasses) Update(ctx context.Context, key string, fn func(*orderstore.Pass) (*orderstore.Pass, error)) (orderstore.Pass, error) {
	return s.PassStore.Update(ctx, key, func(cur *orderstore.Pass) (*orderstore.Pass, error) {
		next, err := fn(cur)
		if err != nil || next == nil {
			return next, err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}
		if len(data) > s.limit {
			return nil, errors.WrapInvalid(natsclient.ErrKVValueTooLarge, "test", "Update", key)
		}
		return next, nil
	})
}

type triggerCall struct {
	Workflow string
	Key      string
	Input    *message.FileReference
}

// recordingTrigger records Start calls without running anything.
type recordingTrigger struct {
	mu    sync.Mutex
	calls []triggerCall
	err   error
}

func (r *recordingTrigger) Start(_ context.Context, workflow, key string, input *message.FileReference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, triggerCall{Workflow: workflow, Key: key, Input: input})
	return nil
}

func (r *recordingTrigger) Calls() []triggerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]triggerCall(nil), r.calls...)
}

// flakySources fails Delete for the listed object names.
type flakySources struct {
	storage.Store
	fail map[string]error
}

func (f *flakySources) Delete(ctx context.Context, name string) error {
	if err, ok := f.fail[name]; ok {
		return err
	}
	return f.Store.Delete(ctx, name)
}

// failingStates returns err from every call.
type failingStates struct {
	err error
}

func (f failingStates) Get(context.Context, string) (orderstore.State, error) {
	return orderstore.State{}, f.err
}
func (f failingStates) Apply(context.Context, string, orderstore.Signal) (orderstore.State, error) {
	return orderstore.State{}, f.err
}
func (f failingStates) Keys(context.Context) ([]string, error) { return nil, f.err }
func (f failingStates) Delete(context.Context, string) error   { return f.err }

// seedSources uploads the three files of key into store.
func seedSources(ctx context.Context, store storage.Store, key string) {
	for _, ft := range message.KnownFileTypes {
		name, err := objectstore.ObjectName(fileURL(key, ft))
		if err != nil {
			panic(err)
		}
		if err := store.Put(ctx, name, []byte("csv")); err != nil {
			panic(err)
		}
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
