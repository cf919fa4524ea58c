package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/logging"
)

type memBackend struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves int
	fail  error
}

func newMemBackend() *memBackend {
	return &memBackend{docs: make(map[string][]byte)}
}

func (m *memBackend) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memBackend) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.docs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBackend) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memBackend) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

type counterDoc struct {
	Values []int `json:"values"`
}

func newCounterDoc() counterDoc {
	return counterDoc{Values: []int{}}
}

func openCounter(t *testing.T, b Backend, delay time.Duration) *Document[counterDoc] {
	t.Helper()
	doc, err := Open(context.Background(), b, "counter.json", newCounterDoc,
		WithFlushDelay(delay), WithLogger(logging.Nop()))
	require.NoError(t, err)
	return doc
}

func TestCoalescerCollapsesBurstIntoOneFlush(t *testing.T) {
	var flushes atomic.Int32
	c := NewCoalescer(50*time.Millisecond, func(context.Context) error {
		flushes.Add(1)
		return nil
	}, logging.Nop())

	for i := 0; i < 25; i++ {
		c.Schedule()
	}
	assert.True(t, c.Pending())

	require.Eventually(t, func() bool { return flushes.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(1), flushes.Load())
	assert.False(t, c.Pending())
}

func TestCoalescerRearmsAfterFlush(t *testing.T) {
	var flushes atomic.Int32
	c := NewCoalescer(20*time.Millisecond, func(context.Context) error {
		flushes.Add(1)
		return nil
	}, logging.Nop())

	c.Schedule()
	require.Eventually(t, func() bool { return flushes.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.Schedule()
	require.Eventually(t, func() bool { return flushes.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCoalescerRetriesFailedFlush(t *testing.T) {
	var calls atomic.Int32
	c := NewCoalescer(20*time.Millisecond, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("disk full")
		}
		return nil
	}, logging.Nop())

	c.Schedule()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !c.Pending() }, time.Second, 5*time.Millisecond)
}

func TestCoalescerFlushCancelsTimer(t *testing.T) {
	var flushes atomic.Int32
	c := NewCoalescer(40*time.Millisecond, func(context.Context) error {
		flushes.Add(1)
		return nil
	}, logging.Nop())

	c.Schedule()
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, int32(1), flushes.Load())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), flushes.Load())
}

func TestCoalescerStopFlushesPendingOnce(t *testing.T) {
	var flushes atomic.Int32
	c := NewCoalescer(time.Hour, func(context.Context) error {
		flushes.Add(1)
		return nil
	}, logging.Nop())

	c.Schedule()
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, int32(1), flushes.Load())

	c.Schedule()
	assert.False(t, c.Pending())
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, int32(1), flushes.Load())
}

func TestCoalescerStopWaitsForRunningFlush(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	c := NewCoalescer(10*time.Millisecond, func(context.Context) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}, logging.Nop())

	c.Schedule()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a flush was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, finished.Load())
}

func TestCoalescerStopRetriesFailedRunningFlush(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	c := NewCoalescer(10*time.Millisecond, func(context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return errors.New("disk full")
		}
		return nil
	}, logging.Nop())

	c.Schedule()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, c.Pending())
}

func TestDocumentFlushWritesSnapshotAtFlushTime(t *testing.T) {
	b := newMemBackend()
	doc := openCounter(t, b, 50*time.Millisecond)

	for i := 0; i < 10; i++ {
		v := i
		require.NoError(t, doc.Update(func(d *counterDoc) error {
			d.Values = append(d.Values, v)
			return nil
		}))
	}

	require.Eventually(t, func() bool { return b.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.saveCount())

	reopened := openCounter(t, b, time.Hour)
	reopened.View(func(d *counterDoc) {
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, d.Values)
	})
}

func TestDocumentUpdateErrorSkipsWrite(t *testing.T) {
	b := newMemBackend()
	doc := openCounter(t, b, 10*time.Millisecond)

	err := doc.Update(func(*counterDoc) error { return errors.New("nope") })
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, b.saveCount())
}

func TestDocumentDefaultsWhenAbsent(t *testing.T) {
	doc := openCounter(t, newMemBackend(), time.Hour)
	doc.View(func(d *counterDoc) {
		assert.NotNil(t, d.Values)
		assert.Empty(t, d.Values)
	})
}

func TestDocumentDefaultsWhenCorrupt(t *testing.T) {
	b := newMemBackend()
	b.docs["counter.json"] = []byte("{not json")

	doc := openCounter(t, b, time.Hour)
	doc.View(func(d *counterDoc) {
		assert.Equal(t, []int{}, d.Values)
	})
}

func TestDocumentSyncAndClose(t *testing.T) {
	b := newMemBackend()
	doc := openCounter(t, b, time.Hour)

	require.NoError(t, doc.Update(func(d *counterDoc) error {
		d.Values = append(d.Values, 7)
		return nil
	}))
	require.NoError(t, doc.Sync(context.Background()))
	assert.Equal(t, 1, b.saveCount())

	require.NoError(t, doc.Update(func(d *counterDoc) error {
		d.Values = append(d.Values, 8)
		return nil
	}))
	require.NoError(t, doc.Close(context.Background()))
	assert.Equal(t, 2, b.saveCount())
	assert.JSONEq(t, `{"values":[7,8]}`, string(b.docs["counter.json"]))
}

func TestDocumentSyncReportsBackendError(t *testing.T) {
	b := newMemBackend()
	b.setFail(errors.New("read-only"))
	doc := openCounter(t, b, time.Hour)

	require.Error(t, doc.Sync(context.Background()))
}

func TestOpenRejectsBadArguments(t *testing.T) {
	_, err := Open[counterDoc](context.Background(), nil, "x", newCounterDoc)
	require.Error(t, err)

	_, err = Open(context.Background(), newMemBackend(), "", newCounterDoc)
	require.Error(t, err)
}

func TestFileBackendRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	_, err = b.Load(context.Background(), "db_rooms.json")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(context.Background(), "db_rooms.json", []byte(`{"rooms":[]}`)))

	data, err := b.Load(context.Background(), "db_rooms.json")
	require.NoError(t, err)
	assert.Equal(t, `{"rooms":[]}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	require.Error(t, b.Save(context.Background(), "../escape.json", []byte("{}")))
	_, err = b.Load(context.Background(), "../escape.json")
	require.Error(t, err)
}

func TestDocumentOverFileBackend(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(b.Dir(), "counter.json"), []byte("garbage"), 0o644))

	doc := openCounter(t, b, time.Hour)
	require.NoError(t, doc.Update(func(d *counterDoc) error {
		d.Values = append(d.Values, 42)
		return nil
	}))
	require.NoError(t, doc.Close(context.Background()))

	reopened := openCounter(t, b, time.Hour)
	reopened.View(func(d *counterDoc) {
		assert.Equal(t, []int{42}, d.Values)
	})
}
