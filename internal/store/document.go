package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// Document is an in-memory JSON document read once from a Backend and
// written back through a Coalescer.
//
// All access goes through View and Update, which hold the document's lock,
// so handlers running on different connections never race on the data.
type Document[T any] struct {
	key        string
	backend    Backend
	newDefault func() T
	logger     zerolog.Logger

	mu   sync.RWMutex
	data T

	writer *Coalescer
}

type options struct {
	delay  time.Duration
	logger zerolog.Logger
}

// Option customises Open.
type Option func(*options)

// WithFlushDelay overrides DefaultFlushDelay.
func WithFlushDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithLogger sets the logger used for load and flush diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open creates the document and loads it from the backend. Load problems
// never fail Open; they are logged and the default document is used.
func Open[T any](ctx context.Context, backend Backend, key string, newDefault func() T, opts ...Option) (*Document[T], error) {
	if backend == nil {
		return nil, errors.New("store: nil backend")
	}
	if key == "" {
		return nil, errors.New("store: empty document key")
	}
	if newDefault == nil {
		newDefault = func() T {
			var zero T
			return zero
		}
	}

	o := options{delay: DefaultFlushDelay, logger: logging.L()}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Document[T]{
		key:        key,
		backend:    backend,
		newDefault: newDefault,
		logger:     o.logger.With().Str(logging.FieldStore, key).Logger(),
	}
	d.writer = NewCoalescer(o.delay, d.save, d.logger)
	d.Read(ctx)

	return d, nil
}

// Key returns the backend key of the document.
func (d *Document[T]) Key() string {
	return d.key
}

// Read replaces the in-memory document with the backend's copy, or with the
// default document when it is absent or unreadable.
func (d *Document[T]) Read(ctx context.Context) {
	fresh := d.newDefault()

	raw, err := d.backend.Load(ctx, d.key)
	switch {
	case errors.Is(err, ErrNotFound):
		d.logger.Debug().Msg("No stored document, starting from default")
	case err != nil:
		d.logger.Error().Err(err).Msg("Failed to load document, starting from default")
	default:
		if err := json.Unmarshal(raw, &fresh); err != nil {
			d.logger.Warn().Err(err).Msg("Stored document is corrupt, starting from default")
			fresh = d.newDefault()
		}
	}

	d.mu.Lock()
	d.data = fresh
	d.mu.Unlock()
}

// View runs fn with read access to the document. fn must not mutate it or
// retain references past its return.
func (d *Document[T]) View(fn func(data *T)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(&d.data)
}

// Update runs fn with exclusive access to the document. When fn returns nil
// a coalesced write is scheduled.
func (d *Document[T]) Update(fn func(data *T) error) error {
	d.mu.Lock()
	err := fn(&d.data)
	d.mu.Unlock()

	if err != nil {
		return err
	}
	d.Write()
	return nil
}

// Write schedules a coalesced flush.
func (d *Document[T]) Write() {
	d.writer.Schedule()
}

// Sync flushes immediately, superseding any pending coalesced write.
func (d *Document[T]) Sync(ctx context.Context) error {
	return d.writer.Flush(ctx)
}

// Close flushes a pending write and stops further scheduling.
func (d *Document[T]) Close(ctx context.Context) error {
	return d.writer.Stop(ctx)
}

func (d *Document[T]) snapshot() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.MarshalIndent(d.data, "", "  ")
}

func (d *Document[T]) save(ctx context.Context) error {
	data, err := d.snapshot()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", d.key, err)
	}
	if err := d.backend.Save(ctx, d.key, data); err != nil {
		return err
	}
	d.logger.Debug().Int("bytes", len(data)).Msg("Document flushed")
	return nil
}
