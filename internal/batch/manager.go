// Package batch keeps the live upload batches served over the API.
package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/upload"
)

// DefaultMaxBatches limits concurrent batches to bound memory and goroutines.
const DefaultMaxBatches = 20

// BatchKeepAliveWindow protects recently used batches from idle cleanup.
const BatchKeepAliveWindow = 5 * time.Minute

var (
	// ErrBatchNotFound is returned for unknown batch ids.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrTooManyBatches is returned when the limit is reached and no batch is idle.
	ErrTooManyBatches = errors.New("too many active batches")
)

// Config configures a Manager.
type Config struct {
	MaxBatches int
	Defaults   upload.Options
}

// Manager owns the live batches.
type Manager struct {
	batches   map[string]*Batch
	mu        sync.RWMutex
	uploader  upload.Uploader
	extractor upload.Extractor
	cfg       Config
	log       *slog.Logger
}

// NewManager creates a batch manager. extractor may be nil.
func NewManager(uploader upload.Uploader, extractor upload.Extractor, cfg Config, log *slog.Logger) *Manager {
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = DefaultMaxBatches
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		batches:   make(map[string]*Batch),
		uploader:  uploader,
		extractor: extractor,
		cfg:       cfg,
		log:       log,
	}
}

// Defaults returns the options new batches get when none are given.
func (m *Manager) Defaults() upload.Options {
	return m.cfg.Defaults
}

// Create starts a new batch. A nil opts uses the manager defaults.
func (m *Manager) Create(opts *upload.Options) (*Batch, error) {
	o := m.cfg.Defaults
	if opts != nil {
		o = *opts
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.batches) >= m.cfg.MaxBatches {
		if !m.evictIdleLocked() {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyBatches, m.cfg.MaxBatches)
		}
	}

	id := uuid.New().String()
	b := newBatch(id)
	b.coord = upload.NewCoordinator(o, m.uploader, m.extractor, upload.Hooks{
		FilesChanged:  b.filesChanged,
		ExtractedData: b.extracted,
	}, m.log.With(slog.String("batch", shortID(id))))

	m.batches[id] = b
	m.log.Info("batch created", slog.String("batch", id), slog.Int("active", len(m.batches)))
	return b, nil
}

// evictIdleLocked drops the least recently used batch with no work in flight.
func (m *Manager) evictIdleLocked() bool {
	var victim *Batch
	for _, b := range m.batches {
		if b.coord.Pending() > 0 {
			continue
		}
		if victim == nil || b.LastAccessed().Before(victim.LastAccessed()) {
			victim = b
		}
	}
	if victim == nil {
		return false
	}
	delete(m.batches, victim.ID)
	victim.close()
	m.log.Info("evicted idle batch", slog.String("batch", victim.ID))
	return true
}

// Get returns a batch and marks it as used.
func (m *Manager) Get(id string) (*Batch, error) {
	m.mu.RLock()
	b, ok := m.batches[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	b.touch()
	return b, nil
}

// Touch updates the last access time of a batch.
func (m *Manager) Touch(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return false
	}
	b.touch()
	return true
}

// Delete closes a batch and forgets it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	b, ok := m.batches[id]
	delete(m.batches, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	b.close()
	m.log.Info("batch deleted", slog.String("batch", id))
	return nil
}

// Subscribe streams events for a batch. The first event is the current
// snapshot. Call cancel to stop receiving.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), error) {
	b, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := b.Subscribe()
	return ch, cancel, nil
}

// CleanupIdle removes batches with no work in flight that were last used
// more than maxAge ago. Batches used within BatchKeepAliveWindow are kept.
func (m *Manager) CleanupIdle(maxAge time.Duration) int {
	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-BatchKeepAliveWindow)

	m.mu.Lock()
	var stale []*Batch
	for id, b := range m.batches {
		last := b.LastAccessed()
		if last.After(keepAliveCutoff) || !last.Before(cutoff) {
			continue
		}
		if b.coord.Pending() > 0 {
			continue
		}
		delete(m.batches, id)
		stale = append(stale, b)
	}
	m.mu.Unlock()

	for _, b := range stale {
		b.close()
		m.log.Info("cleaned up idle batch",
			slog.String("batch", b.ID),
			slog.Duration("idle", time.Since(b.LastAccessed()).Round(time.Second)))
	}
	return len(stale)
}

// Len returns the number of live batches.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.batches)
}

// Close shuts down every batch.
func (m *Manager) Close() {
	m.mu.Lock()
	batches := m.batches
	m.batches = make(map[string]*Batch)
	m.mu.Unlock()

	for _, b := range batches {
		b.close()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Batch is one live upload batch with its event subscribers.
type Batch struct {
	ID        string
	CreatedAt time.Time

	coord *upload.Coordinator

	mu           sync.Mutex
	lastAccessed time.Time
	version      uint64
	files        []models.FileView
	subs         map[int]chan Event
	nextSub      int
	closed       bool
}

func newBatch(id string) *Batch {
	now := time.Now()
	return &Batch{
		ID:           id,
		CreatedAt:    now,
		lastAccessed: now,
		files:        []models.FileView{},
		subs:         make(map[int]chan Event),
	}
}

// Coordinator returns the batch's upload coordinator.
func (b *Batch) Coordinator() *upload.Coordinator {
	return b.coord
}

// Snapshot returns the latest published state of the batch.
func (b *Batch) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		ID:        b.ID,
		Version:   b.version,
		CreatedAt: b.CreatedAt,
		Options:   b.coord.Options(),
		Files:     b.files,
	}
}

// LastAccessed returns when the batch was last used.
func (b *Batch) LastAccessed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAccessed
}

func (b *Batch) touch() {
	b.mu.Lock()
	b.lastAccessed = time.Now()
	b.mu.Unlock()
}

// Subscribe registers a subscriber. The channel is closed when the batch
// closes or cancel is called.
func (b *Batch) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	ch <- Event{Type: EventFiles, Files: b.files, Version: b.version}

	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (b *Batch) filesChanged(files []models.TrackedFile) {
	views := models.Views(files)
	b.publish(Event{Type: EventFiles, Files: views}, views)
}

func (b *Batch) extracted(fileID string, result models.ExtractionResult) {
	b.publish(Event{Type: EventExtracted, FileID: fileID, Data: &result}, nil)
}

// publish stamps the next version on e and fans it out. A full subscriber
// loses its oldest queued files event; extracted events are never dropped
// while a files event can make room.
func (b *Batch) publish(e Event, files []models.FileView) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.version++
	e.Version = b.version
	if files != nil {
		b.files = files
	}

	for _, ch := range b.subs {
		enqueue(ch, e)
	}
}

// enqueue delivers e without blocking. Callers hold the batch lock, so no
// other sender can refill ch while its queue is rebuilt.
func enqueue(ch chan Event, e Event) {
	select {
	case ch <- e:
		return
	default:
	}

	queued := make([]Event, 0, cap(ch))
drain:
	for {
		select {
		case q := <-ch:
			queued = append(queued, q)
		default:
			break drain
		}
	}

	drop := slices.IndexFunc(queued, func(q Event) bool { return q.Type == EventFiles })
	if drop < 0 {
		drop = 0
	}
	if len(queued) == cap(ch) {
		queued = slices.Delete(queued, drop, drop+1)
	}

	for _, q := range append(queued, e) {
		select {
		case ch <- q:
		default:
		}
	}
}

func (b *Batch) close() {
	b.coord.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
