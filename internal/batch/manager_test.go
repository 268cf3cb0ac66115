package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/testutil"
	"github.com/valuedesk/backend/internal/upload"
)

func newTestManager(t *testing.T, maxBatches int) (*Manager, *testutil.MockStorage) {
	t.Helper()
	store := testutil.NewMockStorage()
	m := NewManager(NewLocalUploader(store), testutil.NewFakeExtractor(), Config{
		MaxBatches: maxBatches,
		Defaults:   upload.DefaultOptions(),
	}, nil)
	t.Cleanup(m.Close)
	return m, store
}

// nextEvent waits briefly for the next event on ch.
func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestManager_CreateGetDelete(t *testing.T) {
	m, _ := newTestManager(t, 0)

	b, err := m.Create(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, upload.DefaultOptions(), b.Coordinator().Options())

	got, err := m.Get(b.ID)
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.True(t, m.Touch(b.ID))

	require.NoError(t, m.Delete(b.ID))
	_, err = m.Get(b.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	assert.ErrorIs(t, m.Delete(b.ID), ErrBatchNotFound)
	assert.False(t, m.Touch(b.ID))
}

func TestManager_CreateWithOptions(t *testing.T) {
	m, _ := newTestManager(t, 0)

	opts := upload.DefaultOptions()
	opts.MaxFileCount = 1
	b, err := m.Create(&opts)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Snapshot().Options.MaxFileCount)

	opts.MaxFileCount = -1
	_, err = m.Create(&opts)
	assert.Error(t, err)
}

func TestBatch_UploadAndExtractEvents(t *testing.T) {
	m, store := newTestManager(t, 0)
	b, err := m.Create(nil)
	require.NoError(t, err)

	events, cancel, err := m.Subscribe(b.ID)
	require.NoError(t, err)
	defer cancel()

	initial := nextEvent(t, events)
	assert.Equal(t, EventFiles, initial.Type)
	assert.Empty(t, initial.Files)
	assert.Zero(t, initial.Version)

	accepted, rejected := b.Coordinator().Intake([]models.SourceFile{
		testutil.Source("deed.pdf", "application/pdf", "%PDF-1.4"),
	})
	require.Len(t, accepted, 1)
	require.Empty(t, rejected)

	e := nextEvent(t, events)
	assert.Equal(t, uint64(1), e.Version)
	require.Len(t, e.Files, 1)
	assert.Equal(t, models.FileStatusUploading, e.Files[0].Status)

	e = nextEvent(t, events)
	assert.Equal(t, uint64(2), e.Version)
	require.Len(t, e.Files, 1)
	assert.Equal(t, models.FileStatusCompleted, e.Files[0].Status)
	assert.Equal(t, "test-id-1", e.Files[0].ID)
	assert.Equal(t, "/api/files/test-id-1/content", e.Files[0].RemoteURL)
	assert.Equal(t, 1, store.GetFileCount())

	require.NoError(t, b.Coordinator().RequestExtraction("test-id-1"))

	e = nextEvent(t, events)
	assert.Equal(t, models.FileStatusProcessing, e.Files[0].Status)
	e = nextEvent(t, events)
	assert.Equal(t, models.FileStatusCompleted, e.Files[0].Status)
	require.NotNil(t, e.Files[0].ExtractedData)

	e = nextEvent(t, events)
	assert.Equal(t, EventExtracted, e.Type)
	assert.Equal(t, "test-id-1", e.FileID)
	require.NotNil(t, e.Data)
	assert.Equal(t, "text of test-id-1", e.Data.Text)
	assert.Equal(t, uint64(5), e.Version)

	snap := b.Snapshot()
	assert.Equal(t, uint64(5), snap.Version)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, models.FileStatusCompleted, snap.Files[0].Status)
}

func TestBatch_SlowSubscriberKeepsNewest(t *testing.T) {
	m, _ := newTestManager(t, 0)
	b, err := m.Create(nil)
	require.NoError(t, err)

	events, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		b.publish(Event{Type: EventFiles, Files: []models.FileView{}}, []models.FileView{})
	}

	var versions []uint64
	for len(events) > 0 {
		versions = append(versions, (<-events).Version)
	}
	require.Len(t, versions, subscriberBuffer)
	assert.Equal(t, uint64(20), versions[len(versions)-1])
	assert.Equal(t, uint64(20-subscriberBuffer+1), versions[0])
}

func TestBatch_SlowSubscriberKeepsExtractedEvents(t *testing.T) {
	m, _ := newTestManager(t, 0)
	b, err := m.Create(nil)
	require.NoError(t, err)

	events, cancel := b.Subscribe()
	defer cancel()

	b.extracted("srv-1", models.ExtractionResult{Text: "Plot: 7", Confidence: 0.9})
	for i := 0; i < 30; i++ {
		b.publish(Event{Type: EventFiles, Files: []models.FileView{}}, []models.FileView{})
	}

	var queued []Event
	for len(events) > 0 {
		queued = append(queued, <-events)
	}
	require.Len(t, queued, subscriberBuffer)
	assert.Equal(t, EventExtracted, queued[0].Type)
	assert.Equal(t, "srv-1", queued[0].FileID)
	assert.Equal(t, "Plot: 7", queued[0].Data.Text)
	assert.Equal(t, uint64(31), queued[len(queued)-1].Version)
	for i := 1; i < len(queued); i++ {
		assert.Greater(t, queued[i].Version, queued[i-1].Version, "order is preserved")
	}
}

func TestBatch_CancelAndDeleteCloseChannels(t *testing.T) {
	m, _ := newTestManager(t, 0)
	b, err := m.Create(nil)
	require.NoError(t, err)

	first, cancelFirst := b.Subscribe()
	second, _ := b.Subscribe()
	<-first
	<-second

	cancelFirst()
	cancelFirst()
	_, ok := <-first
	assert.False(t, ok)

	require.NoError(t, m.Delete(b.ID))
	_, ok = <-second
	assert.False(t, ok)

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed batch yields a closed channel")
}

func TestManager_MaxBatches(t *testing.T) {
	t.Run("evicts least recently used idle batch", func(t *testing.T) {
		m, _ := newTestManager(t, 2)
		older, err := m.Create(nil)
		require.NoError(t, err)
		newer, err := m.Create(nil)
		require.NoError(t, err)
		older.lastAccessed = time.Now().Add(-time.Hour)

		_, err = m.Create(nil)
		require.NoError(t, err)
		assert.Equal(t, 2, m.Len())

		_, err = m.Get(older.ID)
		assert.ErrorIs(t, err, ErrBatchNotFound)
		_, err = m.Get(newer.ID)
		assert.NoError(t, err)
	})

	t.Run("fails when every batch is busy", func(t *testing.T) {
		up := testutil.NewFakeUploader()
		release := up.Hold("slow.jpg")
		defer release()

		m := NewManager(up, nil, Config{MaxBatches: 1, Defaults: upload.DefaultOptions()}, nil)
		defer m.Close()

		busy, err := m.Create(nil)
		require.NoError(t, err)
		busy.Coordinator().Intake([]models.SourceFile{testutil.Source("slow.jpg", "image/jpeg", "x")})

		_, err = m.Create(nil)
		assert.ErrorIs(t, err, ErrTooManyBatches)
		assert.Equal(t, 1, m.Len())
	})
}

func TestManager_CleanupIdle(t *testing.T) {
	m, _ := newTestManager(t, 0)

	stale, err := m.Create(nil)
	require.NoError(t, err)
	fresh, err := m.Create(nil)
	require.NoError(t, err)
	stale.lastAccessed = time.Now().Add(-2 * time.Hour)

	removed := m.CleanupIdle(30 * time.Minute)
	assert.Equal(t, 1, removed)

	_, err = m.Get(stale.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
}
