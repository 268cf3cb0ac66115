package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valuedesk/backend/internal/api"
	"github.com/valuedesk/backend/internal/extract"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/testutil"
	"github.com/valuedesk/backend/internal/upload"
)

const jpegBytes = "\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00"

func newTestAPI(t *testing.T, token string) (*httptest.Server, *testutil.MockStorage, *testutil.FakeExtractor) {
	t.Helper()
	store := testutil.NewMockStorage()
	extractor := testutil.NewFakeExtractor()

	e := echo.New()
	api.SetupMiddleware(e)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:     store,
		Extractor: extractor,
		Policy:    upload.DefaultOptions(),
		Version:   "1.2.3",
		AuthToken: token,
	}))

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, store, extractor
}

func TestClient_UploadAndExtract(t *testing.T) {
	srv, store, extractor := newTestAPI(t, "tok")
	c := NewClient(srv.URL+"/api/", "tok", 5*time.Second)
	ctx := context.Background()

	receipt, err := c.Upload(ctx, testutil.Source("front.jpg", "image/jpeg", jpegBytes))
	require.NoError(t, err)
	assert.Equal(t, "test-id-1", receipt.ID)
	assert.Equal(t, srv.URL+"/api/files/test-id-1/content", receipt.URL)

	info, err := store.Get(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, "front.jpg", info.Name)
	assert.Equal(t, "image/jpeg", info.MimeType)

	extractor.SetResult(receipt.ID, &models.ExtractionResult{
		Text:          "Owner: Jane Doe",
		Confidence:    0.87,
		ExtractedData: map[string]any{"fields": map[string]any{"owner": "Jane Doe"}},
	})
	result, err := c.Extract(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Owner: Jane Doe", result.Text)
	assert.Equal(t, 0.87, result.Confidence)
	assert.Equal(t, map[string]any{"owner": "Jane Doe"}, result.ExtractedData["fields"])
}

func TestClient_Errors(t *testing.T) {
	srv, _, extractor := newTestAPI(t, "tok")
	ctx := context.Background()

	t.Run("bad token", func(t *testing.T) {
		c := NewClient(srv.URL+"/api", "wrong", time.Second)
		_, err := c.Upload(ctx, testutil.Source("front.jpg", "image/jpeg", jpegBytes))
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	c := NewClient(srv.URL+"/api", "tok", time.Second)

	t.Run("rejected type", func(t *testing.T) {
		_, err := c.Upload(ctx, testutil.Source("notes.txt", "text/plain", "hello"))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 400, apiErr.Status)
		assert.Equal(t, "FILE_INVALID_TYPE", apiErr.Code)
	})

	t.Run("unknown file", func(t *testing.T) {
		extractor.FailFor("missing", fmt.Errorf("%w: missing", extract.ErrUnsupportedType))
		_, err := c.Extract(ctx, "missing")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 422, apiErr.Status)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := NewClient(srv.URL+"/nowhere", "tok", time.Second).Health(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClient_Health(t *testing.T) {
	srv, _, _ := newTestAPI(t, "")
	h, err := NewClient(srv.URL+"/api", "", time.Second).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "1.2.3", h.Version)
}

func TestClient_DrivesCoordinator(t *testing.T) {
	srv, store, _ := newTestAPI(t, "")
	c := NewClient(srv.URL+"/api", "", 5*time.Second)

	opts := upload.DefaultOptions()
	coord := upload.NewCoordinator(opts, c, c, upload.Hooks{}, nil)
	defer coord.Close()

	accepted, rejected := coord.Intake([]models.SourceFile{
		testutil.Source("front.jpg", "image/jpeg", jpegBytes),
		testutil.Source("deed.pdf", "application/pdf", "%PDF-1.7\n"),
	})
	require.Len(t, accepted, 2)
	require.Empty(t, rejected)
	coord.Wait()

	files := coord.Batch()
	for _, f := range files {
		require.Equal(t, models.FileStatusCompleted, f.Status(), f.ErrorMessage())
	}
	assert.Equal(t, 2, store.GetFileCount())

	require.NoError(t, coord.RequestExtraction(files[0].ID))
	coord.Wait()

	got, ok := coord.Get(files[0].ID)
	require.True(t, ok)
	require.NotNil(t, got.ExtractedData())
	assert.Equal(t, "text of "+files[0].ID, got.ExtractedData().Text)
}
