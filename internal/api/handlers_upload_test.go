package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valuedesk/backend/internal/extract"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/storage"
)

func TestFileHandler_HandleUploadFile(t *testing.T) {
	tests := []struct {
		name       string
		file       *fixture
		wantStatus int
		errCode    string
	}{
		{
			name:       "image upload",
			file:       &fixture{"front.jpg", "image/jpeg", jpegBytes},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "pdf sniffed from generic type",
			file:       &fixture{"deed", "application/octet-stream", "%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "disallowed type",
			file:       &fixture{"notes.txt", "text/plain", "hello"},
			wantStatus: http.StatusBadRequest,
			errCode:    "FILE_INVALID_TYPE",
		},
		{
			name:       "no file",
			wantStatus: http.StatusBadRequest,
			errCode:    "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)

			var files []fixture
			if tt.file != nil {
				files = append(files, *tt.file)
			}
			rec := s.do(multipartRequest(t, "/api/files/upload", "file", files...))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.errCode != "" {
				apiErr := decode[APIError](t, rec)
				assert.Equal(t, tt.errCode, apiErr.Code)
				assert.Equal(t, 0, s.store.GetFileCount())
				return
			}

			receipt := decode[models.UploadReceipt](t, rec)
			assert.Equal(t, "test-id-1", receipt.ID)
			assert.Equal(t, "/api/files/test-id-1/content", receipt.URL)
			assert.Equal(t, 1, s.store.GetFileCount())
		})
	}
}

func TestFileHandler_HandleExtractFile(t *testing.T) {
	s := newTestServer(t, nil)
	s.extractor.FailFor("memo", fmt.Errorf("%w: text/plain", extract.ErrUnsupportedType))
	s.extractor.FailFor("gone", fmt.Errorf("%w: gone", storage.ErrNotFound))
	s.extractor.FailFor("broken", fmt.Errorf("%w: exit status 1", extract.ErrExtractionFailed))

	t.Run("success", func(t *testing.T) {
		rec := s.request(http.MethodPost, "/api/files/ocr/scan-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		result := decode[map[string]any](t, rec)
		assert.Equal(t, "text of scan-1", result["text"])
		assert.Equal(t, 0.9, result["confidence"])
		assert.Equal(t, map[string]any{"source": "scan-1"}, result["extracted_data"])
	})

	tests := []struct {
		id         string
		wantStatus int
	}{
		{"memo", http.StatusUnprocessableEntity},
		{"broken", http.StatusUnprocessableEntity},
		{"gone", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := s.request(http.MethodPost, "/api/files/ocr/"+tt.id, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	t.Run("extraction unavailable", func(t *testing.T) {
		s := newTestServer(t, func(d *Dependencies) { d.Extractor = nil })
		rec := s.request(http.MethodPost, "/api/files/ocr/scan-1", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestFileHandler_HandleGetRecentFiles(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 1; i <= 3; i++ {
		s.store.AddFile(fmt.Sprintf("f%d", i), fmt.Sprintf("f%d.pdf", i), "application/pdf", []byte("x"))
	}

	rec := s.request(http.MethodGet, "/api/files/recent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.FileInfo](t, rec), 3)

	rec = s.request(http.MethodGet, "/api/files/recent?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.FileInfo](t, rec), 2)

	for _, bad := range []string{"0", "-1", "abc"} {
		rec = s.request(http.MethodGet, "/api/files/recent?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}

	t.Run("empty store returns empty array", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.request(http.MethodGet, "/api/files/recent", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestFileHandler_GetFileAndContent(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.AddFile("doc-1", "deed.pdf", "application/pdf", []byte("%PDF-1.4 body"))

	rec := s.request(http.MethodGet, "/api/files/doc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[models.FileInfo](t, rec)
	assert.Equal(t, "deed.pdf", info.Name)
	assert.Equal(t, int64(13), info.Size)

	rec = s.request(http.MethodGet, "/api/files/doc-1/content", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4 body", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="deed.pdf"`)

	rec = s.request(http.MethodGet, "/api/files/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.request(http.MethodGet, "/api/files/missing/content", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileHandler_RenameAndDelete(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.AddFile("doc-1", "scan.jpg", "image/jpeg", []byte(jpegBytes))

	rec := s.request(http.MethodPut, "/api/files/doc-1", strings.NewReader(`{"name":"front.jpg"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "front.jpg", decode[models.FileInfo](t, rec).Name)

	rec = s.request(http.MethodPut, "/api/files/doc-1", strings.NewReader(`{"name":"  "}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.request(http.MethodPut, "/api/files/missing", strings.NewReader(`{"name":"x"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.request(http.MethodDelete, "/api/files/doc-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, s.store.GetFileCount())

	rec = s.request(http.MethodDelete, "/api/files/doc-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Run("deletion disabled", func(t *testing.T) {
		s := newTestServer(t, func(d *Dependencies) { d.AllowFileDeletion = false })
		s.store.AddFile("doc-1", "scan.jpg", "image/jpeg", []byte(jpegBytes))

		rec := s.request(http.MethodDelete, "/api/files/doc-1", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, 1, s.store.GetFileCount())
	})
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t, func(d *Dependencies) { d.AuthToken = "s3cret" })

	rec := s.request(http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.Equal(t, float64(0), health["batches"])

	rec = s.request(http.MethodGet, "/api/files/recent", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[APIError](t, rec).Code)

	req, _ := http.NewRequest(http.MethodGet, "/api/files/recent", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)

	req, _ = http.NewRequest(http.MethodGet, "/api/files/recent", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, s.do(req).Code)

	rec = s.request(http.MethodGet, "/api/files/recent?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
