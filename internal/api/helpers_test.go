package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/valuedesk/backend/internal/batch"
	"github.com/valuedesk/backend/internal/testutil"
	"github.com/valuedesk/backend/internal/upload"
)

// jpegBytes starts with a JPEG signature so sniffing agrees with the header.
const jpegBytes = "\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00"

type testServer struct {
	e         *echo.Echo
	store     *testutil.MockStorage
	extractor *testutil.FakeExtractor
	batches   *batch.Manager
}

func newTestServer(t *testing.T, configure func(*Dependencies)) *testServer {
	t.Helper()

	store := testutil.NewMockStorage()
	extractor := testutil.NewFakeExtractor()
	batches := batch.NewManager(batch.NewLocalUploader(store), extractor, batch.Config{
		Defaults: upload.DefaultOptions(),
	}, nil)
	t.Cleanup(batches.Close)

	deps := &Dependencies{
		Store:             store,
		Extractor:         extractor,
		Batches:           batches,
		Policy:            upload.DefaultOptions(),
		Version:           "test",
		AllowFileDeletion: true,
		PingInterval:      time.Second,
	}
	if configure != nil {
		configure(deps)
	}

	e := echo.New()
	SetupMiddleware(e)
	RegisterRoutes(e, NewHandlers(deps))

	return &testServer{e: e, store: store, extractor: extractor, batches: batches}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) request(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return s.do(req)
}

type fixture struct {
	name     string
	mimeType string
	content  string
}

// multipartRequest builds a POST carrying files under field.
func multipartRequest(t *testing.T, path, field string, files ...fixture) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.name))
		if f.mimeType != "" {
			h.Set("Content-Type", f.mimeType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
