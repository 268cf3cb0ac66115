// handlers_batch.go - Upload batch handlers
package api

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/valuedesk/backend/internal/batch"
	"github.com/valuedesk/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// BatchHandlerImpl implements the BatchHandler interface
type BatchHandlerImpl struct {
	batches *batch.Manager
}

// NewBatchHandler creates a new batch handler instance
func NewBatchHandler(batches *batch.Manager) BatchHandler {
	return &BatchHandlerImpl{batches: batches}
}

// HandleCreateBatch starts a batch. An optional JSON body overrides the
// default upload options.
func (h *BatchHandlerImpl) HandleCreateBatch(c echo.Context) error {
	opts := h.batches.Defaults()
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&opts); err != nil {
			return NewBadRequestError("invalid batch options", err)
		}
		if err := opts.Validate(); err != nil {
			return NewBadRequestError("invalid batch options", err)
		}
	}

	b, err := h.batches.Create(&opts)
	if err != nil {
		return fromDomainError(err, "batch", "")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":      b.ID,
		"options": opts,
	})
}

// HandleGetBatch returns the current batch snapshot
func (h *BatchHandlerImpl) HandleGetBatch(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b.Snapshot())
}

// HandleGetBatchMsgpack returns the snapshot encoded as msgpack
func (h *BatchHandlerImpl) HandleGetBatchMsgpack(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(b.Snapshot()); err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", buf.Bytes())
}

// HandleAddFiles feeds multipart "files" into the batch
func (h *BatchHandlerImpl) HandleAddFiles(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return NewValidationError("files")
	}

	maxSize := b.Coordinator().Options().MaxFileSizeBytes
	sources := make([]models.SourceFile, 0, len(headers))
	for _, fh := range headers {
		src, err := bufferedSource(fh, maxSize)
		if err != nil {
			return NewBadRequestError("failed to read uploaded file", err)
		}
		sources = append(sources, src)
	}

	accepted, rejected := b.Coordinator().Intake(sources)
	if rejected == nil {
		rejected = []models.Rejection{}
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"accepted": models.Views(accepted),
		"rejected": rejected,
	})
}

// HandleRequestExtraction starts extraction for one batch file
func (h *BatchHandlerImpl) HandleRequestExtraction(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	fileID := c.Param("fileId")

	if err := b.Coordinator().RequestExtraction(fileID); err != nil {
		return fromDomainError(err, "file", fileID)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"id":     fileID,
		"status": models.FileStatusProcessing,
	})
}

// HandleRemoveFile drops a file from the batch. Unknown ids are ignored.
func (h *BatchHandlerImpl) HandleRemoveFile(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	b.Coordinator().Remove(c.Param("fileId"))
	return c.NoContent(http.StatusNoContent)
}

// HandleDeleteBatch closes a batch
func (h *BatchHandlerImpl) HandleDeleteBatch(c echo.Context) error {
	id := c.Param("id")
	if err := h.batches.Delete(id); err != nil {
		return fromDomainError(err, "batch", id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BatchHandlerImpl) lookup(c echo.Context) (*batch.Batch, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	b, err := h.batches.Get(id)
	if err != nil {
		return nil, fromDomainError(err, "batch", id)
	}
	return b, nil
}

// bufferedSource copies a multipart file into memory so the upload can
// outlive the request. Files over maxSize are left unbuffered; intake
// rejects them without reading past the header.
func bufferedSource(fh *multipart.FileHeader, maxSize int64) (models.SourceFile, error) {
	src := sourceFromHeader(fh)
	if maxSize > 0 && fh.Size > maxSize {
		return src, nil
	}

	f, err := fh.Open()
	if err != nil {
		return models.SourceFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return models.SourceFile{}, err
	}

	src.Size = int64(len(data))
	src.Open = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return src, nil
}
