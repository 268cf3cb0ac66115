package batch

import (
	"context"
	"fmt"

	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/storage"
	"github.com/valuedesk/backend/internal/upload"
)

// ContentURL is where the API serves a stored file.
func ContentURL(fileID string) string {
	return "/api/files/" + fileID + "/content"
}

// LocalUploader uploads batch files straight into the server's store.
type LocalUploader struct {
	store storage.Store
}

var _ upload.Uploader = (*LocalUploader)(nil)

// NewLocalUploader creates an uploader writing to store.
func NewLocalUploader(store storage.Store) *LocalUploader {
	return &LocalUploader{store: store}
}

func (u *LocalUploader) Upload(ctx context.Context, f models.SourceFile) (*models.UploadReceipt, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("no content for %s", f.Name)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer r.Close()

	info, err := u.store.Save(ctx, f.Name, f.MimeType, r)
	if err != nil {
		return nil, err
	}
	return &models.UploadReceipt{ID: info.ID, URL: ContentURL(info.ID)}, nil
}
