package batch

import (
	"time"

	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/upload"
)

// Event types sent to subscribers.
const (
	EventFiles     = "files"
	EventExtracted = "extracted"
)

const subscriberBuffer = 16

// Event is one batch notification. Version increases by one per event.
type Event struct {
	Type    string                   `json:"type" msgpack:"type"`
	Files   []models.FileView        `json:"files,omitempty" msgpack:"files,omitempty"`
	FileID  string                   `json:"fileId,omitempty" msgpack:"fileId,omitempty"`
	Data    *models.ExtractionResult `json:"data,omitempty" msgpack:"data,omitempty"`
	Version uint64                   `json:"version" msgpack:"version"`
}

// Snapshot is the serializable state of a batch.
type Snapshot struct {
	ID        string            `json:"id" msgpack:"id"`
	Version   uint64            `json:"version" msgpack:"version"`
	CreatedAt time.Time         `json:"createdAt" msgpack:"createdAt"`
	Options   upload.Options    `json:"options" msgpack:"options"`
	Files     []models.FileView `json:"files" msgpack:"files"`
}
