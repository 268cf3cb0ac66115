package models

import "time"

// FileInfo represents metadata about a stored file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "uploaded", "extracted"
}

// UploadReceipt is what the files API returns for a successful upload.
type UploadReceipt struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
