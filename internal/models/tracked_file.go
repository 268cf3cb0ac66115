// Package models contains domain types for the valuation desk backend.
package models

import (
	"io"
	"strings"
)

// FileStatus is the display status of a tracked file.
type FileStatus string

const (
	FileStatusUploading  FileStatus = "uploading"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

// FailureStage names the step a failed file was in.
type FailureStage string

const (
	StageUpload     FailureStage = "upload"
	StageExtraction FailureStage = "extraction"
)

// FileState is the per-file state. Each variant carries only the fields
// valid for that state.
type FileState interface {
	Status() FileStatus
	isFileState()
}

// Uploading means the transfer is in flight.
type Uploading struct{}

// Processing means the file is uploaded and an extraction is in flight.
type Processing struct {
	RemoteURL string
	// Previous extraction result, kept while a new one runs.
	Extracted *ExtractionResult
}

// Completed means the file is uploaded and no operation is in flight.
type Completed struct {
	RemoteURL string
	Extracted *ExtractionResult
}

// Failed means the upload or the extraction failed.
type Failed struct {
	Stage   FailureStage
	Message string
}

func (Uploading) Status() FileStatus  { return FileStatusUploading }
func (Processing) Status() FileStatus { return FileStatusProcessing }
func (Completed) Status() FileStatus  { return FileStatusCompleted }
func (Failed) Status() FileStatus     { return FileStatusError }

func (Uploading) isFileState()  {}
func (Processing) isFileState() {}
func (Completed) isFileState()  {}
func (Failed) isFileState()     {}

// TrackedFile is one file in a pending batch.
type TrackedFile struct {
	ID       string
	Name     string
	Size     int64
	MimeType string
	State    FileState
}

// Clone returns a copy of f that shares no mutable state with it.
func (f TrackedFile) Clone() TrackedFile {
	switch s := f.State.(type) {
	case Processing:
		s.Extracted = s.Extracted.Clone()
		f.State = s
	case Completed:
		s.Extracted = s.Extracted.Clone()
		f.State = s
	}
	return f
}

// Status returns the status of the current state.
func (f TrackedFile) Status() FileStatus {
	if f.State == nil {
		return FileStatusUploading
	}
	return f.State.Status()
}

// RemoteURL returns the uploaded location, or "" before upload succeeded.
func (f TrackedFile) RemoteURL() string {
	switch s := f.State.(type) {
	case Processing:
		return s.RemoteURL
	case Completed:
		return s.RemoteURL
	}
	return ""
}

// ExtractedData returns the attached extraction result, if any.
func (f TrackedFile) ExtractedData() *ExtractionResult {
	switch s := f.State.(type) {
	case Processing:
		return s.Extracted
	case Completed:
		return s.Extracted
	}
	return nil
}

// ErrorMessage returns the failure detail, or "" unless the file failed.
func (f TrackedFile) ErrorMessage() string {
	if s, ok := f.State.(Failed); ok {
		return s.Message
	}
	return ""
}

// Extractable reports whether the file type supports text extraction.
func (f TrackedFile) Extractable() bool {
	return IsExtractableType(f.MimeType)
}

// IsExtractableType reports whether OCR/text extraction supports mimeType.
func IsExtractableType(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.HasPrefix(mt, "image/") || mt == "application/pdf"
}

// FileView is the flat wire form of a TrackedFile.
type FileView struct {
	ID            string            `json:"id" msgpack:"id"`
	Name          string            `json:"name" msgpack:"name"`
	Size          int64             `json:"size" msgpack:"size"`
	MimeType      string            `json:"mimeType" msgpack:"mimeType"`
	Status        FileStatus        `json:"status" msgpack:"status"`
	RemoteURL     string            `json:"remoteUrl,omitempty" msgpack:"remoteUrl,omitempty"`
	ExtractedData *ExtractionResult `json:"extractedData,omitempty" msgpack:"extractedData,omitempty"`
	FailedStage   FailureStage      `json:"failedStage,omitempty" msgpack:"failedStage,omitempty"`
	Error         string            `json:"error,omitempty" msgpack:"error,omitempty"`
}

// View flattens the file for serialization.
func (f TrackedFile) View() FileView {
	v := FileView{
		ID:            f.ID,
		Name:          f.Name,
		Size:          f.Size,
		MimeType:      f.MimeType,
		Status:        f.Status(),
		RemoteURL:     f.RemoteURL(),
		ExtractedData: f.ExtractedData(),
		Error:         f.ErrorMessage(),
	}
	if s, ok := f.State.(Failed); ok {
		v.FailedStage = s.Stage
	}
	return v
}

// Views flattens a batch snapshot.
func Views(files []TrackedFile) []FileView {
	out := make([]FileView, len(files))
	for i, f := range files {
		out[i] = f.View()
	}
	return out
}

// SourceFile is a raw file handed to intake.
type SourceFile struct {
	Name     string
	Size     int64
	MimeType string
	// Open returns a fresh reader over the file content. It may be called
	// more than once.
	Open func() (io.ReadCloser, error)
}

// RejectionCode classifies an intake rejection.
type RejectionCode string

const (
	RejectInvalidType RejectionCode = "file-invalid-type"
	RejectTooLarge    RejectionCode = "file-too-large"
	RejectTooMany     RejectionCode = "too-many-files"
	RejectUnreadable  RejectionCode = "file-unreadable"
	RejectBatchClosed RejectionCode = "batch-closed"
)

// Rejection describes a file refused at intake.
type Rejection struct {
	Name   string        `json:"name" msgpack:"name"`
	Code   RejectionCode `json:"code" msgpack:"code"`
	Reason string        `json:"reason" msgpack:"reason"`
}
