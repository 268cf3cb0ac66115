// mock_storage.go - In-memory storage implementation for testing
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/storage"
)

// MockStorage implements storage.Store in memory.
type MockStorage struct {
	files       map[string]*models.FileInfo
	fileData    map[string][]byte
	extractions map[string]*models.ExtractionResult
	mu          sync.RWMutex
	seq         int
}

// NewMockStorage creates an empty mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:       make(map[string]*models.FileInfo),
		fileData:    make(map[string][]byte),
		extractions: make(map[string]*models.ExtractionResult),
	}
}

func (m *MockStorage) Save(_ context.Context, name, mimeType string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("test-id-%d", m.seq)
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		MimeType:   mimeType,
		Size:       int64(len(data)),
		UploadedAt: time.Now().Add(time.Duration(m.seq) * time.Millisecond),
		Status:     storage.StatusUploaded,
	}
	m.files[id] = info
	m.fileData[id] = data
	return copyInfo(info), nil
}

func (m *MockStorage) Get(_ context.Context, id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return copyInfo(info), nil
}

func (m *MockStorage) List(_ context.Context, limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(m.files))
	for _, info := range m.files {
		list = append(list, copyInfo(info))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MockStorage) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(m.files, id)
	delete(m.fileData, id)
	delete(m.extractions, id)
	return nil
}

func (m *MockStorage) Rename(_ context.Context, id string, newName string) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	info.Name = newName
	return copyInfo(info), nil
}

func (m *MockStorage) Open(_ context.Context, id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.fileData[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) SaveExtraction(_ context.Context, id string, result *models.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	m.extractions[id] = result
	info.Status = storage.StatusExtracted
	return nil
}

func (m *MockStorage) GetExtraction(_ context.Context, id string) (*models.ExtractionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, ok := m.extractions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no extraction for %s", storage.ErrNotFound, id)
	}
	return result, nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// AddFile adds a file directly to the mock
func (m *MockStorage) AddFile(id, name, mimeType string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		MimeType:   mimeType,
		Size:       int64(len(data)),
		UploadedAt: time.Now().Add(time.Duration(m.seq) * time.Millisecond),
		Status:     storage.StatusUploaded,
	}
	m.files[id] = info
	m.fileData[id] = data
	return copyInfo(info)
}

// GetFileCount returns the number of stored files
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

func copyInfo(info *models.FileInfo) *models.FileInfo {
	c := *info
	return &c
}
