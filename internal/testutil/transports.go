// transports.go - Controllable upload and extraction fakes
package testutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/valuedesk/backend/internal/models"
)

// FakeUploader settles uploads on demand. Uploads for names that are held
// block until released; they ignore cancellation to mimic a transport that
// cannot be interrupted.
type FakeUploader struct {
	mu          sync.Mutex
	seq         int
	failures    map[string]error
	gates       map[string]chan struct{}
	calls       []string
	inFlight    int
	maxInFlight int
	// Delay is applied to every upload that is not held.
	Delay time.Duration
	// ReadContent makes Upload read the whole file through Open.
	ReadContent bool
	received    map[string][]byte
}

// NewFakeUploader creates an uploader that succeeds immediately.
func NewFakeUploader() *FakeUploader {
	return &FakeUploader{
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
		received: make(map[string][]byte),
	}
}

// FailFor makes uploads of name fail with err.
func (u *FakeUploader) FailFor(name string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures[name] = err
}

// Hold blocks uploads of name until the returned func is called.
func (u *FakeUploader) Hold(name string) (release func()) {
	u.mu.Lock()
	defer u.mu.Unlock()

	gate := make(chan struct{})
	u.gates[name] = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (u *FakeUploader) Upload(ctx context.Context, f models.SourceFile) (*models.UploadReceipt, error) {
	u.mu.Lock()
	u.calls = append(u.calls, f.Name)
	u.inFlight++
	if u.inFlight > u.maxInFlight {
		u.maxInFlight = u.inFlight
	}
	gate := u.gates[f.Name]
	failure := u.failures[f.Name]
	delay := u.Delay
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.inFlight--
		u.mu.Unlock()
	}()

	if gate != nil {
		<-gate
	} else if delay > 0 {
		time.Sleep(delay)
	}

	if failure != nil {
		return nil, failure
	}

	if u.ReadContent && f.Open != nil {
		r, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, err
		}
		u.mu.Lock()
		u.received[f.Name] = data
		u.mu.Unlock()
	}

	u.mu.Lock()
	u.seq++
	id := fmt.Sprintf("srv-%d", u.seq)
	u.mu.Unlock()

	return &models.UploadReceipt{ID: id, URL: "https://files.test/" + id}, nil
}

// Calls returns the names uploaded so far, in call order.
func (u *FakeUploader) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

// MaxInFlight returns the highest number of concurrent uploads observed.
func (u *FakeUploader) MaxInFlight() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.maxInFlight
}

// Received returns the content read for name when ReadContent is set.
func (u *FakeUploader) Received(name string) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.received[name]
}

// FakeExtractor returns canned extraction results by file id.
type FakeExtractor struct {
	mu       sync.Mutex
	results  map[string]*models.ExtractionResult
	failures map[string]error
	gates    map[string]chan struct{}
	calls    []string
}

// NewFakeExtractor creates an extractor that returns the file id as text.
func NewFakeExtractor() *FakeExtractor {
	return &FakeExtractor{
		results:  make(map[string]*models.ExtractionResult),
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// SetResult fixes the result for id.
func (e *FakeExtractor) SetResult(id string, r *models.ExtractionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[id] = r
}

// FailFor makes extraction of id fail with err.
func (e *FakeExtractor) FailFor(id string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[id] = err
}

// Hold blocks extraction of id until the returned func is called.
func (e *FakeExtractor) Hold(id string) (release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gate := make(chan struct{})
	e.gates[id] = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (e *FakeExtractor) Extract(ctx context.Context, id string) (*models.ExtractionResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, id)
	gate := e.gates[id]
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.failures[id]; err != nil {
		return nil, err
	}
	if r, ok := e.results[id]; ok {
		return r, nil
	}
	return &models.ExtractionResult{
		Text:          "text of " + id,
		Confidence:    0.9,
		ExtractedData: map[string]any{"source": id},
	}, nil
}

// Calls returns the ids extracted so far.
func (e *FakeExtractor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Source builds an in-memory SourceFile.
func Source(name, mimeType, content string) models.SourceFile {
	return models.SourceFile{
		Name:     name,
		Size:     int64(len(content)),
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}
