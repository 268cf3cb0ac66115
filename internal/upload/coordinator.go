// Package upload tracks a batch of file uploads and their optional
// text-extraction step.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/valuedesk/backend/internal/models"
	"golang.org/x/sync/semaphore"
)

// Uploader transfers a file and returns its server identity.
type Uploader interface {
	Upload(ctx context.Context, file models.SourceFile) (*models.UploadReceipt, error)
}

// Extractor derives text and structured data from an uploaded file.
type Extractor interface {
	Extract(ctx context.Context, fileID string) (*models.ExtractionResult, error)
}

// Hooks are the notifications a hosting page consumes. They are called
// outside the state lock, one at a time, in mutation order. A hook may read
// the coordinator but must not mutate it synchronously.
type Hooks struct {
	// FilesChanged receives the full batch after every intake, settlement or removal.
	FilesChanged func(files []models.TrackedFile)
	// ExtractedData receives a successful, non-empty extraction result when
	// AutoApplyExtractedData is set.
	ExtractedData func(fileID string, result models.ExtractionResult)
}

// Coordinator owns a batch of tracked files.
type Coordinator struct {
	opts      Options
	uploader  Uploader
	extractor Extractor
	hooks     Hooks
	log       *slog.Logger

	mu     sync.Mutex
	files  []*entry
	closed bool

	// notifyMu serializes mutation+notification so hooks observe updates in order.
	notifyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

type entry struct {
	file   models.TrackedFile
	ctx    context.Context
	cancel context.CancelFunc
}

// notice describes what an update needs to announce.
type notice struct {
	changed   bool
	fileID    string
	extracted *models.ExtractionResult
}

// NewCoordinator creates a coordinator. extractor may be nil when
// extraction is not offered.
func NewCoordinator(opts Options, uploader Uploader, extractor Extractor, hooks Hooks, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		opts:      opts,
		uploader:  uploader,
		extractor: extractor,
		hooks:     hooks,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	if opts.MaxConcurrentUploads > 0 {
		c.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentUploads))
	}
	return c
}

// Options returns the coordinator configuration.
func (c *Coordinator) Options() Options {
	return c.opts
}

// Intake validates files and starts an upload for each accepted one.
// Accepted files are appended in the given order with status uploading.
func (c *Coordinator) Intake(files []models.SourceFile) ([]models.TrackedFile, []models.Rejection) {
	candidates := make([]models.SourceFile, len(files))
	copy(candidates, files)

	verdicts := make([]*models.Rejection, len(candidates))
	for i := range candidates {
		verdicts[i] = c.opts.Screen(&candidates[i])
	}

	var accepted []models.TrackedFile

	c.update(func() notice {
		for i, src := range candidates {
			if verdicts[i] != nil {
				continue
			}
			if c.closed {
				verdicts[i] = &models.Rejection{Name: src.Name, Code: models.RejectBatchClosed, Reason: "Batch is closed"}
				continue
			}
			if c.opts.MaxFileCount > 0 && len(c.files) >= c.opts.MaxFileCount {
				verdicts[i] = tooMany(src.Name, c.opts.MaxFileCount)
				continue
			}

			ctx, cancel := context.WithCancel(c.ctx)
			e := &entry{
				file: models.TrackedFile{
					ID:       "temp-" + uuid.New().String(),
					Name:     src.Name,
					Size:     src.Size,
					MimeType: src.MimeType,
					State:    models.Uploading{},
				},
				ctx:    ctx,
				cancel: cancel,
			}
			c.files = append(c.files, e)
			accepted = append(accepted, e.file)

			c.wg.Add(1)
			go c.uploadOne(ctx, e.file.ID, src)
		}
		return notice{changed: len(accepted) > 0}
	})

	var rejected []models.Rejection
	for _, r := range verdicts {
		if r != nil {
			rejected = append(rejected, *r)
		}
	}

	c.log.Info("intake", slog.Int("accepted", len(accepted)), slog.Int("rejected", len(rejected)))
	return accepted, rejected
}

// uploadOne performs the transfer for one accepted file.
func (c *Coordinator) uploadOne(ctx context.Context, tempID string, src models.SourceFile) {
	defer c.wg.Done()

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.settleUpload(tempID, nil, err)
			return
		}
		defer c.sem.Release(1)
	}

	receipt, err := c.uploader.Upload(ctx, src)
	c.settleUpload(tempID, receipt, err)
}

// settleUpload applies an upload outcome to the entry still holding tempID.
func (c *Coordinator) settleUpload(tempID string, receipt *models.UploadReceipt, err error) {
	c.update(func() notice {
		if c.closed {
			return notice{}
		}
		e := c.findLocked(tempID)
		if e == nil {
			c.log.Debug("dropping upload settlement for removed file", slog.String("id", tempID))
			return notice{}
		}

		switch {
		case err != nil:
			e.file.State = models.Failed{Stage: models.StageUpload, Message: failureDetail("upload", err)}
		case receipt == nil || receipt.ID == "":
			e.file.State = models.Failed{Stage: models.StageUpload, Message: "upload returned no file id"}
		case receipt.URL == "":
			e.file.State = models.Failed{Stage: models.StageUpload, Message: "upload returned no file url"}
		case c.findLocked(receipt.ID) != nil:
			e.file.State = models.Failed{Stage: models.StageUpload, Message: fmt.Sprintf("file id %s is already in the batch", receipt.ID)}
		default:
			e.file.ID = receipt.ID
			e.file.State = models.Completed{RemoteURL: receipt.URL}
		}

		if failed, ok := e.file.State.(models.Failed); ok {
			c.log.Warn("upload failed", slog.String("file", e.file.Name), slog.String("error", failed.Message))
		} else {
			c.log.Info("upload complete", slog.String("file", e.file.Name), slog.String("id", e.file.ID))
		}
		return notice{changed: true}
	})
}

// RequestExtraction moves a completed, extractable file to processing and
// starts an extraction for it. Ineligible requests change nothing.
func (c *Coordinator) RequestExtraction(id string) error {
	var startErr error

	c.update(func() notice {
		if c.closed {
			startErr = ErrClosed
			return notice{}
		}
		e := c.findLocked(id)
		if e == nil {
			startErr = fmt.Errorf("%w: %s", ErrFileNotFound, id)
			return notice{}
		}
		if !c.opts.ExtractionEnabled || c.extractor == nil {
			startErr = ErrExtractionDisabled
			return notice{}
		}
		done, ok := e.file.State.(models.Completed)
		if !ok {
			startErr = fmt.Errorf("%w: %s is %s", ErrNotEligible, id, e.file.Status())
			return notice{}
		}
		if !e.file.Extractable() {
			startErr = fmt.Errorf("%w: type %q is not supported", ErrNotEligible, e.file.MimeType)
			return notice{}
		}

		e.file.State = models.Processing{RemoteURL: done.RemoteURL, Extracted: done.Extracted}

		c.wg.Add(1)
		go c.extractOne(e.ctx, id)
		return notice{changed: true}
	})

	return startErr
}

func (c *Coordinator) extractOne(ctx context.Context, id string) {
	defer c.wg.Done()

	result, err := c.extractor.Extract(ctx, id)
	c.settleExtraction(id, result, err)
}

// settleExtraction applies an extraction outcome.
func (c *Coordinator) settleExtraction(id string, result *models.ExtractionResult, err error) {
	c.update(func() notice {
		if c.closed {
			return notice{}
		}
		e := c.findLocked(id)
		if e == nil {
			c.log.Debug("dropping extraction settlement for removed file", slog.String("id", id))
			return notice{}
		}
		processing, ok := e.file.State.(models.Processing)
		if !ok {
			return notice{}
		}

		if err != nil {
			e.file.State = models.Failed{Stage: models.StageExtraction, Message: failureDetail("extraction", err)}
			c.log.Warn("extraction failed", slog.String("id", id), slog.Any("error", err))
			return notice{changed: true}
		}
		if result == nil {
			result = &models.ExtractionResult{}
		}
		result = result.Clone()

		e.file.State = models.Completed{RemoteURL: processing.RemoteURL, Extracted: result}
		c.log.Info("extraction complete", slog.String("id", id), slog.Float64("confidence", result.Confidence))

		n := notice{changed: true}
		if c.opts.AutoApplyExtractedData && !result.IsEmpty() {
			n.fileID = id
			n.extracted = result.Clone()
		}
		return n
	})
}

// Remove stops tracking a file regardless of its state. In-flight work for
// it is cancelled on a best-effort basis and its settlement is discarded.
// It reports whether the id was present.
func (c *Coordinator) Remove(id string) bool {
	removed := false

	c.update(func() notice {
		i := slices.IndexFunc(c.files, func(e *entry) bool { return e.file.ID == id })
		if i < 0 {
			return notice{}
		}
		c.files[i].cancel()
		c.files = slices.Delete(c.files, i, i+1)
		removed = true
		return notice{changed: true}
	})

	return removed
}

// Batch returns an ordered snapshot of the tracked files.
func (c *Coordinator) Batch() []models.TrackedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Get returns a single tracked file.
func (c *Coordinator) Get(id string) (models.TrackedFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.findLocked(id); e != nil {
		return e.file.Clone(), true
	}
	return models.TrackedFile{}, false
}

// Pending counts files that are uploading or processing.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.files {
		switch e.file.State.(type) {
		case models.Uploading, models.Processing:
			n++
		}
	}
	return n
}

// Wait blocks until every in-flight upload and extraction has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight work. Settlements arriving afterwards are dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// update applies fn under the state lock, then delivers the resulting
// notifications (thread-safe).
func (c *Coordinator) update(fn func() notice) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	n := fn()
	var snapshot []models.TrackedFile
	if n.changed {
		snapshot = c.snapshotLocked()
	}
	c.mu.Unlock()

	if n.changed && c.hooks.FilesChanged != nil {
		c.hooks.FilesChanged(snapshot)
	}
	if n.extracted != nil && c.hooks.ExtractedData != nil {
		c.hooks.ExtractedData(n.fileID, *n.extracted)
	}
}

func (c *Coordinator) findLocked(id string) *entry {
	for _, e := range c.files {
		if e.file.ID == id {
			return e
		}
	}
	return nil
}

func (c *Coordinator) snapshotLocked() []models.TrackedFile {
	out := make([]models.TrackedFile, len(c.files))
	for i, e := range c.files {
		out[i] = e.file.Clone()
	}
	return out
}

func failureDetail(op string, err error) string {
	if errors.Is(err, context.Canceled) {
		return op + " cancelled"
	}
	return err.Error()
}
