// Package extract derives text and structured fields from stored images and PDFs.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/storage"
)

var (
	// ErrUnsupportedType is returned for files that are neither images nor PDFs.
	ErrUnsupportedType = errors.New("unsupported file type for extraction")
	// ErrExtractionFailed wraps converter failures.
	ErrExtractionFailed = errors.New("extraction failed")
)

// ConvertFunc turns document content into text plus metadata.
type ConvertFunc func(r io.Reader, mimeType string) (*docconv.Response, error)

// Service runs extractions against files in a store and caches the results.
type Service struct {
	store   storage.Store
	convert ConvertFunc
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithConverter replaces the docconv converter.
func WithConverter(fn ConvertFunc) Option {
	return func(s *Service) { s.convert = fn }
}

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates an extraction service backed by store.
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		convert: func(r io.Reader, mimeType string) (*docconv.Response, error) {
			return docconv.Convert(r, mimeType, false)
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract returns the extraction result for a stored file. A cached result
// is returned as is.
func (s *Service) Extract(ctx context.Context, fileID string) (*models.ExtractionResult, error) {
	info, err := s.store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if cached, err := s.store.GetExtraction(ctx, fileID); err == nil {
		return cached, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("reading cached extraction", slog.String("id", fileID), slog.Any("error", err))
	}

	if !models.IsExtractableType(info.MimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, info.MimeType)
	}

	content, err := s.readContent(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := s.convert(bytes.NewReader(content), info.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Body)
	data := make(map[string]any)
	if fields := SniffFields(text); len(fields) > 0 {
		data["fields"] = fields
	}
	if info.MimeType == "application/pdf" {
		if n, err := api.PageCount(bytes.NewReader(content), model.NewDefaultConfiguration()); err == nil {
			data["page_count"] = n
		} else {
			s.log.Warn("counting pdf pages", slog.String("id", fileID), slog.Any("error", err))
		}
	}
	if len(resp.Meta) > 0 {
		data["meta"] = resp.Meta
	}

	result := &models.ExtractionResult{
		Text:          text,
		Confidence:    Confidence(text),
		ExtractedData: data,
	}

	if err := s.store.SaveExtraction(ctx, fileID, result); err != nil {
		s.log.Warn("caching extraction", slog.String("id", fileID), slog.Any("error", err))
	}

	s.log.Info("extracted",
		slog.String("id", fileID),
		slog.Int("chars", len(text)),
		slog.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func (s *Service) readContent(ctx context.Context, fileID string) ([]byte, error) {
	r, err := s.store.Open(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fileID, err)
	}
	return content, nil
}

// Confidence scores text by the share of characters that are letters,
// digits, punctuation or spacing. OCR noise lowers it. Empty text scores 0.
func Confidence(text string) float64 {
	var total, good int
	for _, r := range text {
		total++
		switch {
		case r == unicode.ReplacementChar:
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			good++
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return math.Round(float64(good)/float64(total)*100) / 100
}
