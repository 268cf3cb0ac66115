package extract

import (
	"context"
	"errors"
	"io"
	"testing"

	"code.sajari.com/docconv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valuedesk/backend/internal/storage"
	"github.com/valuedesk/backend/internal/testutil"
)

type fakeConverter struct {
	body  string
	meta  map[string]string
	err   error
	calls int
	seen  []byte
	mime  string
}

func (f *fakeConverter) convert(r io.Reader, mimeType string) (*docconv.Response, error) {
	f.calls++
	f.mime = mimeType
	f.seen, _ = io.ReadAll(r)
	if f.err != nil {
		return nil, f.err
	}
	return &docconv.Response{Body: f.body, Meta: f.meta}, nil
}

func TestService_Extract(t *testing.T) {
	ctx := context.Background()

	t.Run("image with labelled fields", func(t *testing.T) {
		store := testutil.NewMockStorage()
		store.AddFile("img-1", "deed.jpg", "image/jpeg", []byte("jpeg-bytes"))
		conv := &fakeConverter{
			body: "  Title Deed\nDeed No: 4521\nOwner: A. Perera\n",
			meta: map[string]string{"engine": "tesseract"},
		}
		svc := NewService(store, WithConverter(conv.convert))

		result, err := svc.Extract(ctx, "img-1")
		require.NoError(t, err)

		assert.Equal(t, "Title Deed\nDeed No: 4521\nOwner: A. Perera", result.Text)
		assert.Equal(t, 1.0, result.Confidence)
		assert.Equal(t, map[string]string{"deed_no": "4521", "owner": "A. Perera"}, result.ExtractedData["fields"])
		assert.Equal(t, map[string]string{"engine": "tesseract"}, result.ExtractedData["meta"])
		assert.NotContains(t, result.ExtractedData, "page_count")
		assert.Equal(t, "jpeg-bytes", string(conv.seen))
		assert.Equal(t, "image/jpeg", conv.mime)
	})

	t.Run("result is cached", func(t *testing.T) {
		store := testutil.NewMockStorage()
		store.AddFile("img-1", "deed.png", "image/png", []byte("png"))
		conv := &fakeConverter{body: "Lot: 7"}
		svc := NewService(store, WithConverter(conv.convert))

		first, err := svc.Extract(ctx, "img-1")
		require.NoError(t, err)
		second, err := svc.Extract(ctx, "img-1")
		require.NoError(t, err)

		assert.Equal(t, 1, conv.calls)
		assert.Equal(t, first, second)

		info, _ := store.Get(ctx, "img-1")
		assert.Equal(t, storage.StatusExtracted, info.Status)
	})

	t.Run("unsupported type", func(t *testing.T) {
		store := testutil.NewMockStorage()
		store.AddFile("doc-1", "report.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("PK"))
		conv := &fakeConverter{body: "x"}
		svc := NewService(store, WithConverter(conv.convert))

		_, err := svc.Extract(ctx, "doc-1")
		assert.ErrorIs(t, err, ErrUnsupportedType)
		assert.Zero(t, conv.calls)
	})

	t.Run("unknown file", func(t *testing.T) {
		svc := NewService(testutil.NewMockStorage())
		_, err := svc.Extract(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("converter failure", func(t *testing.T) {
		store := testutil.NewMockStorage()
		store.AddFile("img-1", "blur.jpg", "image/jpeg", []byte("x"))
		conv := &fakeConverter{err: errors.New("tesseract not installed")}
		svc := NewService(store, WithConverter(conv.convert))

		_, err := svc.Extract(ctx, "img-1")
		assert.ErrorIs(t, err, ErrExtractionFailed)
		assert.Contains(t, err.Error(), "tesseract not installed")

		_, err = store.GetExtraction(ctx, "img-1")
		assert.ErrorIs(t, err, storage.ErrNotFound, "failures are not cached")
	})

	t.Run("unreadable pdf still extracts text", func(t *testing.T) {
		store := testutil.NewMockStorage()
		store.AddFile("pdf-1", "plan.pdf", "application/pdf", []byte("not really a pdf"))
		conv := &fakeConverter{body: "Survey Plan"}
		svc := NewService(store, WithConverter(conv.convert))

		result, err := svc.Extract(ctx, "pdf-1")
		require.NoError(t, err)
		assert.Equal(t, "Survey Plan", result.Text)
		assert.NotContains(t, result.ExtractedData, "page_count")
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := testutil.NewMockStorage()
		store.AddFile("img-1", "a.jpg", "image/jpeg", []byte("x"))
		conv := &fakeConverter{body: "x"}
		svc := NewService(store, WithConverter(conv.convert))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.Extract(cctx, "img-1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"empty", "", 0},
		{"clean text", "Deed No: 4521.", 1},
		{"replacement chars", "ab\uFFFD\uFFFD", 0.5},
		{"control noise", "abc\x00", 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Confidence(tt.text))
		})
	}
}

func TestSniffFields(t *testing.T) {
	text := `VALUATION REPORT
Deed No: 4521
Land Area (sqm): 450
Owner : Jane Doe
owner: someone else
See http://example.com
Notes:
: orphan value`

	assert.Equal(t, map[string]string{
		"deed_no":       "4521",
		"land_area_sqm": "450",
		"owner":         "Jane Doe",
	}, SniffFields(text))

	assert.Empty(t, SniffFields(""))
}

func TestFieldKey(t *testing.T) {
	assert.Equal(t, "plan_no", FieldKey("Plan No."))
	assert.Equal(t, "assessment_no_2024", FieldKey("  Assessment No / 2024 "))
	assert.Equal(t, "", FieldKey("--"))
}
