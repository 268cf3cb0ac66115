package upload

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMaxFileCount and DefaultMaxFileSize mirror the dashboard's upload widget.
const (
	DefaultMaxFileCount = 10
	DefaultMaxFileSize  = 10 * 1024 * 1024
)

// DocxMimeType is the MIME type of Word documents.
const DocxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Options configures a Coordinator.
type Options struct {
	// MaxFileCount caps the batch size. Zero means no cap.
	MaxFileCount int `yaml:"max_file_count" json:"maxFileCount"`
	// MaxFileSizeBytes caps each file. Zero means no cap.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" json:"maxFileSizeBytes"`
	// AllowedTypes holds MIME types ("application/pdf"), MIME wildcards
	// ("image/*") and extensions (".pdf"). Empty accepts everything.
	AllowedTypes           []string `yaml:"allowed_types" json:"allowedTypes"`
	ExtractionEnabled      bool     `yaml:"extraction_enabled" json:"extractionEnabled"`
	AutoApplyExtractedData bool     `yaml:"auto_apply_extracted_data" json:"autoApplyExtractedData"`
	// MaxConcurrentUploads caps in-flight transfers. Zero means unbounded.
	MaxConcurrentUploads int `yaml:"max_concurrent_uploads" json:"maxConcurrentUploads"`
}

// DefaultAllowedTypes returns images, PDF and DOCX.
func DefaultAllowedTypes() []string {
	return []string{
		"image/*", ".jpeg", ".jpg", ".png", ".gif",
		"application/pdf", ".pdf",
		DocxMimeType, ".docx",
	}
}

// DefaultOptions returns the widget defaults.
func DefaultOptions() Options {
	return Options{
		MaxFileCount:           DefaultMaxFileCount,
		MaxFileSizeBytes:       DefaultMaxFileSize,
		AllowedTypes:           DefaultAllowedTypes(),
		ExtractionEnabled:      true,
		AutoApplyExtractedData: true,
	}
}

// Validate rejects negative limits.
func (o Options) Validate() error {
	if o.MaxFileCount < 0 {
		return fmt.Errorf("max_file_count must not be negative, got %d", o.MaxFileCount)
	}
	if o.MaxFileSizeBytes < 0 {
		return fmt.Errorf("max_file_size_bytes must not be negative, got %d", o.MaxFileSizeBytes)
	}
	if o.MaxConcurrentUploads < 0 {
		return fmt.Errorf("max_concurrent_uploads must not be negative, got %d", o.MaxConcurrentUploads)
	}
	return nil
}

// ParsePolicy reads YAML options on top of DefaultOptions.
func ParsePolicy(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parsing upload policy: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadPolicy reads an upload policy YAML file.
func LoadPolicy(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("reading upload policy: %w", err)
	}
	return ParsePolicy(data)
}
