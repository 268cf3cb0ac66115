package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/valuedesk/backend/internal/models"
)

// typeAllowed matches a file against the allowed type patterns. A file
// passes if either its MIME type or its extension matches.
func (o Options) typeAllowed(name, mimeType string) bool {
	if len(o.AllowedTypes) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(name))
	mt := strings.ToLower(mimeType)

	for _, p := range o.AllowedTypes {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
			continue
		case strings.HasPrefix(p, "."):
			if ext == p {
				return true
			}
		case strings.HasSuffix(p, "/*"):
			if mt != "" && strings.HasPrefix(mt, strings.TrimSuffix(p, "*")) {
				return true
			}
		default:
			if mt == p {
				return true
			}
		}
	}
	return false
}

// Screen runs the per-file checks that do not depend on batch headroom.
// It fills in a sniffed MIME type when none was declared.
func (o Options) Screen(f *models.SourceFile) *models.Rejection {
	if f.MimeType == "" && f.Open != nil {
		mt, err := sniffMimeType(f)
		if err != nil {
			return &models.Rejection{
				Name:   f.Name,
				Code:   models.RejectUnreadable,
				Reason: fmt.Sprintf("File could not be read: %v", err),
			}
		}
		f.MimeType = mt
	}

	if !o.typeAllowed(f.Name, f.MimeType) {
		return &models.Rejection{
			Name:   f.Name,
			Code:   models.RejectInvalidType,
			Reason: "File type must be one of " + strings.Join(o.AllowedTypes, ", "),
		}
	}

	if o.MaxFileSizeBytes > 0 && f.Size > o.MaxFileSizeBytes {
		return &models.Rejection{
			Name:   f.Name,
			Code:   models.RejectTooLarge,
			Reason: fmt.Sprintf("File is larger than %d bytes", o.MaxFileSizeBytes),
		}
	}

	return nil
}

func tooMany(name string, max int) *models.Rejection {
	return &models.Rejection{
		Name:   name,
		Code:   models.RejectTooMany,
		Reason: fmt.Sprintf("Too many files, at most %d allowed", max),
	}
}

// sniffMimeType detects the content type from the file header.
func sniffMimeType(f *models.SourceFile) (string, error) {
	r, err := f.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", err
	}
	base, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(base), nil
}
