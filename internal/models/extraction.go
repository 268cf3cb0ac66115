package models

import (
	"maps"
	"strings"
)

// ExtractionResult is the output of a text-extraction (OCR) call.
type ExtractionResult struct {
	Text          string         `json:"text" msgpack:"text"`
	Confidence    float64        `json:"confidence" msgpack:"confidence"`
	ExtractedData map[string]any `json:"extracted_data,omitempty" msgpack:"extracted_data,omitempty"`
}

// IsEmpty reports whether the result carries nothing worth applying.
func (r *ExtractionResult) IsEmpty() bool {
	if r == nil {
		return true
	}
	return strings.TrimSpace(r.Text) == "" && len(r.ExtractedData) == 0
}

// Clone returns a deep copy of r. Nested maps and slices in ExtractedData
// are copied too.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.ExtractedData != nil {
		out.ExtractedData = make(map[string]any, len(r.ExtractedData))
		for k, v := range r.ExtractedData {
			out.ExtractedData[k] = cloneValue(v)
		}
	}
	return &out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case map[string]string:
		return maps.Clone(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
