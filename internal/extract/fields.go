package extract

import (
	"regexp"
	"strings"
)

// labelLine matches "Label: value" lines such as "Deed No: 4521".
var labelLine = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 /&().#'-]{0,48}?)\s*:\s*(\S.*?)\s*$`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SniffFields collects labelled values from extracted text. Keys are snake
// cased; the first occurrence of a label wins.
func SniffFields(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		m := labelLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := FieldKey(m[1])
		if key == "" || strings.HasPrefix(m[2], "//") {
			continue
		}
		if _, seen := fields[key]; seen {
			continue
		}
		fields[key] = m[2]
	}
	return fields
}

// FieldKey converts a label to snake_case.
func FieldKey(label string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(label), "_"), "_")
}
