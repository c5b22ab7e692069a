package message

import (
	"regexp"
	"strings"
)

// FileType is the tag at the end of an uploaded file name.
type FileType string

// The three parts of an order.
const (
	FileTypeOrderHeaderDetails FileType = "OrderHeaderDetails"
	FileTypeOrderLineItems     FileType = "OrderLineItems"
	FileTypeProductInformation FileType = "ProductInformation"
)

// KnownFileTypes lists the parts in the order the merge payload expects them.
var KnownFileTypes = []FileType{
	FileTypeOrderHeaderDetails,
	FileTypeOrderLineItems,
	FileTypeProductInformation,
}

// Canonical maps a tag of any case onto the matching known file type.
// Unknown tags are returned unchanged.
func (ft FileType) Canonical() FileType {
	for _, known := range KnownFileTypes {
		if strings.EqualFold(string(ft), string(known)) {
			return known
		}
	}
	return ft
}

// Known reports whether ft is one of the three order parts.
func (ft FileType) Known() bool {
	for _, known := range KnownFileTypes {
		if ft == known {
			return true
		}
	}
	return false
}

func (ft FileType) String() string { return string(ft) }

// <anything>/<container>/<batch prefix>-<file type>.csv
var fileRefPattern = regexp.MustCompile(`(?i)^\S*/([^/]+)/(([\d^-]+)-(\w+))\.csv$`)

// FileReference is the parsed form of an uploaded file URL.
type FileReference struct {
	FullURL       string   `json:"full_url"`
	ContainerName string   `json:"container_name"`
	BatchPrefix   string   `json:"batch_prefix"`
	FileType      FileType `json:"file_type"`
	Filename      string   `json:"filename"`
}

// ParseFileReference extracts the order parts from url. ok is false when the
// URL is not shaped like an order file; that is not an error condition.
// A well-shaped URL with an unrecognised tag still parses, check
// FileType.Known before acting on it.
func ParseFileReference(url string) (ref FileReference, ok bool) {
	m := fileRefPattern.FindStringSubmatch(url)
	if m == nil {
		return FileReference{}, false
	}
	return FileReference{
		FullURL:       url,
		ContainerName: m[1],
		Filename:      m[2],
		BatchPrefix:   m[3],
		FileType:      FileType(m[4]).Canonical(),
	}, true
}
