// Package correlate derives document identity from uploaded object keys.
// The filename heuristic is intentionally permissive: two truly distinct
// documents sharing a filename stem will correlate to one identity.
package correlate

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/docstream/docproc/internal/models"
)

// IncomingPrefix is the namespace watched for page uploads.
const IncomingPrefix = "incoming/"

var (
	// stem, separator, page digits, extension: "report_2.jpg"
	pagedName = regexp.MustCompile(`^(.+?)[_-](\d+)\.([^.]+)$`)
	// stem, extension: "report.jpg" (implicit page 1)
	plainName = regexp.MustCompile(`^(.+)\.([^.]+)$`)
)

var supportedExtensions = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"pdf":  "application/pdf",
	"tiff": "image/tiff",
	"tif":  "image/tiff",
}

// PageRef is the parsed identity of one uploaded page.
type PageRef struct {
	Key        string
	Filename   string
	BaseName   string
	PageNumber int
	Extension  string

	// Explicit is true when the filename carried a page-number suffix,
	// which signals that sibling pages are likely to follow.
	Explicit bool
}

// ParseKey splits an incoming object key into base name, page number and
// extension. Unsupported extensions return models.ErrUnsupportedExtension.
func ParseKey(key string) (*PageRef, error) {
	filename := path.Base(key)

	ref := &PageRef{Key: key, Filename: filename}

	if m := pagedName.FindStringSubmatch(filename); m != nil {
		ref.BaseName = m[1]
		ref.PageNumber, _ = strconv.Atoi(m[2])
		ref.Extension = m[3]
		ref.Explicit = true
	} else if m := plainName.FindStringSubmatch(filename); m != nil {
		ref.BaseName = m[1]
		ref.PageNumber = 1
		ref.Extension = m[2]
	} else {
		return nil, fmt.Errorf("unparseable filename %q: %w", filename, models.ErrUnsupportedExtension)
	}

	if _, ok := supportedExtensions[strings.ToLower(ref.Extension)]; !ok {
		return nil, fmt.Errorf("extension %q: %w", ref.Extension, models.ErrUnsupportedExtension)
	}

	return ref, nil
}

// ContentTypeFor returns the expected MIME type for a supported extension.
func ContentTypeFor(ext string) (string, bool) {
	ct, ok := supportedExtensions[strings.ToLower(ext)]
	return ct, ok
}

// ValidContentType reports whether a stored object's content type matches
// what the pipeline can process.
func ValidContentType(ct string) bool {
	switch strings.ToLower(ct) {
	case "image/jpeg", "image/jpg", "image/png", "image/tiff", "application/pdf":
		return true
	}
	return false
}

// NormalizeBaseName produces the index key for a base name. Case folding
// keeps "Invoice_1.jpg" and "invoice_2.jpg" on one document.
func NormalizeBaseName(base string) string {
	return strings.ToLower(base)
}
