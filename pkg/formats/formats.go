package formats

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Recognized ebook format tags. A tag is the lowercase file extension
// without the leading dot.
const (
	FormatEPUB  = "epub"
	FormatMOBI  = "mobi"
	FormatAZW3  = "azw3"
	FormatAZW   = "azw"
	FormatPDF   = "pdf"
	FormatCBZ   = "cbz"
	FormatCBR   = "cbr"
	FormatFB2   = "fb2"
	FormatTXT   = "txt"
	FormatRTF   = "rtf"
	FormatHTML  = "html"
	FormatHTMLZ = "htmlz"
	FormatDOCX  = "docx"
	FormatLIT   = "lit"
	FormatPDB   = "pdb"
)

var recognized = map[string]bool{
	FormatEPUB:  true,
	FormatMOBI:  true,
	FormatAZW3:  true,
	FormatAZW:   true,
	FormatPDF:   true,
	FormatCBZ:   true,
	FormatCBR:   true,
	FormatFB2:   true,
	FormatTXT:   true,
	FormatRTF:   true,
	FormatHTML:  true,
	FormatHTMLZ: true,
	FormatDOCX:  true,
	FormatLIT:   true,
	FormatPDB:   true,
}

// kindleCompatible formats are accepted by the Amazon ingest service.
var kindleCompatible = map[string]bool{
	FormatEPUB: true,
	FormatAZW3: true,
	"kfx":      true,
	FormatPDF:  true,
	FormatTXT:  true,
}

// kindleNative formats render directly on the device without conversion.
var kindleNative = map[string]bool{
	FormatMOBI: true,
	FormatAZW3: true,
	"prc":      true,
}

var mimeTypes = map[string]string{
	FormatEPUB:  "application/epub+zip",
	FormatMOBI:  "application/x-mobipocket-ebook",
	FormatAZW:   "application/vnd.amazon.ebook",
	FormatAZW3:  "application/vnd.amazon.ebook",
	FormatPDF:   "application/pdf",
	FormatCBZ:   "application/vnd.comicbook+zip",
	FormatCBR:   "application/vnd.comicbook-rar",
	FormatFB2:   "application/x-fictionbook+xml",
	FormatTXT:   "text/plain",
	FormatRTF:   "application/rtf",
	FormatHTML:  "text/html",
	FormatHTMLZ: "application/zip",
	FormatDOCX:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatLIT:   "application/x-ms-reader",
	FormatPDB:   "application/vnd.palm",
}

// FromPath derives the format tag from a file path's extension. Returns an
// empty string when the extension is not a recognized format.
func FromPath(path string) string {
	tag := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !recognized[tag] {
		return ""
	}
	return tag
}

// IsRecognized reports whether tag is a known ebook format tag.
func IsRecognized(tag string) bool {
	return recognized[strings.ToLower(tag)]
}

// IsKindleCompatible reports whether the Amazon ingest service accepts the
// format.
func IsKindleCompatible(tag string) bool {
	return kindleCompatible[strings.ToLower(tag)]
}

// IsKindleNative reports whether a Kindle device renders the format without
// conversion.
func IsKindleNative(tag string) bool {
	return kindleNative[strings.ToLower(tag)]
}

// MIMEType returns the MIME type for a format tag. Unknown tags map to
// application/octet-stream.
func MIMEType(tag string) string {
	if mt, ok := mimeTypes[strings.ToLower(tag)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// DetectMIMEType sniffs the file contents when the extension alone isn't
// conclusive. Falls back to the extension table on read errors.
func DetectMIMEType(path string) string {
	tag := FromPath(path)
	if tag != "" {
		return MIMEType(tag)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
