package fileutils

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	smartDoubleQuotes = regexp.MustCompile(`[""]`)
	smartSingleQuotes = regexp.MustCompile(`['']`)
	invalidChars      = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	multipleSpaces    = regexp.MustCompile(`\s+`)
)

// MoveFile moves src to dst. It tries a rename first and falls back to
// copy+delete when the paths live on different filesystems.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	err = CopyFile(src, dst)
	if err != nil {
		return errors.WithStack(err)
	}

	// Remove the source file only after successful copy
	err = os.Remove(src)
	if err != nil {
		// If we can't remove the source, try to clean up the destination
		os.Remove(dst)
		return errors.WithStack(err)
	}

	return nil
}

// CopyFile copies a file from source to destination, preserving permissions.
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return errors.WithStack(err)
	}

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	err = destFile.Chmod(sourceInfo.Mode())
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// SanitizeFilename strips characters that are invalid in filenames across
// common filesystems and normalizes whitespace.
func SanitizeFilename(name string) string {
	name = smartDoubleQuotes.ReplaceAllString(name, `"`)
	name = smartSingleQuotes.ReplaceAllString(name, `'`)
	name = invalidChars.ReplaceAllString(name, "")
	name = multipleSpaces.ReplaceAllString(name, " ")

	// Trim spaces and dots from the ends (Windows doesn't like trailing dots)
	name = strings.Trim(name, " .")

	if len(name) > 200 {
		name = name[:200]
		name = strings.Trim(name, " .")
	}

	return name
}

// SplitNames splits a combined author/narrator string on the separators seen
// in metadata dumps: ampersands, semicolons, and commas.
func SplitNames(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	for _, chunk := range strings.Split(s, "&") {
		for _, segment := range strings.Split(chunk, ";") {
			for _, part := range strings.Split(segment, ",") {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					parts = append(parts, trimmed)
				}
			}
		}
	}
	return parts
}
