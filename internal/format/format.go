// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package format

import (
	"path/filepath"
	"strings"

	"github.com/netSkope/segment-upload-tool/internal/source"
)

// Format is the detected classification of a source file.
type Format string

const (
	CSV     Format = "csv"
	JSON    Format = "json"
	SQL     Format = "sql"
	Archive Format = "archive"
	Unknown Format = "unknown"
)

var byExtension = map[string]Format{
	"csv":  CSV,
	"json": JSON,
	"sql":  SQL,
	"tar":  Archive,
	"gz":   Archive,
	"tgz":  Archive,
}

// Detect classifies a file by extension, then by declared MIME type.
// It always returns a value and defaults to Unknown.
func Detect(name, contentType string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if f, ok := byExtension[ext]; ok {
		return f
	}

	mimeType := strings.ToLower(contentType)
	switch {
	case mimeType == "text/csv":
		return CSV
	case mimeType == "application/json":
		return JSON
	case strings.Contains(mimeType, "sql"):
		return SQL
	}
	return Unknown
}

// Of detects the format of a source file.
func Of(f *source.File) Format {
	return Detect(f.Name, f.ContentType)
}

// IsArchiveExt reports whether ext (with or without dot) names an archive.
func IsArchiveExt(ext string) bool {
	return byExtension[strings.ToLower(strings.TrimPrefix(ext, "."))] == Archive
}
