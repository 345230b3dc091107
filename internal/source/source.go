// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package source

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// File is an immutable handle to the bytes being uploaded.
// It is referenced by the pipeline and never mutated.
type File struct {
	Name        string
	Size        int64
	ContentType string
	r           io.ReaderAt
	closer      io.Closer
}

// New wraps an io.ReaderAt of a known size.
func New(name string, size int64, contentType string, r io.ReaderAt) *File {
	return &File{Name: name, Size: size, ContentType: contentType, r: r}
}

// FromBytes builds an in-memory File.
func FromBytes(name, contentType string, data []byte) *File {
	return New(name, int64(len(data)), contentType, bytes.NewReader(data))
}

// Open opens a file on disk. The content type comes from the extension,
// falling back to sniffing the first 512 bytes.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("path is a directory: %s", path)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(strings.ToLower(extOf(name)))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := f.ReadAt(head, 0)
		if n > 0 {
			contentType = http.DetectContentType(head[:n])
		}
	}

	return &File{
		Name:        name,
		Size:        info.Size(),
		ContentType: contentType,
		r:           f,
		closer:      f,
	}, nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.r.ReadAt(p, off)
}

// Section returns a reader over [start, end).
func (f *File) Section(start, end int64) *io.SectionReader {
	return io.NewSectionReader(f.r, start, end-start)
}

// Head reads at most n bytes from the start of the file.
func (f *File) Head(n int64) ([]byte, error) {
	if n > f.Size {
		n = f.Size
	}
	buf := make([]byte, n)
	read, err := f.r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read sample: %w", err)
	}
	return buf[:read], nil
}

// BaseName returns the name without its last extension.
func (f *File) BaseName() string {
	base, _ := SplitExt(f.Name)
	return base
}

// Ext returns the last extension including the dot.
func (f *File) Ext() string {
	return extOf(f.Name)
}

// SplitExt splits name at its last dot. A leading dot (".env") is part of the
// base, not an extension.
func SplitExt(name string) (base, ext string) {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || strings.ContainsAny(name[dot:], "/\\") {
		return name, ""
	}
	return name[:dot], name[dot:]
}

func extOf(name string) string {
	_, ext := SplitExt(name)
	return ext
}

// Close releases the underlying file for handles created by Open.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}
