// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalUploader writes blobs below a directory and returns file:// URLs.
type LocalUploader struct {
	dir    string
	logger *zap.Logger
}

// NewLocalUploader creates the target directory if needed.
func NewLocalUploader(dir string, logger *zap.Logger) (*LocalUploader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &LocalUploader{dir: abs, logger: logger}, nil
}

// Upload implements Uploader.
func (u *LocalUploader) Upload(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(u.dir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, u.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object name: %s", name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file first so a failed copy never leaves a partial object
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("short write for %s: wrote %d of %d bytes", name, written, size)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	u.logger.Debug("Stored object locally",
		zap.String("path", target),
		zap.Int64("size", written))

	return "file://" + filepath.ToSlash(target), nil
}
