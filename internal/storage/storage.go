// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"errors"
	"io"
	"path"
)

// ErrNoReference is returned when a backend accepted an upload but produced no reference.
var ErrNoReference = errors.New("upload returned no reference")

// Uploader persists an opaque blob and returns a durable reference to it.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error)
}

// UploadFunc adapts a function to the Uploader interface.
type UploadFunc func(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error)

func (f UploadFunc) Upload(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
	return f(ctx, name, body, size, contentType)
}

// Prefixed scopes every upload of u under prefix.
func Prefixed(u Uploader, prefix string) Uploader {
	if prefix == "" {
		return u
	}
	return UploadFunc(func(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
		return u.Upload(ctx, path.Join(prefix, name), body, size, contentType)
	})
}

// Checked wraps u so that an empty reference is reported as ErrNoReference.
func Checked(u Uploader) Uploader {
	return UploadFunc(func(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
		ref, err := u.Upload(ctx, name, body, size, contentType)
		if err != nil {
			return "", err
		}
		if ref == "" {
			return "", ErrNoReference
		}
		return ref, nil
	})
}
