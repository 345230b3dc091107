// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// initialRetryDelay is the first backoff interval between attempts.
const initialRetryDelay = 1 * time.Second

// Retrying retries failed uploads with exponential backoff.
// Bodies that are not io.Seeker are attempted once.
type Retrying struct {
	next       Uploader
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewRetrying wraps next. maxRetries is the number of extra attempts; 0 disables retries.
func NewRetrying(next Uploader, maxRetries int, logger *zap.Logger) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{
		next:       next,
		maxRetries: uint64(maxRetries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initialRetryDelay
			return b
		},
		logger: logger,
	}
}

// Upload implements Uploader.
func (r *Retrying) Upload(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
	seeker, seekable := body.(io.Seeker)
	if r.maxRetries == 0 || !seekable {
		return r.next.Upload(ctx, name, body, size, contentType)
	}

	var ref string
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to rewind body: %w", err))
			}
		}

		var err error
		ref, err = r.next.Upload(ctx, name, body, size, contentType)
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		r.logger.Warn("Upload failed, retrying",
			zap.String("name", name),
			zap.Int("attempt", attempt),
			zap.Uint64("max_retries", r.maxRetries),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return "", fmt.Errorf("upload failed after %d attempts: %w", attempt, err)
	}
	return ref, nil
}
