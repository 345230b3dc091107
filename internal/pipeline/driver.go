// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package pipeline runs upload sessions: optional CSV conversion, table
// discovery, then a sequential upload of fixed-size segments that keeps going
// past failures and stops starting new segments once its context is cancelled.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netSkope/segment-upload-tool/internal/analyze"
	"github.com/netSkope/segment-upload-tool/internal/convert"
	"github.com/netSkope/segment-upload-tool/internal/format"
	"github.com/netSkope/segment-upload-tool/internal/inspect"
	"github.com/netSkope/segment-upload-tool/internal/manifest"
	"github.com/netSkope/segment-upload-tool/internal/segment"
	"github.com/netSkope/segment-upload-tool/internal/session"
	"github.com/netSkope/segment-upload-tool/internal/source"
	"github.com/netSkope/segment-upload-tool/internal/storage"
)

const defaultContentType = "application/octet-stream"

// Recorder persists session and segment progress. Errors are logged, never fatal.
type Recorder interface {
	RecordSession(ctx context.Context, s session.State) error
	RecordSegment(ctx context.Context, sessionID string, seg segment.Segment) error
}

// Options configures a Driver.
type Options struct {
	Uploader  storage.Uploader
	Inspector inspect.Inspector // inspect.Disabled{} when nil
	Recorder  Recorder          // Optional
	Rand      *rand.Rand        // Conversion randomness, optional

	SegmentSize   int64
	AutoConvert   bool
	WriteManifest bool

	// OnProgress receives every state transition of a session.
	OnProgress func(session.State)
	Logger     *zap.Logger
}

// Result describes a finished session.
type Result struct {
	State       session.State
	Payload     *source.File
	Tables      []analyze.Table
	ManifestURL string
}

// URLs returns the references of the uploaded segments in order.
func (r *Result) URLs() []string {
	var urls []string
	for _, seg := range r.State.Segments {
		if seg.Status == segment.StatusSuccess {
			urls = append(urls, seg.URL)
		}
	}
	return urls
}

// Driver runs one upload session at a time.
type Driver struct {
	opts  Options
	newID func() string
	now   func() time.Time

	running sync.Mutex

	// Tables of the last analyzed file, reused by later runs of the same file
	tables     []analyze.Table
	tablesFile string
}

// NewDriver validates opts and returns a driver.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if opts.SegmentSize <= 0 {
		return nil, fmt.Errorf("segment size must be positive, got %d", opts.SegmentSize)
	}
	if opts.Inspector == nil {
		opts.Inspector = inspect.Disabled{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Driver{
		opts:  opts,
		newID: uuid.NewString,
		now:   time.Now,
	}, nil
}

// run carries the state of one session.
type run struct {
	d        *Driver
	state    session.State
	uploader storage.Uploader
	logger   *zap.Logger
}

func (r *run) emit(e session.Event) {
	r.state = session.Apply(r.state, e)
	if r.d.opts.OnProgress != nil {
		r.d.opts.OnProgress(r.state)
	}
}

func (r *run) warn(msg string, err error) {
	r.logger.Warn(msg, zap.Error(err))
	r.emit(session.Warning{Message: fmt.Sprintf("%s: %v", msg, err)})
}

// Run uploads file. Cancelling ctx stops new segments from starting; a segment
// already in flight always finishes. A Result is returned even on failure.
func (d *Driver) Run(ctx context.Context, file *source.File) (*Result, error) {
	if !d.running.TryLock() {
		return nil, ErrSessionInFlight
	}
	defer d.running.Unlock()

	id := d.newID()
	r := &run{
		d:        d,
		uploader: storage.Checked(storage.Prefixed(d.opts.Uploader, id)),
		logger:   d.opts.Logger.With(zap.String("session_id", id)),
	}
	// Ledger writes and the manifest must survive cancellation
	persistCtx := context.WithoutCancel(ctx)

	r.emit(session.Started{ID: id, FileName: file.Name, At: d.now()})
	d.recordSession(persistCtx, r)

	from := format.Of(file)
	r.logger.Info("Starting upload session",
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
		zap.String("format", string(from)))

	payload := d.prepare(ctx, r, file, from)
	tables := d.discover(ctx, r, file)
	r.emit(session.TablesDiscovered{Names: analyze.Names(tables)})

	segments, err := segment.Plan(payload.Name, payload.Size, d.opts.SegmentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to plan segments: %w", err)
	}
	r.emit(session.Planned{PayloadName: payload.Name, Segments: segments})
	d.recordSession(persistCtx, r)

	r.logger.Info("Uploading segments",
		zap.String("payload", payload.Name),
		zap.Int64("size", payload.Size),
		zap.Int64("segment_size", d.opts.SegmentSize),
		zap.Int("total_segments", len(segments)))

	lastErr := d.upload(ctx, persistCtx, r, payload)

	r.emit(session.Finished{At: d.now()})
	result := &Result{State: r.state, Payload: payload, Tables: tables}

	if r.state.Successful == 0 {
		d.recordSession(persistCtx, r)
		r.logger.Error("Upload session failed",
			zap.Int("total_segments", r.state.Total),
			zap.Bool("aborted", r.state.Aborted),
			zap.Error(lastErr))
		return result, &TotalFailureError{Total: r.state.Total, Aborted: r.state.Aborted, Last: lastErr}
	}

	if d.opts.WriteManifest {
		m := manifest.Build(r.state, file, payload, d.opts.SegmentSize, tables)
		ref, err := manifest.Upload(persistCtx, r.uploader, manifest.Name(file), m, r.logger)
		if err != nil {
			r.warn("Failed to upload manifest", err)
		}
		result.ManifestURL = ref
		result.State = r.state
	}
	d.recordSession(persistCtx, r)

	r.logger.Info("Upload session finished",
		zap.String("phase", string(r.state.Phase)),
		zap.Int("total", r.state.Total),
		zap.Int("successful", r.state.Successful),
		zap.Int("failed", r.state.Failed))

	return result, nil
}

// prepare converts the file to CSV when enabled. Any conversion failure falls
// back to the original file.
func (d *Driver) prepare(ctx context.Context, r *run, file *source.File, from format.Format) *source.File {
	if !d.opts.AutoConvert || from == format.CSV {
		return file
	}

	conv := &convert.Converter{
		Uploader:  r.uploader,
		Inspector: d.opts.Inspector,
		Rand:      d.opts.Rand,
		Logger:    r.logger,
	}
	out, err := conv.Convert(ctx, file, from, func(p int) {
		r.emit(session.ConversionProgressed{Percent: p})
	})
	if err != nil {
		r.warn("CSV conversion failed, uploading original file", err)
		return file
	}
	return out
}

// discover returns the tables of file, analyzing it only when it differs from
// the previously analyzed file.
func (d *Driver) discover(ctx context.Context, r *run, file *source.File) []analyze.Table {
	if d.tables != nil && d.tablesFile == file.Name {
		return d.tables
	}

	a := &analyze.Analyzer{
		Uploader:  r.uploader,
		Inspector: d.opts.Inspector,
		Logger:    r.logger,
	}
	tables := a.Analyze(ctx, file)
	if tables == nil {
		tables = []analyze.Table{}
	}
	d.tables, d.tablesFile = tables, file.Name
	return tables
}

// upload sends every segment in order and returns the last segment error.
func (d *Driver) upload(ctx, persistCtx context.Context, r *run, payload *source.File) error {
	contentType := payload.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	var lastErr error
	total := len(r.state.Segments)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Upload cancelled, remaining segments will not be uploaded",
				zap.Int("processed", r.state.Processed),
				zap.Int("total_segments", total))
			r.emit(session.Cancelled{})
			break
		}

		seg := r.state.Segments[i]
		r.emit(session.SegmentStarted{Index: i})

		start := d.now()
		url, err := r.uploader.Upload(persistCtx, seg.Name, payload.Section(seg.Start, seg.End), seg.Len(), contentType)
		if err != nil {
			lastErr = &SegmentError{Index: i, Total: total, Name: seg.Name, Err: err}
			r.logger.Error("Failed to upload segment",
				zap.Int("segment", i+1),
				zap.Int("total_segments", total),
				zap.String("name", seg.Name),
				zap.Error(err))
			r.emit(session.SegmentFailed{Index: i, Err: err, At: d.now()})
		} else {
			r.logger.Info("Segment uploaded",
				zap.Int("segment", i+1),
				zap.Int("total_segments", total),
				zap.String("name", seg.Name),
				zap.Int64("bytes", seg.Len()),
				zap.Duration("elapsed", d.now().Sub(start)))
			r.emit(session.SegmentSucceeded{Index: i, URL: url, At: d.now()})
		}

		d.recordSegment(persistCtx, r, r.state.Segments[i])
		d.recordSession(persistCtx, r)
	}
	return lastErr
}

func (d *Driver) recordSession(ctx context.Context, r *run) {
	if d.opts.Recorder == nil {
		return
	}
	if err := d.opts.Recorder.RecordSession(ctx, r.state); err != nil {
		r.logger.Warn("Failed to record session", zap.Error(err))
	}
}

func (d *Driver) recordSegment(ctx context.Context, r *run, seg segment.Segment) {
	if d.opts.Recorder == nil {
		return
	}
	if err := d.opts.Recorder.RecordSegment(ctx, r.state.ID, seg); err != nil {
		r.logger.Warn("Failed to record segment",
			zap.Int("segment", seg.Index+1),
			zap.Error(err))
	}
}
