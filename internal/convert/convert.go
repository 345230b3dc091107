// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package convert turns non-CSV sources into a CSV artifact. A sample of the
// source is uploaded and described by the inspection service, then the returned
// sample rows are amplified into a synthetic CSV sized after the source.
package convert

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/netSkope/segment-upload-tool/internal/format"
	"github.com/netSkope/segment-upload-tool/internal/inspect"
	"github.com/netSkope/segment-upload-tool/internal/source"
	"github.com/netSkope/segment-upload-tool/internal/storage"
)

const (
	// SampleSize is the number of leading bytes sent for inspection: 100KB
	SampleSize = 100 * 1024
	// MaxRows caps the synthetic row count
	MaxRows = 10000
	// BytesPerRow is the source size represented by one synthetic row
	BytesPerRow = 1000
	// progressEvery is the row interval between progress callbacks
	progressEvery = 100
)

const prompt = `Analyze this data file sample and determine whether it can be converted to CSV.
If it can, list the column names and provide a representative CSV sample with a header row.
Describe any caveats in conversion_notes. Respond with JSON only.`

// Shape is the response schema sent with the conversion prompt.
var Shape = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"detected_format":     map[string]any{"type": "string"},
		"conversion_possible": map[string]any{"type": "boolean"},
		"columns":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"sample_csv":          map[string]any{"type": "string"},
		"conversion_notes":    map[string]any{"type": "string"},
	},
}

// ErrNoSampleRows is returned when the inspection sample holds no header or no data rows.
var ErrNoSampleRows = errors.New("conversion sample has no rows")

// SampleUploadError reports that the inspection sample could not be uploaded.
type SampleUploadError struct {
	Err error
}

func (e *SampleUploadError) Error() string {
	return fmt.Sprintf("failed to upload conversion sample: %v", e.Err)
}

func (e *SampleUploadError) Unwrap() error { return e.Err }

// ConversionRefusedError reports that the inspection service declined the conversion.
type ConversionRefusedError struct {
	Format format.Format
	Notes  string
}

func (e *ConversionRefusedError) Error() string {
	if e.Notes == "" {
		return fmt.Sprintf("conversion from %s to CSV is not possible", e.Format)
	}
	return fmt.Sprintf("conversion from %s to CSV is not possible: %s", e.Format, e.Notes)
}

// InspectError reports a failed or unparseable inspection.
type InspectError struct {
	Err error
}

func (e *InspectError) Error() string {
	return fmt.Sprintf("failed to inspect conversion sample: %v", e.Err)
}

func (e *InspectError) Unwrap() error { return e.Err }

// ProgressFunc receives conversion progress in percent.
type ProgressFunc func(percent int)

// Converter produces CSV artifacts.
type Converter struct {
	Uploader  storage.Uploader
	Inspector inspect.Inspector
	// Rand drives the numeric perturbation. A time-seeded source is used when nil.
	Rand   *rand.Rand
	Logger *zap.Logger
}

// OutputName returns the artifact name for a source file.
func OutputName(f *source.File) string {
	return f.BaseName() + "_converted.csv"
}

// TargetRows returns the number of synthetic rows for a source of size bytes.
func TargetRows(size int64) int {
	if size <= 0 {
		return 0
	}
	rows := (size + BytesPerRow - 1) / BytesPerRow
	if rows > MaxRows {
		return MaxRows
	}
	return int(rows)
}

// Convert returns f unchanged when it is already CSV, otherwise a new in-memory CSV file.
func (c *Converter) Convert(ctx context.Context, f *source.File, from format.Format, onProgress ProgressFunc) (*source.File, error) {
	if from == format.CSV {
		return f, nil
	}
	report := func(p int) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	report(5)
	sample, err := f.Head(SampleSize)
	if err != nil {
		return nil, &SampleUploadError{Err: err}
	}
	report(10)

	url, err := c.Uploader.Upload(ctx, "sample_"+f.Name, bytes.NewReader(sample), int64(len(sample)), f.ContentType)
	if err == nil && url == "" {
		err = storage.ErrNoReference
	}
	if err != nil {
		return nil, &SampleUploadError{Err: err}
	}
	report(30)

	c.Logger.Info("Conversion sample uploaded",
		zap.String("file", f.Name),
		zap.String("format", string(from)),
		zap.Int("sample_bytes", len(sample)))

	raw, err := c.Inspector.Inspect(ctx, url, prompt, Shape)
	if err != nil {
		return nil, &InspectError{Err: err}
	}
	if !gjson.ValidBytes(raw) {
		return nil, &InspectError{Err: errors.New("malformed inspection response")}
	}
	report(60)

	resp := gjson.ParseBytes(raw)
	if !resp.Get("conversion_possible").Bool() {
		return nil, &ConversionRefusedError{Format: from, Notes: resp.Get("conversion_notes").String()}
	}

	header, rows, err := parseSample(resp.Get("sample_csv").String())
	if err != nil {
		return nil, err
	}

	rng := c.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	target := TargetRows(f.Size)
	data, err := synthesize(header, rows, target, rng, func(done int) {
		report(60 + done*40/target)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write converted CSV: %w", err)
	}
	report(100)

	out := source.FromBytes(OutputName(f), "text/csv", data)
	c.Logger.Info("Conversion completed",
		zap.String("file", f.Name),
		zap.String("output", out.Name),
		zap.Int("rows", target),
		zap.Int64("size", out.Size),
		zap.String("detected_format", resp.Get("detected_format").String()))

	return out, nil
}

// parseSample splits the inspection CSV into a header and data rows.
func parseSample(sample string) ([]string, [][]string, error) {
	r := csv.NewReader(strings.NewReader(sample))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, &InspectError{Err: fmt.Errorf("invalid sample CSV: %w", err)}
	}
	if len(records) < 2 {
		return nil, nil, ErrNoSampleRows
	}
	return records[0], records[1:], nil
}

// synthesize writes header plus target rows cycled from samples with perturbed numbers.
func synthesize(header []string, samples [][]string, target int, rng *rand.Rand, progress func(done int)) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i := 0; i < target; i++ {
		if err := w.Write(perturbRow(samples[i%len(samples)], rng)); err != nil {
			return nil, err
		}
		if (i+1)%progressEvery == 0 {
			progress(i + 1)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func perturbRow(row []string, rng *rand.Rand) []string {
	out := make([]string, len(row))
	for i, field := range row {
		out[i] = perturb(field, rng)
	}
	return out
}

// perturb scales a numeric field by a factor in [0.9, 1.1]. Integers stay
// integers, other numbers keep two decimals, anything else is returned as is.
func perturb(field string, rng *rand.Rand) string {
	trimmed := strings.TrimSpace(field)
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return field
	}

	factor := 0.9 + rng.Float64()*0.2
	if _, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return strconv.FormatInt(int64(math.Round(v*factor)), 10)
	}
	return strconv.FormatFloat(v*factor, 'f', 2, 64)
}
