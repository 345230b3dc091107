// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/netSkope/segment-upload-tool/internal/format"
	"github.com/netSkope/segment-upload-tool/internal/source"
	"github.com/netSkope/segment-upload-tool/internal/storage"
)

type fakeInspector struct {
	response string
	err      error
	calls    int
}

func (f *fakeInspector) Inspect(ctx context.Context, fileURL, prompt string, shape map[string]any) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.response), nil
}

type recordingUploader struct {
	ref   string
	err   error
	names []string
	sizes []int64
}

func (u *recordingUploader) Upload(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
	data, _ := io.ReadAll(body)
	u.names = append(u.names, name)
	u.sizes = append(u.sizes, int64(len(data)))
	return u.ref, u.err
}

const okResponse = `{
	"detected_format": "json",
	"conversion_possible": true,
	"columns": ["id", "name", "amount"],
	"sample_csv": "id,name,amount\n1,alice,10.50\n2,bob,200\n",
	"conversion_notes": ""
}`

func newConverter(t *testing.T, u storage.Uploader, i *fakeInspector) *Converter {
	return &Converter{Uploader: u, Inspector: i, Rand: rand.New(rand.NewSource(1)), Logger: zaptest.NewLogger(t)}
}

func readCSV(t *testing.T, f *source.File) [][]string {
	t.Helper()
	data, err := f.Head(f.Size)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("artifact is not valid CSV: %v", err)
	}
	return records
}

func TestConvert_CSVIsIdentity(t *testing.T) {
	uploader := &recordingUploader{ref: "u"}
	inspector := &fakeInspector{response: okResponse}
	c := newConverter(t, uploader, inspector)

	in := source.FromBytes("data.csv", "text/csv", []byte("a,b\n1,2\n"))
	out, err := c.Convert(context.Background(), in, format.CSV, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if out != in {
		t.Errorf("expected the same file back")
	}
	if len(uploader.names) != 0 || inspector.calls != 0 {
		t.Errorf("no collaborator should be called for CSV input")
	}
}

func TestConvert_Success(t *testing.T) {
	uploader := &recordingUploader{ref: "s3://bucket/sample_events.json"}
	inspector := &fakeInspector{response: okResponse}
	c := newConverter(t, uploader, inspector)

	// 250KB source -> 250 rows, sample capped at 100KB
	in := source.FromBytes("events.json", "application/json", bytes.Repeat([]byte("{}\n"), 250_000/3+1))
	var progress []int
	out, err := c.Convert(context.Background(), in, format.JSON, func(p int) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if out.Name != "events_converted.csv" || out.ContentType != "text/csv" {
		t.Errorf("unexpected artifact %s (%s)", out.Name, out.ContentType)
	}
	if len(uploader.names) != 1 || uploader.names[0] != "sample_events.json" {
		t.Errorf("unexpected sample uploads %v", uploader.names)
	}
	if uploader.sizes[0] != SampleSize {
		t.Errorf("expected %d byte sample, got %d", SampleSize, uploader.sizes[0])
	}

	records := readCSV(t, out)
	wantRows := TargetRows(in.Size)
	if len(records) != wantRows+1 {
		t.Fatalf("expected %d records, got %d", wantRows+1, len(records))
	}
	if strings.Join(records[0], ",") != "id,name,amount" {
		t.Errorf("unexpected header %v", records[0])
	}
	for i, rec := range records[1:] {
		if i%2 == 0 {
			if rec[1] != "alice" {
				t.Errorf("row %d: expected alice, got %s", i, rec[1])
			}
			if !strings.Contains(rec[2], ".") {
				t.Errorf("row %d: decimal should keep two decimals, got %s", i, rec[2])
			}
		} else if rec[1] != "bob" {
			t.Errorf("row %d: expected bob, got %s", i, rec[1])
		}
		if _, err := strconv.Atoi(rec[0]); err != nil {
			t.Errorf("row %d: integer id became %q", i, rec[0])
		}
	}

	want := []int{5, 10, 30, 60}
	for i, p := range want {
		if progress[i] != p {
			t.Fatalf("expected progress to start with %v, got %v", want, progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Errorf("expected final progress 100, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards: %v", progress)
		}
	}
}

func TestConvert_Failures(t *testing.T) {
	in := source.FromBytes("dump.sql", "", []byte("INSERT INTO t VALUES (1);"))

	tests := []struct {
		name      string
		uploader  *recordingUploader
		inspector *fakeInspector
		check     func(t *testing.T, err error)
	}{
		{
			name:      "sample upload fails",
			uploader:  &recordingUploader{err: errors.New("denied")},
			inspector: &fakeInspector{response: okResponse},
			check: func(t *testing.T, err error) {
				var target *SampleUploadError
				if !errors.As(err, &target) {
					t.Errorf("expected SampleUploadError, got %v", err)
				}
			},
		},
		{
			name:      "sample upload returns no reference",
			uploader:  &recordingUploader{},
			inspector: &fakeInspector{response: okResponse},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, storage.ErrNoReference) {
					t.Errorf("expected ErrNoReference, got %v", err)
				}
			},
		},
		{
			name:      "inspection fails",
			uploader:  &recordingUploader{ref: "u"},
			inspector: &fakeInspector{err: errors.New("503")},
			check: func(t *testing.T, err error) {
				var target *InspectError
				if !errors.As(err, &target) {
					t.Errorf("expected InspectError, got %v", err)
				}
			},
		},
		{
			name:      "malformed response",
			uploader:  &recordingUploader{ref: "u"},
			inspector: &fakeInspector{response: `{"conversion_possible":`},
			check: func(t *testing.T, err error) {
				var target *InspectError
				if !errors.As(err, &target) {
					t.Errorf("expected InspectError, got %v", err)
				}
			},
		},
		{
			name:      "conversion refused",
			uploader:  &recordingUploader{ref: "u"},
			inspector: &fakeInspector{response: `{"conversion_possible":false,"conversion_notes":"binary dump"}`},
			check: func(t *testing.T, err error) {
				var target *ConversionRefusedError
				if !errors.As(err, &target) {
					t.Fatalf("expected ConversionRefusedError, got %v", err)
				}
				if target.Notes != "binary dump" || target.Format != format.SQL {
					t.Errorf("unexpected refusal %+v", target)
				}
			},
		},
		{
			name:      "missing flag is a refusal",
			uploader:  &recordingUploader{ref: "u"},
			inspector: &fakeInspector{response: `{"sample_csv":"a\n1\n"}`},
			check: func(t *testing.T, err error) {
				var target *ConversionRefusedError
				if !errors.As(err, &target) {
					t.Errorf("expected ConversionRefusedError, got %v", err)
				}
			},
		},
		{
			name:      "header only sample",
			uploader:  &recordingUploader{ref: "u"},
			inspector: &fakeInspector{response: `{"conversion_possible":true,"sample_csv":"a,b\n"}`},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoSampleRows) {
					t.Errorf("expected ErrNoSampleRows, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConverter(t, tt.uploader, tt.inspector)
			out, err := c.Convert(context.Background(), in, format.SQL, nil)
			if err == nil {
				t.Fatalf("Convert() should fail, got %v", out)
			}
			tt.check(t, err)
		})
	}
}

func TestTargetRows(t *testing.T) {
	tests := []struct {
		size int64
		want int
	}{
		{0, 0},
		{1, 1},
		{1000, 1},
		{1001, 2},
		{250_000, 250},
		{10_000_000, MaxRows},
		{50_000_000, MaxRows},
	}
	for _, tt := range tests {
		if got := TargetRows(tt.size); got != tt.want {
			t.Errorf("TargetRows(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestPerturb(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		got := perturb("100", rng)
		n, err := strconv.Atoi(got)
		if err != nil {
			t.Fatalf("integer became %q", got)
		}
		if n < 90 || n > 110 {
			t.Fatalf("integer out of range: %d", n)
		}

		got = perturb("12.5", rng)
		if dot := strings.IndexByte(got, '.'); dot < 0 || len(got)-dot-1 != 2 {
			t.Fatalf("decimal should have two decimals, got %q", got)
		}
		f, _ := strconv.ParseFloat(got, 64)
		if f < 11.25-0.01 || f > 13.75+0.01 {
			t.Fatalf("decimal out of range: %v", f)
		}
	}

	for _, s := range []string{"alice", "", "NaN", "Inf", "2024-01-01"} {
		if got := perturb(s, rng); got != s {
			t.Errorf("non-numeric %q changed to %q", s, got)
		}
	}
}
