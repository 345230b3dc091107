// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package manifest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/netSkope/segment-upload-tool/internal/analyze"
	"github.com/netSkope/segment-upload-tool/internal/segment"
	"github.com/netSkope/segment-upload-tool/internal/session"
	"github.com/netSkope/segment-upload-tool/internal/source"
	"github.com/netSkope/segment-upload-tool/internal/storage"
)

func testState(t *testing.T) session.State {
	t.Helper()
	segs, err := segment.Plan("events_converted.csv", 25, 10)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := session.Apply(session.State{}, session.Started{ID: "sess-1", FileName: "events.json", At: at})
	s = session.Apply(s, session.Warning{Message: "conversion refused"})
	s = session.Apply(s, session.Planned{PayloadName: "events_converted.csv", Segments: segs})
	s = session.Apply(s, session.SegmentSucceeded{Index: 0, URL: "s3://b/sess-1/events_converted_segment_1_of_3.csv", At: at})
	s = session.Apply(s, session.SegmentFailed{Index: 1, Err: errors.New("timeout"), At: at})
	s = session.Apply(s, session.SegmentSucceeded{Index: 2, URL: "s3://b/sess-1/events_converted_segment_3_of_3.csv", At: at})
	return session.Apply(s, session.Finished{At: at.Add(time.Minute)})
}

func TestBuild(t *testing.T) {
	src := source.FromBytes("events.json", "application/json", []byte("{}"))
	payload := source.FromBytes("events_converted.csv", "text/csv", bytes.Repeat([]byte("x"), 25))
	tables := []analyze.Table{{Name: "events", EstimatedRows: "Unknown"}}

	m := Build(testState(t), src, payload, 10, tables)

	if m.SessionID != "sess-1" || m.Phase != "completed" {
		t.Errorf("unexpected header %+v", m)
	}
	if m.Source.Format != "json" || m.Payload.Format != "csv" || m.Payload.Size != 25 {
		t.Errorf("unexpected files source=%+v payload=%+v", m.Source, m.Payload)
	}
	if len(m.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(m.Segments))
	}
	if m.Segments[1].Number != 2 || m.Segments[1].Status != "failed" || m.Segments[1].Error != "timeout" {
		t.Errorf("unexpected failed segment %+v", m.Segments[1])
	}
	if m.Segments[2].Start != 20 || m.Segments[2].End != 25 {
		t.Errorf("unexpected last range %+v", m.Segments[2])
	}
	if len(m.Warnings) != 1 {
		t.Errorf("expected warnings to be carried, got %v", m.Warnings)
	}
	if Name(src) != "events_manifest.yaml" {
		t.Errorf("unexpected manifest name %q", Name(src))
	}
}

func TestMarshalParse(t *testing.T) {
	src := source.FromBytes("events.json", "", []byte("{}"))
	m := Build(testState(t), src, src, 10, nil)

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), "session_id: sess-1") {
		t.Errorf("unexpected YAML:\n%s", data)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Segments[0].URL != m.Segments[0].URL || !parsed.EndedAt.Equal(m.EndedAt) {
		t.Errorf("parsed manifest differs: %+v", parsed)
	}
}

func TestUpload(t *testing.T) {
	var gotName, gotType string
	var gotBody []byte
	u := storage.UploadFunc(func(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
		gotName, gotType = name, contentType
		gotBody, _ = io.ReadAll(body)
		return "file:///tmp/" + name, nil
	})

	src := source.FromBytes("events.json", "", []byte("{}"))
	m := Build(testState(t), src, src, 10, nil)

	ref, err := Upload(context.Background(), u, Name(src), m, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if ref != "file:///tmp/events_manifest.yaml" || gotName != "events_manifest.yaml" || gotType != contentType {
		t.Errorf("unexpected upload ref=%s name=%s type=%s", ref, gotName, gotType)
	}
	if _, err := Parse(gotBody); err != nil {
		t.Errorf("uploaded body is not a manifest: %v", err)
	}

	failing := storage.UploadFunc(func(context.Context, string, io.Reader, int64, string) (string, error) {
		return "", errors.New("denied")
	})
	if _, err := Upload(context.Background(), failing, "m.yaml", m, zaptest.NewLogger(t)); err == nil {
		t.Error("Upload() should fail")
	}
}
