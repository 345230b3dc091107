// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/netSkope/segment-upload-tool/internal/progress"
	"github.com/netSkope/segment-upload-tool/internal/segment"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func planned(t *testing.T, n int, tables ...string) State {
	t.Helper()
	segs, err := segment.Plan("data.csv", int64(n)*10, 10)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	s := Apply(State{}, Started{ID: "s1", FileName: "data.csv", At: t0})
	s = Apply(s, TablesDiscovered{Names: tables})
	return Apply(s, Planned{PayloadName: "data.csv", Segments: segs})
}

func TestApply_AllSucceed(t *testing.T) {
	s := planned(t, 3, "csv_data")
	if s.Phase != PhaseUploading || s.Total != 3 || s.Current != -1 {
		t.Fatalf("unexpected planned state %+v", s)
	}

	wantPercent := []int{33, 67, 100}
	for i := 0; i < 3; i++ {
		s = Apply(s, SegmentStarted{Index: i})
		if s.Current != i || s.Segments[i].Status != segment.StatusUploading {
			t.Fatalf("segment %d not marked uploading", i)
		}
		s = Apply(s, SegmentSucceeded{Index: i, URL: "u", At: t0})
		if s.Percent != wantPercent[i] {
			t.Errorf("after segment %d expected %d%%, got %d%%", i, wantPercent[i], s.Percent)
		}
	}
	s = Apply(s, Finished{At: t0})

	if s.Phase != PhaseCompleted || s.Successful != 3 || s.Processed != 3 || s.Partial() {
		t.Errorf("unexpected final state %+v", s)
	}
	if s.Tables[0].Status != progress.Complete || s.Tables[0].Percent != 100 {
		t.Errorf("expected table forced complete, got %+v", s.Tables[0])
	}
	if !s.Terminal() {
		t.Errorf("expected terminal state")
	}
}

func TestApply_PartialFailure(t *testing.T) {
	s := planned(t, 3, "a", "b")
	s = Apply(s, SegmentSucceeded{Index: 0, URL: "u0", At: t0})
	s = Apply(s, SegmentFailed{Index: 1, Err: errors.New("network error"), At: t0})
	s = Apply(s, SegmentSucceeded{Index: 2, URL: "u2", At: t0})
	s = Apply(s, Finished{At: t0})

	if s.Phase != PhaseCompleted || s.Successful != 2 || s.Failed != 1 || s.Processed != 3 {
		t.Errorf("unexpected counters %+v", s)
	}
	if s.Segments[1].Status != segment.StatusFailed || s.Segments[1].Err != "network error" {
		t.Errorf("unexpected failed segment %+v", s.Segments[1])
	}
	if !s.Partial() {
		t.Errorf("expected partial success")
	}
	for _, tbl := range s.Tables {
		if tbl.Status != progress.Complete {
			t.Errorf("table %s should be complete", tbl.Name)
		}
	}
}

func TestApply_CancelledAfterFirst(t *testing.T) {
	s := planned(t, 3)
	s = Apply(s, SegmentSucceeded{Index: 0, URL: "u0", At: t0})
	s = Apply(s, Cancelled{})
	s = Apply(s, Finished{At: t0})

	if s.Phase != PhaseAborted || !s.Aborted || s.Processed != 1 {
		t.Errorf("unexpected state %+v", s)
	}
	for _, seg := range s.Segments[1:] {
		if seg.Status != segment.StatusPending {
			t.Errorf("segment %d should stay pending, got %s", seg.Index, seg.Status)
		}
	}
}

func TestApply_NothingUploaded(t *testing.T) {
	s := planned(t, 2, "a")
	s = Apply(s, SegmentFailed{Index: 0, Err: errors.New("x"), At: t0})
	s = Apply(s, SegmentFailed{Index: 1, Err: errors.New("y"), At: t0})
	s = Apply(s, Finished{At: t0})

	if s.Phase != PhaseFailed {
		t.Errorf("expected failed phase, got %s", s.Phase)
	}
	if s.Processed != 2 || s.Successful != 0 || s.Failed != 2 {
		t.Errorf("unexpected counters %+v", s)
	}
}

func TestApply_DoesNotMutate(t *testing.T) {
	before := planned(t, 2, "a")
	before = Apply(before, Warning{Message: "first"})

	after := Apply(before, SegmentSucceeded{Index: 0, URL: "u", At: t0})
	after = Apply(after, Warning{Message: "second"})

	if before.Segments[0].Status != segment.StatusPending {
		t.Errorf("input segments were modified")
	}
	if before.Tables[0].Percent != 0 {
		t.Errorf("input tables were modified")
	}
	if len(before.Warnings) != 1 || len(after.Warnings) != 2 {
		t.Errorf("unexpected warnings before=%v after=%v", before.Warnings, after.Warnings)
	}
}

func TestApply_StartedResets(t *testing.T) {
	s := planned(t, 1, "a")
	s = Apply(s, SegmentSucceeded{Index: 0, URL: "u", At: t0})
	s = Apply(s, Finished{At: t0})

	s = Apply(s, Started{ID: "s2", FileName: "other.sql", At: t0})
	if s.ID != "s2" || s.Phase != PhasePreparing || s.Processed != 0 || len(s.Segments) != 0 || len(s.Tables) != 0 {
		t.Errorf("expected fresh state, got %+v", s)
	}
}

func TestApply_ConversionProgress(t *testing.T) {
	s := Apply(State{}, Started{ID: "s", FileName: "a.json", At: t0})
	s = Apply(s, ConversionProgressed{Percent: 30})
	if s.Converting != 30 || s.Phase != PhasePreparing {
		t.Errorf("unexpected state %+v", s)
	}
}
