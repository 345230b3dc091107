// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package session holds the observable state of one upload session.
// State is a value: Apply never modifies its input and returns the next state.
package session

import (
	"fmt"
	"time"

	"github.com/netSkope/segment-upload-tool/internal/progress"
	"github.com/netSkope/segment-upload-tool/internal/segment"
)

// Phase of an upload session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhaseUploading Phase = "uploading"
	PhaseAborted   Phase = "aborted"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// State is a snapshot of an upload session.
type State struct {
	ID          string
	Phase       Phase
	FileName    string
	PayloadName string

	Total      int
	Processed  int
	Successful int
	Failed     int
	Current    int // Index of the segment being uploaded, -1 when none
	Percent    int // Overall percent, 0..100
	Converting int // Conversion percent while preparing

	Aborted  bool
	Status   string
	Warnings []string

	Segments []segment.Segment
	Tables   []progress.Table

	StartedAt time.Time
	EndedAt   time.Time
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s.Phase == PhaseAborted || s.Phase == PhaseCompleted || s.Phase == PhaseFailed
}

// Partial reports whether some, but not all, segments were uploaded.
func (s State) Partial() bool {
	return s.Successful > 0 && s.Successful < s.Total
}

// Event is an input to Apply.
type Event interface {
	apply(State) State
}

// Apply returns the state after e.
func Apply(s State, e Event) State {
	return e.apply(s)
}

// Started begins a new session and discards the previous one.
type Started struct {
	ID       string
	FileName string
	At       time.Time
}

func (e Started) apply(State) State {
	return State{
		ID:          e.ID,
		Phase:       PhasePreparing,
		FileName:    e.FileName,
		PayloadName: e.FileName,
		Current:     -1,
		Status:      fmt.Sprintf("Preparing %s", e.FileName),
		StartedAt:   e.At,
	}
}

// Warning records a non-fatal problem.
type Warning struct {
	Message string
}

func (e Warning) apply(s State) State {
	s.Warnings = append(append([]string(nil), s.Warnings...), e.Message)
	return s
}

// ConversionProgressed reports CSV conversion progress.
type ConversionProgressed struct {
	Percent int
}

func (e ConversionProgressed) apply(s State) State {
	s.Converting = e.Percent
	s.Status = fmt.Sprintf("Converting %s to CSV (%d%%)", s.FileName, e.Percent)
	return s
}

// TablesDiscovered initializes table progress.
type TablesDiscovered struct {
	Names []string
}

func (e TablesDiscovered) apply(s State) State {
	s.Tables = progress.NewTables(e.Names)
	return s
}

// Planned starts the upload of the given segments.
type Planned struct {
	PayloadName string
	Segments    []segment.Segment
}

func (e Planned) apply(s State) State {
	s.Phase = PhaseUploading
	s.PayloadName = e.PayloadName
	s.Segments = append([]segment.Segment(nil), e.Segments...)
	s.Total = len(e.Segments)
	s.Status = fmt.Sprintf("Uploading %s in %d segments", e.PayloadName, s.Total)
	return s
}

// SegmentStarted marks a segment as in flight.
type SegmentStarted struct {
	Index int
}

func (e SegmentStarted) apply(s State) State {
	s = s.withSegment(e.Index, func(seg *segment.Segment) {
		seg.Status = segment.StatusUploading
	})
	s.Current = e.Index
	s.Status = fmt.Sprintf("Uploading segment %d of %d", e.Index+1, s.Total)
	return s
}

// SegmentSucceeded records a successful upload.
type SegmentSucceeded struct {
	Index int
	URL   string
	At    time.Time
}

func (e SegmentSucceeded) apply(s State) State {
	s = s.withSegment(e.Index, func(seg *segment.Segment) {
		seg.Status = segment.StatusSuccess
		seg.URL = e.URL
		seg.Err = ""
	})
	s.Successful++
	return s.attempted(e.At)
}

// SegmentFailed records a failed upload. The session continues.
type SegmentFailed struct {
	Index int
	Err   error
	At    time.Time
}

func (e SegmentFailed) apply(s State) State {
	s = s.withSegment(e.Index, func(seg *segment.Segment) {
		seg.Status = segment.StatusFailed
		if e.Err != nil {
			seg.Err = e.Err.Error()
		}
	})
	s.Failed++
	return s.attempted(e.At)
}

// Cancelled stops the session before the next segment starts.
type Cancelled struct{}

func (Cancelled) apply(s State) State {
	s.Aborted = true
	s.Current = -1
	s.Status = fmt.Sprintf("Upload cancelled after %d of %d segments", s.Processed, s.Total)
	return s
}

// Finished ends the session and settles the terminal phase.
type Finished struct {
	At time.Time
}

func (e Finished) apply(s State) State {
	s.Current = -1
	s.EndedAt = e.At

	switch {
	case s.Successful == 0:
		s.Phase = PhaseFailed
		s.Status = "Upload failed: no segments were uploaded"
		return s
	case s.Aborted:
		s.Phase = PhaseAborted
		s.Status = fmt.Sprintf("Upload cancelled: %d of %d segments uploaded", s.Successful, s.Total)
	case s.Failed > 0:
		s.Phase = PhaseCompleted
		s.Status = fmt.Sprintf("Uploaded %d of %d segments (%d failed)", s.Successful, s.Total, s.Failed)
	default:
		s.Phase = PhaseCompleted
		s.Status = fmt.Sprintf("Uploaded %d of %d segments", s.Successful, s.Total)
	}
	s.Tables = progress.CompleteAll(s.Tables, e.At)
	return s
}

// attempted advances counters and table progress after one upload attempt.
func (s State) attempted(at time.Time) State {
	s.Processed++
	s.Current = -1
	if s.Total > 0 {
		s.Percent = (s.Processed*100 + s.Total/2) / s.Total
	}
	s.Tables = progress.Redistribute(s.Tables, s.Percent, at)
	return s
}

func (s State) withSegment(i int, fn func(*segment.Segment)) State {
	if i < 0 || i >= len(s.Segments) {
		return s
	}
	s.Segments = append([]segment.Segment(nil), s.Segments...)
	fn(&s.Segments[i])
	return s
}
