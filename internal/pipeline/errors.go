// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSegmentsUploaded is reported when a session ends without a single successful segment.
	ErrNoSegmentsUploaded = errors.New("no segments were uploaded")
	// ErrSessionInFlight is returned by Run while another session of the same driver is running.
	ErrSessionInFlight = errors.New("an upload session is already in progress")
)

// SegmentError is the failure of one segment upload. It never stops a session.
type SegmentError struct {
	Index int
	Total int
	Name  string
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d of %d (%s): %v", e.Index+1, e.Total, e.Name, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// TotalFailureError is returned when no segment was uploaded.
// It matches ErrNoSegmentsUploaded and, when present, the last SegmentError.
type TotalFailureError struct {
	Total   int
	Aborted bool
	Last    error
}

func (e *TotalFailureError) Error() string {
	msg := fmt.Sprintf("%v (0 of %d)", ErrNoSegmentsUploaded, e.Total)
	if e.Aborted {
		msg += ", cancelled"
	}
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *TotalFailureError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrNoSegmentsUploaded}
	}
	return []error{ErrNoSegmentsUploaded, e.Last}
}
