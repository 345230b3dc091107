// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package progress spreads a single overall upload percentage over a list of
// tables so callers can show which table is "currently" uploading. The result is
// a presentation approximation: no per-table bytes are measured.
package progress

import "time"

// Status of one table.
type Status string

const (
	Pending   Status = "pending"
	Uploading Status = "uploading"
	Complete  Status = "complete"
)

// promoteAt is the interpolated percent at which the active table is treated as done.
const promoteAt = 99

// Table is the simulated progress of one table.
type Table struct {
	Name      string    `json:"name" yaml:"name"`
	Percent   int       `json:"percent" yaml:"percent"`
	Status    Status    `json:"status" yaml:"status"`
	StartedAt time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// NewTables returns one pending, zero-percent entry per name.
func NewTables(names []string) []Table {
	tables := make([]Table, len(names))
	for i, name := range names {
		tables[i] = Table{Name: name, Status: Pending}
	}
	return tables
}

// Redistribute maps overall (0..100) onto tables and returns an updated copy.
//
// With n tables, table i covers the window [i*100/n, (i+1)*100/n) of overall.
// Tables before the active window are complete, the active one is uploading with
// the interpolated percent, later ones stay pending. No table ever regresses.
func Redistribute(tables []Table, overall int, now time.Time) []Table {
	out := append([]Table(nil), tables...)
	n := len(out)
	if n == 0 {
		return out
	}

	scaled := clamp(overall, 0, 100) * n
	active := scaled / 100
	interp := scaled % 100

	for i := 0; i < n && i <= active; i++ {
		if i < active {
			complete(out, i, now)
			continue
		}

		t := &out[i]
		if t.Status == Complete {
			continue
		}
		start(t, now)
		if interp > t.Percent {
			t.Percent = clamp(interp, 0, 100)
		}
		if t.Percent >= promoteAt {
			complete(out, i, now)
		}
	}
	return out
}

// CompleteAll marks every table complete and returns an updated copy.
func CompleteAll(tables []Table, now time.Time) []Table {
	out := append([]Table(nil), tables...)
	for i := range out {
		complete(out, i, now)
	}
	return out
}

// ActiveIndex returns the index of the uploading table, or -1.
func ActiveIndex(tables []Table) int {
	for i, t := range tables {
		if t.Status == Uploading {
			return i
		}
	}
	return -1
}

func complete(tables []Table, i int, now time.Time) {
	t := &tables[i]
	if t.Status != Complete {
		t.Status = Complete
		t.Percent = 100
		if t.StartedAt.IsZero() {
			t.StartedAt = now
		}
		if t.EndedAt.IsZero() {
			t.EndedAt = now
		}
	}
	if i+1 < len(tables) {
		start(&tables[i+1], now)
	}
}

func start(t *Table, now time.Time) {
	if t.Status == Pending {
		t.Status = Uploading
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = now
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
