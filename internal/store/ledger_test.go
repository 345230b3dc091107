// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mariadb"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/netSkope/segment-upload-tool/internal/segment"
	"github.com/netSkope/segment-upload-tool/internal/session"
)

// detectReaperIssue reports whether the testcontainers reaper should be disabled
// (e.g., for Rancher Desktop).
func detectReaperIssue() bool {
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") != "" {
		return os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "true"
	}

	dockerHost := os.Getenv("DOCKER_HOST")
	if dockerHost != "" && strings.Contains(dockerHost, ".rd/docker.sock") {
		return true
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		if _, err := os.Stat(homeDir + "/.rd/docker.sock"); err == nil && dockerHost == "" {
			return true
		}
	}

	return os.Getenv("DOCKER_CONTEXT") == "rancher-desktop"
}

// setupLedger starts MariaDB and returns a ledger with its schema created.
func setupLedger(t *testing.T) (*Ledger, *sql.DB) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-based tests (SKIP_DOCKER_TESTS=true)")
	}

	ctx := context.Background()

	if detectReaperIssue() {
		t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
		t.Log("Auto-detected Rancher Desktop or reaper issue - disabling testcontainers reaper")
	}

	// testcontainers panics when no Docker daemon can be found
	defer func() {
		if r := recover(); r != nil {
			if errStr, ok := r.(string); ok && (strings.Contains(errStr, "Docker not found") || strings.Contains(errStr, "rootless Docker")) {
				t.Skipf("Skipping test: Docker not available: %v", r)
			}
			panic(r)
		}
	}()

	container, err := mariadb.RunContainer(ctx,
		testcontainers.WithImage("mariadb:10.11"),
		mariadb.WithDatabase("uploads"),
		mariadb.WithUsername("root"),
		mariadb.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("ready for connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		if strings.Contains(err.Error(), "Docker not found") || strings.Contains(err.Error(), "rootless Docker") {
			t.Skipf("Skipping test: Docker not available: %v", err)
		}
		t.Fatalf("Failed to start MariaDB container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	var client *SQLClient
	for i := 0; i < 10; i++ {
		if client, err = NewSQLClient(ctx, connStr, 5, "test-mariadb"); err == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	ledger := NewLedger(client, zaptest.NewLogger(t))
	t.Cleanup(func() {
		_ = ledger.Close()
	})

	if err := ledger.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return ledger, client.db
}

func TestNewSQLClient_EmptyDSN(t *testing.T) {
	if _, err := NewSQLClient(context.Background(), "", 5, "x"); !errors.Is(err, ErrBadDSN) {
		t.Errorf("expected ErrBadDSN, got %v", err)
	}
}

func TestLedger_RecordSession(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	// Running the schema twice must be harmless
	if err := ledger.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema() error = %v", err)
	}

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := session.State{
		ID:          "0b3f2a44-8a4e-4c51-9d6f-1f2f0d0c0a01",
		Phase:       session.PhaseUploading,
		FileName:    "dump.sql",
		PayloadName: "dump_converted.csv",
		Total:       3,
		Status:      "Uploading segment 1 of 3",
		StartedAt:   start,
	}
	if err := ledger.RecordSession(ctx, state); err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}

	state.Phase = session.PhaseCompleted
	state.Processed, state.Successful, state.Failed, state.Percent = 3, 2, 1, 100
	state.EndedAt = start.Add(time.Minute)
	if err := ledger.RecordSession(ctx, state); err != nil {
		t.Fatalf("RecordSession() update error = %v", err)
	}

	var (
		phase      string
		successful int
		failed     int
		endedAt    sql.NullTime
		count      int
	)
	row := db.QueryRowContext(ctx, "SELECT phase, successful, failed, ended_at FROM upload_sessions WHERE id = ?", state.ID)
	if err := row.Scan(&phase, &successful, &failed, &endedAt); err != nil {
		t.Fatalf("failed to read session: %v", err)
	}
	if phase != "completed" || successful != 2 || failed != 1 {
		t.Errorf("unexpected session row phase=%s successful=%d failed=%d", phase, successful, failed)
	}
	if !endedAt.Valid || !endedAt.Time.Equal(state.EndedAt) {
		t.Errorf("unexpected ended_at %v", endedAt)
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM upload_sessions").Scan(&count); err != nil || count != 1 {
		t.Errorf("expected a single session row, got %d (%v)", count, err)
	}
}

func TestLedger_RecordSegment(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	segs, err := segment.Plan("dump.sql", 120*segment.MB, 50*segment.MB)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	segs[1].Status = segment.StatusFailed
	segs[1].Err = "network error"
	if err := ledger.RecordSegment(ctx, "s1", segs[1]); err != nil {
		t.Fatalf("RecordSegment() error = %v", err)
	}

	// A later successful attempt replaces the failure
	segs[1].Status = segment.StatusSuccess
	segs[1].Err = ""
	segs[1].URL = "s3://bucket/s1/dump_segment_2_of_3.sql"
	if err := ledger.RecordSegment(ctx, "s1", segs[1]); err != nil {
		t.Fatalf("RecordSegment() update error = %v", err)
	}

	var (
		name     string
		status   string
		start    int64
		end      int64
		url      sql.NullString
		errorMsg sql.NullString
	)
	row := db.QueryRowContext(ctx,
		"SELECT name, status, start_byte, end_byte, url, error FROM upload_segments WHERE session_id = ? AND idx = ?", "s1", 1)
	if err := row.Scan(&name, &status, &start, &end, &url, &errorMsg); err != nil {
		t.Fatalf("failed to read segment: %v", err)
	}

	if name != "dump_segment_2_of_3.sql" || status != "success" {
		t.Errorf("unexpected segment row name=%s status=%s", name, status)
	}
	if start != 50*segment.MB || end != 100*segment.MB {
		t.Errorf("unexpected range [%d, %d)", start, end)
	}
	if url.String != segs[1].URL || errorMsg.Valid {
		t.Errorf("unexpected url=%v error=%v", url, errorMsg)
	}
}
