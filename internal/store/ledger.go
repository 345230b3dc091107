// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/netSkope/segment-upload-tool/internal/segment"
	"github.com/netSkope/segment-upload-tool/internal/session"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS upload_sessions (
	id           VARCHAR(36)  NOT NULL PRIMARY KEY,
	file_name    VARCHAR(512) NOT NULL,
	payload_name VARCHAR(512) NOT NULL,
	phase        VARCHAR(16)  NOT NULL,
	total        INT          NOT NULL DEFAULT 0,
	processed    INT          NOT NULL DEFAULT 0,
	successful   INT          NOT NULL DEFAULT 0,
	failed       INT          NOT NULL DEFAULT 0,
	percent      INT          NOT NULL DEFAULT 0,
	aborted      BOOLEAN      NOT NULL DEFAULT FALSE,
	status       VARCHAR(512) NOT NULL DEFAULT '',
	started_at   DATETIME(3)  NULL,
	ended_at     DATETIME(3)  NULL,
	updated_at   TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS upload_segments (
	session_id VARCHAR(36)  NOT NULL,
	idx        INT          NOT NULL,
	name       VARCHAR(512) NOT NULL,
	start_byte BIGINT       NOT NULL,
	end_byte   BIGINT       NOT NULL,
	status     VARCHAR(16)  NOT NULL,
	url        TEXT         NULL,
	error      TEXT         NULL,
	updated_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, idx)
)`,
}

const upsertSession = `INSERT INTO upload_sessions
	(id, file_name, payload_name, phase, total, processed, successful, failed, percent, aborted, status, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	payload_name = VALUES(payload_name),
	phase = VALUES(phase),
	total = VALUES(total),
	processed = VALUES(processed),
	successful = VALUES(successful),
	failed = VALUES(failed),
	percent = VALUES(percent),
	aborted = VALUES(aborted),
	status = VALUES(status),
	ended_at = VALUES(ended_at)`

const upsertSegment = `INSERT INTO upload_segments
	(session_id, idx, name, start_byte, end_byte, status, url, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	status = VALUES(status),
	url = VALUES(url),
	error = VALUES(error)`

// Ledger records upload sessions and segment attempts.
type Ledger struct {
	client *SQLClient
	logger *zap.Logger
}

// NewLedger wraps an open client.
func NewLedger(client *SQLClient, logger *zap.Logger) *Ledger {
	return &Ledger{client: client, logger: logger}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := l.client.exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	l.logger.Debug("Ledger schema ready", zap.String("db", l.client.Name()))
	return nil
}

// RecordSession upserts the session row.
func (l *Ledger) RecordSession(ctx context.Context, s session.State) error {
	err := l.client.exec(ctx, upsertSession,
		s.ID, s.FileName, s.PayloadName, string(s.Phase),
		s.Total, s.Processed, s.Successful, s.Failed, s.Percent, s.Aborted, s.Status,
		nullTime(s.StartedAt), nullTime(s.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

// RecordSegment upserts one segment row of a session.
func (l *Ledger) RecordSegment(ctx context.Context, sessionID string, seg segment.Segment) error {
	err := l.client.exec(ctx, upsertSegment,
		sessionID, seg.Index, seg.Name, seg.Start, seg.End, string(seg.Status),
		nullString(seg.URL), nullString(seg.Err))
	if err != nil {
		return fmt.Errorf("failed to record segment %d of session %s: %w", seg.Index+1, sessionID, err)
	}
	return nil
}

// Close closes the underlying client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
