// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package manifest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/netSkope/segment-upload-tool/internal/analyze"
	"github.com/netSkope/segment-upload-tool/internal/format"
	"github.com/netSkope/segment-upload-tool/internal/session"
	"github.com/netSkope/segment-upload-tool/internal/source"
	"github.com/netSkope/segment-upload-tool/internal/storage"
)

const contentType = "application/yaml"

// File describes an uploaded file.
type File struct {
	Name   string `yaml:"name"`
	Size   int64  `yaml:"size"`
	Format string `yaml:"format,omitempty"`
}

// Segment is one uploaded chunk. Number is 1-based.
type Segment struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
	Start  int64  `yaml:"start"`
	End    int64  `yaml:"end"`
	Status string `yaml:"status"`
	URL    string `yaml:"url,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Manifest lists everything needed to reassemble an upload session.
type Manifest struct {
	SessionID   string          `yaml:"session_id"`
	Phase       string          `yaml:"phase"`
	Status      string          `yaml:"status"`
	Source      File            `yaml:"source"`
	Payload     File            `yaml:"payload"`
	SegmentSize int64           `yaml:"segment_size"`
	StartedAt   time.Time       `yaml:"started_at"`
	EndedAt     time.Time       `yaml:"ended_at,omitempty"`
	Segments    []Segment       `yaml:"segments"`
	Tables      []analyze.Table `yaml:"tables,omitempty"`
	Warnings    []string        `yaml:"warnings,omitempty"`
}

// Name returns the manifest file name for a source file.
func Name(src *source.File) string {
	return src.BaseName() + "_manifest.yaml"
}

// Build assembles a manifest from the state of a session.
func Build(state session.State, src, payload *source.File, segmentSize int64, tables []analyze.Table) *Manifest {
	m := &Manifest{
		SessionID:   state.ID,
		Phase:       string(state.Phase),
		Status:      state.Status,
		Source:      File{Name: src.Name, Size: src.Size, Format: string(format.Of(src))},
		Payload:     File{Name: payload.Name, Size: payload.Size, Format: string(format.Of(payload))},
		SegmentSize: segmentSize,
		StartedAt:   state.StartedAt,
		EndedAt:     state.EndedAt,
		Tables:      tables,
		Warnings:    state.Warnings,
	}

	m.Segments = make([]Segment, len(state.Segments))
	for i, seg := range state.Segments {
		m.Segments[i] = Segment{
			Number: seg.Index + 1,
			Name:   seg.Name,
			Start:  seg.Start,
			End:    seg.End,
			Status: string(seg.Status),
			URL:    seg.URL,
			Error:  seg.Err,
		}
	}
	return m
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Upload stores the manifest as name and returns its reference.
func Upload(ctx context.Context, u storage.Uploader, name string, m *Manifest, logger *zap.Logger) (string, error) {
	data, err := m.Marshal()
	if err != nil {
		return "", err
	}

	logger.Info("Uploading manifest",
		zap.String("name", name),
		zap.Int("segments", len(m.Segments)))

	ref, err := u.Upload(ctx, name, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload manifest: %w", err)
	}

	logger.Info("Manifest uploaded", zap.String("url", ref))
	return ref, nil
}
