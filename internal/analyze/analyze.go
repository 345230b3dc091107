// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package analyze discovers the logical tables inside a source file by asking the
// inspection service about a small sample. When that fails it falls back to a
// static table list chosen by file extension.
package analyze

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/netSkope/segment-upload-tool/internal/format"
	"github.com/netSkope/segment-upload-tool/internal/inspect"
	"github.com/netSkope/segment-upload-tool/internal/source"
	"github.com/netSkope/segment-upload-tool/internal/storage"
)

// SampleSize is the number of leading bytes sent for analysis: 15KB
const SampleSize = 15 * 1024

const prompt = `Analyze this data file sample and list the logical tables it contains.
For each table give its name, an estimated row count (or "Unknown"), its column names and a short description.
Respond with JSON only.`

// Shape is the response schema sent with the analysis prompt.
var Shape = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tables": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":           map[string]any{"type": "string"},
					"estimated_rows": map[string]any{"type": "string"},
					"columns":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"description":    map[string]any{"type": "string"},
				},
			},
		},
	},
}

// Table describes one logical table in a file.
type Table struct {
	Name          string   `json:"name" yaml:"name"`
	EstimatedRows string   `json:"estimated_rows" yaml:"estimated_rows"`
	Columns       []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Names returns the table names in order.
func Names(tables []Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

var (
	sqlTables     = []string{"players", "transactions", "game_rounds", "bonuses"}
	archiveTables = []string{"player_data", "transaction_logs", "game_sessions"}
	csvTables     = []string{"csv_data"}
)

// Fallback returns the static table list for a file name. Unknown extensions yield none.
func Fallback(name string) []Table {
	var names []string
	_, ext := source.SplitExt(name)
	switch ext = strings.ToLower(strings.TrimPrefix(ext, ".")); {
	case ext == "sql":
		names = sqlTables
	case format.IsArchiveExt(ext):
		names = archiveTables
	case ext == "csv":
		names = csvTables
	default:
		return nil
	}

	tables := make([]Table, len(names))
	for i, n := range names {
		tables[i] = Table{Name: n, EstimatedRows: "Unknown"}
	}
	return tables
}

// Analyzer discovers tables. It never fails; errors are logged and the fallback is used.
type Analyzer struct {
	Uploader  storage.Uploader
	Inspector inspect.Inspector
	Logger    *zap.Logger
}

// Analyze returns the tables of f.
func (a *Analyzer) Analyze(ctx context.Context, f *source.File) []Table {
	tables, err := a.discover(ctx, f)
	if err != nil {
		fallback := Fallback(f.Name)
		a.Logger.Warn("Structure analysis failed, using fallback tables",
			zap.String("file", f.Name),
			zap.Int("tables", len(fallback)),
			zap.Error(err))
		return fallback
	}

	a.Logger.Info("Structure analysis completed",
		zap.String("file", f.Name),
		zap.Strings("tables", Names(tables)))
	return tables
}

func (a *Analyzer) discover(ctx context.Context, f *source.File) ([]Table, error) {
	sample, err := f.Head(SampleSize)
	if err != nil {
		return nil, err
	}

	url, err := a.Uploader.Upload(ctx, "analysis_sample_"+f.Name, bytes.NewReader(sample), int64(len(sample)), f.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload analysis sample: %w", err)
	}
	if url == "" {
		return nil, storage.ErrNoReference
	}

	raw, err := a.Inspector.Inspect(ctx, url, prompt, Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect sample: %w", err)
	}
	return parseTables(raw)
}

// parseTables reads the tables array from an inspection response.
func parseTables(raw []byte) ([]Table, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("malformed analysis response")
	}

	result := gjson.GetBytes(raw, "tables")
	if !result.IsArray() {
		return nil, fmt.Errorf("analysis response has no tables")
	}

	var tables []Table
	for _, item := range result.Array() {
		name := strings.TrimSpace(item.Get("name").String())
		if name == "" {
			continue
		}

		t := Table{
			Name:          name,
			EstimatedRows: item.Get("estimated_rows").String(),
			Description:   item.Get("description").String(),
		}
		if t.EstimatedRows == "" {
			t.EstimatedRows = "Unknown"
		}
		for _, col := range item.Get("columns").Array() {
			t.Columns = append(t.Columns, col.String())
		}
		tables = append(tables, t)
	}

	if len(tables) == 0 {
		return nil, fmt.Errorf("analysis response has no tables")
	}
	return tables, nil
}
