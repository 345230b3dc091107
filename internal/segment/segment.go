// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package segment

import (
	"fmt"

	"github.com/netSkope/segment-upload-tool/internal/source"
)

const MB = int64(1024 * 1024)

// Presets are the only segment sizes the tool accepts, in MB.
var Presets = []int{10, 50, 100, 500}

// DefaultSizeMB is used when no segment size is configured.
const DefaultSizeMB = 50

// Status is the upload status of one segment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

// Segment represents a contiguous byte range of the payload.
type Segment struct {
	Index  int    // Segment index (0-based)
	Start  int64  // First byte (inclusive)
	End    int64  // Last byte (exclusive)
	Name   string // Chunk file name
	Status Status
	URL    string // Reference returned by the uploader
	Err    string // Last upload error, if any
}

// Len returns the number of bytes in the segment.
func (s Segment) Len() int64 {
	return s.End - s.Start
}

// ValidPreset reports whether sizeMB is one of Presets.
func ValidPreset(sizeMB int) bool {
	for _, p := range Presets {
		if p == sizeMB {
			return true
		}
	}
	return false
}

// PresetBytes converts a preset in MB to bytes.
func PresetBytes(sizeMB int) (int64, error) {
	if !ValidPreset(sizeMB) {
		return 0, fmt.Errorf("segment size must be one of %v MB, got %d", Presets, sizeMB)
	}
	return int64(sizeMB) * MB, nil
}

// Count returns ceil(size / segmentSize).
func Count(size, segmentSize int64) int {
	if size <= 0 || segmentSize <= 0 {
		return 0
	}
	return int((size + segmentSize - 1) / segmentSize)
}

// Plan partitions [0, size) into ceil(size/segmentSize) ranges.
// Every range has segmentSize bytes except the last one.
// Names are derived from fileName, see ChunkName.
func Plan(fileName string, size, segmentSize int64) ([]Segment, error) {
	if segmentSize <= 0 {
		return nil, fmt.Errorf("segment size must be positive, got %d", segmentSize)
	}
	if size < 0 {
		return nil, fmt.Errorf("file size must not be negative, got %d", size)
	}

	total := Count(size, segmentSize)
	segs := make([]Segment, total)

	for i := 0; i < total; i++ {
		start := int64(i) * segmentSize
		end := start + segmentSize
		if end > size {
			end = size
		}

		segs[i] = Segment{
			Index:  i,
			Start:  start,
			End:    end,
			Name:   ChunkName(fileName, i, total),
			Status: StatusPending,
		}
	}

	return segs, nil
}

// ChunkName builds "<basename>_segment_<i+1>_of_<N><ext>".
// Downstream consumers rely on this exact layout.
func ChunkName(fileName string, index, total int) string {
	base, ext := source.SplitExt(fileName)
	return fmt.Sprintf("%s_segment_%d_of_%d%s", base, index+1, total, ext)
}
