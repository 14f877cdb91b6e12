// Package metadata maintains metadata.json, the index describing the most
// recent sync run in a data directory.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"adxsync/internal/window"
	"adxsync/writer"
)

// FileName is the descriptor written next to the snapshot files.
const FileName = "metadata.json"

// TimestampLayout is ISO-8601 with microseconds and a numeric offset.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Descriptor records when the data directory was last updated and which
// files that run wrote.
type Descriptor struct {
	LastUpdate   string   `json:"last_update"`
	FilesUpdated []string `json:"files_updated"`
	TotalFiles   int      `json:"total_files"`
}

// New builds the descriptor for files written at now. The timestamp is
// rendered in Beijing time.
func New(files []string, now time.Time) Descriptor {
	updated := make([]string, len(files))
	copy(updated, files)
	return Descriptor{
		LastUpdate:   now.In(window.Location()).Format(TimestampLayout),
		FilesUpdated: updated,
		TotalFiles:   len(updated),
	}
}

// Write overwrites dir/metadata.json.
func Write(dir string, files []string, now time.Time) (Descriptor, error) {
	d := New(files, now)
	data, err := writer.Encode(d)
	if err != nil {
		return d, fmt.Errorf("encode %s: %w", FileName, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return d, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return d, fmt.Errorf("write %s: %w", FileName, err)
	}
	return d, nil
}

// Read loads dir/metadata.json. A missing file yields an error satisfying
// errors.Is(err, fs.ErrNotExist).
func Read(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", FileName, err)
	}
	if d.FilesUpdated == nil {
		d.FilesUpdated = []string{}
	}
	return &d, nil
}

// LastUpdateTime parses LastUpdate.
func (d Descriptor) LastUpdateTime() (time.Time, error) {
	return time.Parse(TimestampLayout, d.LastUpdate)
}
