// Package writer persists partitioned records as JSON snapshot files and
// optionally mirrors them to S3.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"adxsync/internal/window"
	"adxsync/logger"
	"adxsync/models"
	"adxsync/processor"
)

// LatestFile is the rolling snapshot of every in-window record.
const LatestFile = "latest.json"

// DateFile returns the per-date snapshot name for date.
func DateFile(date string) string { return "data_" + date + ".json" }

// WriteResult lists the files written by Persist and the combined error of
// those that could not be.
type WriteResult struct {
	Files []string
	Err   error
}

// FileWriter writes snapshot files into a single directory.
type FileWriter struct {
	dir string
	log *logger.Log
}

func NewFileWriter(dir string, log *logger.Log) *FileWriter {
	if log == nil {
		log = logger.Discard()
	}
	return &FileWriter{dir: dir, log: log}
}

// Dir is the output directory.
func (w *FileWriter) Dir() string { return w.dir }

// Persist writes latest.json followed by one data_<date>.json per in-window
// date, in partition order. A failed file is logged and recorded in the
// result; the remaining files are still attempted.
func (w *FileWriter) Persist(parts *processor.Partitioned, win window.Window) *WriteResult {
	log := w.log.WithComponent("writer").WithFields(logger.Fields{
		"data_dir": w.dir,
		"window":   win.String(),
	})
	result := &WriteResult{Files: []string{}}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		log.WithError(err).Error("failed to create data directory")
		result.Err = multierror.Append(result.Err, fmt.Errorf("create %s: %w", w.dir, err))
		return result
	}

	var inWindow []string
	latest := []models.Record{}
	for _, date := range parts.Dates() {
		if !win.Contains(date) {
			continue
		}
		inWindow = append(inWindow, date)
		latest = append(latest, parts.Records(date)...)
	}

	if err := w.writeFile(LatestFile, latest); err != nil {
		log.WithError(err).WithField("file", LatestFile).Error("failed to write snapshot")
		result.Err = multierror.Append(result.Err, err)
	} else {
		result.Files = append(result.Files, LatestFile)
		logger.LogDataFlowEntry(log, "partitioner", LatestFile, len(latest), "records")
	}

	for _, date := range parts.Dates() {
		if !win.Contains(date) {
			log.WithFields(logger.Fields{
				"date":    date,
				"records": len(parts.Records(date)),
			}).Info("skipped date outside update window")
			continue
		}
		name := DateFile(date)
		records := parts.Records(date)
		if err := w.writeFile(name, records); err != nil {
			log.WithError(err).WithField("file", name).Error("failed to write snapshot")
			result.Err = multierror.Append(result.Err, err)
			continue
		}
		result.Files = append(result.Files, name)
		logger.LogDataFlowEntry(log, "partitioner", name, len(records), "records")
	}

	log.WithFields(logger.Fields{
		"files":        len(result.Files),
		"window_dates": len(inWindow),
	}).Info("snapshot files written")
	return result
}

func (w *FileWriter) writeFile(name string, records []models.Record) error {
	data, err := Encode(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Encode renders v as two-space indented JSON with non-ASCII and HTML
// characters left literal and no trailing newline.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
