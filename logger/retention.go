package logger

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultRetentionDays is how long daily log files are kept when no
// retention is configured.
const DefaultRetentionDays = 30

// PruneLogs removes <prefix>_YYYYMMDD.log files in dir whose embedded date is
// older than keepDays before now. Files whose suffix does not parse as a date
// are left alone, as are files that cannot be removed. It returns the names
// of the files it deleted.
func PruneLogs(dir, prefix string, keepDays int, now time.Time) []string {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	if keepDays <= 0 {
		keepDays = DefaultRetentionDays
	}

	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*.log"))
	if err != nil {
		return nil
	}

	cutoff := now.AddDate(0, 0, -keepDays)
	var removed []string
	for _, path := range matches {
		stem := strings.TrimSuffix(filepath.Base(path), ".log")
		suffix := stem[strings.LastIndex(stem, "_")+1:]
		fileDate, err := time.ParseInLocation("20060102", suffix, now.Location())
		if err != nil {
			continue
		}
		if !fileDate.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			continue
		}
		removed = append(removed, filepath.Base(path))
	}
	return removed
}
