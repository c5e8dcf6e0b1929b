package dialog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filter selects dialog entries. Zero-valued fields match everything.
type Filter struct {
	SessionID string
	HeinzelID string
	TaskID    string
	Type      string
	Since     string // RFC 3339
	Until     string // RFC 3339
	Limit     int
}

// MaxReadLimit caps how many entries a single read returns.
const MaxReadLimit = 1000

// Read scans the dialog log for provider under dir and returns matching
// entries, newest first. The current file is scanned before rotated
// backups; compressed backups are skipped. Malformed lines are skipped
// silently.
func Read(dir, provider string, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > MaxReadLimit {
		limit = MaxReadLimit
	}
	since := parseTime(f.Since)
	until := parseTime(f.Until)

	var results []Entry
	for _, path := range logFiles(dir, provider) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				continue
			}
			var entry Entry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			if !matches(entry, f, since, until) {
				continue
			}
			results = append(results, entry)
			if len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// logFiles lists the JSONL files for a provider, current file first, then
// rotated backups newest first.
func logFiles(dir, provider string) []string {
	base := filepath.Join(dir, provider+".jsonl")
	var files []string
	if _, err := os.Stat(base); err == nil {
		files = append(files, base)
	}
	backups, _ := filepath.Glob(filepath.Join(dir, provider+"-*.jsonl"))
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	files = append(files, backups...)
	return files
}

func matches(e Entry, f Filter, since, until *time.Time) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.HeinzelID != "" && e.HeinzelID != f.HeinzelID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if since != nil || until != nil {
		ts := parseTime(e.Timestamp)
		if ts != nil {
			if since != nil && ts.Before(*since) {
				return false
			}
			if until != nil && ts.After(*until) {
				return false
			}
		}
	}
	return true
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil
		}
	}
	return &t
}
