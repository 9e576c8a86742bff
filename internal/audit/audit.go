// Package audit appends structured action records to per-scope JSONL
// files. The log is an append-only sink; Compact is the only operation
// that rewrites a file.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vthunder/temple/internal/logging"
)

// Entry is one audit record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Action    string         `json:"action"`
	Scope     string         `json:"scope"`
	Details   map[string]any `json:"details,omitempty"`
}

// Log writes per-scope JSONL files under one directory.
type Log struct {
	dir string
}

// New returns a log rooted at dir, creating it if needed.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Dir returns the audit directory.
func (l *Log) Dir() string {
	return l.dir
}

// file maps a scope to its JSONL path; the colon is not filename-safe.
func (l *Log) file(scope string) string {
	return filepath.Join(l.dir, strings.ReplaceAll(scope, ":", "_")+".jsonl")
}

// Record appends one action to the scope's log. Failures are logged and
// swallowed: auditing must never fail the operation it describes.
func (l *Log) Record(action, scope string, details map[string]any) {
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Action:    action,
		Scope:     scope,
		Details:   details,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		logging.Warn("audit", "failed to encode entry: %v", err)
		return
	}

	f, err := os.OpenFile(l.file(scope), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logging.Warn("audit", "failed to open log for %s: %v", scope, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		logging.Warn("audit", "failed to append for %s: %v", scope, err)
	}
}

// Read returns up to limit entries for a scope, oldest first among the
// newest limit lines. A missing log file yields an empty slice.
func (l *Log) Read(scope string, limit int) ([]Entry, error) {
	f, err := os.Open(l.file(scope))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log for %s: %w", scope, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // skip torn or corrupt lines
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log for %s: %w", scope, err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Compact rewrites a scope's log keeping only the newest keep entries.
// Returns how many entries were dropped.
func (l *Log) Compact(scope string, keep int) (int, error) {
	entries, err := l.Read(scope, 0)
	if err != nil {
		return 0, err
	}
	if keep <= 0 {
		keep = 1000
	}
	if len(entries) <= keep {
		return 0, nil
	}

	dropped := len(entries) - keep
	kept := entries[dropped:]

	tmp := l.file(scope) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create compacted log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range kept {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		w.Write(append(line, '\n'))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to flush compacted log: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, l.file(scope)); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to replace audit log: %w", err)
	}

	logging.Info("audit", "compacted %s: dropped %d, kept %d", scope, dropped, keep)
	return dropped, nil
}

// Scopes lists every scope that has a log file.
func (l *Log) Scopes() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	scopes := make([]string, 0, len(matches))
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".jsonl")
		// Reverse the colon substitution for the known prefixes.
		for _, prefix := range []string{"project_", "session_"} {
			if strings.HasPrefix(base, prefix) {
				base = strings.TrimPrefix(base, prefix)
				base = prefix[:len(prefix)-1] + ":" + base
				break
			}
		}
		scopes = append(scopes, base)
	}
	return scopes, nil
}
