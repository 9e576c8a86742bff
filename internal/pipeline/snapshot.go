package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// persistLocked writes the full state to the snapshot file via a temp
// file and atomic rename, so a crash never leaves a partial snapshot
// visible. Callers hold p.mu.
func (p *Pipeline) persistLocked() error {
	snap := snapshot{
		Version:   snapshotVersion,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Jobs:      p.jobs,
		Reviews:   p.reviews,
		Payloads:  p.payloads,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// load reads the snapshot file into empty maps. A missing file is a
// fresh start, not an error.
func (p *Pipeline) load() error {
	p.jobs = make(map[string]*Job)
	p.reviews = make(map[string]*Review)
	p.payloads = make(map[string]*Payload)

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read job snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse job snapshot: %w", err)
	}
	if snap.Jobs != nil {
		p.jobs = snap.Jobs
	}
	if snap.Reviews != nil {
		p.reviews = snap.Reviews
	}
	if snap.Payloads != nil {
		p.payloads = snap.Payloads
	}
	return nil
}
