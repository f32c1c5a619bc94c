package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is the resume marker written after each committed file of a
// run. Resuming from a checkpoint older than the configured staleness window
// requires explicit operator confirmation since the store may have moved
// underneath the run.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	FilePath  string    `json:"file_path"`
	Offset    int       `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCheckpoint creates a checkpoint for a fresh run.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		RunID:     uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
}

// Advance moves the checkpoint past a committed file.
func (c *Checkpoint) Advance(filePath string, offset int) {
	c.FilePath = filePath
	c.Offset = offset
	c.Timestamp = time.Now().UTC()
}

// IsStale reports whether the checkpoint is older than the staleness window.
func (c *Checkpoint) IsStale(window time.Duration) bool {
	return time.Since(c.Timestamp) > window
}

// SkipCompleted returns the files still pending given the last committed
// file of a resumed run. The boolean reports whether lastCommitted is in
// files at all; when it is not, the release layout changed underneath the
// checkpoint and the caller must not trust its position.
func SkipCompleted(files []string, lastCommitted string) ([]string, bool) {
	if lastCommitted == "" {
		return files, true
	}
	for i, f := range files {
		if f == lastCommitted {
			return files[i+1:], true
		}
	}
	return files, false
}

// Save writes the checkpoint atomically (write-then-rename).
func (c *Checkpoint) Save(path string) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint file. A missing file returns (nil, nil):
// the run starts from the beginning.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &c, nil
}

// Remove deletes the checkpoint file after a completed run.
func RemoveCheckpoint(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}
