package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"scalper/types"
)

// Journal appends one JSON line per closed Trade to a day-keyed file under
// dir, grounded on spec §6.5's line-oriented JSON-Lines persistence format.
type Journal struct {
	dir string

	mu      sync.Mutex
	day     string
	file    *os.File
	writer  *bufio.Writer
}

// NewJournal returns a Journal writing under dir (created if missing).
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir %s: %w", dir, err)
	}
	return &Journal{dir: dir}, nil
}

// Append writes one Trade as a JSON line to today's file, rotating the
// underlying file handle the first time a new day is seen.
func (j *Journal) Append(t types.Trade, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	day := now.Format("20060102")
	if day != j.day {
		if err := j.rotateLocked(day); err != nil {
			return err
		}
	}

	line, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("journal: marshal trade %s: %w", t.ID, err)
	}
	if _, err := j.writer.Write(line); err != nil {
		return err
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return err
	}
	return j.writer.Flush()
}

func (j *Journal) rotateLocked(day string) error {
	if j.file != nil {
		j.writer.Flush()
		j.file.Close()
	}
	path := filepath.Join(j.dir, "trades_"+day+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	j.day = day
	j.file = f
	j.writer = bufio.NewWriter(f)
	return nil
}

// Close flushes and closes the current day's file, if any.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	j.writer.Flush()
	return j.file.Close()
}

// AdaptiveState is the single JSON document exported under
// logs/adaptive/state_YYYYMMDD.json (spec §6.5).
type AdaptiveState struct {
	ExportedAt time.Time                    `json:"exported_at"`
	Weights    map[string]types.RuleWeight  `json:"weights"`
	Blocks     []types.PatternBlock         `json:"blocks"`
	Patterns   []types.LossPattern          `json:"patterns"`
}

// ExportAdaptiveState writes state as a single JSON document, replacing
// any file for the same day.
func ExportAdaptiveState(dir string, state AdaptiveState, now time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("adaptive export: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "state_"+now.Format("20060102")+".json")
	blob, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("adaptive export: marshal: %w", err)
	}
	return os.WriteFile(path, blob, 0o644)
}

// LoadAdaptiveState reads back a previously exported state document. No
// startup path in this module calls it, so a restart does not restore
// weights.
func LoadAdaptiveState(path string) (AdaptiveState, error) {
	var state AdaptiveState
	blob, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("adaptive export: read %s: %w", path, err)
	}
	if err := json.Unmarshal(blob, &state); err != nil {
		return state, fmt.Errorf("adaptive export: unmarshal %s: %w", path, err)
	}
	return state, nil
}
