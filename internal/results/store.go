package results

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadFile reads a collection saved by SaveFile. A missing file yields an
// empty collection.
func LoadFile(path string) (*Collection, error) {
	c := NewCollection()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to parse results file %s line %d: %w", path, line, err)
		}
		if e.Key == "" {
			return nil, fmt.Errorf("results file %s line %d: missing key", path, line)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	c.restore(entries)
	return c, nil
}

// SaveFile writes the collection as JSON Lines, replacing path atomically.
func (c *Collection) SaveFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, e := range c.Entries() {
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode result %s: %w", e.Key, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write results file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace results file: %w", err)
	}
	return nil
}
