package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FilePrefix names journal files as <prefix>-<timestamp>.jsonl.
const FilePrefix = "discovery"

// File writes one JSON object per line to a per-session file.
type File struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	path     string
}

// OpenFile creates a new session file in dir.
func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.jsonl", FilePrefix, time.Now().Format("20060102-150405.000"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	return &File{file: f, writer: bufio.NewWriter(f), path: path}, nil
}

// Path returns the file being written.
func (j *File) Path() string {
	return j.path
}

// Append implements Journal.
func (j *File) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	stamp(&e, j.sequence)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := j.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return j.writer.Flush()
}

// Close flushes, syncs and closes the file.
func (j *File) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return j.file.Close()
}

// Reader reads entries back from a journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: s, file: f}, nil
}

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var e Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &e); err != nil {
		return nil, fmt.Errorf("unmarshal journal entry: %w", err)
	}
	return &e, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Files returns the journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list journal files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Replay calls handler for every entry newer than since, across all files in
// dir. Corrupt lines are skipped.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := Files(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := replayFile(path, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if r.scanner.Err() != nil {
				return err
			}
			continue
		}
		if e.Timestamp.After(since) {
			if err := handler(e); err != nil {
				return err
			}
		}
	}
}

// Cleanup removes journal files last modified before the retention window.
func Cleanup(dir string, retention time.Duration) (int, error) {
	files, err := Files(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
