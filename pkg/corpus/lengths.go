package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// lengthEntry is one JSON line in the sidecar length log. Compaction entries
// establish a new monotonic baseline for their group.
type lengthEntry struct {
	Group     Group     `json:"group"`
	Length    int64     `json:"length"`
	Timestamp time.Time `json:"ts"`
	Compacted bool      `json:"compacted,omitempty"`
}

// LengthLog is the append-only sidecar that records every group's length
// after each successful append. Replaying it at open time is how offline
// truncation is detected.
type LengthLog struct {
	path string
}

// NewLengthLog returns a log backed by the file at path. The file is created
// lazily on first record.
func NewLengthLog(path string) *LengthLog {
	return &LengthLog{path: path}
}

// Record appends one length observation and fsyncs before returning.
func (l *LengthLog) Record(group Group, length int64, ts time.Time) error {
	return l.write(lengthEntry{Group: group, Length: length, Timestamp: ts.UTC()})
}

// RecordCompaction appends a baseline reset after a sanctioned compaction
// (audit retention is the only caller).
func (l *LengthLog) RecordCompaction(group Group, length int64, ts time.Time) error {
	return l.write(lengthEntry{Group: group, Length: length, Timestamp: ts.UTC(), Compacted: true})
}

func (l *LengthLog) write(e lengthEntry) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("lengthlog: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("lengthlog: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("lengthlog: write: %w", err)
	}
	return f.Sync()
}

// Replay returns the last recorded length per group. A truncated final line
// (crash mid-write) is skipped; everything before it still counts.
func (l *LengthLog) Replay() (map[Group]int64, error) {
	lengths := make(map[Group]int64)

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return lengths, nil
		}
		return nil, fmt.Errorf("lengthlog: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e lengthEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // partial tail line from a crash
		}
		lengths[e.Group] = e.Length
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("lengthlog: scan: %w", err)
	}
	return lengths, nil
}
