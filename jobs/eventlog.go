package jobs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LogEntry is one line of a job eventlog: a timestamped, named event with
// optional context. The persisted form is newline-delimited JSON.
type LogEntry struct {
	Timestamp float64        `json:"timestamp"`
	Name      string         `json:"name"`
	Context   map[string]any `json:"context,omitempty"`
}

func newLogEntry(name string, context map[string]any) LogEntry {
	return LogEntry{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Name:      name,
		Context:   context,
	}
}

// encodeEventlog renders entries as newline-delimited JSON.
func encodeEventlog(entries []LogEntry) ([]byte, error) {
	var sb strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode eventlog entry %q: %w", e.Name, err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

// decodeEventlog parses newline-delimited JSON entries.
func decodeEventlog(data []byte) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("decode eventlog line %q: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan eventlog: %w", err)
	}
	return entries, nil
}
