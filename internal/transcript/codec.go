// ABOUTME: Codec for .transcript files (ordered "activity add" record arrays)
// ABOUTME: Round-trip safe: Decode(Encode(t)) yields t for any valid transcript

package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/southworks/botemulator/internal/activity"
)

// ErrFormat is returned when a transcript or chat file does not have the
// expected shape. Guards against legacy single-object transcript files.
var ErrFormat = errors.New("invalid transcript file contents; should be an array of conversation activities")

// RecordTypeActivityAdd is the only record type transcript files carry.
const RecordTypeActivityAdd = "activity add"

// Record is the on-disk unit of a transcript file.
type Record struct {
	Type     string             `json:"type"`
	Activity *activity.Activity `json:"activity"`
}

// Encode serializes an ordered activity sequence as a transcript file body,
// each activity wrapped as an "activity add" record.
func Encode(activities []*activity.Activity) ([]byte, error) {
	records := make([]Record, len(activities))
	for i, a := range activities {
		records[i] = Record{Type: RecordTypeActivityAdd, Activity: a}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encoding transcript: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a transcript file body back into its ordered activity
// sequence. Fails with ErrFormat when the top-level value is not an array.
func Decode(data []byte) ([]*activity.Activity, error) {
	if !startsWithArray(data) {
		return nil, ErrFormat
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	activities := make([]*activity.Activity, 0, len(records))
	for _, rec := range records {
		if rec.Activity == nil {
			return nil, fmt.Errorf("%w: record missing activity", ErrFormat)
		}
		activities = append(activities, rec.Activity)
	}
	return activities, nil
}

// ReadFile loads and decodes a transcript file from disk.
func ReadFile(path string) ([]*activity.Activity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript file: %w", err)
	}
	return Decode(data)
}

// WriteFile encodes a transcript and writes it to disk.
func WriteFile(path string, activities []*activity.Activity) error {
	data, err := Encode(activities)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing transcript file: %w", err)
	}
	return nil
}

// startsWithArray reports whether the first JSON token in data opens an
// array, skipping leading whitespace.
func startsWithArray(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
