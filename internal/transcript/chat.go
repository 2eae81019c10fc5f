// ABOUTME: Parser for .chat files used to seed deep-linked conversations
// ABOUTME: A chat file is a JSON object {"activities": [...]}

package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/southworks/botemulator/internal/activity"
)

// ChatFile is the shape of a .chat seed file.
type ChatFile struct {
	Activities []*activity.Activity `json:"activities"`
}

// DecodeChat parses a chat file body. Unlike transcripts the top-level
// value is an object; an array here means the caller has a .transcript.
func DecodeChat(data []byte) ([]*activity.Activity, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: chat file must be a JSON object", ErrFormat)
	}

	var cf ChatFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return cf.Activities, nil
}

// ReadChatFile loads and decodes a chat file from disk.
func ReadChatFile(path string) ([]*activity.Activity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chat file: %w", err)
	}
	return DecodeChat(data)
}
