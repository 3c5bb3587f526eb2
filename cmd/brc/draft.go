// cmd/brc/draft.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Corphon/BugReportConstructor/internal/models"
)

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// parseDraft decodes a draft written as YAML or JSON.
func parseDraft(data []byte) (models.BugReportDraft, error) {
	var draft models.BugReportDraft
	if len(bytes.TrimSpace(data)) == 0 {
		return draft, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&draft); err != nil {
		return draft, fmt.Errorf("decode draft: %w", err)
	}
	return draft, nil
}

// parseFormats decodes an output formats document written as YAML or JSON and
// applies the same shape checks as the store.
func parseFormats(data []byte) (models.OutputFormatsPayload, error) {
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return models.OutputFormatsPayload{}, fmt.Errorf("decode output formats: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return models.OutputFormatsPayload{}, fmt.Errorf("decode output formats: %w", err)
	}
	formats, err := models.ParseIncomingOutputFormats(raw)
	if err != nil {
		return formats, err
	}
	return formats.Normalize(), nil
}
