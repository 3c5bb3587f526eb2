// internal/models/document.go
package models

import (
	"bytes"
	"encoding/json"
	"strings"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
)

// DocumentType describes one JSON document kept in a user property.
type DocumentType[T any] struct {
	// Name is the route segment, e.g. "saved-blocks".
	Name string
	// PropertyKey is the user property the serialized document lives in.
	PropertyKey string

	Default       func() T
	ParseStored   func(data []byte) (T, error)
	ParseIncoming func(data []byte) (T, error)
	Normalize     func(T) T
	IsEmpty       func(T) bool
}

// SavedBlocksDocument is the saved blocks document type.
var SavedBlocksDocument = DocumentType[SavedBlocks]{
	Name:          "saved-blocks",
	PropertyKey:   SavedBlocksKey,
	Default:       EmptySavedBlocks,
	ParseStored:   ParseStoredSavedBlocks,
	ParseIncoming: ParseIncomingSavedBlocks,
	Normalize:     SavedBlocks.Normalize,
	IsEmpty:       SavedBlocks.IsEmpty,
}

// OutputFormatsDocument is the output formats document type.
var OutputFormatsDocument = DocumentType[OutputFormatsPayload]{
	Name:          "output-formats",
	PropertyKey:   OutputFormatsKey,
	Default:       DefaultOutputFormats,
	ParseStored:   ParseStoredOutputFormats,
	ParseIncoming: ParseIncomingOutputFormats,
	Normalize:     OutputFormatsPayload.Normalize,
	IsEmpty:       OutputFormatsPayload.IsEmpty,
}

const (
	sourceStored   = "stored document"
	sourceIncoming = "request body"
)

// decodeJSONValue parses data into a generic value, keeping numbers verbatim.
func decodeJSONValue(data []byte, what string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, apperrors.NewMalformedError(what+" is not valid JSON", err)
	}
	if dec.More() {
		return nil, apperrors.NewMalformedError(what+" has trailing data", nil)
	}
	return value, nil
}

// blocksFromArray returns the text view of arr plus, when any element is not a
// string, the verbatim JSON of each element (nil entries for strings).
func blocksFromArray(arr []any) ([]string, []json.RawMessage) {
	items := make([]string, 0, len(arr))
	var raw []json.RawMessage
	for i, v := range arr {
		if s, ok := v.(string); ok {
			items = append(items, s)
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			items = append(items, "")
			continue
		}
		if raw == nil {
			raw = make([]json.RawMessage, len(arr))
		}
		raw[i] = enc
		items = append(items, strings.TrimSpace(string(enc)))
	}
	return items, raw
}
