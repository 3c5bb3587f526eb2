// internal/models/output_formats.go
package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
)

const (
	// OutputFormatsKey is the user property holding the output formats document.
	OutputFormatsKey = "bugReportOutputFormats"

	// DefaultFormatID selects the built-in markdown layout.
	DefaultFormatID = "markdown_default"
)

// CustomOutputFormat is a user-defined rendering template.
type CustomOutputFormat struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Template string `json:"template" yaml:"template"`
}

// OutputFormatsPayload is the persisted output formats document.
type OutputFormatsPayload struct {
	ActiveFormat string               `json:"activeFormat" yaml:"activeFormat"`
	Formats      []CustomOutputFormat `json:"formats" yaml:"formats"`
}

// DefaultOutputFormats returns the canonical default document.
func DefaultOutputFormats() OutputFormatsPayload {
	return OutputFormatsPayload{
		ActiveFormat: DefaultFormatID,
		Formats:      []CustomOutputFormat{},
	}
}

// NewFormatID returns a fresh opaque id, prefixed with a slug of name for readability.
func NewFormatID(name string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	base := slug.Make(name)
	if base == "" {
		return "fmt-" + suffix
	}
	if len(base) > 32 {
		base = strings.Trim(base[:32], "-")
	}
	return base + "-" + suffix
}

// Find returns the format with id.
func (p OutputFormatsPayload) Find(id string) (CustomOutputFormat, bool) {
	for _, f := range p.Formats {
		if f.ID == id {
			return f, true
		}
	}
	return CustomOutputFormat{}, false
}

// ResolveActive returns ActiveFormat when it names the built-in layout or an
// existing format, and DefaultFormatID otherwise.
func (p OutputFormatsPayload) ResolveActive() string {
	if p.ActiveFormat == DefaultFormatID {
		return DefaultFormatID
	}
	if _, ok := p.Find(p.ActiveFormat); ok {
		return p.ActiveFormat
	}
	return DefaultFormatID
}

// Normalize returns a copy with a non-nil formats list and a resolvable active format.
func (p OutputFormatsPayload) Normalize() OutputFormatsPayload {
	formats := make([]CustomOutputFormat, len(p.Formats))
	copy(formats, p.Formats)
	out := OutputFormatsPayload{ActiveFormat: p.ActiveFormat, Formats: formats}
	out.ActiveFormat = out.ResolveActive()
	return out
}

// IsEmpty reports whether the document carries nothing beyond the defaults.
func (p OutputFormatsPayload) IsEmpty() bool {
	return len(p.Formats) == 0 && p.ResolveActive() == DefaultFormatID
}

// Add appends a new format with a fresh id.
func (p OutputFormatsPayload) Add(name, template string) (OutputFormatsPayload, CustomOutputFormat) {
	next := p.Normalize()
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Format %d", len(next.Formats)+1)
	}
	format := CustomOutputFormat{ID: NewFormatID(name), Name: name, Template: template}
	next.Formats = append(next.Formats, format)
	return next, format
}

// Update edits the name and template of the format with id in place.
func (p OutputFormatsPayload) Update(id, name, template string) (OutputFormatsPayload, error) {
	next := p.Normalize()
	for i := range next.Formats {
		if next.Formats[i].ID == id {
			next.Formats[i].Name = name
			next.Formats[i].Template = template
			return next, nil
		}
	}
	return next, apperrors.NewNotFoundError(fmt.Sprintf("output format %q not found", id), nil)
}

// Delete removes the format with id. Deleting the active format reverts to the built-in layout.
func (p OutputFormatsPayload) Delete(id string) (OutputFormatsPayload, error) {
	next := p.Normalize()
	for i := range next.Formats {
		if next.Formats[i].ID == id {
			next.Formats = append(next.Formats[:i], next.Formats[i+1:]...)
			if p.ActiveFormat == id {
				next.ActiveFormat = DefaultFormatID
			}
			return next, nil
		}
	}
	return next, apperrors.NewNotFoundError(fmt.Sprintf("output format %q not found", id), nil)
}

// Select makes id the active format.
func (p OutputFormatsPayload) Select(id string) (OutputFormatsPayload, error) {
	next := p.Normalize()
	if id != DefaultFormatID {
		if _, ok := next.Find(id); !ok {
			return next, apperrors.NewNotFoundError(fmt.Sprintf("output format %q not found", id), nil)
		}
	}
	next.ActiveFormat = id
	return next, nil
}

// ParseStoredOutputFormats decodes a stored value.
func ParseStoredOutputFormats(data []byte) (OutputFormatsPayload, error) {
	value, err := decodeJSONValue(data, sourceStored)
	if err != nil {
		return OutputFormatsPayload{}, err
	}
	return OutputFormatsFromValue(value)
}

// ParseIncomingOutputFormats decodes a request body.
func ParseIncomingOutputFormats(data []byte) (OutputFormatsPayload, error) {
	value, err := decodeJSONValue(data, sourceIncoming)
	if err != nil {
		return OutputFormatsPayload{}, err
	}
	return OutputFormatsFromValue(value)
}

// OutputFormatsFromValue applies the shape predicate: activeFormat is a string and
// formats is an array of {id, name, template} string objects with unique, non-empty ids.
func OutputFormatsFromValue(value any) (OutputFormatsPayload, error) {
	obj, ok := value.(map[string]any)
	if !ok || obj == nil {
		return OutputFormatsPayload{}, apperrors.NewShapeError("output formats must be an object", nil)
	}
	active, ok := obj["activeFormat"].(string)
	if !ok {
		return OutputFormatsPayload{}, apperrors.NewShapeError("output formats field \"activeFormat\" must be a string", nil)
	}
	arr, ok := obj["formats"].([]any)
	if !ok {
		return OutputFormatsPayload{}, apperrors.NewShapeError("output formats field \"formats\" must be an array", nil)
	}

	out := OutputFormatsPayload{ActiveFormat: active, Formats: make([]CustomOutputFormat, 0, len(arr))}
	seen := make(map[string]bool, len(arr))
	for i, item := range arr {
		entry, ok := item.(map[string]any)
		if !ok || entry == nil {
			return OutputFormatsPayload{}, apperrors.NewShapeError(fmt.Sprintf("format #%d must be an object", i), nil)
		}
		var f CustomOutputFormat
		for _, field := range []struct {
			name string
			dst  *string
		}{
			{"id", &f.ID},
			{"name", &f.Name},
			{"template", &f.Template},
		} {
			s, ok := entry[field.name].(string)
			if !ok {
				return OutputFormatsPayload{}, apperrors.NewShapeError(
					fmt.Sprintf("format #%d field %q must be a string", i, field.name), nil)
			}
			*field.dst = s
		}
		if strings.TrimSpace(f.ID) == "" {
			return OutputFormatsPayload{}, apperrors.NewShapeError(fmt.Sprintf("format #%d has an empty id", i), nil)
		}
		if seen[f.ID] {
			return OutputFormatsPayload{}, apperrors.NewShapeError(fmt.Sprintf("duplicate format id %q", f.ID), nil)
		}
		seen[f.ID] = true
		out.Formats = append(out.Formats, f)
	}
	return out, nil
}
