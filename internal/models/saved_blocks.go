// internal/models/saved_blocks.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
)

// SavedBlocksKey is the user property holding the saved blocks document.
const SavedBlocksKey = "bugReportSavedBlocks"

// BlockSection names one of the saved blocks collections.
type BlockSection string

const (
	SectionSummary       BlockSection = "summary"
	SectionPreconditions BlockSection = "preconditions"
	SectionSteps         BlockSection = "steps"
)

// SavedBlocks holds the reusable text fragments of one user.
// Order is the display order.
//
// Elements are not type checked. An element that is not a JSON string is shown
// as its JSON text and written back exactly as it was read.
type SavedBlocks struct {
	Summary       []string `json:"summary" yaml:"summary"`
	Preconditions []string `json:"preconditions" yaml:"preconditions"`
	Steps         []string `json:"steps" yaml:"steps"`

	// verbatim non-string elements by section and index; nil when every element is a string
	raw map[BlockSection][]json.RawMessage
}

// EmptySavedBlocks returns the canonical default document.
func EmptySavedBlocks() SavedBlocks {
	return SavedBlocks{
		Summary:       []string{},
		Preconditions: []string{},
		Steps:         []string{},
	}
}

// ParseBlockSection validates a section name.
func ParseBlockSection(name string) (BlockSection, error) {
	switch s := BlockSection(strings.TrimSpace(name)); s {
	case SectionSummary, SectionPreconditions, SectionSteps:
		return s, nil
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown block section %q", name), nil)
	}
}

// Normalize returns a copy whose collections are never nil.
func (b SavedBlocks) Normalize() SavedBlocks {
	out := SavedBlocks{
		Summary:       cloneStrings(b.Summary),
		Preconditions: cloneStrings(b.Preconditions),
		Steps:         cloneStrings(b.Steps),
	}
	for section, raw := range b.raw {
		out.setRaw(section, append([]json.RawMessage(nil), raw...))
	}
	return out
}

// IsEmpty reports whether every collection is empty.
func (b SavedBlocks) IsEmpty() bool {
	return len(b.Summary) == 0 && len(b.Preconditions) == 0 && len(b.Steps) == 0
}

// Section returns the collection for section.
func (b SavedBlocks) Section(section BlockSection) []string {
	switch section {
	case SectionSummary:
		return b.Summary
	case SectionPreconditions:
		return b.Preconditions
	case SectionSteps:
		return b.Steps
	}
	return nil
}

// Append adds text to section unless an entry equal to it, ignoring case and
// whitespace, already exists. The second result is false when nothing was added.
func (b SavedBlocks) Append(section BlockSection, text string) (SavedBlocks, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return b.Normalize(), false
	}
	key := dedupKey(text)
	for _, existing := range b.Section(section) {
		if dedupKey(existing) == key {
			return b.Normalize(), false
		}
	}
	next := b.Normalize()
	next.setSection(section, append(next.Section(section), text))
	if raw := next.raw[section]; raw != nil {
		next.setRaw(section, append(raw, nil))
	}
	return next, true
}

// RemoveAt removes the entry at index from section.
func (b SavedBlocks) RemoveAt(section BlockSection, index int) (SavedBlocks, error) {
	items := b.Section(section)
	if index < 0 || index >= len(items) {
		return b.Normalize(), apperrors.NewNotFoundError(
			fmt.Sprintf("no %s block at index %d", section, index), nil)
	}
	next := b.Normalize()
	next.setSection(section, removeAt(next.Section(section), index))
	if raw := next.raw[section]; raw != nil {
		next.setRaw(section, removeAt(raw, index))
	}
	return next, nil
}

// Replace swaps the whole collection for section. The new items are all strings.
func (b SavedBlocks) Replace(section BlockSection, items []string) SavedBlocks {
	next := b.Normalize()
	next.setSection(section, cloneStrings(items))
	next.setRaw(section, nil)
	return next
}

// MarshalJSON writes string elements as JSON strings and every other element verbatim.
func (b SavedBlocks) MarshalJSON() ([]byte, error) {
	var out struct {
		Summary       []json.RawMessage `json:"summary"`
		Preconditions []json.RawMessage `json:"preconditions"`
		Steps         []json.RawMessage `json:"steps"`
	}
	for _, field := range []struct {
		section BlockSection
		dst     *[]json.RawMessage
	}{
		{SectionSummary, &out.Summary},
		{SectionPreconditions, &out.Preconditions},
		{SectionSteps, &out.Steps},
	} {
		elems, err := encodeSection(b.Section(field.section), b.raw[field.section])
		if err != nil {
			return nil, err
		}
		*field.dst = elems
	}
	return json.Marshal(out)
}

// UnmarshalJSON applies the stored-document rules, legacy upgrade included.
func (b *SavedBlocks) UnmarshalJSON(data []byte) error {
	parsed, err := ParseStoredSavedBlocks(data)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b *SavedBlocks) setSection(section BlockSection, items []string) {
	switch section {
	case SectionSummary:
		b.Summary = items
	case SectionPreconditions:
		b.Preconditions = items
	case SectionSteps:
		b.Steps = items
	}
}

// setRaw records the verbatim elements of section; nil drops them.
func (b *SavedBlocks) setRaw(section BlockSection, raw []json.RawMessage) {
	if raw == nil {
		delete(b.raw, section)
		if len(b.raw) == 0 {
			b.raw = nil
		}
		return
	}
	if b.raw == nil {
		b.raw = make(map[BlockSection][]json.RawMessage)
	}
	b.raw[section] = raw
}

func encodeSection(items []string, raw []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		if i < len(raw) && raw[i] != nil {
			out = append(out, raw[i])
			continue
		}
		enc, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func removeAt[E any](items []E, index int) []E {
	out := make([]E, 0, len(items)-1)
	out = append(out, items[:index]...)
	return append(out, items[index+1:]...)
}

// ParseStoredSavedBlocks decodes a stored value. Values in the legacy shape are
// upgraded; anything else that fails the shape check is reported, not defaulted.
func ParseStoredSavedBlocks(data []byte) (SavedBlocks, error) {
	value, err := decodeJSONValue(data, sourceStored)
	if err != nil {
		return SavedBlocks{}, err
	}
	blocks, err := SavedBlocksFromValue(value)
	if err == nil {
		return blocks, nil
	}
	if legacy, ok := MigrateLegacySavedBlocks(value); ok {
		return legacy, nil
	}
	return SavedBlocks{}, err
}

// ParseIncomingSavedBlocks decodes a request body. Only the current shape is accepted.
func ParseIncomingSavedBlocks(data []byte) (SavedBlocks, error) {
	value, err := decodeJSONValue(data, sourceIncoming)
	if err != nil {
		return SavedBlocks{}, err
	}
	return SavedBlocksFromValue(value)
}

// SavedBlocksFromValue applies the shape predicate: a non-null object whose
// summary, preconditions and steps are arrays. Elements are not checked.
func SavedBlocksFromValue(value any) (SavedBlocks, error) {
	obj, ok := value.(map[string]any)
	if !ok || obj == nil {
		return SavedBlocks{}, apperrors.NewShapeError("saved blocks must be an object", nil)
	}

	var out SavedBlocks
	for _, section := range []BlockSection{SectionSummary, SectionPreconditions, SectionSteps} {
		arr, ok := obj[string(section)].([]any)
		if !ok {
			return SavedBlocks{}, apperrors.NewShapeError(
				fmt.Sprintf("saved blocks field %q must be an array", section), nil)
		}
		items, raw := blocksFromArray(arr)
		out.setSection(section, items)
		out.setRaw(section, raw)
	}
	return out, nil
}

// MigrateLegacySavedBlocks upgrades the old
// {summaryChunks: [], preconditions: "", steps: [], additionalInfo: ""} shape.
// additionalInfo has no home in the current shape and is dropped.
func MigrateLegacySavedBlocks(value any) (SavedBlocks, bool) {
	obj, ok := value.(map[string]any)
	if !ok || obj == nil {
		return SavedBlocks{}, false
	}
	chunks, ok := obj["summaryChunks"].([]any)
	if !ok {
		return SavedBlocks{}, false
	}
	pre, ok := obj["preconditions"].(string)
	if !ok {
		return SavedBlocks{}, false
	}
	steps, ok := obj["steps"].([]any)
	if !ok {
		return SavedBlocks{}, false
	}
	if _, ok := obj["additionalInfo"].(string); !ok {
		return SavedBlocks{}, false
	}

	out := SavedBlocks{Preconditions: []string{}}
	for section, arr := range map[BlockSection][]any{SectionSummary: chunks, SectionSteps: steps} {
		items, raw := blocksFromArray(arr)
		out.setSection(section, items)
		out.setRaw(section, raw)
	}
	if collapsed := collapseWhitespace(pre); collapsed != "" {
		out.Preconditions = []string{collapsed}
	}
	return out, true
}

func dedupKey(s string) string {
	return strings.ToLower(collapseWhitespace(s))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
