// internal/render/infer.go
package render

import (
	"regexp"
	"strings"

	"github.com/Corphon/BugReportConstructor/internal/models"
)

const (
	attachmentsHeading       = "Attachments:"
	fallbackAttachmentsLabel = "Attachments"
)

// BuiltInLabels are the field labels of the built-in layout.
var BuiltInLabels = map[models.FieldKey]string{
	models.FieldSummary:        "Summary",
	models.FieldPreconditions:  "Prerequisites",
	models.FieldSteps:          "Steps to reproduce:",
	models.FieldExpected:       "Expected results:",
	models.FieldActual:         "Current results:",
	models.FieldAdditionalInfo: "Additional information:",
}

// FallbackLabels are used for custom formats when the template gives no heading.
var FallbackLabels = map[models.FieldKey]string{
	models.FieldSummary:        "Summary",
	models.FieldPreconditions:  "Prerequisites",
	models.FieldSteps:          "Steps",
	models.FieldExpected:       "Expected",
	models.FieldActual:         "Actual",
	models.FieldAdditionalInfo: "Additional info",
}

// FieldPlaceholders maps each field to the placeholder names that render it.
var FieldPlaceholders = map[models.FieldKey][]string{
	models.FieldSummary:        {"summary"},
	models.FieldPreconditions:  {"preconditions", "preconditions_bullets"},
	models.FieldSteps:          {"steps", "steps_numbered"},
	models.FieldExpected:       {"expected"},
	models.FieldActual:         {"actual"},
	models.FieldAdditionalInfo: {"additionalInfo"},
}

var placeholderField = func() map[string]models.FieldKey {
	out := make(map[string]models.FieldKey)
	for key, names := range FieldPlaceholders {
		for _, name := range names {
			out[name] = key
		}
	}
	return out
}()

// headingPattern matches ATX headings: up to three spaces, 1-6 '#', whitespace, text.
var headingPattern = regexp.MustCompile(`^ {0,3}#{1,6}[ \t]+(.*)$`)

// closingPattern is the optional closing '#' run of an ATX heading.
var closingPattern = regexp.MustCompile(`(^|[ \t]+)#+[ \t]*$`)

// Infer derives which form fields to show, and how to label them, from the
// active format and its template text.
func Infer(format, template string) models.AdaptiveFieldConfig {
	if format == models.DefaultFormatID {
		return uniform(BuiltInLabels)
	}
	if strings.TrimSpace(template) == "" {
		return uniform(FallbackLabels)
	}

	present := make(map[string]bool)
	for _, name := range placeholderNames(template) {
		present[name] = true
	}

	bound := make(map[models.FieldKey]string)
	current := ""
	for _, line := range strings.Split(template, "\n") {
		line = strings.TrimRight(line, "\r")
		if heading, ok := parseHeading(line); ok {
			current = heading
			continue
		}
		if current == "" {
			continue
		}
		for _, name := range placeholderNames(line) {
			key, ok := placeholderField[name]
			if !ok {
				continue
			}
			if _, done := bound[key]; !done {
				bound[key] = current
			}
		}
	}

	cfg := make(models.AdaptiveFieldConfig, len(models.FieldKeys))
	for _, key := range models.FieldKeys {
		visible := key == models.FieldSummary
		for _, name := range FieldPlaceholders[key] {
			if present[name] {
				visible = true
			}
		}
		label, ok := bound[key]
		if !ok {
			label = FallbackLabels[key]
		}
		cfg[key] = models.FieldState{Visible: visible, Label: label}
	}
	return cfg
}

// parseHeading returns the text of an ATX heading line.
func parseHeading(line string) (string, bool) {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	text := closingPattern.ReplaceAllString(m[1], "")
	return strings.TrimSpace(text), true
}

func uniform(labels map[models.FieldKey]string) models.AdaptiveFieldConfig {
	cfg := make(models.AdaptiveFieldConfig, len(models.FieldKeys))
	for _, key := range models.FieldKeys {
		cfg[key] = models.FieldState{Visible: true, Label: labels[key]}
	}
	return cfg
}
