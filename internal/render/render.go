// internal/render/render.go
package render

import (
	"strings"
	"unicode"

	"github.com/Corphon/BugReportConstructor/internal/models"
)

// Options carries the inputs of the custom-template strategy.
type Options struct {
	// Template is the text of the selected custom format.
	Template string
}

// Render produces the report description for draft. The built-in layout is used
// for models.DefaultFormatID, the placeholder engine for anything else. The
// result never has trailing whitespace and always ends in exactly one "\n".
func Render(draft models.BugReportDraft, format string, opts Options) string {
	var text string
	if format == models.DefaultFormatID {
		text = renderBuiltIn(draft)
	} else {
		text = renderCustom(draft, opts.Template)
	}
	return finalize(text)
}

// RenderActive renders draft with the active format of formats. An active format
// that no longer exists falls back to the built-in layout.
func RenderActive(draft models.BugReportDraft, formats models.OutputFormatsPayload) string {
	format, template := ResolveFormat(formats)
	return Render(draft, format, Options{Template: template})
}

// ResolveFormat returns the effective format id and its template.
func ResolveFormat(formats models.OutputFormatsPayload) (string, string) {
	id := formats.ResolveActive()
	if id == models.DefaultFormatID {
		return models.DefaultFormatID, ""
	}
	f, _ := formats.Find(id)
	return id, f.Template
}

type section struct {
	heading string
	lines   []string
}

func renderBuiltIn(draft models.BugReportDraft) string {
	vars := Bindings(draft)

	steps := strings.Split(vars["steps_numbered"], "\n")
	sections := []section{
		{BuiltInLabels[models.FieldPreconditions], nonEmptyTrimmed(draft.Preconditions)},
		{BuiltInLabels[models.FieldSteps], steps},
		{BuiltInLabels[models.FieldExpected], optionalLine(vars["expected"])},
		{BuiltInLabels[models.FieldActual], optionalLine(vars["actual"])},
		{BuiltInLabels[models.FieldAdditionalInfo], optionalLine(vars["additionalInfo"])},
	}
	if hasAttachments(draft) {
		sections = append(sections, section{attachmentsHeading, strings.Split(vars["attachments_bullets"], "\n")})
	}

	var lines []string
	for i, s := range sections {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "## "+s.heading)
		lines = append(lines, s.lines...)
	}
	return strings.Join(lines, "\n")
}

func renderCustom(draft models.BugReportDraft, template string) string {
	out := Substitute(template, draft)
	if strings.TrimSpace(out) != "" {
		return out
	}
	return Substitute(fallbackTemplate(hasAttachments(draft)), draft)
}

// fallbackTemplate is the layout used when a selected template renders to nothing.
func fallbackTemplate(withAttachments bool) string {
	parts := []string{
		"### " + FallbackLabels[models.FieldPreconditions] + "\n{{preconditions_bullets}}",
		"### " + FallbackLabels[models.FieldSteps] + "\n{{steps_numbered}}",
		"### " + FallbackLabels[models.FieldExpected] + "\n{{expected}}",
		"### " + FallbackLabels[models.FieldActual] + "\n{{actual}}",
		"### " + FallbackLabels[models.FieldAdditionalInfo] + "\n{{additionalInfo}}",
	}
	if withAttachments {
		parts = append(parts, "### "+fallbackAttachmentsLabel+"\n{{attachments_bullets}}")
	}
	return strings.Join(parts, "\n\n")
}

func optionalLine(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func hasAttachments(draft models.BugReportDraft) bool {
	for _, a := range draft.Attachments {
		if strings.TrimSpace(a.Name) != "" {
			return true
		}
	}
	return false
}

func finalize(text string) string {
	return strings.TrimRightFunc(text, unicode.IsSpace) + "\n"
}
