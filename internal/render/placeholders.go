// internal/render/placeholders.go
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Corphon/BugReportConstructor/internal/models"
)

// placeholderPattern matches {{name}} and {{ name }}.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Placeholder documents one name of the template grammar.
type Placeholder struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Placeholders is the public placeholder grammar users write templates against.
var Placeholders = []Placeholder{
	{"summary", "Trimmed summary"},
	{"preconditions", "Non-empty preconditions, one per line"},
	{"preconditions_bullets", "Preconditions as \"- \" bullets, or \"-\" when there are none"},
	{"steps", "Non-empty steps, one per line"},
	{"steps_numbered", "Steps as a numbered list, or \"1.\" when there are none"},
	{"expected", "Trimmed expected result"},
	{"actual", "Trimmed actual result"},
	{"additionalInfo", "Trimmed additional information"},
	{"attachments_bullets", "Attachment names as \"- \" bullets, or \"-\" when there are none"},
}

// Bindings computes the value of every known placeholder for draft.
func Bindings(draft models.BugReportDraft) map[string]string {
	pre := nonEmptyTrimmed(draft.Preconditions)
	steps := nonEmptyTrimmed(draft.Steps)

	attachments := make([]string, 0, len(draft.Attachments))
	for _, a := range draft.Attachments {
		attachments = append(attachments, a.Name)
	}

	return map[string]string{
		"summary":               strings.TrimSpace(draft.Summary),
		"preconditions":         strings.Join(pre, "\n"),
		"preconditions_bullets": bullets(pre),
		"steps":                 strings.Join(steps, "\n"),
		"steps_numbered":        numbered(steps),
		"expected":              strings.TrimSpace(draft.Expected),
		"actual":                strings.TrimSpace(draft.Actual),
		"additionalInfo":        strings.TrimSpace(draft.AdditionalInfo),
		"attachments_bullets":   bullets(nonEmptyTrimmed(attachments)),
	}
}

// Substitute replaces every placeholder in template in a single pass. Unknown
// names become empty strings. A blank template yields "".
func Substitute(template string, draft models.BugReportDraft) string {
	if strings.TrimSpace(template) == "" {
		return ""
	}
	vars := Bindings(draft)
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return ""
		}
		return vars[sub[1]]
	})
}

// placeholderNames returns the placeholder names referenced by text, in order.
func placeholderNames(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func nonEmptyTrimmed(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "1."
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return strings.Join(lines, "\n")
}
