// internal/models/draft.go
package models

// Attachment is a file attached to the report. Only the name takes part in rendering.
type Attachment struct {
	Name string `json:"name" yaml:"name"`
}

// BugReportDraft is the report being composed. It is never persisted as a unit.
type BugReportDraft struct {
	Summary        string       `json:"summary" yaml:"summary"`
	Preconditions  []string     `json:"preconditions" yaml:"preconditions"`
	Steps          []string     `json:"steps" yaml:"steps"`
	Expected       string       `json:"expected" yaml:"expected"`
	Actual         string       `json:"actual" yaml:"actual"`
	AdditionalInfo string       `json:"additionalInfo" yaml:"additionalInfo"`
	Attachments    []Attachment `json:"attachments" yaml:"attachments"`
}
