// internal/models/fields.go
package models

// FieldKey names a logical form field.
type FieldKey string

const (
	FieldSummary        FieldKey = "summary"
	FieldPreconditions  FieldKey = "preconditions"
	FieldSteps          FieldKey = "steps"
	FieldExpected       FieldKey = "expected"
	FieldActual         FieldKey = "actual"
	FieldAdditionalInfo FieldKey = "additionalInfo"
)

// FieldKeys lists the field keys in form order.
var FieldKeys = []FieldKey{
	FieldSummary,
	FieldPreconditions,
	FieldSteps,
	FieldExpected,
	FieldActual,
	FieldAdditionalInfo,
}

// FieldState is the visibility and label of one form field.
type FieldState struct {
	Visible bool   `json:"visible"`
	Label   string `json:"label"`
}

// AdaptiveFieldConfig maps every field key to its state.
type AdaptiveFieldConfig map[FieldKey]FieldState
