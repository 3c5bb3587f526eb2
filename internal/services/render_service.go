// internal/services/render_service.go
package services

import (
	"context"
	"fmt"

	apperrors "github.com/Corphon/BugReportConstructor/internal/errors"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/render"
)

// InlineFormatID labels a template sent with the request rather than stored.
const InlineFormatID = "inline"

// FormatSelector picks the template to render with. With both fields empty the
// user's active format is used. Template wins over FormatID.
type FormatSelector struct {
	FormatID string  `json:"format_id,omitempty"`
	Template *string `json:"template,omitempty"`
}

// RenderRequest is the body of a render call.
type RenderRequest struct {
	FormatSelector
	Draft models.BugReportDraft `json:"draft"`
}

// RenderResult is a rendered report plus the field layout of the format used.
type RenderResult struct {
	FormatID string                     `json:"format_id"`
	Text     string                     `json:"text"`
	Fields   models.AdaptiveFieldConfig `json:"fields"`
}

// RenderService renders drafts against a user's stored output formats.
type RenderService struct {
	formats *DocumentService[models.OutputFormatsPayload]
}

// NewRenderService creates a RenderService.
func NewRenderService(formats *DocumentService[models.OutputFormatsPayload]) *RenderService {
	return &RenderService{formats: formats}
}

// Render renders req.Draft with the selected format.
func (s *RenderService) Render(ctx context.Context, userID string, req RenderRequest) (RenderResult, error) {
	format, template, err := s.resolve(ctx, userID, req.FormatSelector)
	if err != nil {
		return RenderResult{}, err
	}
	return RenderResult{
		FormatID: format,
		Text:     render.Render(req.Draft, format, render.Options{Template: template}),
		Fields:   render.Infer(format, template),
	}, nil
}

// Fields returns the adaptive field configuration of the selected format.
func (s *RenderService) Fields(ctx context.Context, userID string, sel FormatSelector) (models.AdaptiveFieldConfig, error) {
	format, template, err := s.resolve(ctx, userID, sel)
	if err != nil {
		return nil, err
	}
	return render.Infer(format, template), nil
}

func (s *RenderService) resolve(ctx context.Context, userID string, sel FormatSelector) (string, string, error) {
	if sel.Template != nil {
		return InlineFormatID, *sel.Template, nil
	}
	if sel.FormatID == models.DefaultFormatID {
		return models.DefaultFormatID, "", nil
	}

	formats, err := s.formats.Get(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if sel.FormatID == "" {
		format, template := render.ResolveFormat(formats)
		return format, template, nil
	}
	f, ok := formats.Find(sel.FormatID)
	if !ok {
		return "", "", apperrors.NewNotFoundError(fmt.Sprintf("output format %q not found", sel.FormatID), nil)
	}
	return f.ID, f.Template, nil
}
