// cmd/brc/render.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Corphon/BugReportConstructor/internal/client"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/render"
	"github.com/Corphon/BugReportConstructor/internal/services"
)

// formatFlags select the format for render and fields.
type formatFlags struct {
	formatID     string
	templateFile string
	formatsFile  string
	remote       bool
}

func (f *formatFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.formatID, "format", "", "format id (default: the active format)")
	cmd.Flags().StringVar(&f.templateFile, "template", "", "template file, overrides --format")
	cmd.Flags().StringVar(&f.formatsFile, "formats", "", "output formats file (YAML or JSON)")
	cmd.Flags().BoolVar(&f.remote, "remote", false, "read output formats from the server")
}

// resolve returns the format id and template to use.
func (f *formatFlags) resolve(c *cli, cmd *cobra.Command) (string, string, error) {
	if f.templateFile != "" {
		data, err := readInput(f.templateFile, c.stdin)
		if err != nil {
			return "", "", err
		}
		return services.InlineFormatID, string(data), nil
	}

	formats := models.DefaultOutputFormats()
	switch {
	case f.formatsFile != "":
		data, err := readInput(f.formatsFile, c.stdin)
		if err != nil {
			return "", "", err
		}
		if formats, err = parseFormats(data); err != nil {
			return "", "", err
		}
	case f.remote:
		fetched, err := client.Documents(c.client(), models.OutputFormatsDocument).Fetch(cmd.Context())
		if err != nil {
			return "", "", err
		}
		formats = fetched.Normalize()
	}

	if f.formatID == "" {
		id, template := render.ResolveFormat(formats)
		return id, template, nil
	}
	if f.formatID == models.DefaultFormatID {
		return models.DefaultFormatID, "", nil
	}
	format, ok := formats.Find(f.formatID)
	if !ok {
		return "", "", fmt.Errorf("output format %q not found", f.formatID)
	}
	return format.ID, format.Template, nil
}

func newRenderCmd(c *cli) *cobra.Command {
	var (
		formats formatFlags
		pretty  bool
		width   int
	)
	cmd := &cobra.Command{
		Use:   "render [draft-file]",
		Short: "Render a draft (YAML or JSON, - for stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			data, err := readInput(path, c.stdin)
			if err != nil {
				return err
			}
			draft, err := parseDraft(data)
			if err != nil {
				return err
			}
			formatID, template, err := formats.resolve(c, cmd)
			if err != nil {
				return err
			}

			text := render.Render(draft, formatID, render.Options{Template: template})
			if pretty {
				text, err = prettyMarkdown(text, width)
				if err != nil {
					return err
				}
			}
			_, err = fmt.Fprint(c.stdout, text)
			return err
		},
	}
	formats.register(cmd)
	cmd.Flags().BoolVar(&pretty, "pretty", false, "render the markdown for the terminal")
	cmd.Flags().IntVar(&width, "width", 80, "word wrap width for --pretty")
	return cmd
}

func prettyMarkdown(text string, width int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := renderer.Render(text)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

func newFieldsCmd(c *cli) *cobra.Command {
	var formats formatFlags
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Show which draft fields a format uses and how they are labeled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatID, template, err := formats.resolve(c, cmd)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, fieldsTable(render.Infer(formatID, template), isTerminal(c)))
			return err
		},
	}
	formats.register(cmd)
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	hiddenStyle = lipgloss.NewStyle().Faint(true)
)

// fieldsTable lays out cfg one field per row, in form order.
func fieldsTable(cfg models.AdaptiveFieldConfig, styled bool) string {
	keyWidth, labelWidth := len("FIELD"), len("LABEL")
	for _, key := range models.FieldKeys {
		keyWidth = max(keyWidth, len(key))
		labelWidth = max(labelWidth, len(cfg[key].Label))
	}

	row := func(key, label, shown string) string {
		return fmt.Sprintf("%-*s  %-*s  %s", keyWidth, key, labelWidth, label, shown)
	}

	lines := make([]string, 0, len(models.FieldKeys)+1)
	header := row("FIELD", "LABEL", "VISIBLE")
	if styled {
		header = headerStyle.Render(header)
	}
	lines = append(lines, header)
	for _, key := range models.FieldKeys {
		state := cfg[key]
		shown := "yes"
		if !state.Visible {
			shown = "no"
		}
		line := row(string(key), state.Label, shown)
		if styled && !state.Visible {
			line = hiddenStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// isTerminal reports whether output goes to a terminal, where styling is wanted.
func isTerminal(c *cli) bool {
	f, ok := c.stdout.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
