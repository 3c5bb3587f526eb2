// cmd/brc/formats.go
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Corphon/BugReportConstructor/internal/models"
)

func newFormatsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "Manage output formats",
	}
	cmd.AddCommand(
		newFormatsListCmd(c),
		newFormatsAddCmd(c),
		newFormatsUseCmd(c),
		newFormatsRmCmd(c),
		newFormatsExportCmd(c),
	)
	return cmd
}

func newFormatsListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List output formats, marking the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openDocument(cmd.Context(), c, models.OutputFormatsDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			_, err = fmt.Fprint(c.stdout, formatList(s.Document()))
			return err
		},
	}
}

func newFormatsAddCmd(c *cli) *cobra.Command {
	var (
		name     string
		template string
		use      bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an output format from a template file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(template, c.stdin)
			if err != nil {
				return err
			}

			s, err := openDocument(cmd.Context(), c, models.OutputFormatsDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			next, format := s.Document().Add(name, string(data))
			if use {
				if next, err = next.Select(format.ID); err != nil {
					return err
				}
			}
			if err := persist(cmd.Context(), c, s, next, "Format saved."); err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, format.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&template, "template", "-", "template file, - for stdin")
	cmd.Flags().BoolVar(&use, "use", false, "make the new format active")
	return cmd
}

func newFormatsUseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Make a format active (" + models.DefaultFormatID + " for the built-in layout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openDocument(cmd.Context(), c, models.OutputFormatsDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			next, err := s.Document().Select(args[0])
			if err != nil {
				return err
			}
			return persist(cmd.Context(), c, s, next, "Active format changed.")
		},
	}
}

func newFormatsRmCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openDocument(cmd.Context(), c, models.OutputFormatsDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			next, err := s.Document().Delete(args[0])
			if err != nil {
				return err
			}
			return persist(cmd.Context(), c, s, next, "Format deleted.")
		},
	}
}

func newFormatsExportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the output formats document as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openDocument(cmd.Context(), c, models.OutputFormatsDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			enc := yaml.NewEncoder(c.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(s.Document()); err != nil {
				return fmt.Errorf("encode output formats: %w", err)
			}
			return enc.Close()
		},
	}
}

func formatList(formats models.OutputFormatsPayload) string {
	active := formats.ResolveActive()
	mark := func(id string) string {
		if id == active {
			return "*"
		}
		return " "
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (built-in)\n", mark(models.DefaultFormatID), models.DefaultFormatID)
	for _, f := range formats.Formats {
		fmt.Fprintf(&b, "%s %s %s\n", mark(f.ID), f.ID, f.Name)
	}
	return b.String()
}
