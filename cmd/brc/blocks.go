// cmd/brc/blocks.go
package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Corphon/BugReportConstructor/internal/client"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/syncer"
)

// openDocument returns a synchronizer for doc loaded from the server.
func openDocument[T any](ctx context.Context, c *cli, doc models.DocumentType[T]) (*syncer.Synchronizer[T], error) {
	s := syncer.New(doc,
		syncer.WithTransport[T](client.Documents(c.client(), doc)),
		syncer.WithLogger[T](c.logger),
	)
	if err := s.Load(ctx); err != nil {
		s.Dispose()
		return nil, fmt.Errorf("load %s: %w", doc.Name, err)
	}
	return s, nil
}

// persist saves next through s and prints the resulting status message.
func persist[T any](ctx context.Context, c *cli, s *syncer.Synchronizer[T], next T, message string) error {
	if err := s.Persist(ctx, next, message); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if msg := s.State().Message; msg != "" {
		_, err := fmt.Fprintln(c.stdout, msg)
		return err
	}
	return nil
}

func newBlocksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Manage saved blocks",
	}
	cmd.AddCommand(newBlocksGetCmd(c), newBlocksAddCmd(c), newBlocksRmCmd(c))
	return cmd
}

func newBlocksGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get [section]",
		Short: "List saved blocks, optionally of one section",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sections := []models.BlockSection{models.SectionSummary, models.SectionPreconditions, models.SectionSteps}
			if len(args) == 1 {
				section, err := models.ParseBlockSection(args[0])
				if err != nil {
					return err
				}
				sections = []models.BlockSection{section}
			}

			s, err := openDocument(cmd.Context(), c, models.SavedBlocksDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			_, err = fmt.Fprint(c.stdout, formatBlocks(s.Document(), sections))
			return err
		},
	}
}

func newBlocksAddCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add <section> <text...>",
		Short: "Append a block to a section",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, err := models.ParseBlockSection(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")

			s, err := openDocument(cmd.Context(), c, models.SavedBlocksDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			next, added := s.Document().Append(section, text)
			if !added {
				_, err := fmt.Fprintln(c.stdout, "Block already saved.")
				return err
			}
			return persist(cmd.Context(), c, s, next, "Block saved.")
		},
	}
}

func newBlocksRmCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <section> <index>",
		Short: "Remove the block at index (starting at 1) from a section",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, err := models.ParseBlockSection(args[0])
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}

			s, err := openDocument(cmd.Context(), c, models.SavedBlocksDocument)
			if err != nil {
				return err
			}
			defer s.Dispose()

			next, err := s.Document().RemoveAt(section, index-1)
			if err != nil {
				return err
			}
			return persist(cmd.Context(), c, s, next, "Block removed.")
		},
	}
}

func formatBlocks(blocks models.SavedBlocks, sections []models.BlockSection) string {
	var b strings.Builder
	for i, section := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s:\n", section)
		items := blocks.Section(section)
		if len(items) == 0 {
			b.WriteString("  (none)\n")
			continue
		}
		for j, item := range items {
			fmt.Fprintf(&b, "  %d. %s\n", j+1, item)
		}
	}
	return b.String()
}
