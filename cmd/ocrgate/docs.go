package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/example/ocrgate/internal/store"
	"github.com/spf13/cobra"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage stored documents",
	}

	cmd.AddCommand(newDocsListCmd())
	cmd.AddCommand(newDocsAddCmd())
	cmd.AddCommand(newDocsShowCmd())
	cmd.AddCommand(newDocsRmCmd())

	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(*store.Store) error) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(st)
}

func newDocsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(st *store.Store) error {
				docs, err := st.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSONTo(cmd.OutOrStdout(), docs)
				}
				return writeDocTable(cmd.OutOrStdout(), docs)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of documents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func newDocsAddCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add [file]",
		Short: "Normalize and store text from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			content, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}

			return withStore(func(st *store.Store) error {
				doc, created, err := st.Save(cmd.Context(), title, content)
				if err != nil {
					return err
				}
				verb := "updated"
				if created {
					verb = "created"
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, doc.ID)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title")

	return cmd
}

func newDocsShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(st *store.Store) error {
				doc, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				if asJSON {
					return writeJSONTo(cmd.OutOrStdout(), doc)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.Content)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full record as JSON")

	return cmd
}

func newDocsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete stored documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(st *store.Store) error {
				for _, id := range args {
					if err := st.Delete(cmd.Context(), id); err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeDocTable(w io.Writer, docs []store.Document) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tUPDATED\tSIZE\tTITLE")
	for _, d := range docs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID, d.UpdatedAt.Format(time.RFC3339), len(d.Content), d.Title)
	}
	return tw.Flush()
}
