package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/rag"
	"github.com/lawgpt/lawgpt/pkg/extract"
)

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func (c *cli) queryCmd() *cobra.Command {
	var (
		k      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a question from the indexed sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ans, err := c.app.RAG.Query(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, ans)
			}
			printAnswer(cmd, ans)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of passages (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printAnswer(cmd *cobra.Command, ans *rag.Answer) {
	cmd.Println(ans.Text)
	cmd.Println()
	cmd.Printf("Confidence: %s\n", ans.Confidence)
	if len(ans.Sources) == 0 {
		return
	}
	cmd.Println("Sources:")
	for i, s := range ans.Sources {
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, s.Source, s.Score)
		if s.Page != nil {
			cmd.Printf("      page %d, offset %d\n", *s.Page, s.Offset)
		}
		cmd.Printf("      %s\n", s.Snippet)
	}
}

func (c *cli) ingestCmd() *cobra.Command {
	var id, title string
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Extract, chunk, embed and index a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			base := filepath.Base(path)
			if id == "" {
				id = strings.TrimSuffix(base, filepath.Ext(base))
			}
			if title == "" {
				title = strings.TrimSuffix(base, filepath.Ext(base))
			}
			doc := domain.Document{
				ID:     id,
				Title:  title,
				Text:   extract.New(nil).Extract(cmd.Context(), path),
				Source: base,
			}
			res, err := c.app.Ingest(cmd.Context(), doc)
			if err != nil {
				return err
			}
			cmd.Printf("ingested %s: %d chunks", res.DocumentID, res.Chunks)
			if res.Skipped > 0 {
				cmd.Printf(", %d skipped", res.Skipped)
			}
			cmd.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (default: file name)")
	cmd.Flags().StringVar(&title, "title", "", "document title (default: file name)")
	return cmd
}

func (c *cli) similarCmd() *cobra.Command {
	var (
		k      int
		types  []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "similar [text]",
		Short: "Find cases, statutes and documents similar to a text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]domain.SourceType, 0, len(types))
			for _, t := range types {
				st := domain.SourceType(t)
				if !st.Valid() {
					return domain.NewValidationError("type", t, domain.ErrInvalidSourceType)
				}
				filter = append(filter, st)
			}
			hits := c.app.Lexical.FindSimilar(strings.Join(args, " "), k, filter...)
			if asJSON {
				return printJSON(cmd, hits)
			}
			if len(hits) == 0 {
				cmd.Println("No similar records found.")
				return nil
			}
			for i, h := range hits {
				cmd.Printf("  [%d] %s (%.3f)\n", i+1, h.Title, h.Score)
				cmd.Printf("      %s %s\n", h.SourceType, h.Citation)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "limit", "n", 5, "maximum number of results")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "restrict to source types (case, statute, document)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// recordsFile is the JSON accepted by add-records.
type recordsFile struct {
	Cases     []domain.LegalCase    `json:"cases"`
	Statutes  []domain.LegalStatute `json:"statutes"`
	Documents []domain.Document     `json:"documents"`
}

func (c *cli) addRecordsCmd() *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "add-records [json-file]",
		Short: "Add case, statute and document records to the similarity index",
		Long: `Reads {"cases": [...], "statutes": [...], "documents": [...]} and adds
records whose ids are not indexed yet. With --rebuild the index is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var f recordsFile
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			if rebuild {
				n, err := c.app.Catalog.Rebuild(ctx, f.Cases, f.Statutes, f.Documents)
				if err != nil {
					return err
				}
				cmd.Printf("rebuilt index with %d records\n", n)
				return nil
			}

			added := 0
			for _, add := range []func() (int, error){
				func() (int, error) { return c.app.Catalog.AddCases(ctx, f.Cases) },
				func() (int, error) { return c.app.Catalog.AddStatutes(ctx, f.Statutes) },
				func() (int, error) { return c.app.Catalog.AddDocuments(ctx, f.Documents) },
			} {
				n, err := add()
				if err != nil {
					return err
				}
				added += n
			}
			cmd.Printf("added %d records (%d total)\n", added, c.app.Lexical.Len())
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "replace the whole index")
	return cmd
}
