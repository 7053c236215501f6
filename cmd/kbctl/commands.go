package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/studykb/internal/app"
	"github.com/markdave123-py/studykb/internal/core/retrieval"
	"github.com/markdave123-py/studykb/internal/models"
	"github.com/markdave123-py/studykb/internal/services"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// withApp loads the application, runs fn and releases it.
func withApp(cmd *cobra.Command, load appLoader, fn func(a *app.App) error) error {
	a, err := load(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func addCmd(load appLoader) *cobra.Command {
	var (
		subject string
		title   string
		owner   string
		process bool
	)
	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Upload a file and register it as a pending document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, load, func(a *app.App) error {
				if process {
					a.Ingestor.Start(cmd.Context(), 1)
				}
				doc, err := a.Knowledge.AddDocument(cmd.Context(), services.NewDocument{
					OwnerID:     owner,
					SubjectID:   subject,
					Title:       title,
					FileName:    filepath.Base(args[0]),
					ContentType: mime.TypeByExtension(filepath.Ext(args[0])),
				}, data)
				if err != nil {
					return err
				}
				if process {
					a.Ingestor.Wait()
					if doc, err = a.Knowledge.Get(cmd.Context(), doc.ID); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject id the document belongs to")
	cmd.Flags().StringVar(&title, "title", "", "document title (defaults to the file name)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	cmd.Flags().BoolVar(&process, "process", false, "ingest the document before returning")
	return cmd
}

type ingestResult struct {
	ID     string                  `json:"id"`
	Status *models.ProcessingState `json:"status,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func ingestCmd(load appLoader) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "ingest <id>...",
		Short: "Ingest or re-ingest documents with an in-process worker pool",
		Long: `Pending documents are queued as they are; completed or failed documents
are reset to pending first. The command waits until every document reaches a
terminal state and prints it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(a *app.App) error {
				ctx := cmd.Context()
				a.Ingestor.Start(ctx, workers)

				results := make([]ingestResult, len(args))
				for i, id := range args {
					results[i].ID = id
					if err := a.Knowledge.EnqueueIngestion(ctx, id); err != nil {
						results[i].Error = err.Error()
					}
				}
				a.Ingestor.Wait()

				failed := 0
				for i := range results {
					if results[i].Error != "" {
						failed++
						continue
					}
					st, err := a.Knowledge.GetProcessingStatus(ctx, results[i].ID)
					if err != nil {
						results[i].Error = err.Error()
						failed++
						continue
					}
					results[i].Status = st
					if st.Status == models.StatusFailed {
						failed++
					}
				}
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d documents did not complete", failed, len(results))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "concurrent documents")
	return cmd
}

func statusCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a document's processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(a *app.App) error {
				st, err := a.Knowledge.GetProcessingStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func askCmd(load appLoader) *cobra.Command {
	var (
		subject string
		docs    []string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the stored materials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(a *app.App) error {
				ans, err := a.Knowledge.RetrieveAndAnswer(cmd.Context(), args[0], retrieval.Options{
					SubjectID:   subject,
					DocumentIDs: docs,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ans)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "restrict the search to one subject")
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "answer from these document ids only (repeatable)")
	return cmd
}
