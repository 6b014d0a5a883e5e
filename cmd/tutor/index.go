package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Index:      %s\n", stats.Backend)
		fmt.Fprintf(out, "Documents:  %d\n", stats.Documents)
		fmt.Fprintf(out, "Chunks:     %d\n", stats.Chunks)
		fmt.Fprintf(out, "Dimension:  %d (%s %s)\n", stats.Dimension, cfg.Embedding.Provider, cfg.Embedding.Model)
		fmt.Fprintf(out, "Model:      %s %s\n", cfg.LLM.Provider, cfg.LLM.Model)
		if err := svc.Health(cmd.Context()); err != nil {
			color.New(color.FgRed).Fprintf(out, "Health:     %v\n", err)
		} else {
			color.New(color.FgGreen).Fprintln(out, "Health:     ok")
		}
		return nil
	},
}

var deleteDocument string

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "List ingested documents",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		out := cmd.OutOrStdout()

		if deleteDocument != "" {
			if err := svc.DeleteDocument(cmd.Context(), deleteDocument); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %s\n", deleteDocument)
			return nil
		}

		docs, err := svc.Documents(cmd.Context())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintln(out, "No documents ingested yet. Run: tutor ingest <paths...>")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFORMAT\tCHUNKS\tINGESTED\tSOURCE")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				d.ID, d.Format, d.ChunkCount, d.IngestedAt.Local().Format(time.DateTime), d.SourcePath)
		}
		return w.Flush()
	},
}

func init() {
	documentsCmd.Flags().StringVar(&deleteDocument, "delete", "", "remove the document with this id and its chunks")
	rootCmd.AddCommand(statsCmd, documentsCmd)
}
