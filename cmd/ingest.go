package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/progress"
	"github.com/docchat/docchat/internal/store"
)

var (
	ingestUser string
	ingestChat string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest documents from the command line",
	Long: `Extracts, chunks, embeds, and indexes the given files for a user.
Documents ingested without --chat are visible to every chat of that user.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		exitOnError(err)

		eng, cleanup, err := buildEngine(cfg)
		exitOnError(err)
		defer cleanup()

		reporter := progress.NewReporter()
		reporter.Start(len(args))

		failures := 0
		for i, path := range args {
			name := filepath.Base(path)
			reporter.Update(i, name)

			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
				failures++
				continue
			}

			doc, err := eng.IngestSync(context.Background(), ingestUser, ingestChat, name, data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
				failures++
				continue
			}
			if doc.Status == store.StatusFailed {
				fmt.Fprintf(os.Stderr, "%s: %s\n", name, doc.FailureReason)
				failures++
				continue
			}
			if verbose {
				fmt.Printf("%s: %s (%d chars)\n", name, doc.Status, doc.TextLength)
			}
		}
		reporter.Update(len(args), "done")
		reporter.Finish()

		if failures > 0 {
			exitOnError(fmt.Errorf("%d of %d files failed", failures, len(args)))
		}
		fmt.Printf("Ingested %d files\n", len(args))
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "user id to ingest for (required)")
	ingestCmd.Flags().StringVar(&ingestChat, "chat", "", "chat id to scope the documents to (optional)")
	ingestCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(ingestCmd)
}
