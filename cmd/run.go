package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/model"
)

var (
	runRows   []string
	runTag    string
	runSchema string
)

var runCmd = &cobra.Command{
	Use:   "run <file>...",
	Short: "Extract events from one or more URL list files",
	Long: "Reads CSV or XLSX files whose first column holds event URLs, extracts each event, " +
		"rates relevance and writes <tag>_events_<timestamp>.csv plus its Cleaned_ copy. " +
		"Interrupting stops after the current URL and still writes what was extracted.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Runner.Create(ctx, model.RunInput{
			Tag:        runTag,
			Files:      args,
			RowLimits:  runRows,
			SchemaPath: runSchema,
		})
		if err != nil {
			return err
		}

		summary, err := env.Runner.Execute(ctx, run)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		zap.L().Info("extraction complete",
			zap.String("run_id", run.ID),
			zap.Int("urls", summary.URLsProcessed),
			zap.Int("cleaned_rows", summary.CleanedRows),
			zap.String("output", summary.RawPath),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runRows, "rows", nil, "row limit: one value for all files or one per file (integer or MAX)")
	runCmd.Flags().StringVar(&runTag, "tag", "", "output file tag (default: region tag of the first file)")
	runCmd.Flags().StringVar(&runSchema, "schema", "", "field schema file (default from config)")
	rootCmd.AddCommand(runCmd)
}
