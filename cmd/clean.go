package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/output"
)

var cleanMinRelevance int

var cleanCmd = &cobra.Command{
	Use:   "clean <raw.csv>",
	Short: "Write the Cleaned_ copy of an existing raw output file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("clean"); err != nil {
			return err
		}
		minRelevance := cfg.Output.MinRelevance
		if cmd.Flags().Changed("min-relevance") {
			minRelevance = cleanMinRelevance
		}

		path, rows, err := output.CleanFile(args[0], minRelevance)
		if err != nil {
			return err
		}
		zap.L().Info("cleaned output written", zap.String("path", path), zap.Int("rows", rows))
		_, _ = fmt.Fprintln(os.Stdout, path)
		return nil
	},
}

func init() {
	cleanCmd.Flags().IntVar(&cleanMinRelevance, "min-relevance", 1, "drop rows rated below this (default from config)")
	rootCmd.AddCommand(cleanCmd)
}
