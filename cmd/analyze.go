package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/output"
	"github.com/joescharf/cqi/internal/report"
)

var (
	analyzeFocus      string
	analyzeSince      string
	analyzeFormat     string
	analyzeOut        string
	analyzeIterations int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Analyze a repository and report code quality issues",
	Long: `Analyze a repository with the AI orchestrator.

The orchestrator picks the most important files, reviews them, and reports
issues ordered by severity. Use --since to restrict the run to files changed
relative to a git ref, and --out to write the report to a file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		return analyzeRun(cmd, path)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFocus, "focus", "", "Analysis focus: security, performance, complexity, testing, documentation, ...")
	analyzeCmd.Flags().StringVar(&analyzeSince, "since", "", "Only analyze files changed since this git ref")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "text", "Output format: text, json, yaml, markdown")
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "Write the report to this file instead of stdout")
	analyzeCmd.Flags().IntVar(&analyzeIterations, "max-iterations", 0, "Override orchestrator.max_iterations")
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeRun(cmd *cobra.Command, path string) error {
	format, err := output.ParseFormat(analyzeFormat)
	if err != nil {
		return err
	}
	svc, _, err := newService(false)
	if err != nil {
		return err
	}

	ui.Info("Analyzing %s", output.Highlight(path))
	rep, err := svc.Analyze(cmd.Context(), engine.AnalyzeRequest{
		Path:          path,
		Focus:         analyzeFocus,
		Since:         analyzeSince,
		MaxIterations: analyzeIterations,
	})
	if err != nil {
		return err
	}
	ui.VerboseLog("Run %s finished after %d iterations", rep.RunID, rep.Iterations)

	if analyzeOut != "" {
		return writeReportFile(analyzeOut, rep, format)
	}
	if format == output.FormatText {
		fmt.Fprintln(ui.Out)
		return ui.Report(rep)
	}
	return output.WriteReport(ui.Out, rep, format)
}

// writeReportFile renders rep and replaces path atomically.
func writeReportFile(path string, rep *report.Report, format output.Format) error {
	var buf bytes.Buffer
	if err := output.WriteReport(&buf, rep, format); err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would write %d bytes to %s", buf.Len(), path)
		return nil
	}
	if err := atomicWriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	ui.Success("Report written to %s (%d issues, score %.1f)", path, rep.Summary.TotalIssues, rep.Summary.QualityScore)
	return nil
}
