package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/cqi/internal/schema"
)

var (
	toolsPath string
	toolsJSON bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the orchestrator offers the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toolsRun(cmd)
	},
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsPath, "path", "p", ".", "Repository path; QueryCodebase is listed when it is indexed")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print the full catalogue with argument schemas as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func toolsRun(cmd *cobra.Command) error {
	svc, err := newLocalService()
	if err != nil {
		return err
	}
	tools, err := svc.Tools(cmd.Context(), toolsPath)
	if err != nil {
		return err
	}

	if toolsJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	table := ui.Table([]string{"TOOL", "ARGUMENTS", "DESCRIPTION"})
	for _, t := range tools {
		table.Append([]string{string(t.Name), toolArgs(t), t.Description})
	}
	if err := table.Render(); err != nil {
		return err
	}
	if len(tools) < len(schema.ToolNames) {
		fmt.Fprintln(ui.Out)
		ui.Info("Run 'cqi index' to enable %s", schema.ToolQueryCodebase)
	}
	return nil
}

// toolArgs lists argument names, marking required ones with '*'.
func toolArgs(t schema.Tool) string {
	props, _ := t.InputSchema["properties"].(map[string]any)
	required := make(map[string]bool)
	for _, r := range schema.RequiredFields(t.InputSchema) {
		required[r] = true
	}
	names := make([]string, 0, len(props))
	for name := range props {
		if required[name] {
			name += "*"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
