package cmd

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/output"
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build the code-search index for a repository",
	Long: `Chunk the files of a repository into the local search index.

Indexed repositories let the orchestrator search the whole codebase with the
QueryCodebase tool. Re-run after large changes; the index is replaced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		return indexRun(cmd, path)
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

// newLocalService wires an engine that needs no model: indexing and tool
// listing only touch the repository and the store.
func newLocalService() (*engine.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Store:      s,
		Tree:       treeOptions(),
		ChunkLines: viper.GetInt("search.chunk_lines"),
		Logger:     logger,
	}), nil
}

func indexRun(cmd *cobra.Command, path string) error {
	svc, err := newLocalService()
	if err != nil {
		return err
	}
	if dryRun {
		tree, err := svc.Tree(path)
		if err != nil {
			return err
		}
		ui.DryRunMsg("Would index %d files (%s) under %s", tree.Stats.TotalFiles, humanize.IBytes(uint64(tree.Stats.TotalSize)), tree.Root)
		return nil
	}

	info, err := svc.Index(cmd.Context(), path)
	if err != nil {
		return err
	}
	ui.Success("Indexed %s: %s files, %s chunks", output.Highlight(info.Root), humanize.Comma(int64(info.FileCount)), humanize.Comma(int64(info.ChunkCount)))
	return nil
}
