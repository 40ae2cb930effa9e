package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the reviewer response cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cacheStatsRun(cmd)
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cacheStatsRun(cmd)
	},
}

var (
	cacheExpiredOnly bool

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cacheClearRun(cmd)
		},
	}
)

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheExpiredOnly, "expired", false, "Only remove expired entries")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheStatsRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	stats, err := s.CacheStats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "Entries: %s\n", humanize.Comma(stats.Entries))
	fmt.Fprintf(ui.Out, "Expired: %s\n", humanize.Comma(stats.Expired))
	return nil
}

func cacheClearRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	stats, err := s.CacheStats(cmd.Context())
	if err != nil {
		return err
	}

	if dryRun {
		n := stats.Entries
		if cacheExpiredOnly {
			n = stats.Expired
		}
		ui.DryRunMsg("Would remove %s cache entries", humanize.Comma(n))
		return nil
	}

	var n int64
	if cacheExpiredOnly {
		n, err = s.PurgeExpired(cmd.Context())
	} else {
		n, err = s.CacheClear(cmd.Context())
	}
	if err != nil {
		return err
	}
	ui.Success("Removed %s cache entries", humanize.Comma(n))
	return nil
}
