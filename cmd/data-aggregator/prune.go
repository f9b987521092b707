package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var olderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete data points older than a cutoff across all sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge := olderThan
		if maxAge == 0 {
			maxAge = cfg.RetentionMaxAge
		}
		if maxAge <= 0 {
			return errors.New("set --older-than or retention_max_age")
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.service.Prune(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d points older than %s\n", deleted, maxAge)
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete points older than this age (defaults to retention_max_age)")
}
