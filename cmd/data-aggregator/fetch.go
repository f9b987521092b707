package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/data-aggregator/internal/data"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [source...]",
	Short: "Run one fetch cycle for the named sources, or all of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.HTTPTimeout)
		defer cancel()

		results, err := fetchSources(ctx, a.service, args)
		if err != nil {
			return err
		}

		failed := 0
		for _, res := range results {
			status := "ok"
			if res.Err != nil {
				status = res.Err.Error()
				failed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s fetched=%-5d saved=%-5d %-8s %s\n",
				res.Source, res.Fetched, res.Saved, res.Duration.Round(time.Millisecond), status)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sources failed", failed, len(results))
		}
		return nil
	},
}

func fetchSources(ctx context.Context, svc *data.Service, names []string) ([]data.CycleResult, error) {
	if len(names) == 0 {
		return svc.FetchAll(ctx), nil
	}
	results := make([]data.CycleResult, 0, len(names))
	for _, name := range names {
		adapter, ok := svc.Registry().Get(name)
		if !ok {
			return nil, fmt.Errorf("source %q is not registered (available: %v)", name, svc.Registry().Names())
		}
		results = append(results, svc.FetchAndStore(ctx, adapter))
	}
	return results, nil
}
