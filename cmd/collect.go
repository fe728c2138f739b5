package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
	"github.com/JakeFAU/keyword-rank-collector/internal/server"
)

type collectFlags struct {
	pages       int
	mode        string
	concurrency int
	batchSize   int
	params      ranking.FetchParams
}

func (f collectFlags) request() ranking.Request {
	return ranking.Request{
		TotalPages:       f.pages,
		Mode:             ranking.Mode(f.mode),
		ConcurrencyLimit: f.concurrency,
		BatchSize:        f.batchSize,
		FetchParams:      f.params,
	}
}

// newCollectCmd runs one orchestration in-process and prints the response JSON.
func newCollectCmd() *cobra.Command {
	var flags collectFlags
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Runs one collection and prints the merged ranking",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			// Progress collectors get a private registry.
			app, err := server.Build(cmd.Context(), rt.cfg, rt.logger, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					rt.logger.Warn("close failed", zap.Error(cerr))
				}
			}()

			run, err := app.Collector().Collect(cmd.Context(), flags.request())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(run.Response); encErr != nil {
				return fmt.Errorf("write response: %w", encErr)
			}
			if err != nil {
				return err
			}
			if !run.Response.Success {
				return errors.New(run.Response.Message)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.pages, "pages", 1, "number of pages to fetch")
	f.StringVar(&flags.mode, "mode", "", "dispatch mode: full_parallel, bounded or batched (default from config)")
	f.IntVar(&flags.concurrency, "concurrency", 0, "in-flight cap for bounded mode")
	f.IntVar(&flags.batchSize, "batch-size", 0, "pages per batch for batched mode")
	f.StringVar(&flags.params.CategoryID, "category", "", "category id")
	f.StringVar(&flags.params.TimeUnit, "time-unit", "date", "time unit")
	f.StringVar(&flags.params.StartDate, "start", "", "start date (YYYY-MM-DD)")
	f.StringVar(&flags.params.EndDate, "end", "", "end date (YYYY-MM-DD)")
	f.StringVar(&flags.params.Gender, "gender", "", "gender filter")
	f.StringVar(&flags.params.AgeGroup, "age", "", "age group filter")
	f.StringVar(&flags.params.Device, "device", "", "device filter")
	f.IntVar(&flags.params.Count, "count", 0, "rows per page")
	return cmd
}
