package cli

import (
	"context"
	"fmt"
	goruntime "runtime"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rshade/mktcache/internal/config"
	"github.com/rshade/mktcache/internal/engine/cache"
)

// fetchOutcome is one dataset's row in the fetch report.
type fetchOutcome struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Source     string `json:"source"`
	Rows       int    `json:"rows"`
	MarketOpen bool   `json:"marketOpen"`
	Debounced  bool   `json:"debounced"`
	Error      string `json:"error,omitempty"`
}

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	var (
		output     string
		invalidate bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [name...]",
		Short: "Serve datasets from cache, refreshing those that are stale",
		Long: `Runs the cache policy for each named dataset, or for every configured dataset.

While the market is closed a local copy saved on or after the latest trading day
is served as is. While it is open the dataset is refetched unless the previous
successful fetch is within the debounce window. A failed fetch leaves the cached
copy untouched and is reported as "failed".`,
		Example: `  # Refresh every configured dataset
  mktcache fetch

  # Force a refetch of one dataset
  mktcache fetch spot --invalidate

  # Machine-readable report
  mktcache fetch --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			return runFetchCmd(cmd, args, output, invalidate)
		},
	}

	cmd.Flags().StringVar(&output, "output", outputTable, "output format: table or json")
	cmd.Flags().BoolVar(&invalidate, "invalidate", false, "clear the saved date first so the dataset is refetched")

	return cmd
}

func runFetchCmd(cmd *cobra.Command, names []string, output string, invalidate bool) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, config.GetGlobalConfig())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	datasets, err := rt.datasets(names)
	if err != nil {
		return err
	}

	outcomes, err := fetchDatasetsParallel(ctx, rt, datasets, invalidate)
	if err != nil {
		return err
	}

	if output == outputJSON {
		return writeJSON(cmd.OutOrStdout(), outcomes)
	}

	t := &table{headers: []string{"DATASET", "SOURCE", "ROWS", "MARKET", "DEBOUNCED", "ERROR"}}
	for _, o := range outcomes {
		t.add(o.Name, o.Source, strconv.Itoa(o.Rows), marketLabel(o.MarketOpen), yesNo(o.Debounced), o.Error)
	}
	return t.render(cmd.OutOrStdout())
}

// fetchDatasetsParallel runs the cache policy for every dataset concurrently,
// bounded by runtime.NumCPU(). Outcomes keep the order of datasets. Fetch
// failures are reported per dataset; storage and calendar failures abort.
func fetchDatasetsParallel(
	ctx context.Context,
	rt *runtime,
	datasets []config.DatasetConfig,
	invalidate bool,
) ([]fetchOutcome, error) {
	coordinators := make([]*cache.Coordinator, len(datasets))
	for i, ds := range datasets {
		c, err := rt.coordinator(ctx, ds)
		if err != nil {
			return nil, err
		}
		coordinators[i] = c
	}

	outcomes := make([]fetchOutcome, len(datasets))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())

	for i, ds := range datasets {
		g.Go(func() error {
			c := coordinators[i]
			if invalidate {
				if err := c.Invalidate(); err != nil {
					return err
				}
			}

			res, err := c.FetchAndCacheResult(gCtx)
			if err != nil {
				return fmt.Errorf("dataset %s: %w", ds.Name, err)
			}

			o := fetchOutcome{
				Name:       ds.Name,
				Location:   c.Key(),
				Source:     string(res.Source),
				Rows:       res.Data.Len(),
				MarketOpen: res.MarketOpen,
				Debounced:  res.Debounced,
			}
			if res.FetchErr != nil {
				o.Error = res.FetchErr.Error()
			}
			outcomes[i] = o
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func marketLabel(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
