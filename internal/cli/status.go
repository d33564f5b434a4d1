package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rshade/mktcache/internal/config"
	"github.com/rshade/mktcache/internal/engine/cache"
)

// statusRow is one dataset's row in the status report.
type statusRow struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Format     string `json:"format"`
	Today      string `json:"today"`
	MarketOpen bool   `json:"marketOpen"`
	SavedDate  string `json:"savedDate,omitempty"`
	Fresh      bool   `json:"fresh"`
	LocalRows  int    `json:"localRows"`
	Debounce   string `json:"debounce"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status [name...]",
		Short: "Show the cache state of datasets without fetching",
		Long: `Reports, for each dataset, its saved date, whether a market-closed call would
serve the local copy, and the debounce window. Nothing is fetched and no
dataset directory or database is created.`,
		Example: `  # Every configured dataset
  mktcache status

  # JSON for scripts
  mktcache status spot --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			return runStatusCmd(cmd, args, output)
		},
	}

	cmd.Flags().StringVar(&output, "output", outputTable, "output format: table or json")
	return cmd
}

func runStatusCmd(cmd *cobra.Command, names []string, output string) error {
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

	rows := make([]statusRow, 0, len(datasets))
	for _, ds := range datasets {
		c, coordErr := rt.viewCoordinator(ctx, ds)
		if coordErr != nil {
			return coordErr
		}
		st, statusErr := c.Status(ctx)
		if statusErr != nil {
			return statusErr
		}

		format := config.FormatOf(ds)
		local, storeErr := rt.viewStore(ctx, format)
		if storeErr != nil {
			return storeErr
		}

		rows = append(rows, statusRow{
			Name:       ds.Name,
			Location:   st.Key,
			Format:     format,
			Today:      st.Today,
			MarketOpen: st.MarketOpen,
			SavedDate:  st.SavedDate,
			Fresh:      st.Fresh,
			LocalRows:  local.Load(ctx, st.Key).Len(),
			Debounce:   cache.FormatDuration(st.Debounce),
		})
	}

	if output == outputJSON {
		return writeJSON(cmd.OutOrStdout(), rows)
	}

	t := &table{headers: []string{"DATASET", "FORMAT", "SAVED", "STATE", "ROWS", "MARKET", "DEBOUNCE"}}
	for _, r := range rows {
		saved := r.SavedDate
		if saved == "" {
			saved = "-"
		}
		t.add(r.Name, r.Format, saved, freshLabel(r), strconv.Itoa(r.LocalRows), marketLabel(r.MarketOpen), r.Debounce)
	}
	return t.render(cmd.OutOrStdout())
}

func freshLabel(r statusRow) string {
	if r.Fresh && r.LocalRows > 0 {
		return "fresh"
	}
	return "stale"
}

// NewInvalidateCmd creates the invalidate command.
func NewInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <name>...",
		Short: "Clear the saved date of datasets so the next fetch refreshes them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, config.GetGlobalConfig())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			datasets, err := rt.datasets(args)
			if err != nil {
				return err
			}
			for _, ds := range datasets {
				c, coordErr := rt.viewCoordinator(ctx, ds)
				if coordErr != nil {
					return coordErr
				}
				if invErr := c.Invalidate(); invErr != nil {
					return invErr
				}
				cmd.Printf("Invalidated %s (%s)\n", ds.Name, c.Key())
			}
			return nil
		},
	}
}
