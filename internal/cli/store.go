package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/mktcache/internal/calendar"
	"github.com/rshade/mktcache/internal/config"
	"github.com/rshade/mktcache/internal/engine/cache"
	"github.com/rshade/mktcache/internal/persist"
)

// openRecords opens the saved-date store of the loaded configuration.
func openRecords() (*persist.Store, error) {
	store, err := persist.Open(config.GetGlobalConfig().Cache.StoreFile)
	if err != nil {
		return nil, fmt.Errorf("opening saved-date store: %w", err)
	}
	return store, nil
}

// NewStoreListCmd creates the store list command.
func NewStoreListCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every key and its saved date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			store, err := openRecords()
			if err != nil {
				return err
			}

			if output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), store.Snapshot())
			}
			if store.Len() == 0 {
				cmd.Printf("No entries in %s\n", store.Path())
				return nil
			}

			today := time.Now().In(calendarLocation()).Format(calendar.DateLayout)
			t := &table{headers: []string{"KEY", "SAVED", "AGE (DAYS)"}}
			for _, key := range store.Keys() {
				record, _ := cache.LookupRecord(store, key)
				t.add(key, record.SavedDate, fmt.Sprint(record.AgeDays(today)))
			}
			return t.render(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&output, "output", outputTable, "output format: table or json")
	return cmd
}

// NewStoreGetCmd creates the store get command.
func NewStoreGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRecords()
			if err != nil {
				return err
			}
			v, ok := store.Get(args[0])
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		},
	}
}

// NewStoreSetCmd creates the store set command.
func NewStoreSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <date>",
		Short: "Record a saved date for a key",
		Example: `  # Pretend the spot dataset was saved on a Friday
  mktcache store set ~/.mktcache/data/spot.csv 2023-10-20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRecords()
			if err != nil {
				return err
			}
			if err = cache.SaveRecord(store, cache.CacheRecord{Key: args[0], SavedDate: args[1]}); err != nil {
				return err
			}
			cmd.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

// NewStoreDeleteCmd creates the store delete command.
func NewStoreDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRecords()
			if err != nil {
				return err
			}
			if err = store.Delete(args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

// calendarLocation returns the configured market zone, or UTC if it cannot be loaded.
func calendarLocation() *time.Location {
	loc, err := time.LoadLocation(config.GetGlobalConfig().Calendar.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
