package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/mktcache/internal/calendar"
	"github.com/rshade/mktcache/internal/config"
	"github.com/rshade/mktcache/internal/logging"
)

// calendarCheck is the report of calendar check.
type calendarCheck struct {
	At          string   `json:"at"`
	Date        string   `json:"date"`
	TradingDay  bool     `json:"tradingDay"`
	TradingTime bool     `json:"tradingTime"`
	Nearest     string   `json:"nearestTradingDate"`
	Sessions    []string `json:"sessions"`
}

// NewCalendarCheckCmd creates the calendar check command.
func NewCalendarCheckCmd() *cobra.Command {
	var (
		at     string
		output string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether an instant is trading time",
		Example: `  # Right now
  mktcache calendar check

  # A specific instant (RFC 3339, or a market-local "2006-01-02 15:04")
  mktcache calendar check --at "2023-10-23 10:00"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			cal, err := buildCalendar(config.GetGlobalConfig(), *logging.FromContext(cmd.Context()))
			if err != nil {
				return err
			}

			instant, err := parseInstant(at, cal.Location())
			if err != nil {
				return err
			}

			report, err := checkInstant(cmd, cal, instant)
			if err != nil {
				return err
			}
			if output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			t := &table{headers: []string{"FIELD", "VALUE"}}
			t.add("instant", report.At)
			t.add("date", report.Date)
			t.add("trading day", yesNo(report.TradingDay))
			t.add("market", marketLabel(report.TradingTime))
			t.add("nearest trading date", report.Nearest)
			for _, s := range report.Sessions {
				t.add("session", s)
			}
			return t.render(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "instant to check (default now)")
	cmd.Flags().StringVar(&output, "output", outputTable, "output format: table or json")
	return cmd
}

func checkInstant(cmd *cobra.Command, cal *calendar.Calendar, instant time.Time) (calendarCheck, error) {
	ctx := cmd.Context()
	date := cal.DateOf(instant)

	tradingDay, err := cal.IsTradingDay(ctx, date)
	if err != nil {
		return calendarCheck{}, err
	}
	tradingTime, err := cal.IsTradingTime(ctx, instant)
	if err != nil {
		return calendarCheck{}, err
	}
	nearest, err := cal.NearestTradingDateAtOrBefore(ctx, date)
	if err != nil {
		return calendarCheck{}, err
	}

	report := calendarCheck{
		At:          instant.In(cal.Location()).Format(time.RFC3339),
		Date:        date,
		TradingDay:  tradingDay,
		TradingTime: tradingTime,
		Nearest:     nearest,
	}
	for _, s := range cal.Schedule().Sessions {
		report.Sessions = append(report.Sessions, s.String())
	}
	return report, nil
}

// parseInstant accepts RFC 3339 or a wall-clock time in loc. Empty means now.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", calendar.DateLayout} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse instant %q", s)
}

// NewCalendarNearestCmd creates the calendar nearest command.
func NewCalendarNearestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nearest [date]",
		Short: "Print the latest trading date on or before a date (default today)",
		Example: `  # A Sunday resolves to the preceding Friday
  mktcache calendar nearest 2023-10-22`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := buildCalendar(config.GetGlobalConfig(), *logging.FromContext(cmd.Context()))
			if err != nil {
				return err
			}

			date := cal.DateOf(time.Now())
			if len(args) == 1 {
				date = args[0]
			}

			nearest, err := cal.NearestTradingDateAtOrBefore(cmd.Context(), date)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), nearest)
			return err
		},
	}
}
