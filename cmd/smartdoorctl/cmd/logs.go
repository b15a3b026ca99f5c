package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

func newLogsCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the access log",
	}
	c.AddCommand(newLogsListCmd(a), newLogsRecentCmd(a))
	return c
}

func newLogsListCmd(a *app) *cobra.Command {
	var year, month int
	c := &cobra.Command{
		Use:   "list",
		Short: "List every attempt in a calendar month (UTC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if !cmd.Flags().Changed("year") {
				year = now.Year()
			}
			if !cmd.Flags().Changed("month") {
				month = int(now.Month())
			}
			recs, err := a.accessLog.ListMonth(cmd.Context(), year, time.Month(month))
			if err != nil {
				return err
			}
			return a.printAttempts(recs)
		},
	}
	c.Flags().IntVar(&year, "year", 0, "Year (default current)")
	c.Flags().IntVar(&month, "month", 0, "Month 1-12 (default current)")
	return c
}

func newLogsRecentCmd(a *app) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent granted attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			recs, err := a.accessLog.RecentGranted(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.printAttempts(recs)
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum entries")
	return c
}

func (a *app) printAttempts(recs []store.AccessAttemptRecord) error {
	views := newAttemptViews(recs)
	if ok, err := a.emit(views); ok {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(a.out, "No access attempts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tMETHOD\tRESULT\tREASON\tPASSCODE\tCONFIDENCE")
	for _, v := range views {
		result := okFmt(v.Result)
		if v.Result != string(types.ResultGranted) {
			result = warnFmt(v.Result)
		}
		conf := "-"
		if v.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *v.Confidence)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Timestamp, v.Method, result, orDash(v.Reason), orDash(v.Passcode), conf)
	}
	return w.Flush()
}
