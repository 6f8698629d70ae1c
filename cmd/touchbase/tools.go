package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"touchbase/internal/checkin"
	"touchbase/internal/config"
	"touchbase/internal/recurrence"
	"touchbase/internal/status"
)

func newNextDueCommand() *cobra.Command {
	var (
		freq  string
		from  string
		count int
		tz    string
	)
	cmd := &cobra.Command{
		Use:   "next-due",
		Short: "Print the next due dates for a contact frequency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := config.LoadLocation("--tz", tz)
			if err != nil {
				return err
			}
			f, ok := checkin.ParseFrequency(freq)
			if !ok {
				return fmt.Errorf("unknown frequency %q (daily, weekly, monthly, quarterly, yearly)", freq)
			}
			anchor := time.Now().In(loc)
			if from != "" {
				if anchor, ok = status.ParseDate(from, loc); !ok {
					return fmt.Errorf("unparseable --from %q", from)
				}
			}
			for _, d := range recurrence.Upcoming(f, anchor, count) {
				fmt.Fprintln(cmd.OutOrStdout(), d.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&freq, "frequency", "monthly", "contact frequency")
	cmd.Flags().StringVar(&from, "from", "", "anchor date, RFC 3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of dates to print")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default: host zone)")
	return cmd
}

func newClassifyCommand() *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "classify <date>...",
		Short: "Print the status a check-in on each date would have today",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := config.LoadLocation("--tz", tz)
			if err != nil {
				return err
			}
			c := status.Classifier{Location: loc}
			for _, raw := range args {
				st, ok := c.DetermineString(raw)
				if !ok {
					st = "unknown"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", raw, st)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default: host zone)")
	return cmd
}
