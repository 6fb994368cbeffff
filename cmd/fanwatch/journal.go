//go:build linux

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Hara602/fanwatch/internal/journal"
	"github.com/spf13/cobra"
)

func journalCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	c := &cobra.Command{
		Use:   "journal",
		Short: "Print the most recent journaled events",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			jr, err := journal.Open(dbPath)
			if err != nil {
				return err
			}
			defer jr.Close()
			evs, err := jr.Recent(c.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPID\tPROCESS\tOP\tDECISION\tRISK\tPATH")
			for _, ev := range evs {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					ev.TimeStamp.Format(time.RFC3339), ev.PID, ev.ProcName, ev.Operation,
					ev.Decision, ev.Risk, ev.FilePath)
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&dbPath, "db", "fanwatch.db", "journal database")
	c.Flags().IntVar(&limit, "limit", 50, "number of events to print")
	return c
}
