package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/store/postgres"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Show wait-queue and job-queue depths",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDB(cmd)
		exitOnError(err)
		defer db.Close()

		wait, job, err := postgres.NewNoticeStore(db).QueueDepths(context.Background())
		exitOnError(err)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QUEUE\tDEPTH")
		fmt.Fprintf(w, "wait\t%d\n", wait)
		fmt.Fprintf(w, "job\t%d\n", job)
		w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show terminal dispatch outcomes per state",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDB(cmd)
		exitOnError(err)
		defer db.Close()

		stats, err := postgres.NewNoticeStore(db).Stats(context.Background())
		exitOnError(err)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATE\tCOUNT")
		for state, count := range stats {
			fmt.Fprintf(w, "%s\t%d\n", state, count)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(queuesCmd)
	rootCmd.AddCommand(statsCmd)
}
