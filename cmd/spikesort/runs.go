package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/spikesort/internal/runlog"
)

func handleRuns(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "spikesort.db", "Run ledger path")
	limit := fs.Int("limit", 20, "Maximum runs to list (0 for all)")
	id := fs.String("id", "", "Show one run with its stage timings")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ledger, err := runlog.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open run ledger: %v\n", err)
		return 1
	}
	defer ledger.Close()

	if *id != "" {
		e, err := ledger.Get(ctx, *id)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		writeRunDetail(stdout, e)
		return 0
	}

	entries, err := ledger.List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	writeRunTable(stdout, entries)
	return 0
}

func writeRunTable(w io.Writer, entries []runlog.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSORTER\tSTATE\tTRIGGERS\tUNITS\tSPIKES\tFOLDER")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.RunID, e.StartedAt.Local().Format(time.DateTime), e.Sorter, e.State,
			e.TriggerCount, e.NumUnits, e.NumSpikes, e.Folder)
	}
	tw.Flush()
}

func writeRunDetail(w io.Writer, e runlog.Entry) {
	fmt.Fprintf(w, "Run:      %s\n", e.RunID)
	fmt.Fprintf(w, "Folder:   %s\n", e.Folder)
	fmt.Fprintf(w, "Sorter:   %s\n", e.Sorter)
	fmt.Fprintf(w, "State:    %s\n", e.State)
	fmt.Fprintf(w, "Triggers: %d\n", e.TriggerCount)
	fmt.Fprintf(w, "Units:    %d\n", e.NumUnits)
	fmt.Fprintf(w, "Spikes:   %d\n", e.NumSpikes)
	fmt.Fprintf(w, "Started:  %s\n", e.StartedAt.Local().Format(time.RFC3339))
	if !e.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished: %s (%s)\n", e.FinishedAt.Local().Format(time.RFC3339), e.FinishedAt.Sub(e.StartedAt))
	}
	if e.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", e.Error)
	}
	if len(e.Stages) > 0 {
		fmt.Fprintln(w, "Stages:")
		for _, st := range e.Stages {
			fmt.Fprintf(w, "  %-20s %s\n", st.State, st.Duration)
		}
	}
}
