package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/banshee-data/spikesort/internal/bridge"
	"github.com/banshee-data/spikesort/internal/config"
	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/sorting"
)

func handleParams(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sorter := fs.String("sorter", "", "Sorter name (required)")
	configPath := fs.String("config", "", "Run configuration supplying bridge_command")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *sorter == "" {
		fmt.Fprintln(stderr, "Error: -sorter is required")
		fs.Usage()
		return 2
	}

	cfg := config.EmptyRunConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadRunConfig(*configPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	backend := newBackend(bridge.New(cfg.GetBridgeCommand()), fsutil.OSFileSystem{})
	bc, err := sorting.NewBackendConfig(ctx, backend, *sorter)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeParams(stdout, bc); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// writeParams prints one row per parameter: name, JSON default, description.
func writeParams(w io.Writer, bc *sorting.BackendConfig) error {
	fmt.Fprintf(w, "Sorter: %s\n", bc.Name)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAM\tDEFAULT\tDESCRIPTION")
	for _, name := range bc.ParamNames() {
		v, err := json.Marshal(bc.Params[name])
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, v, bc.ParamDescriptions[name])
	}
	return tw.Flush()
}
