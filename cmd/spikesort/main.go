// Command spikesort runs the trigger-aligned spike sorting pipeline over a
// recording session and writes the summary report.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/spikesort/internal/monitoring"
	"github.com/banshee-data/spikesort/internal/pipeline"
	"github.com/banshee-data/spikesort/internal/report"
	"github.com/banshee-data/spikesort/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("spikesort", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "spikesort %s\n", version.String())
		return 0
	}
	if fs.NArg() < 1 {
		printUsage(stderr)
		return 2
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "run":
		return handleRun(ctx, rest, stdout, stderr)
	case "params":
		return handleParams(ctx, rest, stdout, stderr)
	case "runs":
		return handleRuns(ctx, rest, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "spikesort %s\n", version.String())
		return 0
	case "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `spikesort - trigger-aligned spike sorting pipeline

Usage: spikesort [-version] <command> [options]

Commands:
  run      Sort one recording session and write its report
  params   Show a sorter's default parameters and their descriptions
  runs     List runs recorded in the ledger
  version  Show spikesort version
  help     Show this help message

Run Flags:
  -config <file>   Run configuration (.json), see config/run.defaults.json
  -folder <dir>    Override recording_folder from the config
  -no-report       Skip the PDF report
  -v, -vv          Diagnostic and trace logging on stderr

Examples:
  spikesort run -config retina3.json -v
  spikesort params -sorter tridesclous2
  spikesort runs -db spikesort.db -limit 20`)
}

// verbosity holds the shared -v/-vv flags.
type verbosity struct {
	diag  bool
	trace bool
}

func (v *verbosity) register(fs *flag.FlagSet) {
	fs.BoolVar(&v.diag, "v", false, "Log stage transitions and loader diagnostics")
	fs.BoolVar(&v.trace, "vv", false, "Also log per-step parameters and per-unit detail")
}

// apply routes the package log streams to w. Operational messages always go
// to w; diagnostics and traces only when requested.
func (v verbosity) apply(w io.Writer) {
	var diag, trace io.Writer
	if v.diag || v.trace {
		diag = w
	}
	if v.trace {
		trace = w
	}
	pipeline.SetLogWriters(w, diag, trace)
	report.SetLogWriters(w, diag, trace)
	monitoring.SetWriter(diag)
}

// bridgeLogger adapts a log.Logger to bridge.Logger.
type bridgeLogger struct {
	l *log.Logger
}

func (b bridgeLogger) Debugf(format string, args ...interface{}) {
	b.l.Printf(format, args...)
}
