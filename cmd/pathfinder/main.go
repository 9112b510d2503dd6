// Command pathfinder runs the infeasible-path analysis on a CFG
// description and reports the paths found, optionally as an FFX
// document for the downstream timing analyzer.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/wcetlab/pathfinder"
	"github.com/wcetlab/pathfinder/cfgio"
	"github.com/wcetlab/pathfinder/z3"
)

func main() {
	if err := run(os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("pathfinder", flag.ContinueOnError)
	output := fs.String("o", "", "output the result to an FFX file")
	dryRun := fs.Bool("dry-run", false, "skip all SMT calls")
	merge := fs.Int("merge", 0, "merge states above this per-edge count (0 disables)")
	unminimized := fs.Bool("unminimized", false, "fall back to full paths when minimization fails")
	progress := fs.Bool("progress", false, "show analysis progress")
	cores := fs.Int("cores", 1, "parallel SMT checks")
	noPost := fs.Bool("no-post-processing", false, "disable dominance pruning of results")
	initialData := fs.Bool("initial-data", false, "seed entry states from the initial memory")
	cleanTops := fs.Bool("clean-tops", false, "minimize per-CFG unknowns against the summaries")
	assumeSP := fs.Bool("assume-sp", false, "assume SP identical across calls")
	linear := fs.Bool("linear", false, "assert predicates one at a time (diagnostics)")
	timeout := fs.Uint("timeout", z3.DefaultTimeoutMS, "per-check solver timeout in milliseconds")
	level := fs.String("v", "warn", "log level (error, warn, info, debug)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, `usage: pathfinder [flags] <program.yaml>`)
		return flag.ErrHelp
	}

	prog, err := cfgio.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	opts := pathfinder.Options{
		Merge:             *merge > 0,
		MergeThreshold:    *merge,
		UnminimizedPaths:  *unminimized,
		DryRun:            *dryRun,
		SMTCheckLinear:    *linear,
		ShowProgress:      *progress,
		PostProcessing:    !*noPost,
		AssumeIdenticalSP: *assumeSP,
		CleanTops:         *cleanTops,
		UseInitialData:    *initialData,
		NbCores:           *cores,
		Logger:            pathfinder.NewLogger(os.Stderr, pathfinder.ParseLogLevel(*level)),
	}

	var newSolver func() pathfinder.Solver
	if !*dryRun {
		newSolver = func() pathfinder.Solver { return z3.NewSolverTimeout(*timeout) }
	}

	analysis, err := pathfinder.NewAnalysis(prog.Context, newSolver, opts)
	if err != nil {
		return err
	}

	start := time.Now()
	paths, err := analysis.Run(prog.Entry)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	printResults(paths, analysis.Stats(), elapsed)

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pathfinder.WriteFFX(f, paths); err != nil {
			return err
		}
		fmt.Printf("output to %s\n", *output)
	}
	return nil
}

// printResults summarizes a run the way the interactive user expects:
// each path on its own line, then the counters. Colors only on a TTY.
func printResults(paths []pathfinder.DetailedPath, stats pathfinder.IPStats, elapsed time.Duration) {
	green, yellow, reset := "", "", ""
	if isatty.IsTerminal(os.Stdout.Fd()) {
		green, yellow, reset = "\x1b[32m", "\x1b[33m", "\x1b[0m"
	}

	for _, p := range paths {
		fn := ""
		if f := p.Function(); f != nil {
			fn = f.Name() + ":"
		}
		fmt.Printf("    * %s[%s]\n", fn, p)
	}

	plural := "s"
	if len(paths) == 1 {
		plural = ""
	}
	fmt.Printf("%s%d%s infeasible path%s (%s%d%s min + %s%d%s unmin, implicitly %d) in %s\n",
		green, len(paths), reset, plural,
		green, stats.MinimizedIPCount(), reset,
		yellow, stats.UnminimizedIPCount(), reset,
		stats.IPCount(), elapsed.Round(time.Millisecond))
}
