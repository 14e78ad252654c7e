package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/dramsim"
	vybiumaccelsim "github.com/vybium/vybium-accel-sim/pkg/vybium-accel-sim"
)

type options struct {
	workload   string
	trace      string
	text       string
	stats      string
	dramBinary string
	dramConfig string
	dramLog    string
	verbose    bool
}

func main() {
	var o options
	flag.StringVar(&o.workload, "workload", "", "workload description (JSON)")
	flag.StringVar(&o.trace, "trace", "trace.bin", "binary trace output")
	flag.StringVar(&o.text, "text", "", "optional text mirror of the trace")
	flag.StringVar(&o.stats, "stats", "", "optional JSON statistics output (- for stdout)")
	flag.StringVar(&o.dramBinary, "dramsim", "", "DRAM simulator binary (or set "+dramsim.BinaryEnv+")")
	flag.StringVar(&o.dramConfig, "dramsim-config", "", "DRAM simulator configuration; enables the DRAM run")
	flag.StringVar(&o.dramLog, "dramsim-log", "", "DRAM simulator output log")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	if o.workload == "" {
		flag.Usage()
		fatal("-workload is required")
	}

	if err := run(o); err != nil {
		fatal(err.Error())
	}
}

// run executes one workload. Output files are flushed and closed on every
// return path, so a failed run still leaves the records emitted so far.
func run(o options) (err error) {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	workload, err := vybiumaccelsim.LoadWorkload(o.workload)
	if err != nil {
		return err
	}
	config, err := workload.ArchConfig()
	if err != nil {
		return err
	}

	traceFile, err := os.Create(o.trace)
	if err != nil {
		return fmt.Errorf("failed to create trace: %w", err)
	}
	defer closeFile(traceFile, &err)

	opts := &vybiumaccelsim.Options{Logger: log}
	if o.text != "" {
		textFile, cerr := os.Create(o.text)
		if cerr != nil {
			return fmt.Errorf("failed to create text trace: %w", cerr)
		}
		defer closeFile(textFile, &err)
		opts.Text = textFile
	}

	sim, err := vybiumaccelsim.NewSimulator(config, traceFile, opts)
	if err != nil {
		return err
	}

	logStderr(fmt.Sprintf("Running %d kernels from %s...", len(workload.Kernels), o.workload))
	if err := workload.Run(sim); err != nil {
		if cerr := sim.Close(); cerr != nil {
			logStderr("failed to flush partial trace: " + cerr.Error())
		}
		return err
	}
	if err := sim.Close(); err != nil {
		return err
	}

	report := sim.Stats()
	logStderr(fmt.Sprintf("Wrote %d records (%d estimated cycles, %.6fs)",
		report.Counters.Records, report.Counters.EstimatedCycles, report.Seconds))
	if report.Digest != "" {
		logStderr(fmt.Sprintf("Trace %s: %s", report.DigestName, report.Digest))
	}

	var dram *dramsim.Result
	if o.dramConfig != "" || o.dramBinary != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		runner := dramsim.NewRunner(o.dramBinary, o.dramConfig, o.dramLog, dramsim.WithLogger(log))
		dram, err = runner.Run(ctx, o.trace)
		stop()
		if err != nil {
			return fmt.Errorf("DRAM simulation failed: %w", err)
		}
		if dram.HasCycle {
			logStderr(fmt.Sprintf("DRAM simulator reports %d cycles", dram.Cycles))
		}
	}

	if o.stats != "" {
		if err := writeStats(o.stats, report, dram); err != nil {
			return fmt.Errorf("failed to write stats: %w", err)
		}
	}
	return nil
}

// closeFile closes f, reporting the close error only when nothing failed before
func closeFile(f *os.File, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("failed to close %s: %w", f.Name(), cerr)
	}
}

// writeStats writes the run report, plus the DRAM result when there is one
func writeStats(path string, report vybiumaccelsim.Report, dram *dramsim.Result) error {
	w := jwriter.NewWriter()
	obj := w.Object()
	report.WriteJSON(obj.Name("simulation"))
	if dram != nil {
		d := obj.Name("dramsim").Object()
		d.Name("binary").String(dram.Binary)
		if dram.HasCycle {
			d.Name("cycles").Int(int(dram.Cycles))
		}
		d.Name("elapsed_seconds").Float64(dram.Elapsed.Seconds())
		d.End()
	}
	obj.End()
	if err := w.Error(); err != nil {
		return err
	}

	out := append(w.Bytes(), '\n')
	if path == "-" {
		_, err := os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func logStderr(msg string) {
	fmt.Fprintln(os.Stderr, "vybium-accel-sim:", msg)
}

func fatal(msg string) {
	logStderr("ERROR: " + msg)
	os.Exit(1)
}
