// Package dramsim hands a finished trace to an external DRAM timing
// simulator and collects the cycle count it reports.
package dramsim

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

const (
	// BinaryEnv overrides the simulator binary
	BinaryEnv = "VYBIUM_DRAMSIM_BINARY"

	defaultTimeout = 10 * time.Minute
	cyclesPrefix   = "cycles:"
)

var binaryNames = []string{"dramsim3main", "dramsim", "ramulator2"}

// ErrNotFound is returned when no simulator binary can be located
var ErrNotFound = errors.New("DRAM simulator binary not found")

// Result describes one simulator run
type Result struct {
	Binary   string
	Cycles   uint64
	HasCycle bool
	Elapsed  time.Duration
	Output   []string
}

// Runner launches the DRAM simulator on a trace file
type Runner struct {
	Binary     string
	ConfigPath string
	LogPath    string
	Timeout    time.Duration

	log *slog.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a Runner. binary may be empty, in which case it is located
// when Run is called.
func NewRunner(binary, configPath, logPath string, opts ...Option) *Runner {
	r := &Runner{
		Binary:     strings.TrimSpace(binary),
		ConfigPath: strings.TrimSpace(configPath),
		LogPath:    strings.TrimSpace(logPath),
		Timeout:    defaultTimeout,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Locate resolves the simulator binary: the explicit path, then the
// environment override, then the directories above the config file and the
// working directory
func (r *Runner) Locate() (string, error) {
	if r.Binary != "" {
		if executable(r.Binary) {
			return r.Binary, nil
		}
		return "", errors.Wrapf(ErrNotFound, "%s is not executable", r.Binary)
	}
	if override := strings.TrimSpace(os.Getenv(BinaryEnv)); override != "" {
		if executable(override) {
			return override, nil
		}
		return "", errors.Wrapf(ErrNotFound, "%s=%s is not executable", BinaryEnv, override)
	}

	var roots []string
	if r.ConfigPath != "" {
		if abs, err := filepath.Abs(r.ConfigPath); err == nil {
			roots = append(roots, filepath.Dir(abs))
		}
	}
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}
	for _, root := range roots {
		for dir := root; ; {
			for _, name := range binaryNames {
				for _, candidate := range []string{
					filepath.Join(dir, name),
					filepath.Join(dir, "build", name),
				} {
					if executable(candidate) {
						return candidate, nil
					}
				}
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return "", errors.WithHintf(ErrNotFound, "pass the binary explicitly or set %s", BinaryEnv)
}

// Run executes `<binary> --config <cfg> --trace <trace>`. Output goes to the
// log file when one is set and is scanned for a "cycles: N" line.
func (r *Runner) Run(ctx context.Context, tracePath string) (*Result, error) {
	if _, err := os.Stat(tracePath); err != nil {
		return nil, errors.Wrap(err, "trace file")
	}
	binary, err := r.Locate()
	if err != nil {
		return nil, err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--trace", tracePath}
	if r.ConfigPath != "" {
		args = append([]string{"--config", r.ConfigPath}, args...)
	}

	var captured bytes.Buffer
	var out io.Writer = &captured
	if r.LogPath != "" {
		f, err := os.Create(r.LogPath)
		if err != nil {
			return nil, errors.Wrap(err, "DRAM simulator log")
		}
		defer f.Close()
		out = io.MultiWriter(f, &captured)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = out
	cmd.Stderr = out

	r.log.Info("running DRAM simulator", slog.String("binary", binary), slog.String("trace", tracePath))
	start := time.Now()
	runErr := cmd.Run()
	res := &Result{Binary: binary, Elapsed: time.Since(start)}
	res.Output, res.Cycles, res.HasCycle = scan(&captured)

	if ctx.Err() == context.DeadlineExceeded {
		return res, errors.Newf("DRAM simulator timed out after %s", timeout)
	}
	if runErr != nil {
		return res, annotate(errors.Wrapf(runErr, "DRAM simulator %s", binary), res.Output)
	}
	r.log.Info("DRAM simulator finished",
		slog.Duration("elapsed", res.Elapsed),
		slog.Bool("has_cycles", res.HasCycle),
		slog.Uint64("cycles", res.Cycles))
	return res, nil
}

// scan returns the non-empty output lines and the last reported cycle count
func scan(r io.Reader) ([]string, uint64, bool) {
	var lines []string
	var cycles uint64
	found := false
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if n, ok := ParseCycles(line); ok {
			cycles, found = n, true
		}
	}
	return lines, cycles, found
}

// ParseCycles extracts N from a "cycles: N" line
func ParseCycles(line string) (uint64, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToLower(line), cyclesPrefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(line[len(cyclesPrefix):]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func annotate(err error, output []string) error {
	if len(output) == 0 {
		return err
	}
	const keep = 8
	if len(output) > keep {
		output = output[len(output)-keep:]
	}
	return errors.WithDetail(err, "simulator output:\n"+strings.Join(output, "\n"))
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
