// Command nlfff extrapolates a nonlinear force-free coronal field from
// photospheric boundary data over a cascade of grid levels.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/monitoring"
	"github.com/banshee-data/nlfff/internal/relax"
	"github.com/banshee-data/nlfff/internal/version"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitResource   = 3
	exitNumerical  = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)
	if len(args) < 1 {
		printUsage(stderr)
		return exitValidation
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "potential":
		err = runPotential(ctx, rest, stdout, stderr)
	case "cascade":
		err = runCascade(ctx, rest, stdout, stderr)
	case "inspect":
		err = runInspect(rest, stdout, stderr)
	case "runs":
		err = runRuns(rest, stdout, stderr)
	case "migrate":
		err = runMigrate(rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String())
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return exitValidation
	}
	if err != nil {
		fmt.Fprintf(stderr, "nlfff %s: %v\n", args[0], err)
		return exitCode(err)
	}
	return exitOK
}

// usageError marks bad command-line arguments.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }
func (e *usageError) Unwrap() error { return field.ErrValidation }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, field.ErrValidation):
		return exitValidation
	case errors.Is(err, field.ErrResource):
		return exitResource
	case errors.Is(err, relax.ErrNumericalDivergence):
		return exitNumerical
	}
	return exitFailure
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `nlfff - multigrid nonlinear force-free field extrapolation

Usage: nlfff <command> [flags] <args>

Commands:
  potential <project_dir> <grid_level> [solver_dir]
             Compute the potential field of a level and write B0.bin
  cascade <project_dir> <grid_levels>
             Relax the levels in order (e.g. 123), writing BoutN.bin,
             NLFFFqualityN.log and the final Bout.bin
  inspect <project_dir> <bin_file> <grid_level>
             Print statistics of a field file
  runs [run_id]
             List recorded runs, or the levels of one run
  migrate <up|status>
             Apply or show run ledger migrations
  version    Show the build version
  help       Show this help message

Common flags:
  -config <file>        Solver configuration (JSON)
  -threads <n>          CPU workers (default $NLFFF_THREADS, then $OMP_NUM_THREADS)
  -backend <name>       serial, cpu or gpu
  -v                    Verbose logging

Cascade flags:
  -db <file>            Run ledger (SQLite)
  -debug-listen <addr>  Serve /debug/ pages while running
  -health-listen <addr> Serve gRPC health checks while running

Run "nlfff <command> -h" for the flags of a command.
`)
}
