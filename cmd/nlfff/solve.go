package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/nlfff/internal/cascade"
	"github.com/banshee-data/nlfff/internal/config"
	"github.com/banshee-data/nlfff/internal/fsutil"
	"github.com/banshee-data/nlfff/internal/monitoring"
	"github.com/banshee-data/nlfff/internal/potential"
	"github.com/banshee-data/nlfff/internal/project"
	"github.com/banshee-data/nlfff/internal/rundb"
)

// solverFlags are shared by the potential and cascade commands.
type solverFlags struct {
	configPath    string
	threads       int
	backend       string
	method        string
	maxIterations int
	verbose       bool
}

func (f *solverFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Solver configuration file (JSON)")
	fs.IntVar(&f.threads, "threads", -1, "CPU worker threads (overrides NLFFF_THREADS and OMP_NUM_THREADS)")
	fs.StringVar(&f.backend, "backend", "", "Execution backend: serial, cpu or gpu")
	fs.StringVar(&f.method, "method", "", "Potential evaluator: fft or direct")
	fs.IntVar(&f.maxIterations, "max-iterations", -1, "Override the iteration budget of every level")
	fs.BoolVar(&f.verbose, "v", false, "Verbose logging")
}

// runFlags are the cascade-only ledger and server flags.
type runFlags struct {
	dbPath       string
	debugListen  string
	healthListen string
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.dbPath, "db", "", "Record the run in this SQLite ledger")
	fs.StringVar(&f.debugListen, "debug-listen", "", "Serve /debug/ pages on this address while running")
	fs.StringVar(&f.healthListen, "health-listen", "", "Serve gRPC health checks on this address while running")
}

// threadsFromEnv returns the worker count from NLFFF_THREADS, falling back
// to OMP_NUM_THREADS.
func threadsFromEnv() (int, bool, error) {
	for _, key := range []string{"NLFFF_THREADS", "OMP_NUM_THREADS"} {
		s := os.Getenv(key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, false, usagef("%s=%q is not a thread count", key, s)
		}
		return n, true, nil
	}
	return 0, false, nil
}

// solverConfig loads the configuration and applies the flag and
// environment overrides.
func (f *solverFlags) solverConfig() (*config.SolverConfig, error) {
	cfg := config.EmptySolverConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadSolverConfig(f.configPath); err != nil {
			return nil, usagef("%v", err)
		}
	}
	if n, ok, err := threadsFromEnv(); err != nil {
		return nil, err
	} else if ok {
		cfg.Threads = &n
	}
	if f.threads >= 0 {
		cfg.Threads = &f.threads
	}
	if f.backend != "" {
		cfg.Backend = &f.backend
	}
	if f.method != "" {
		cfg.PotentialMethod = &f.method
	}
	if f.maxIterations >= 0 {
		cfg.MaxIterations = &f.maxIterations
	}
	if err := cfg.Validate(); err != nil {
		return nil, usagef("%v", err)
	}
	return cfg, nil
}

func cascadeOptions(cfg *config.SolverConfig) (cascade.Options, error) {
	ro, err := cfg.RelaxOptions()
	if err != nil {
		return cascade.Options{}, err
	}
	return cascade.Options{
		Relax: ro,
		Potential: potential.Options{
			Method:  cfg.GetPotentialMethod(),
			Workers: ro.Executor.Workers(),
		},
		ContinueOnNonConvergence: cfg.GetContinueOnNonConvergence(),
	}, nil
}

func openProject(dir string) (*project.Project, error) {
	return project.Open(fsutil.OSFileSystem{}, dir)
}

func parseLevel(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 9 {
		return 0, usagef("grid level %q must be a number from 1 to 9", s)
	}
	return n, nil
}

func runPotential(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("potential", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf solverFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() < 2 || fs.NArg() > 3 {
		return usagef("usage: nlfff potential [flags] <project_dir> <grid_level> [solver_dir]")
	}
	monitoring.SetVerbose(sf.verbose)

	level, err := parseLevel(fs.Arg(1))
	if err != nil {
		return err
	}
	if fs.NArg() == 3 {
		if info, err := os.Stat(fs.Arg(2)); err != nil || !info.IsDir() {
			return usagef("solver directory %s does not exist", fs.Arg(2))
		}
	}
	cfg, err := sf.solverConfig()
	if err != nil {
		return err
	}
	opts, err := cascadeOptions(cfg)
	if err != nil {
		return err
	}
	p, err := openProject(fs.Arg(0))
	if err != nil {
		return err
	}
	v, err := cascade.NewRunner(p, opts).Potential(ctx, level)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%s)\n", p.Path(project.PotentialFile), v.Dims)
	return nil
}

func runCascade(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("cascade", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf solverFlags
	var rf runFlags
	sf.register(fs)
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() != 2 {
		return usagef("usage: nlfff cascade [flags] <project_dir> <grid_levels>")
	}
	monitoring.SetVerbose(sf.verbose)

	levels, err := cascade.ParseLevels(fs.Arg(1))
	if err != nil {
		return err
	}
	cfg, err := sf.solverConfig()
	if err != nil {
		return err
	}
	opts, err := cascadeOptions(cfg)
	if err != nil {
		return err
	}
	p, err := openProject(fs.Arg(0))
	if err != nil {
		return err
	}
	monitoring.Debugf("solver workers=%d backend=%s", opts.Relax.Executor.Workers(), cfg.GetBackend())

	var ledger *rundb.DB
	runID := "local"
	if rf.dbPath != "" {
		if ledger, err = rundb.Open(rf.dbPath); err != nil {
			return err
		}
		defer ledger.Close()
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			monitoring.Logf("ledger: encode solver config: %v", err)
			cfgJSON = nil
		}
		if runID, err = ledger.StartRun(p.Dir, fs.Arg(1), string(cfgJSON)); err != nil {
			return err
		}
		opts.Recorder = ledger.Recorder(runID, cfg.GetDBSampleEvery())
	}

	opts.Progress = monitoring.NewProgress()
	opts.Progress.Start(runID)

	if rf.debugListen != "" {
		stopDebug, err := serveDebug(rf.debugListen, opts.Progress, ledger)
		if err != nil {
			return err
		}
		defer stopDebug()
	}
	if rf.healthListen != "" {
		health, err := serveHealth(rf.healthListen)
		if err != nil {
			return err
		}
		health.Serving()
		defer health.Stop()
	}

	res, runErr := cascade.NewRunner(p, opts).Run(ctx, levels)
	opts.Progress.Finish(runErr)
	if ledger != nil {
		if err := ledger.FinishRun(runID, runErr); err != nil {
			monitoring.Logf("ledger: %v", err)
		}
	}
	if res != nil {
		for _, l := range res.Levels {
			fmt.Fprintf(stdout, "level %d %s: %s after %d iterations, cwsin=%.4g div_mean=%.3g energy=%.6g\n",
				l.Level, l.Grid.Dims, l.Status, l.Iterations, l.Final.CWsin, l.Final.DivMean, l.Final.Energy)
		}
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(stdout, "wrote %s\n", p.Path(project.FinalFile))
	return nil
}

// serveDebug starts the tsweb debug server and returns its shutdown func.
func serveDebug(addr string, progress *monitoring.Progress, ledger *rundb.DB) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("debug listener: %w", err)
	}
	mux := http.NewServeMux()
	debug := monitoring.AttachDebug(mux, progress)
	if ledger != nil {
		if err := ledger.AttachAdminRoutes(debug); err != nil {
			lis.Close()
			return nil, err
		}
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("debug server: %v", err)
		}
	}()
	monitoring.Logf("debug server listening on http://%s/debug/", lis.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			monitoring.Logf("debug server shutdown: %v", err)
			_ = server.Close()
		}
	}, nil
}

func serveHealth(addr string) (*monitoring.HealthReporter, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health listener: %w", err)
	}
	h := monitoring.NewHealthReporter()
	go func() {
		if err := h.Serve(lis); err != nil {
			monitoring.Logf("health server: %v", err)
		}
	}()
	return h, nil
}
