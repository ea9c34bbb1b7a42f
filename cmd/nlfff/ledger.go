package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/nlfff/internal/rundb"
)

const defaultDBPath = "nlfff_runs.db"

func runRuns(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", defaultDBPath, "Run ledger (SQLite)")
	limit := fs.Int("limit", 20, "Number of runs to list (0 for all)")
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() > 1 {
		return usagef("usage: nlfff runs [-db file] [-limit n] [run_id]")
	}
	db, err := rundb.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if fs.NArg() == 0 {
		runs, err := db.ListRuns(*limit)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, rundb.FormatRuns(runs))
		return nil
	}

	run, err := db.GetRun(fs.Arg(0))
	if err != nil {
		return usagef("%v", err)
	}
	levels, err := db.Levels(run.ID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*rundb.Run
		LevelRecords []rundb.LevelRecord `json:"level_records"`
	}{run, levels})
}

func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", defaultDBPath, "Run ledger (SQLite)")
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() != 1 || (fs.Arg(0) != "up" && fs.Arg(0) != "status") {
		return usagef("usage: nlfff migrate [-db file] <up|status>")
	}

	// Open applies pending migrations, so both actions end at the latest
	// version.
	db, err := rundb.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if fs.Arg(0) == "up" {
		if err := db.MigrateUp(); err != nil {
			return err
		}
	}
	v, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := rundb.LatestVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "version: %d\nlatest: %d\ndirty: %t\n", v, latest, dirty)
	return nil
}
