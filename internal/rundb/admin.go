package rundb

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/nlfff/internal/httputil"
)

// AttachAdminRoutes mounts a tailsql console over the ledger and a JSON
// listing of recent runs on the debug handler.
func (db *DB) AttachAdminRoutes(debug *tsweb.DebugHandler) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "NLFFF run ledger",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("runs", "Recent cascade runs (JSON, ?run=<id> for levels)", http.HandlerFunc(db.serveRuns))
	return nil
}

func (db *DB) serveRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if id := r.URL.Query().Get("run"); id != "" {
		run, err := db.GetRun(id)
		if errors.Is(err, ErrNotFound) {
			httputil.NotFound(w, err.Error())
			return
		} else if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		levels, err := db.Levels(id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, struct {
			*Run
			LevelRecords []LevelRecord `json:"level_records"`
		}{run, levels})
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}
