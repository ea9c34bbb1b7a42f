package monitoring

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/nlfff/internal/version"
)

// AttachDebug mounts the /debug/ pages on mux and adds the solver's own
// progress and build endpoints. The returned handler can carry further
// pages, such as the run ledger console.
func AttachDebug(mux *http.ServeMux, progress *Progress) *tsweb.DebugHandler {
	debug := tsweb.Debugger(mux)
	if progress != nil {
		debug.Handle("progress", "Current cascade progress (JSON)", progress)
	}
	debug.HandleSilentFunc("build", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String() + "\n"))
	})
	return debug
}
