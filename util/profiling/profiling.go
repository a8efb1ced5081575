package profiling

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/util/panics"
)

// Handler serves the pprof endpoints under /debug.
func Handler() http.Handler {
	router := chi.NewRouter()
	router.Mount("/debug", middleware.Profiler())
	router.Handle("/", http.RedirectHandler("/debug/pprof/", http.StatusSeeOther))
	return router
}

// Start starts the profiling server. Shut the returned server down to stop it.
func Start(port string, log *logger.Logger) *http.Server {
	spawn := panics.GoroutineWrapperFunc(log)
	server := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	spawn("profiling.Start", func() {
		log.Infof("Profile server listening on %s", server.Addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Profile server failed: %s", err)
		}
	})
	return server
}
