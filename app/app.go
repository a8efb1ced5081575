package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/voltgrid/relayd/infrastructure/config"
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/infrastructure/os/signal"
	"github.com/voltgrid/relayd/util/panics"
	"github.com/voltgrid/relayd/util/profiling"
	"github.com/voltgrid/relayd/version"
)

const shutdownTimeout = 2 * time.Minute

type relaydApp struct {
	cfg *config.Config
}

// StartApp starts the relayd app, and blocks until it finishes running
func StartApp() error {
	interrupt := signal.InterruptListener()

	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	err = cfg.InitLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logger.BackendLog.Close()
	defer panics.HandlePanic(log, "MAIN", nil)

	app := &relaydApp{cfg: cfg}
	return app.main(interrupt, nil)
}

func (app *relaydApp) main(interrupt <-chan struct{}, startedChan chan<- struct{}) error {
	// Show version at startup.
	log.Infof("Version %s", version.Version())
	log.Infof("Node id %s", app.cfg.NodeID)

	// Enable http profiling server if requested.
	if app.cfg.Profile != "" {
		profilingServer := profiling.Start(app.cfg.Profile, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := profilingServer.Shutdown(ctx)
			if err != nil && err != http.ErrServerClosed {
				log.Warnf("Error stopping the profile server: %s", err)
			}
		}()
	}

	// Return now if an interrupt signal was triggered.
	if signal.InterruptRequested(interrupt) {
		return nil
	}

	// Create componentManager and start it.
	componentManager, err := NewComponentManager(app.cfg)
	if err != nil {
		log.Errorf("Unable to start relayd: %+v", err)
		return err
	}

	defer func() {
		log.Infof("Gracefully shutting down relayd...")

		shutdownDone := make(chan struct{})
		go func() {
			componentManager.Stop()
			shutdownDone <- struct{}{}
		}()

		select {
		case <-shutdownDone:
		case <-time.After(shutdownTimeout):
			log.Criticalf("Graceful shutdown timed out %s. Terminating...", shutdownTimeout)
		}
		log.Infof("Relayd shutdown complete")
	}()

	componentManager.Start()

	if startedChan != nil {
		startedChan <- struct{}{}
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through signal.ShutdownRequestChannel.
	<-interrupt
	return nil
}
