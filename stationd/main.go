package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/httpapi"
	"github.com/astrohaus/stationd/internal/logging"
	"github.com/astrohaus/stationd/internal/station"
	"github.com/astrohaus/stationd/internal/worker"
)

func main() {
	var (
		configDir          = flag.String("config-dir", ".", "folder holding the station's configuration files")
		addr               = flag.String("addr", ":8173", "address to serve the station API on. Empty to disable")
		logLevel           = flag.String("log-level", "info", "debug, info, warn or error")
		clientFingerprints = flag.String("client-fingerprints", "", "comma-separated certificate fingerprints of trusted API clients")
	)
	flag.Parse()

	logger := logging.New(*logLevel)
	defer logger.Sync()
	log := logger.Sugar()

	vars, err := config.Globals(*configDir)
	if err != nil {
		log.Fatalf("failed to read the global variables: %s", err)
	}

	locks := config.NewLockSet()
	src := config.NewDynamic(filepath.Join(*configDir, station.ConfigAlias), vars, locks)
	rt := station.New(src, station.Options{
		ConfigDir: *configDir,
		Locks:     locks,
		Vars:      vars,
		Log:       log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *addr != "" {
		cert, fingerprint, err := httpapi.EnsureCertificate(*configDir)
		if err != nil {
			log.Fatalf("failed to load the station's certificate: %s", err)
		}
		log.Infof("station API certificate fingerprint: %s", fingerprint)

		svr := httpapi.NewServer(cert, httpapi.ServerOptions{
			Addr:      *addr,
			Auth:      trustList(*clientFingerprints),
			Statuses:  rt.Statuses,
			Inbox:     rt.Inbox,
			ConfigDir: *configDir,
			Alias:     station.ConfigAlias,
			Log:       log,
		})
		go func() {
			if err := svr.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("fatal error while running the station API server: %s", err)
			}
		}()
		defer svr.Close()
	}

	super := worker.NewSupervisor(worker.SupervisorConfig{
		Source:    src,
		Kinds:     rt.Kinds,
		Statuses:  rt.Statuses,
		Callbacks: rt.Callbacks,
		Log:       log,
	})
	if err := super.Run(ctx); err != nil {
		log.Fatalf("fatal error while running the supervisor: %s", err)
	}
}

func trustList(fingerprints string) httpapi.Authorizer {
	trusted := map[string]bool{}
	for _, fingerprint := range strings.Split(fingerprints, ",") {
		if fingerprint = strings.TrimSpace(fingerprint); fingerprint != "" {
			trusted[fingerprint] = true
		}
	}
	return httpapi.AuthorizerFunc(func(fingerprint string) bool { return trusted[fingerprint] })
}
