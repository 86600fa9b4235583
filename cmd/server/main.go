package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"liftsim/internal/config"
	"liftsim/internal/persistence/journal"
	"liftsim/internal/sim/engine"
	"liftsim/internal/transport/httpapi"
	"liftsim/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/liftsim.yaml", "path to liftsim.yaml (missing file means defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides server.addr; PORT env also works)")
		backendArg = flag.String("backend", "", "store backend: memory|sqlite (overrides server.backend)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides server.data_dir)")
		loadSnap   = flag.Bool("load_snapshot", true, "memory backend: resume from the snapshot file if present")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		cfg = config.Defaults()
	}
	if port := envInt("PORT", 0); port > 0 {
		cfg.Server.Addr = ":" + strconv.Itoa(port)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(*backendArg); v != "" {
		cfg.Server.Backend = v
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		cfg.Server.DataDir = v
		cfg.Server.SQLitePath, cfg.Server.SnapshotPath, cfg.Server.JournalDir = "", "", ""
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	be, err := openBackend(cfg.Server, *loadSnap, logger)
	if err != nil {
		logger.Fatalf("open backend: %v", err)
	}
	defer func() {
		if err := be.close(); err != nil {
			logger.Printf("close backend: %v", err)
		}
	}()

	policy, err := engine.ParsePolicy(cfg.Engine.LobbyPolicy, cfg.Engine.LobbyBeforeHour)
	if err != nil {
		logger.Fatalf("lobby policy: %v", err)
	}

	var sinks engine.Sinks
	var jrnl *journal.EventJournal
	if cfg.Server.EnableJournal {
		jrnl = journal.NewEventJournal(cfg.Server.JournalDir, logger, journal.Options{
			OnClose: func(path string) { logger.Printf("journal: finished %s", path) },
		})
		sinks = append(sinks, jrnl)
	}
	var obs *observer.Server
	if cfg.Server.EnableObserver {
		obs = observer.NewServer(observer.Config{
			State:       be.State,
			AllowRemote: cfg.Server.ObserverAllowRemote,
			Logger:      logger,
		})
		sinks = append(sinks, obs)
	}

	car := httpapi.NewCar(be.Store, engine.Options{
		Policy: policy,
		Sink:   sinks,
		Logger: log.New(os.Stdout, "[car] ", log.LstdFlags|log.Lmicroseconds),
	})
	api := httpapi.NewServer(httpapi.Config{
		Store:    be.Store,
		Car:      car,
		Logger:   logger,
		Snapshot: be.snapshot,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	if obs != nil {
		// Websocket upgrades must not go through the gzip wrapper.
		mux.HandleFunc("/observer/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/observer/ws", obs.WSHandler())
	} else {
		logger.Printf("observer disabled (server.enable_observer=false)")
	}
	if envBool("LIFTSIM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.Handle("/", gzhttp.GzipHandler(api.Handler()))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s backend=%s lobby_policy=%s", cfg.Server.Addr, cfg.Server.Backend, cfg.Engine.LobbyPolicy)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	} else {
		<-shutdownDone
	}

	// A hosted run survives its request's cancellation; let it finish before
	// the journal and the backend snapshot see the store.
	car.Close()
	if jrnl != nil {
		if n := jrnl.Failed(); n > 0 {
			logger.Printf("journal: %d event(s) could not be written", n)
		}
		if err := jrnl.Close(); err != nil {
			logger.Printf("close journal: %v", err)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
