package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"shipcabin.ai/internal/persistence/indexdb"
	persistlog "shipcabin.ai/internal/persistence/log"
	"shipcabin.ai/internal/persistence/snapshot"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/cabin/instance"
	"shipcabin.ai/internal/sim/cabin/portal"
	"shipcabin.ai/internal/sim/cabin/serial"
	"shipcabin.ai/internal/sim/catalogs"
	"shipcabin.ai/internal/sim/tuning"
	"shipcabin.ai/internal/sim/world"
	"shipcabin.ai/internal/transport/observer"
	"shipcabin.ai/internal/transport/ws"
)

func main() {
	senv, err := loadServerEnv()
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	var (
		addr       = flag.String("addr", orDefault(senv.Addr, ":8080"), "http listen address")
		configDir  = flag.String("configs", orDefault(senv.ConfigDir, "./configs"), "config directory")
		dataDir    = flag.String("data", orDefault(senv.DataDir, "./data"), "runtime data directory")
		worldPath  = flag.String("world_config", "", "path to world.yaml (default: <configs>/world.yaml)")
		cabinsPath = flag.String("cabins", "", "path to cabins.yaml (default: <configs>/cabins.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the transit/instance index")
		logFile    = flag.String("logfile", senv.LogFile, "also write logs to this file, rotated")

		snapPath      = flag.String("snapshot", "", "snapshot path (default: <data>/world.snap.zst)")
		loadSnapshot  = flag.Bool("load_snapshot", true, "restore the world from the snapshot at boot if present")
		snapshotEvery = flag.Duration("snapshot_every", 5*time.Minute, "periodic snapshot interval (0 to disable)")
		enablePprof   = flag.Bool("pprof", false, "serve /debug/pprof")
	)
	flag.Parse()

	var out io.Writer = os.Stdout
	if *logFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
		})
	}
	newLogger := func(prefix string) *log.Logger {
		return log.New(out, prefix, log.LstdFlags|log.Lmicroseconds)
	}
	logger := newLogger("[server] ")

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	cp := *cabinsPath
	if cp == "" {
		cp = filepath.Join(*configDir, "cabins.yaml")
	}
	tune, err := tuning.Load(cp)
	if err != nil {
		logger.Fatalf("load cabins config: %v", err)
	}
	wp := *worldPath
	if wp == "" {
		wp = filepath.Join(*configDir, "world.yaml")
	}
	wcfg, err := world.Load(wp)
	if err != nil {
		logger.Fatalf("load world config: %v", err)
	}

	w, err := world.New(wcfg, cats, newLogger("[world] "))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	worldDir := filepath.Join(*dataDir, "worlds", w.ID())
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	sp := *snapPath
	if sp == "" {
		sp = filepath.Join(*dataDir, "world.snap.zst")
	}
	if *loadSnapshot {
		if _, err := os.Stat(sp); err == nil {
			snap, err := snapshot.ReadSnapshot(sp)
			if err != nil {
				logger.Fatalf("read snapshot: %v", err)
			}
			if err := w.ImportSnapshot(snap); err != nil {
				logger.Fatalf("import snapshot: %v", err)
			}
			logger.Printf("resumed from snapshot=%s saved_at=%s", sp, snap.Header.SavedAt)
		}
	}

	counter, closeCounter, err := openCounter(tune, *dataDir)
	if err != nil {
		logger.Fatalf("serial counter: %v", err)
	}
	defer closeCounter()

	idx, err := openRuntimeIndex(worldDir, w.ID(), senv, *disableDB, newLogger("[index] "))
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	transitLog := persistlog.NewTransitLogger(worldDir, logger)
	defer transitLog.Close()

	linker := portal.NewLinker(w, tune.Objects.ExitKind, tune.Objects.LinkKind)
	icfg := tune.InstanceConfig()
	icfg.KnownKind = func(kind string) bool {
		_, ok := cats.Archetype(kind)
		return ok
	}
	cabins := cabin.New(w, counter, instance.New(icfg), linker, tune.CabinConfig(), newLogger("[cabin] "))
	obsSrv := observer.NewServer(w, newLogger("[observer] "))
	recs := cabin.Recorders{transitLog, obsSrv}
	if idx != nil {
		recs = append(recs, idx)
	}
	cabins.SetRecorder(recs)

	var snapMu sync.Mutex
	saveSnapshot := func() (string, error) {
		snapMu.Lock()
		defer snapMu.Unlock()
		snap := w.ExportSnapshot(time.Now())
		if err := snapshot.WriteSnapshot(sp, snap); err != nil {
			return "", err
		}
		if idx != nil {
			idx.RecordSnapshot(sp, snap)
		}
		return sp, nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *snapshotEvery > 0 {
		go func() {
			t := time.NewTicker(*snapshotEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if _, err := saveSnapshot(); err != nil {
						logger.Printf("snapshot write: %v", err)
					}
				}
			}
		}()
	}

	wsSrv := ws.NewServer(w, cabins, newLogger("[ws] "))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, cabins, wsSrv.Sessions(), idx)
		fmt.Fprintf(rw, "# HELP shipcabin_observer_dropped_total Feed messages dropped for slow observers.\n")
		fmt.Fprintf(rw, "# TYPE shipcabin_observer_dropped_total counter\n")
		fmt.Fprintf(rw, "shipcabin_observer_dropped_total{world=%q} %d\n", w.ID(), obsSrv.Dropped())
	})
	if senv.adminEnabled() {
		api := &adminAPI{world: w, cabins: cabins, index: idx, sessions: wsSrv.Sessions, save: saveSnapshot}
		api.register(mux)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (CABIN_ENABLE_ADMIN_HTTP=false)")
	}
	if *enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s", *addr, w.ID())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	if p, err := saveSnapshot(); err != nil {
		logger.Printf("shutdown snapshot: %v", err)
	} else {
		logger.Printf("shutdown snapshot=%s", p)
	}
}

// openCounter returns the configured serial backend and its closer.
func openCounter(tune tuning.Tuning, dataDir string) (serial.Counter, func(), error) {
	switch tune.SerialBackend {
	case tuning.SerialBackendSQLite:
		c, err := serial.OpenSQLiteCounter(filepath.Join(dataDir, "serial.sqlite"), tune.SerialName)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return serial.NewFileCounter(tune.SerialPath()), func() {}, nil
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

func writeMetrics(rw io.Writer, w *world.World, cabins *cabin.Orchestrator, sessions int, idx indexdb.Index) {
	id := w.ID()
	fmt.Fprintf(rw, "# HELP shipcabin_loaded_maps Maps currently loaded.\n")
	fmt.Fprintf(rw, "# TYPE shipcabin_loaded_maps gauge\n")
	fmt.Fprintf(rw, "shipcabin_loaded_maps{world=%q} %d\n", id, len(w.LoadedMaps()))

	fmt.Fprintf(rw, "# HELP shipcabin_characters Known characters.\n")
	fmt.Fprintf(rw, "# TYPE shipcabin_characters gauge\n")
	fmt.Fprintf(rw, "shipcabin_characters{world=%q} %d\n", id, len(w.Characters()))

	fmt.Fprintf(rw, "# HELP shipcabin_sessions Connected websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE shipcabin_sessions gauge\n")
	fmt.Fprintf(rw, "shipcabin_sessions{world=%q} %d\n", id, sessions)

	fmt.Fprintf(rw, "# HELP shipcabin_live_handles Weak vessel door handles held by the tracker.\n")
	fmt.Fprintf(rw, "# TYPE shipcabin_live_handles gauge\n")
	fmt.Fprintf(rw, "shipcabin_live_handles{world=%q} %d\n", id, len(cabins.Tracker().Live()))

	switch ix := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := ix.Stats()
		fmt.Fprintf(rw, "# HELP shipcabin_index_queue_depth SQLite index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE shipcabin_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "shipcabin_index_queue_depth{world=%q} %d\n", id, s.QueueDepth)
		fmt.Fprintf(rw, "# HELP shipcabin_index_dropped_total Index entries dropped on a full queue.\n")
		fmt.Fprintf(rw, "# TYPE shipcabin_index_dropped_total counter\n")
		fmt.Fprintf(rw, "shipcabin_index_dropped_total{world=%q,kind=%q} %d\n", id, "transit", s.DropTransitTotal)
		fmt.Fprintf(rw, "shipcabin_index_dropped_total{world=%q,kind=%q} %d\n", id, "instance", s.DropInstanceTotal)
		fmt.Fprintf(rw, "shipcabin_index_dropped_total{world=%q,kind=%q} %d\n", id, "snapshot", s.DropSnapshotTotal)
	case *indexdb.RemoteIndex:
		s := ix.Stats()
		fmt.Fprintf(rw, "# HELP shipcabin_index_flush_total Remote index flushes by result.\n")
		fmt.Fprintf(rw, "# TYPE shipcabin_index_flush_total counter\n")
		fmt.Fprintf(rw, "shipcabin_index_flush_total{world=%q,result=%q} %d\n", id, "ok", s.FlushOKTotal)
		fmt.Fprintf(rw, "shipcabin_index_flush_total{world=%q,result=%q} %d\n", id, "fail", s.FlushFailTotal)
		fmt.Fprintf(rw, "# HELP shipcabin_index_dropped_total Index entries dropped.\n")
		fmt.Fprintf(rw, "# TYPE shipcabin_index_dropped_total counter\n")
		fmt.Fprintf(rw, "shipcabin_index_dropped_total{world=%q,kind=%q} %d\n", id, "queue", s.QueueDroppedTotal)
		fmt.Fprintf(rw, "shipcabin_index_dropped_total{world=%q,kind=%q} %d\n", id, "retry", s.RetryDroppedTotal)
	}
}
