package main

import (
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixge/fgprof"
	"github.com/rs/zerolog/log"

	"github.com/camsift/camsift/internal/config"
	"github.com/camsift/camsift/internal/eventlog"
	"github.com/camsift/camsift/internal/files"
	"github.com/camsift/camsift/internal/logger"
	"github.com/camsift/camsift/internal/process"
	"github.com/camsift/camsift/internal/worker"
)

const (
	// safeStartWindow is how recently the lock file must have been
	// refreshed for another instance to be considered alive.
	safeStartWindow = 150 * time.Second

	lockRefreshEvery  = 60 * time.Second
	sysStatusInterval = 30 * time.Minute
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	safeStart := flag.Bool("safe-start", false, "exit if another instance appears to be running")
	flag.Parse()

	logger.Init("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Logging.Level)

	if cfg.Processing.ProfilingAddr != "" {
		go func() {
			log.Info().Str("addr", cfg.Processing.ProfilingAddr).Msg("Starting profiling server")
			http.DefaultServeMux.Handle("/debug/fgprof", fgprof.Handler())
			if err := http.ListenAndServe(cfg.Processing.ProfilingAddr, nil); err != nil {
				log.Error().Err(err).Msg("Profiling server error")
			}
		}()
	}

	lock := files.NewLockFile(cfg.Files.LockFile)
	if *safeStart && lock.Fresh(safeStartWindow) {
		log.Warn().Str("lock_file", cfg.Files.LockFile).
			Msg("Another instance appears to be running, exiting")
		return
	}
	defer lock.Remove()

	store, err := eventlog.Open(cfg.Files.EventDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event database")
	}
	defer store.Close()

	log.Info().Str("version", "0.1.0").Msg("Starting camsift")
	store.LogActivity("camsift started")

	proc := process.New(cfg, store)

	var workers []*worker.Worker
	workers = append(workers, worker.Start("lock_refresh", func(w *worker.Worker) error {
		for {
			if err := lock.Refresh(); err != nil {
				log.Warn().Err(err).Msg("Failed to refresh lock file")
			}
			if !w.Sleep(lockRefreshEvery) {
				return nil
			}
		}
	}))
	workers = append(workers, worker.Start("cleanup", proc.RunCleanup))
	workers = append(workers, worker.Start("sys_status", func(w *worker.Worker) error {
		return proc.RunSysStatus(w, sysStatusInterval)
	}))
	if !cfg.Debug.SkipVideos {
		workers = append(workers, worker.Start("video_processing", proc.Run))
	}

	if cfg.Debug.RunOnce {
		// Development mode: let the video worker drain the pending folder
		// and exit instead of running as a service.
		if !cfg.Debug.SkipVideos {
			workers[len(workers)-1].Wait()
		}
		shutdown(workers, store)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	lastNotice := time.Now()

supervise:
	for {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down gracefully...")
			break supervise
		case <-ticker.C:
			running := 0
			for _, w := range workers {
				if err := w.Err(); err != nil {
					log.Error().Err(err).Str("worker", w.Name()).Msg("Worker failed")
				}
				if w.Running() {
					running++
				}
			}
			if running == 0 {
				log.Warn().Msg("No workers running, exiting")
				break supervise
			}
			if time.Since(lastNotice) >= time.Hour {
				lastNotice = time.Now()
				log.Info().Int("workers", running).Msg("Workers active")
			}
		}
	}

	shutdown(workers, store)
}

// shutdown stops workers in reverse start order so the video pipeline goes
// down before the housekeeping workers it relies on.
func shutdown(workers []*worker.Worker, store *eventlog.Store) {
	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].Stop(true)
	}
	store.LogActivity("camsift stopped")
}
