// Package supervisor drives the ordered bringup sequence of
// spec.md §4.6 and owns the concurrent lifetime of the four workers
// plus the local status server, shutting them all down together on
// cancellation.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/correlator"
	"github.com/vrlclient/ingest/internal/decoder"
	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/internal/parser"
	"github.com/vrlclient/ingest/internal/pinger"
	"github.com/vrlclient/ingest/internal/sender"
	"github.com/vrlclient/ingest/internal/status"
	"github.com/vrlclient/ingest/internal/statusapi"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/internal/timesync"
	"github.com/vrlclient/ingest/pkg/logger"
)

// workerShutdownGrace bounds how long shutdown waits for the workers
// to return before proceeding to decoder/store teardown regardless
// (spec.md §4.6).
const workerShutdownGrace = 10 * time.Second

// FatalError wraps an error that occurred during bringup and should
// terminate the process with a non-zero exit code (spec.md §7).
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error during %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// worker is anything the supervisor runs for the lifetime of the
// process and waits on during shutdown.
type worker struct {
	name string
	run  func(ctx context.Context) error
}

// Supervisor owns bringup and the concurrent worker lifetime.
type Supervisor struct {
	cfg    *config.Config
	logger *logger.Logger

	store         *store.Store
	status        *status.Publisher
	decoderHandle *decoder.Handle
	statusServer  *http.Server
}

// New constructs a Supervisor from a loaded configuration.
func New(cfg *config.Config, log *logger.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: log.Named("supervisor")}
}

// Run executes the ordered bringup sequence (spec.md §4.6 steps 1-5),
// then launches the workers and blocks until ctx is cancelled, at
// which point it shuts everything down and returns the aggregated
// shutdown error, if any. A bringup failure is returned wrapped in
// FatalError; teardown runs on that path too.
func (s *Supervisor) Run(ctx context.Context) (err error) {
	runID := uuid.NewString()
	runLogger := s.logger.WithRunID(runID)

	// Every return from Run, including a fatal bringup error after the
	// decoder has been launched, stops the decoder and closes the store.
	defer func() {
		err = multierr.Append(err, s.shutdown(runLogger))
	}()

	snap := status.Snapshot{
		RunID:      runID,
		StartedAt:  time.Now().UTC(),
		SystemInfo: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Workers:    map[string]status.WorkerHealth{},
	}
	s.status = status.NewPublisher(snap)

	runLogger.Info("bringup starting", logger.String("run_id", runID))

	// Step 1: dependencies. The bringup sequence itself already
	// proves the process has everything it needs to run; there are no
	// external dependency checks beyond config/database/decoder.
	s.status.UpdateStages(func(st *status.Stages) { st.Dependencies = true })

	// Step 2: configuration is already loaded by the caller; record it.
	s.status.UpdateStages(func(st *status.Stages) { st.Config = true })

	// Step 3: open the database.
	st, err := store.Open(s.cfg.Database.File, runLogger)
	if err != nil {
		return &FatalError{Stage: "database", Err: err}
	}
	s.store = st
	s.status.UpdateStages(func(stages *status.Stages) { stages.Database = true })
	s.store.AppendLog(models.LogInfo, "SUPERVISOR", "bringup started", runID)

	// Step 3b: time sync check, non-fatal.
	timesync.RunCheck(ctx, timesync.NoopProvider{}, runLogger)
	s.status.UpdateStages(func(st *status.Stages) { st.TimeSync = true })

	// Step 4: launch the decoder subprocess and wait for its TCP port.
	s.decoderHandle = decoder.New(s.cfg.Decoder, runLogger)
	if err := s.decoderHandle.Start(ctx); err != nil {
		s.store.AppendLog(models.LogError, "SUPERVISOR", "decoder failed to start", err.Error())
		return &FatalError{Stage: "decoder", Err: err}
	}
	if err := decoder.WaitForPort(ctx, s.cfg.Decoder, runLogger); err != nil {
		s.store.AppendLog(models.LogError, "SUPERVISOR", "decoder port never opened", err.Error())
		return &FatalError{Stage: "decoder", Err: err}
	}
	s.status.UpdateStages(func(stages *status.Stages) {
		stages.Decoder = true
		stages.TCPConnection = true
	})

	runLogger.Info("bringup complete, starting workers")
	s.store.AppendLog(models.LogInfo, "SUPERVISOR", "bringup complete", "")

	// Step 5: launch the workers concurrently.
	workers := []worker{
		{name: "parser", run: parser.New(s.cfg.Decoder, s.store, s.status, runLogger).Run},
		{name: "correlator", run: correlator.New(s.cfg.Cycles, s.store, runLogger).Run},
		{name: "sender", run: sender.New(s.cfg.API, s.cfg.Cycles, s.store, runLogger).Run},
		{name: "pinger", run: pinger.New(s.cfg.API, s.cfg.App.Version, s.status, s.store, runLogger).Run},
	}

	if s.cfg.Admin.Enabled {
		s.startStatusServer(runLogger)
	}

	return s.runWorkers(ctx, workers, runLogger)
}

// runWorkers starts every worker in its own goroutine and waits for
// all of them to return, which happens once ctx is cancelled. The
// wait is bounded by workerShutdownGrace (spec.md §4.6): a worker that
// doesn't return promptly no longer blocks decoder/store teardown.
func (s *Supervisor) runWorkers(ctx context.Context, workers []worker, log *logger.Logger) error {
	var wg sync.WaitGroup
	errs := make([]error, len(workers))

	for i, w := range workers {
		wg.Add(1)
		go func(i int, w worker) {
			defer wg.Done()
			if err := w.run(ctx); err != nil {
				log.Error("worker exited with error", logger.String("worker", w.name), logger.Error(err))
				errs[i] = fmt.Errorf("%s: %w", w.name, err)
			}
		}(i, w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(workerShutdownGrace):
			log.Warn("workers did not all exit within grace period, proceeding with teardown")
		}
	}

	return multierr.Combine(errs...)
}

// startStatusServer launches the local introspection HTTP server in
// the background. It is best-effort: a bind failure is logged, not
// fatal, since the status endpoint is an operator convenience.
func (s *Supervisor) startStatusServer(log *logger.Logger) {
	router := statusapi.NewRouter(s.status, log)
	s.statusServer = &http.Server{
		Addr:    s.cfg.Admin.Addr,
		Handler: router.Routes(),
	}

	go func() {
		if err := s.statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("status server stopped", logger.Error(err))
		}
	}()
	log.Info("status server listening", logger.String("addr", s.cfg.Admin.Addr))
}

// shutdown tears down the decoder subprocess, the status server and
// the database, aggregating any errors (spec.md §4.6, teardown).
func (s *Supervisor) shutdown(log *logger.Logger) error {
	log.Info("shutting down")

	var errs error

	if s.statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.statusServer.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
	}

	if s.decoderHandle != nil {
		if err := s.decoderHandle.Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("decoder shutdown: %w", err))
		}
	}

	if s.store != nil {
		s.store.AppendLog(models.LogInfo, "SUPERVISOR", "shutdown complete", "")
		if err := s.store.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	return errs
}
