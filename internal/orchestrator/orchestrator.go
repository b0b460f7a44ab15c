// Package orchestrator wires every agent component into the three
// cooperative timers described in spec.md §4.10: the process tick, the file
// tick (a configurable multiple of the process tick), and the submit tick.
// Lifecycle (a plain New constructor, Start/Stop, a goroutine per long-lived
// task) is grounded on the teacher's internal/agent.Agent, with its
// sync.WaitGroup supervision replaced by golang.org/x/sync/errgroup for the
// three timers; an error from a timer task is logged. The probe loader runs
// outside the group: a load failure is logged as a warning and the agent
// continues without short-lived capture.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/tracerbio/tracer/internal/config"
	"github.com/tracerbio/tracer/internal/controlsocket"
	"github.com/tracerbio/tracer/internal/ebpf"
	"github.com/tracerbio/tracer/internal/eventrecorder"
	"github.com/tracerbio/tracer/internal/fswatcher"
	"github.com/tracerbio/tracer/internal/hostinfo"
	"github.com/tracerbio/tracer/internal/logwatcher"
	"github.com/tracerbio/tracer/internal/procwatcher"
	"github.com/tracerbio/tracer/internal/ruleengine"
	"github.com/tracerbio/tracer/internal/runctl"
	"github.com/tracerbio/tracer/internal/statemgr"
	"github.com/tracerbio/tracer/internal/sysmetrics"
	"github.com/tracerbio/tracer/internal/transport"
)

// These source names identify the three text streams the File-Content Watcher tails
// (spec.md §4.5, §5).
const (
	sourceStdout = "stdout"
	sourceStderr = "stderr"
	sourceSyslog = "syslog"
)

// uploadTimeout bounds a control-socket-triggered file upload (spec.md §6).
const uploadTimeout = 60 * time.Second

// Orchestrator owns and drives every agent component (spec.md §4.10). It is
// safe for concurrent use; Start/Stop serialize under mu the way the
// teacher's Agent does.
type Orchestrator struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	clock      func() time.Time

	recorder   *eventrecorder.Recorder
	stateMgr   *statemgr.Manager
	ruleEngine *ruleengine.Engine
	procWatch  *procwatcher.Watcher
	fsWatch    *fswatcher.Watcher
	logWatch   *logwatcher.Watcher
	runCtl     *runctl.Controller
	client     *transport.Client
	probe      *ebpf.Probe
	socket     *controlsocket.Listener

	stdoutPath string
	stderrPath string
	syslogPath string
	offsets    map[string]int64

	adminSrv *http.Server

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	startTime time.Time
	tags      []string
}

// New constructs an Orchestrator from cfg, loaded from configPath (retained
// so HandleRefreshConfig can re-read it). logger may be nil, in which case
// slog.Default() is used.
func New(cfg *config.Config, configPath string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	recorder := eventrecorder.New()
	stateMgr := statemgr.New()
	client := transport.New(cfg.ServiceURL, cfg.APIKey)
	procWatch := procwatcher.New(recorder, cfg.Targets, nil)
	logWatch := logwatcher.New()

	o := &Orchestrator{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		clock:      time.Now,
		recorder:   recorder,
		stateMgr:   stateMgr,
		ruleEngine: ruleengine.New(ruleengine.BuiltinTemplates()),
		procWatch:  procWatch,
		logWatch:   logWatch,
		client:     client,
		probe:      ebpf.NewProbe(logger),
		stdoutPath: os.Getenv("TRACER_STDOUT_FILE"),
		stderrPath: os.Getenv("TRACER_STDERR_FILE"),
		syslogPath: "/var/log/syslog",
		offsets:    make(map[string]int64),
	}

	procWatch.OnInteraction = func(at time.Time) {
		if o.runCtl != nil {
			o.runCtl.NotifyInteraction(at)
		}
	}

	o.runCtl = runctl.New(
		runctl.Policy{
			NewRunPauseMs:                     cfg.NewRunPauseMs,
			WaitForProcessBeforeNewRun:        true,
			ComplicatedProcessIdentification: true,
		},
		recorder,
		nil,
		func() (hostinfo.Properties, error) { return hostinfo.Collect(context.Background()) },
		func(props hostinfo.Properties, startTime time.Time) (string, string, string, error) {
			return o.startRun(props, startTime)
		},
	)

	fsWatch, err := fswatcher.New(cfg.WorkflowDirectory, cfg.FileCacheDir, defaultFileRules(), time.Duration(cfg.FileSizeNotChangingPeriodMs)*time.Millisecond, client, nil)
	if err != nil {
		logger.Warn("orchestrator: file-system watcher disabled", slog.Any("error", err))
	}
	o.fsWatch = fsWatch

	o.socket = controlsocket.New(cfg.ControlSocketPath, o, logger)

	logWatch.Register(sourceStdout, logwatcher.BuiltinPatterns())
	logWatch.Register(sourceStderr, logwatcher.BuiltinPatterns())
	logWatch.Register(sourceSyslog, logwatcher.BuiltinPatterns())

	return o
}

// defaultFileRules is the built-in File-System Watcher rule set: upload
// every file anywhere beneath the workflow directory, through a full-path
// regex of `.*` (spec.md §4.4 names the matching kinds; it does not mandate
// a specific built-in rule list).
func defaultFileRules() []fswatcher.Rule {
	return []fswatcher.Rule{
		{Kind: fswatcher.PatternFullPathRegex, Pattern: `.*`, Action: fswatcher.ActionUpload},
	}
}

// Start begins every long-lived task: the probe loader, the control-socket
// listener, the admin HTTP mux, and the three cooperative timers. It returns
// once every task has been launched. A control-socket bind failure aborts
// Start; a probe load failure is logged and Start continues without
// short-lived capture; an admin server failure is logged from its goroutine.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already running")
	}
	o.running = true
	o.startTime = o.clock()
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.logger.Info("orchestrator: starting",
		slog.String("service_url", o.cfg.ServiceURL),
		slog.Int64("process_polling_interval_ms", o.cfg.ProcessPollingIntervalMs),
		slog.Int64("batch_submission_interval_ms", o.cfg.BatchSubmissionIntervalMs),
		slog.Int("num_targets", len(o.cfg.Targets)),
	)

	if err := o.socket.Start(ctx); err != nil {
		cancel()
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: control socket: %w", err)
	}

	if err := o.probe.Start(ctx, o.cfg.Targets); err != nil {
		o.logger.Warn("orchestrator: ebpf probe unavailable, short-lived processes will not be captured",
			slog.Any("error", err))
	} else {
		go o.drainProbeEvents(ctx)
	}

	o.startAdminServer()
	o.seedTailOffsets()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return o.runTicker(egCtx, "process", time.Duration(o.cfg.ProcessPollingIntervalMs)*time.Millisecond, o.processTick) })
	eg.Go(func() error {
		fileInterval := time.Duration(o.cfg.ProcessPollingIntervalMs) * time.Millisecond * time.Duration(o.cfg.FileTickMultiple)
		return o.runTicker(egCtx, "file", fileInterval, o.fileTick)
	})
	eg.Go(func() error { return o.runTicker(egCtx, "submit", time.Duration(o.cfg.BatchSubmissionIntervalMs)*time.Millisecond, o.submitTick) })

	go func() {
		if err := eg.Wait(); err != nil && egCtx.Err() == nil {
			o.logger.Error("orchestrator: a timer task failed", slog.Any("error", err))
		}
	}()

	o.logger.Info("orchestrator: started")
	return nil
}

// Stop cancels every running task and waits for the admin server, control
// socket, and probe to release their resources. It is safe to call more
// than once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}

	o.probe.Stop()
	o.socket.Stop()

	if o.adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.adminSrv.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("orchestrator: admin server shutdown error", slog.Any("error", err))
		}
	}

	o.logger.Info("orchestrator: stopped")
}

// runTicker runs fn every interval until ctx is cancelled, logging and
// continuing on error (spec.md §7: transient per-tick failures do not stop
// the orchestrator).
func (o *Orchestrator) runTicker(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				o.logger.Warn("orchestrator: tick failed", slog.String("tick", name), slog.Any("error", err))
			}
		}
	}
}

// startRun performs the synchronous collector round-trip for a new run
// (spec.md §4.9): the Run Controller calls this to announce the run and
// learn its collector-assigned run_name/run_id/service_name before it
// records its own local new_run event for later batch submission.
func (o *Orchestrator) startRun(props hostinfo.Properties, startTime time.Time) (string, string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var attrs map[string]any
	o.mu.RLock()
	if len(o.tags) > 0 {
		attrs = map[string]any{"tags": o.tags}
	}
	o.mu.RUnlock()

	result, err := o.client.Submit(ctx, []eventrecorder.Event{
		eventrecorder.NewEvent(startTime, eventrecorder.StatusNewRun, "Run started", attrs),
	})
	if err != nil {
		return "", "", "", err
	}
	o.logger.Info("orchestrator: run started",
		slog.String("run_name", result.RunName),
		slog.String("run_id", result.RunID),
		slog.String("total_memory", humanize.Bytes(props.TotalMemoryMB*1024*1024)),
	)
	return result.RunName, result.RunID, result.ServiceName, nil
}

// drainProbeEvents forwards every kernel-captured short-lived process log to
// the Process Watcher until ctx is cancelled or the probe's event channel
// closes (spec.md §4.2, §4.3).
func (o *Orchestrator) drainProbeEvents(ctx context.Context) {
	events := o.probe.Events()
	if events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case log, ok := <-events:
			if !ok {
				return
			}
			o.procWatch.IngestShortLived(log)
		}
	}
}

func (o *Orchestrator) startAdminServer() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", o.handleHealthz)
	r.Get("/debug/state", o.handleDebugState)

	o.adminSrv = &http.Server{Addr: o.cfg.AdminListenAddr, Handler: r}
	go func() {
		if err := o.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.logger.Warn("orchestrator: admin server exited", slog.Any("error", err))
		}
	}()
}

func (o *Orchestrator) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_s":%.2f}`, time.Since(o.startTime).Seconds())
}

func (o *Orchestrator) handleDebugState(w http.ResponseWriter, r *http.Request) {
	o.mu.RLock()
	active := o.runCtl.Active()
	o.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"run_active":%t,"buffered_events":%d,"uptime_s":%.2f}`,
		active, o.recorder.Len(), time.Since(o.startTime).Seconds())
}
