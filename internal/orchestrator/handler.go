package orchestrator

import (
	"context"
	"log/slog"
	"os"

	"github.com/tracerbio/tracer/internal/config"
	"github.com/tracerbio/tracer/internal/controlsocket"
	"github.com/tracerbio/tracer/internal/ebpf"
	"github.com/tracerbio/tracer/internal/eventrecorder"
)

// The methods below implement controlsocket.Handler, dispatching each
// control-socket command to the same components a process/file/submit tick
// would touch (spec.md §6, §7).

func (o *Orchestrator) HandleLog(message string) {
	o.recorder.Record(eventrecorder.NewEvent(o.clock(), eventrecorder.StatusTestEvent, message, nil))
}

func (o *Orchestrator) HandleAlert(message string) {
	o.recorder.Record(eventrecorder.NewEvent(o.clock(), eventrecorder.StatusError, message, nil))
}

func (o *Orchestrator) HandleStart() {
	o.runCtl.NotifyInteraction(o.clock())
}

func (o *Orchestrator) HandleEnd() {
	o.recorder.Record(eventrecorder.NewEvent(o.clock(), eventrecorder.StatusFinishedRun, "Run ended by client request", nil))
}

func (o *Orchestrator) HandleInfo() controlsocket.InfoResponse {
	run, ok := o.runCtl.Current()
	if !ok {
		return controlsocket.InfoResponse{}
	}
	return controlsocket.InfoResponse{RunName: run.Name, RunID: run.ID, ServiceName: run.ServiceName}
}

func (o *Orchestrator) HandleTerminate() {
	o.logger.Info("orchestrator: terminate requested over control socket")
	go o.Stop()
}

func (o *Orchestrator) HandleRefreshConfig() {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		o.logger.Warn("orchestrator: refresh_config failed", slog.Any("error", err))
		return
	}
	o.procWatch.ReloadTargets(cfg.Targets)
}

func (o *Orchestrator) HandleTag(tags []string) {
	o.mu.Lock()
	o.tags = tags
	o.mu.Unlock()
}

func (o *Orchestrator) HandleLogShortLivedProcess(log ebpf.ShortLivedProcessLog) {
	o.procWatch.IngestShortLived(log)
}

func (o *Orchestrator) HandleUpload(filePath string) {
	f, err := os.Open(filePath)
	if err != nil {
		o.logger.Warn("orchestrator: upload: cannot open file", slog.String("path", filePath), slog.Any("error", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		o.logger.Warn("orchestrator: upload: cannot stat file", slog.String("path", filePath), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if err := o.client.UploadFile(ctx, info.Name(), f, info.Size()); err != nil {
		o.logger.Warn("orchestrator: upload failed", slog.String("path", filePath), slog.Any("error", err))
	}
}
