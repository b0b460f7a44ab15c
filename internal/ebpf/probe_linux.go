// Probe loads the execve-allowlist eBPF program and turns its ring-buffer
// records into ShortLivedProcessLogs for the Process Watcher (spec.md §4.2).
//
//go:build linux

package ebpf

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/tracerbio/tracer/internal/target"
)

// numOnlineCPU returns the number of ring-buffer reader tasks to spawn, one
// per online CPU (spec.md §4.2).
func numOnlineCPU() int {
	return runtime.NumCPU()
}

// bpfObjectBytes holds the pre-compiled BPF program object.
//
// In a standard build this is nil and Start returns a descriptive error.
// When built with -tags bpf_embedded (after compiling bpf/execve_allowlist.bpf.c),
// bpfobject_embed_linux.go sets this variable via //go:embed.
var bpfObjectBytes []byte

// kernelEvent mirrors the C struct short_lived_event defined in
// bpf/execve_allowlist.bpf.c.
//
// Layout (224 bytes, matching the C definition exactly):
//
//	PID      uint32    4 B
//	PPID     uint32    4 B
//	UID      uint32    4 B
//	GID      uint32    4 B
//	Comm     [16]byte  16 B  — TASK_COMM_LEN
//	Filename [64]byte  64 B  — FILENAME_MAX_LEN
//	Args     [128]byte 128 B — ARGV_MAX_LEN
type kernelEvent struct {
	PID      uint32
	PPID     uint32
	UID      uint32
	GID      uint32
	Comm     [16]byte
	Filename [64]byte
	Args     [128]byte
}

// KernelEventSize is the expected on-wire size of a short_lived_event
// ring-buffer record. Exported so tests can guard against layout drift
// between the C struct and the Go mirror.
const KernelEventSize = 4 + 4 + 4 + 4 + 16 + 64 + 128

const kernelEventSize = KernelEventSize

// Probe loads the eBPF execve allow-list program, populates it from a set of
// target rules, and delivers ShortLivedProcessLogs for matching execve calls.
//
// It is safe for concurrent use. SetBPFObject must be called before Start
// unless the binary was built with -tags bpf_embedded.
type Probe struct {
	logger   *slog.Logger
	objBytes []byte

	events   chan ShortLivedProcessLog
	mu       sync.Mutex
	cancel   func()
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProbe constructs a Probe. If logger is nil, slog.Default() is used.
func NewProbe(logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		logger: logger,
		events: make(chan ShortLivedProcessLog, 256),
	}
}

// SetBPFObject supplies the compiled BPF object bytes to use when Start is
// called, for binaries not built with -tags bpf_embedded.
func (p *Probe) SetBPFObject(obj []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objBytes = obj
}

// Events returns a read-only channel of decoded short-lived process logs.
// The channel is closed after Stop returns.
func (p *Probe) Events() <-chan ShortLivedProcessLog {
	return p.events
}

// Start loads the BPF object, inserts the reverse-basename hash of every
// ShortLivedProcessExecutable rule into the allow-list map (spec.md §4.2),
// attaches the tracepoint on every online CPU, and begins delivering events.
// Calling Start on an already-running Probe is a no-op.
func (p *Probe) Start(ctx context.Context, rules []target.Rule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}

	objBytes := p.objBytes
	if len(objBytes) == 0 {
		objBytes = bpfObjectBytes
	}
	if len(objBytes) == 0 {
		return fmt.Errorf("ebpf probe: no BPF object available; build with -tags bpf_embedded " +
			"or call SetBPFObject before Start")
	}

	obj, err := loadBPFObject(bytes.NewReader(objBytes))
	if err != nil {
		return fmt.Errorf("ebpf probe: load BPF object: %w", err)
	}

	names := target.ShortLivedExecutables(rules)
	if len(names) > MaxAllowlistEntries {
		names = names[:MaxAllowlistEntries]
	}
	inserted := 0
	for _, name := range names {
		hash := ReverseBasenameHash(name)
		if err := obj.updateAllowlist(hash); err != nil {
			p.logger.Warn("ebpf probe: allow-list insert failed", slog.String("name", name), slog.Any("error", err))
			continue
		}
		inserted++
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	numReaders := numOnlineCPU()
	for i := 0; i < numReaders; i++ {
		p.wg.Add(1)
		go p.readLoop(ctx, obj, i)
	}

	p.logger.Info("ebpf probe started",
		slog.Int("allowlist_entries", inserted),
		slog.Int("readers", numReaders),
	)
	return nil
}

// Stop signals every ring-buffer reader to exit, waits for them, and closes
// the Events channel. Stop is idempotent.
func (p *Probe) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel := p.cancel
		p.cancel = nil
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
		close(p.events)
		p.logger.Info("ebpf probe stopped")
	})
}

// readLoop is one of numOnlineCPU() concurrent ring-buffer reader tasks
// (spec.md §4.2, §5: "Ring-buffer read errors on one CPU must not stop
// readers on other CPUs."). readerID is only used for logging.
func (p *Probe) readLoop(ctx context.Context, obj *bpfObject, readerID int) {
	defer p.wg.Done()
	if readerID == 0 {
		defer obj.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sample, err := obj.ringbuf.readSample(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.logger.Warn("ebpf probe: ring buffer read error", slog.Int("reader", readerID), slog.Any("error", err))
			return
		}

		if len(sample) != kernelEventSize {
			p.logger.Warn("ebpf probe: unexpected event size",
				slog.Int("got", len(sample)), slog.Int("want", kernelEventSize))
			continue
		}

		var evt kernelEvent
		if err := binary.Read(bytes.NewReader(sample), binary.NativeEndian, &evt); err != nil {
			p.logger.Warn("ebpf probe: decode event", slog.Any("error", err))
			continue
		}

		p.deliver(&evt)
	}
}

func (p *Probe) deliver(evt *kernelEvent) {
	log := ShortLivedProcessLog{
		PID:      evt.PID,
		PPID:     evt.PPID,
		UID:      evt.UID,
		GID:      evt.GID,
		Comm:     nullTerminated(evt.Comm[:]),
		Filename: nullTerminated(evt.Filename[:]),
		Args:     nullTerminated(evt.Args[:]),
	}

	select {
	case p.events <- log:
	default:
		p.logger.Warn("ebpf probe: event channel full, dropping event", slog.String("filename", log.Filename))
	}
}

func nullTerminated(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}
