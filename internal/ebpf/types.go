// Package ebpf loads the kernel execve allow-list probe and turns its
// ring-buffer records into short-lived process logs for the Process Watcher
// (spec.md §4.1, §4.2).
package ebpf

// MaxAllowlistEntries bounds the number of basename hashes the loader will
// insert into the kernel allow-list map (spec.md §5).
const MaxAllowlistEntries = 1024

// RingBufferPagesPerCPU is the page count used for the single ring-buffer
// map shared by all CPUs when the BPF object declares no size of its own;
// the size is not scaled by the number of CPUs (spec.md §4.2, §5).
const RingBufferPagesPerCPU = 256

// ShortLivedProcessLog is a decoded kernel execve record: a process that
// matched the allow-list and may have already exited by the time userspace
// observes it (spec.md §4.2, §4.3).
type ShortLivedProcessLog struct {
	PID      uint32
	PPID     uint32
	UID      uint32
	GID      uint32
	Comm     string
	Filename string
	Args     string
}
