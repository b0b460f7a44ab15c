// bpfobject_embed_linux.go — embedded BPF object variant.
//
// Compiled when the "bpf_embedded" build tag is set, which requires the
// pre-compiled execve_allowlist.bpf.o to exist in bpf/.
//
// Build sequence:
//
//	clang -O2 -g -target bpf -c internal/ebpf/bpf/execve_allowlist.bpf.c -o internal/ebpf/bpf/execve_allowlist.bpf.o
//	go build -tags bpf_embedded ./internal/ebpf/...
//
//go:build linux && bpf_embedded

package ebpf

import _ "embed"

//go:embed bpf/execve_allowlist.bpf.o
var embeddedBPFObject []byte

func init() {
	bpfObjectBytes = embeddedBPFObject
}
