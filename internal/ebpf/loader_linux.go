// BPF object loader and ring-buffer reader for the execve allow-list probe.
//
// This file implements:
//   - ELF parsing of the pre-compiled BPF object (execve_allowlist.bpf.o)
//   - BPF map creation (BPF_MAP_TYPE_HASH for the allow-list, BPF_MAP_TYPE_RINGBUF
//     for events)
//   - BPF instruction patching (LD_IMM64 map-fd relocations)
//   - BPF program loading (BPF_PROG_LOAD) and tracepoint attachment
//   - Allow-list population (BPF_MAP_UPDATE_ELEM)
//   - Ring-buffer reading (mmap + atomic consumer/producer positions)
//
// All BPF operations use raw Linux syscalls so that this package requires no
// external dependencies beyond the Go standard library, following the
// teacher's approach in its own ebpf loader.
//
//go:build linux

package ebpf

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

// ─── BPF syscall constants ─────────────────────────────────────────────────
//
// Values from <linux/bpf.h>. Never change.

const (
	bpfCmdMapCreate     uintptr = 0
	bpfCmdMapUpdateElem uintptr = 2
	bpfCmdProgLoad      uintptr = 5

	bpfMapTypeHash    uint32 = 1
	bpfMapTypeRingBuf uint32 = 27

	bpfProgTypeTracepoint uint32 = 5

	bpfOpLdImm64   uint8 = 0x18
	bpfPseudoMapFD uint8 = 1

	bpfRingBufBusyBit    uint32 = 1 << 31
	bpfRingBufDiscardBit uint32 = 1 << 30
	bpfRingBufHdrSize    uint32 = 8

	bpfLogLevel uint32 = 1

	bpfAnyUpdate uint64 = 0 // BPF_ANY
)

const (
	perfTypeTracepoint uint32 = 1

	perfEventIOCEnable = 0x00002400
	perfEventIOCSetBPF = 0x40044408

	tracepointIDDir = "/sys/kernel/debug/tracing/events"
)

// mapNameAllowlist and mapNameEvents are the section/symbol names emitted by
// execve_allowlist.bpf.c; the loader looks them up by name after ELF parsing.
const (
	mapNameAllowlist = "allowlist_hashes"
	mapNameEvents    = "short_lived_events"
)

// ─── Syscall wrappers ───────────────────────────────────────────────────────

func bpfSyscall(cmd uintptr, attr unsafe.Pointer, attrSize uintptr) (int, error) {
	fd, _, errno := syscall.RawSyscall(syscall.SYS_BPF, cmd, uintptr(attr), attrSize)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func perfEventOpen(attr *perfEventAttr, pid, cpu, groupFD int) (int, error) {
	fd, _, errno := syscall.RawSyscall6(
		syscall.SYS_PERF_EVENT_OPEN,
		uintptr(unsafe.Pointer(attr)),
		uintptr(pid),
		uintptr(cpu),
		uintptr(groupFD),
		0,
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func ioctlFd(fd int, req uint, arg uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// raiseMemlockRlimit removes the locked-memory cap so BPF map/program
// allocation is not rejected by RLIMIT_MEMLOCK (spec.md §4.2).
func raiseMemlockRlimit() error {
	limit := syscall.Rlimit{Cur: ^uint64(0), Max: ^uint64(0)}
	return syscall.Setrlimit(syscall.RLIMIT_MEMLOCK, &limit)
}

// ─── Kernel ABI attribute structs ──────────────────────────────────────────

type bpfMapCreateAttr struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
	_          [76]byte
}

type bpfMapUpdateAttr struct {
	mapFd uint32
	_     uint32
	key   uint64
	value uint64
	flags uint64
}

type bpfProgLoadAttr struct {
	progType           uint32
	insnCnt            uint32
	insns              uint64
	license            uint64
	logLevel           uint32
	logSize            uint32
	logBuf             uint64
	kernVersion        uint32
	progFlags          uint32
	progName           [16]byte
	progIfindex        uint32
	expectedAttachType uint32
	progBTFFd          uint32
	funcInfoRecSize    uint32
	funcInfo           uint64
	funcInfoCnt        uint32
	lineInfoRecSize    uint32
	lineInfo           uint64
	lineInfoCnt        uint32
	attachBTFId        uint32
	attachProgFd       uint32
}

type perfEventAttr struct {
	eventType               uint32
	size                    uint32
	config                  uint64
	sampleFreq              uint64
	sampleType              uint64
	readFormat              uint64
	bits                    uint64
	wakeupEventsOrWatermark uint32
	bpType                  uint32
	bpAddr                  uint64
	bpLen                   uint64
}

type bpfInsn struct {
	code uint8
	regs uint8
	off  int16
	imm  int32
}

// ─── ELF parsing ────────────────────────────────────────────────────────────

type bpfElf struct {
	license  string
	mapDefs  map[string]bpfMapSpec
	progs    map[string][]bpfInsn
	relaSecs map[string][]bpfRela
}

type bpfMapSpec struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	flags      uint32
}

type bpfRela struct {
	insnIdx uint64
	symName string
}

func parseBPFELF(r io.ReaderAt) (*bpfElf, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("expected 64-bit ELF, got %v", f.Class)
	}
	if f.ByteOrder != binary.LittleEndian {
		return nil, fmt.Errorf("BPF objects must be little-endian (eBPF ABI)")
	}

	out := &bpfElf{
		mapDefs:  make(map[string]bpfMapSpec),
		progs:    make(map[string][]bpfInsn),
		relaSecs: make(map[string][]bpfRela),
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read symbol table: %w", err)
	}

	for _, sec := range f.Sections {
		switch {
		case sec.Name == "license":
			b, err := sec.Data()
			if err != nil {
				return nil, fmt.Errorf("read license: %w", err)
			}
			out.license = strings.TrimRight(string(b), "\x00")

		case sec.Name == ".maps" || sec.Name == "maps":
			if err := parseMapsSection(f, sec, syms, out); err != nil {
				return nil, err
			}

		case strings.HasPrefix(sec.Name, "tracepoint/"):
			insns, err := readBPFInsns(sec)
			if err != nil {
				return nil, fmt.Errorf("read program %q: %w", sec.Name, err)
			}
			out.progs[sec.Name] = insns

		case sec.Type == elf.SHT_REL || sec.Type == elf.SHT_RELA:
			target := strings.TrimPrefix(sec.Name, ".rela")
			target = strings.TrimPrefix(target, ".rel")
			if !strings.HasPrefix(target, "tracepoint/") {
				continue
			}
			relas, err := readRelas(f, sec, syms)
			if err != nil {
				return nil, fmt.Errorf("read relocations for %q: %w", sec.Name, err)
			}
			out.relaSecs[target] = relas
		}
	}

	if out.license == "" {
		out.license = "GPL"
	}

	return out, nil
}

// parseMapsSection reads map definitions from the BTF-style .maps section.
// Each map is a global struct whose first five uint32 fields encode: type,
// key_size, value_size, max_entries, map_flags.
func parseMapsSection(f *elf.File, sec *elf.Section, syms []elf.Symbol, out *bpfElf) error {
	data, err := sec.Data()
	if err != nil {
		return fmt.Errorf("read maps section: %w", err)
	}

	var secIdx elf.SectionIndex
	for i, s := range f.Sections {
		if s == sec {
			secIdx = elf.SectionIndex(i)
			break
		}
	}

	for _, sym := range syms {
		if sym.Section != secIdx || elf.ST_TYPE(sym.Info) != elf.STT_OBJECT {
			continue
		}
		off, size := sym.Value, sym.Size
		if size < 20 || int(off)+int(size) > len(data) {
			continue
		}
		mapData := data[off : off+size]
		out.mapDefs[sym.Name] = bpfMapSpec{
			mapType:    binary.LittleEndian.Uint32(mapData[0:4]),
			keySize:    binary.LittleEndian.Uint32(mapData[4:8]),
			valueSize:  binary.LittleEndian.Uint32(mapData[8:12]),
			maxEntries: binary.LittleEndian.Uint32(mapData[12:16]),
			flags:      binary.LittleEndian.Uint32(mapData[16:20]),
		}
	}

	return nil
}

func readBPFInsns(sec *elf.Section) ([]bpfInsn, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty program section %q", sec.Name)
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("section %q size %d not a multiple of 8", sec.Name, len(data))
	}

	insns := make([]bpfInsn, len(data)/8)
	r := bytes.NewReader(data)
	for i := range insns {
		if err := binary.Read(r, binary.LittleEndian, &insns[i]); err != nil {
			return nil, err
		}
	}
	return insns, nil
}

func readRelas(f *elf.File, sec *elf.Section, syms []elf.Symbol) ([]bpfRela, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}

	var relas []bpfRela
	switch sec.Type {
	case elf.SHT_RELA:
		const sz = 24
		if len(data)%sz != 0 {
			return nil, fmt.Errorf("RELA section size %d not a multiple of %d", len(data), sz)
		}
		r := bytes.NewReader(data)
		for r.Len() > 0 {
			var raw struct {
				Off    uint64
				Info   uint64
				Addend int64
			}
			if err := binary.Read(r, f.ByteOrder, &raw); err != nil {
				return nil, err
			}
			symIdx := raw.Info >> 32
			if int(symIdx) >= len(syms) {
				return nil, fmt.Errorf("symbol index %d out of range", symIdx)
			}
			relas = append(relas, bpfRela{insnIdx: raw.Off / 8, symName: syms[symIdx].Name})
		}
	case elf.SHT_REL:
		const sz = 16
		if len(data)%sz != 0 {
			return nil, fmt.Errorf("REL section size %d not a multiple of %d", len(data), sz)
		}
		r := bytes.NewReader(data)
		for r.Len() > 0 {
			var raw struct {
				Off  uint64
				Info uint64
			}
			if err := binary.Read(r, f.ByteOrder, &raw); err != nil {
				return nil, err
			}
			symIdx := raw.Info >> 32
			if int(symIdx) >= len(syms) {
				return nil, fmt.Errorf("symbol index %d out of range", symIdx)
			}
			relas = append(relas, bpfRela{insnIdx: raw.Off / 8, symName: syms[symIdx].Name})
		}
	}
	return relas, nil
}

// ─── BPF object loading ─────────────────────────────────────────────────────

type bpfObject struct {
	mapFDs       map[string]int
	progFDs      map[string]int
	perfFDs      []int
	ringbuf      *ringBufReader
	allowlistFD  int
}

func (o *bpfObject) Close() {
	if o.ringbuf != nil {
		o.ringbuf.close()
		o.ringbuf = nil
	}
	for _, fd := range o.perfFDs {
		_ = syscall.Close(fd)
	}
	for _, fd := range o.progFDs {
		_ = syscall.Close(fd)
	}
	for _, fd := range o.mapFDs {
		_ = syscall.Close(fd)
	}
}

// updateAllowlist inserts hash into the kernel allow-list map. It is safe to
// call only after loadBPFObject has returned successfully and before Close.
func (o *bpfObject) updateAllowlist(hash uint64) error {
	attr := bpfMapUpdateAttr{
		mapFd: uint32(o.allowlistFD),
		key:   uint64(uintptr(unsafe.Pointer(&hash))),
		flags: bpfAnyUpdate,
	}
	var valueByte uint8 = 1
	attr.value = uint64(uintptr(unsafe.Pointer(&valueByte)))

	_, err := bpfSyscall(bpfCmdMapUpdateElem, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(hash)
	runtime.KeepAlive(valueByte)
	return err
}

// loadBPFObject parses the BPF ELF object from r, creates the allow-list and
// ring-buffer maps, loads the tracepoint program, attaches it to
// sys_enter_execve on every online CPU, and opens the ring-buffer reader.
//
// Requires CAP_BPF (Linux ≥ 5.8) or CAP_SYS_ADMIN on older kernels.
func loadBPFObject(r io.ReaderAt) (*bpfObject, error) {
	if err := raiseMemlockRlimit(); err != nil {
		return nil, fmt.Errorf("raise RLIMIT_MEMLOCK: %w", err)
	}

	parsed, err := parseBPFELF(r)
	if err != nil {
		return nil, fmt.Errorf("parse BPF ELF: %w", err)
	}
	if len(parsed.progs) == 0 {
		return nil, errors.New("BPF object contains no tracepoint programs")
	}

	obj := &bpfObject{
		mapFDs:  make(map[string]int),
		progFDs: make(map[string]int),
	}

	// ── 1. Create kernel BPF maps ─────────────────────────────────────────

	rbMaxEntries := uint32(RingBufferPagesPerCPU * os.Getpagesize())
	for name, spec := range parsed.mapDefs {
		fd, err := createBPFMap(spec)
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("BPF map create %q: %w (requires CAP_BPF)", name, err)
		}
		obj.mapFDs[name] = fd
		if name == mapNameEvents && spec.maxEntries > 0 {
			rbMaxEntries = spec.maxEntries
		}
	}

	if _, ok := obj.mapFDs[mapNameAllowlist]; !ok {
		fd, err := createBPFMap(bpfMapSpec{mapType: bpfMapTypeHash, keySize: 8, valueSize: 1, maxEntries: MaxAllowlistEntries})
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("create %s: %w (requires CAP_BPF)", mapNameAllowlist, err)
		}
		obj.mapFDs[mapNameAllowlist] = fd
	}
	if _, ok := obj.mapFDs[mapNameEvents]; !ok {
		fd, err := createBPFMap(bpfMapSpec{mapType: bpfMapTypeRingBuf, maxEntries: rbMaxEntries})
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("create %s: %w (requires CAP_BPF)", mapNameEvents, err)
		}
		obj.mapFDs[mapNameEvents] = fd
	}
	obj.allowlistFD = obj.mapFDs[mapNameAllowlist]

	// ── 2. Load BPF programs ──────────────────────────────────────────────

	licenseBytes := append([]byte(parsed.license), 0)

	for secName, insns := range parsed.progs {
		if relas, ok := parsed.relaSecs[secName]; ok {
			if err := applyMapRelocations(insns, relas, obj.mapFDs); err != nil {
				obj.Close()
				return nil, fmt.Errorf("relocate %q: %w", secName, err)
			}
		}

		logBuf := make([]byte, 256*1024)
		attr := bpfProgLoadAttr{
			progType: bpfProgTypeTracepoint,
			insnCnt:  uint32(len(insns)),
			insns:    uint64(uintptr(unsafe.Pointer(&insns[0]))),
			license:  uint64(uintptr(unsafe.Pointer(&licenseBytes[0]))),
			logLevel: bpfLogLevel,
			logSize:  uint32(len(logBuf)),
			logBuf:   uint64(uintptr(unsafe.Pointer(&logBuf[0]))),
		}
		copy(attr.progName[:], shortProgName(secName))

		fd, err := bpfSyscall(bpfCmdProgLoad, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
		runtime.KeepAlive(insns)
		runtime.KeepAlive(licenseBytes)
		runtime.KeepAlive(logBuf)
		if err != nil {
			if verifierLog := extractLog(logBuf); verifierLog != "" {
				err = fmt.Errorf("%w; verifier log:\n%s", err, verifierLog)
			}
			obj.Close()
			return nil, fmt.Errorf("load BPF program %q: %w", secName, err)
		}
		obj.progFDs[secName] = fd
	}

	// ── 3. Attach tracepoints, one perf event per online CPU ──────────────

	numCPU := runtime.NumCPU()
	for secName, progFD := range obj.progFDs {
		parts := strings.SplitN(strings.TrimPrefix(secName, "tracepoint/"), "/", 2)
		if len(parts) != 2 {
			obj.Close()
			return nil, fmt.Errorf("cannot parse tracepoint group/name from section %q", secName)
		}
		tpGroup, tpName := parts[0], parts[1]

		tpID, err := readTracepointID(tpGroup, tpName)
		if err != nil {
			obj.Close()
			return nil, fmt.Errorf("tracepoint %s/%s: %w", tpGroup, tpName, err)
		}

		for cpu := 0; cpu < numCPU; cpu++ {
			attr := &perfEventAttr{
				eventType: perfTypeTracepoint,
				size:      uint32(unsafe.Sizeof(perfEventAttr{})),
				config:    uint64(tpID),
				bits:      1,
			}

			pfd, err := perfEventOpen(attr, -1, cpu, -1)
			if err != nil {
				obj.Close()
				return nil, fmt.Errorf("perf_event_open %s/%s cpu%d: %w", tpGroup, tpName, cpu, err)
			}
			obj.perfFDs = append(obj.perfFDs, pfd)

			if err := ioctlFd(pfd, perfEventIOCSetBPF, uintptr(progFD)); err != nil {
				obj.Close()
				return nil, fmt.Errorf("PERF_EVENT_IOC_SET_BPF %s/%s cpu%d: %w", tpGroup, tpName, cpu, err)
			}
			if err := ioctlFd(pfd, perfEventIOCEnable, 0); err != nil {
				obj.Close()
				return nil, fmt.Errorf("PERF_EVENT_IOC_ENABLE %s/%s cpu%d: %w", tpGroup, tpName, cpu, err)
			}
		}
	}

	// ── 4. Open ring-buffer reader ─────────────────────────────────────────

	rb, err := newRingBufReader(obj.mapFDs[mapNameEvents], rbMaxEntries)
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("ring buffer reader: %w", err)
	}
	obj.ringbuf = rb

	return obj, nil
}

func createBPFMap(spec bpfMapSpec) (int, error) {
	attr := bpfMapCreateAttr{
		mapType:    spec.mapType,
		keySize:    spec.keySize,
		valueSize:  spec.valueSize,
		maxEntries: spec.maxEntries,
		mapFlags:   spec.flags,
	}
	return bpfSyscall(bpfCmdMapCreate, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
}

func applyMapRelocations(insns []bpfInsn, relas []bpfRela, mapFDs map[string]int) error {
	for _, rel := range relas {
		fd, ok := mapFDs[rel.symName]
		if !ok {
			return fmt.Errorf("no fd for map %q", rel.symName)
		}
		idx := int(rel.insnIdx)
		if idx >= len(insns) {
			return fmt.Errorf("relocation instruction index %d out of range (len=%d)", idx, len(insns))
		}
		ins := &insns[idx]
		if ins.code != bpfOpLdImm64 {
			return fmt.Errorf("insn[%d]: expected LD_IMM64 (0x%02x), got 0x%02x", idx, bpfOpLdImm64, ins.code)
		}
		ins.regs = (ins.regs & 0x0F) | (bpfPseudoMapFD << 4)
		ins.imm = int32(fd)
		if idx+1 < len(insns) {
			insns[idx+1].imm = 0
		}
	}
	return nil
}

func readTracepointID(group, name string) (uint32, error) {
	idPath := filepath.Join(tracepointIDDir, group, name, "id")
	b, err := os.ReadFile(idPath)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w (debugfs/tracefs must be mounted)", idPath, err)
	}
	var id uint32
	if _, err := fmt.Sscan(strings.TrimSpace(string(b)), &id); err != nil {
		return 0, fmt.Errorf("parse tracepoint id from %q: %w", string(b), err)
	}
	return id, nil
}

func shortProgName(secName string) string {
	parts := strings.Split(secName, "/")
	name := parts[len(parts)-1]
	if len(name) > 15 {
		name = name[:15]
	}
	return name
}

func extractLog(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return strings.TrimSpace(string(buf))
}

// ─── Ring-buffer reader ──────────────────────────────────────────────────────
//
// Spec.md §4.2 spawns one reader task per online CPU against a single shared
// ring buffer; consumerPos is therefore advanced with a CAS loop so that
// concurrent reader goroutines never double-consume or corrupt a record.

type ringBufReader struct {
	ctrlMmap []byte
	dataMmap []byte
	mask     uint64
	closeCh  chan struct{}
}

func (rb *ringBufReader) consumerPos() *uint64 {
	return (*uint64)(unsafe.Pointer(&rb.ctrlMmap[0]))
}

func (rb *ringBufReader) producerPos() *uint64 {
	return (*uint64)(unsafe.Pointer(&rb.ctrlMmap[os.Getpagesize()]))
}

func newRingBufReader(mapFD int, dataSize uint32) (*ringBufReader, error) {
	pageSize := os.Getpagesize()
	ctrlSize := 2 * pageSize

	if dataSize == 0 || dataSize&(dataSize-1) != 0 {
		return nil, fmt.Errorf("ring buffer max_entries %d is not a power of two", dataSize)
	}

	ctrlMmap, err := syscall.Mmap(mapFD, 0, ctrlSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap control pages: %w", err)
	}

	dataMmap, err := syscall.Mmap(mapFD, int64(ctrlSize), int(dataSize), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		_ = syscall.Munmap(ctrlMmap)
		return nil, fmt.Errorf("mmap data pages: %w", err)
	}

	return &ringBufReader{
		ctrlMmap: ctrlMmap,
		dataMmap: dataMmap,
		mask:     uint64(dataSize - 1),
		closeCh:  make(chan struct{}),
	}, nil
}

// readSample blocks until a non-discarded ring-buffer record is available,
// then returns a copy of its data payload. Multiple goroutines (one per CPU,
// per spec.md §4.2) may call readSample concurrently on the same reader; the
// CAS loop below ensures exactly one of them claims any given record.
func (rb *ringBufReader) readSample(ctx context.Context) ([]byte, error) {
	const pollInterval = 250 * time.Microsecond

	for {
		cons := atomic.LoadUint64(rb.consumerPos())
		prod := atomic.LoadUint64(rb.producerPos())

		if cons == prod {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-rb.closeCh:
				return nil, errors.New("ring buffer reader closed")
			case <-time.After(pollInterval):
				continue
			}
		}

		off := cons & rb.mask
		if off+uint64(bpfRingBufHdrSize) > uint64(len(rb.dataMmap)) {
			atomic.CompareAndSwapUint64(rb.consumerPos(), cons, cons+uint64(bpfRingBufHdrSize))
			continue
		}

		rawLen := atomic.LoadUint32((*uint32)(unsafe.Pointer(&rb.dataMmap[off])))
		if rawLen&bpfRingBufBusyBit != 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-rb.closeCh:
				return nil, errors.New("ring buffer reader closed")
			case <-time.After(time.Microsecond):
				continue
			}
		}

		dataLen := rawLen &^ (bpfRingBufBusyBit | bpfRingBufDiscardBit)
		discard := rawLen&bpfRingBufDiscardBit != 0
		advance := uint64(bpfRingBufHdrSize) + uint64(alignUp(dataLen, 8))

		if !atomic.CompareAndSwapUint64(rb.consumerPos(), cons, cons+advance) {
			continue // another reader claimed this record first
		}
		if discard {
			continue
		}

		payload := make([]byte, dataLen)
		dataOff := (off + uint64(bpfRingBufHdrSize)) & rb.mask
		size := uint64(dataLen)

		if dataOff+size <= uint64(len(rb.dataMmap)) {
			copy(payload, rb.dataMmap[dataOff:dataOff+size])
		} else {
			first := uint64(len(rb.dataMmap)) - dataOff
			copy(payload, rb.dataMmap[dataOff:])
			copy(payload[first:], rb.dataMmap[:size-first])
		}

		return payload, nil
	}
}

func (rb *ringBufReader) close() {
	select {
	case <-rb.closeCh:
	default:
		close(rb.closeCh)
	}
	_ = syscall.Munmap(rb.dataMmap)
	_ = syscall.Munmap(rb.ctrlMmap)
}

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
