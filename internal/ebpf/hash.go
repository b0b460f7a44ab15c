package ebpf

// FNV-1a 64-bit constants (same offset basis and prime the kernel probe
// uses, so the userspace loader and the in-kernel hash agree bit-for-bit).
const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211
)

// ReverseBasenameHash computes the FNV-1a 64-bit hash of name's basename
// scanned right-to-left, matching the in-kernel algorithm exactly
// (spec.md §4.1): the probe never has a cheap way to find where a path
// string starts, so both sides key the allow-list on the hash of the
// basename read backwards from the final byte.
//
// name should be a bare executable name (e.g. "fastqc"), not a path; the
// loader only ever hashes configured target names, which are never paths.
// Given a path, only the trailing path component's bytes are hashed.
func ReverseBasenameHash(name string) uint64 {
	base := basename(name)
	h := fnvOffset64
	for i := len(base) - 1; i >= 0; i-- {
		h ^= uint64(base[i])
		h *= fnvPrime64
	}
	return h
}

// basename returns the final path component of s, mirroring the kernel
// probe's right-to-left scan for '/' or '\' (spec.md §4.1).
func basename(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' || s[i] == '\\' {
			return s[i+1:]
		}
	}
	return s
}
