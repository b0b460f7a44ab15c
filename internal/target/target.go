// Package target describes the rules that select which processes the agent
// considers "tools of interest" and implements the matching logic shared by
// the polled Process Watcher and the kernel probe's allow-list loader.
package target

import "strings"

// Kind identifies which variant of Rule is populated.
type Kind string

const (
	// KindProcessName matches a process by its exact short name
	// (case-insensitive). A name of "any" matches any short name whose full
	// command line contains the conda-installation sentinel
	// "/opt/conda/bin" — see Matches.
	KindProcessName Kind = "process_name"

	// KindShortLivedExecutable names an executable that is intercepted by the
	// kernel probe for short-lived-process capture. The same name is matched
	// against the full command line by the polled watcher so that a process
	// that outlives one poll interval is still recognised.
	KindShortLivedExecutable Kind = "short_lived_executable"

	// KindCommandContains requires a case-insensitive substring match on the
	// full command line, optionally ANDed with an exact process-name match.
	KindCommandContains Kind = "command_contains"
)

// Rule describes a single target: which processes the agent should track as
// tools of interest, and how matched processes should be reported.
type Rule struct {
	Kind Kind

	// Name is the process short name for KindProcessName and the optional
	// process-name guard for KindCommandContains. For KindShortLivedExecutable
	// it is the executable name fed to both the polled matcher and the kernel
	// allow-list.
	Name string

	// Content is the required case-insensitive substring of the command line
	// for KindCommandContains. Unused by other kinds.
	Content string

	// DisplayName overrides Name for reporting. Empty means "use Name".
	DisplayName string

	// MergeWithParents and ForceAncestorToMatch are reporting hints only: the
	// matcher defined in this package ignores them (see spec Open Questions).
	// They are carried so that a reporting layer built on top of this package
	// can honour them without changing match semantics.
	MergeWithParents     bool
	ForceAncestorToMatch bool
}

// condaSentinel is required in the command line for a KindProcessName rule
// named "any" to match. This guards against treating every process as a
// target simply because a literal rule named "any" was configured.
const condaSentinel = "/opt/conda/bin"

// DisplayOrName returns rule's DisplayName if set, otherwise Name.
func (r Rule) DisplayOrName() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Name
}

// Matches reports whether the process described by shortName (the comm /
// executable base name) and cmdline (the full command line, space-joined
// argv) satisfies rule r. Matching is always case-insensitive.
func (r Rule) Matches(shortName, cmdline string) bool {
	switch r.Kind {
	case KindProcessName:
		if strings.EqualFold(r.Name, "any") {
			return containsFold(cmdline, condaSentinel)
		}
		return strings.EqualFold(shortName, r.Name)

	case KindShortLivedExecutable:
		return containsFold(cmdline, r.Name)

	case KindCommandContains:
		if r.Name != "" && !strings.EqualFold(shortName, r.Name) {
			return false
		}
		return containsFold(cmdline, r.Content)

	default:
		return false
	}
}

// Match returns the first rule in rules (in configuration order) that matches
// the given process, or false if none do.
func Match(rules []Rule, shortName, cmdline string) (Rule, bool) {
	for _, r := range rules {
		if r.Matches(shortName, cmdline) {
			return r, true
		}
	}
	return Rule{}, false
}

// ShortLivedExecutables returns the Name of every KindShortLivedExecutable
// rule in rules, in configuration order, for feeding the kernel allow-list.
func ShortLivedExecutables(rules []Rule) []string {
	var names []string
	for _, r := range rules {
		if r.Kind == KindShortLivedExecutable && r.Name != "" {
			names = append(names, r.Name)
		}
	}
	return names
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
