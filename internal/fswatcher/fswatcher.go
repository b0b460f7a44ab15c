// Package fswatcher tracks the workflow directory for files that match
// configured patterns and uploads new or truncated content to the collector
// (spec.md §4.4).
package fswatcher

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is what to do with a file matched by a FilePattern.
type Action string

const (
	ActionUpload Action = "upload"
	ActionNone   Action = "none"
)

// PatternKind selects how a FilePattern matches candidate paths (spec.md §4.4).
type PatternKind int

const (
	PatternDirectoryEquals PatternKind = iota
	PatternFilenameRegex
	PatternFullPathRegex
)

// Rule pairs a FilePattern with the action to take on matching files.
type Rule struct {
	Kind    PatternKind
	Pattern string // literal directory path (PatternDirectoryEquals) or regex source
	Action  Action

	compiled *regexp.Regexp
}

func (r *Rule) matches(path string) bool {
	switch r.Kind {
	case PatternDirectoryEquals:
		return filepath.Dir(path) == r.Pattern
	case PatternFilenameRegex:
		return r.re().MatchString(filepath.Base(path))
	case PatternFullPathRegex:
		return r.re().MatchString(path)
	default:
		return false
	}
}

func (r *Rule) re() *regexp.Regexp {
	if r.compiled == nil {
		r.compiled = regexp.MustCompile(r.Pattern)
	}
	return r.compiled
}

// fileState is what the watcher remembers about one watched file between polls.
type fileState struct {
	size       int64
	modTime    time.Time
	lastUpload time.Time
	cachedPath string
	action     Action
}

// Uploader performs the presigned-PUT upload described in spec.md §6.
type Uploader interface {
	UploadFile(ctx context.Context, fileName string, r io.Reader, size int64) error
}

// Watcher implements the File-System Watcher (spec.md §4.4).
type Watcher struct {
	root              string
	cacheDir          string
	rules             []Rule
	staleAfter        time.Duration
	uploader          Uploader
	clock             func() time.Time

	allFiles     map[string]fileState
	priorWatched map[string]fileState
}

// New constructs a Watcher rooted at workflowDir, caching truncated-file
// snapshots under cacheDir (which is wiped and recreated immediately, per
// spec.md §4.4, §5). If clock is nil, time.Now is used.
func New(workflowDir, cacheDir string, rules []Rule, staleAfter time.Duration, uploader Uploader, clock func() time.Time) (*Watcher, error) {
	if clock == nil {
		clock = time.Now
	}
	if err := os.RemoveAll(cacheDir); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("fswatcher: wipe cache dir: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("fswatcher: create cache dir: %w", err)
	}

	return &Watcher{
		root:         workflowDir,
		cacheDir:     cacheDir,
		rules:        rules,
		staleAfter:   staleAfter,
		uploader:     uploader,
		clock:        clock,
		allFiles:     make(map[string]fileState),
		priorWatched: make(map[string]fileState),
	}, nil
}

// WatchedFiles returns the set of paths observed on the most recent Poll,
// used by the rule engine's FileExists predicate as workspace_files
// (spec.md §4.6, §4.7).
func (w *Watcher) WatchedFiles() map[string]struct{} {
	out := make(map[string]struct{}, len(w.allFiles))
	for path := range w.allFiles {
		out[path] = struct{}{}
	}
	return out
}

// Poll runs one enumerate/diff/upload/cache cycle (spec.md §4.4 algorithm).
func (w *Watcher) Poll(ctx context.Context) error {
	found, err := w.enumerate()
	if err != nil {
		return fmt.Errorf("fswatcher: enumerate: %w", err)
	}

	candidates := w.projectCandidates(found)

	paths := make(map[string]struct{}, len(w.priorWatched)+len(candidates))
	for p := range w.priorWatched {
		paths[p] = struct{}{}
	}
	for p := range candidates {
		paths[p] = struct{}{}
	}

	for path := range paths {
		old, hadOld := w.priorWatched[path]
		newState, hasNew := candidates[path]

		decision, uploadPath := w.decide(path, old, hadOld, newState, hasNew)
		if decision != "" {
			if err := w.upload(ctx, path, decision, uploadPath, old); err != nil {
				return err
			}
		}
	}

	// Cache a snapshot of every Upload-action entry whose mtime advanced, so a
	// later truncation can still upload its pre-truncation contents.
	for path, newState := range candidates {
		old, hadOld := w.priorWatched[path]
		if hadOld {
			newState.lastUpload = old.lastUpload
		}
		if newState.action != ActionUpload {
			candidates[path] = newState
			continue
		}
		if hadOld && !newState.modTime.After(old.modTime) {
			newState.cachedPath = old.cachedPath
			candidates[path] = newState
			continue
		}
		if cachedPath, err := w.cacheCopy(path); err == nil {
			newState.cachedPath = cachedPath
		} else if hadOld {
			newState.cachedPath = old.cachedPath
		}
		candidates[path] = newState
	}

	w.priorWatched = candidates
	w.allFiles = found
	return nil
}

type uploadKind string

const (
	uploadNew uploadKind = "new"
	uploadOld uploadKind = "old"
)

// decide computes the UploadDecision for one path from the
// (old action?, new action?) pair (spec.md §4.4 step 3). Only a path whose
// prior watched action was Upload can ever produce an upload; every other
// pair resolves to None.
func (w *Watcher) decide(path string, old fileState, hadOld bool, n fileState, hasNew bool) (uploadKind, string) {
	if !hadOld || old.action != ActionUpload {
		return "", ""
	}

	switch {
	case hasNew && n.action == ActionUpload:
		if n.modTime.Equal(old.modTime) &&
			w.clock().Sub(n.modTime) > w.staleAfter &&
			old.lastUpload.Before(n.modTime) {
			return uploadNew, path
		}
		if n.size < old.size {
			return uploadOld, old.cachedPath
		}
		return "", ""

	case hasNew && n.action != ActionUpload: // (Upload, None)
		if n.size < old.size {
			return uploadOld, old.cachedPath
		}
		return "", ""

	case !hasNew: // (Upload, ∅): file vanished
		return uploadOld, old.cachedPath

	default:
		return "", ""
	}
}

func (w *Watcher) upload(ctx context.Context, path string, kind uploadKind, srcPath string, old fileState) error {
	if w.uploader == nil || srcPath == "" {
		return nil
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return nil // vanished between decision and upload; next poll will reconcile
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}

	name := filepath.Base(path)
	if err := w.uploader.UploadFile(ctx, name, f, info.Size()); err != nil {
		return fmt.Errorf("fswatcher: upload %s (%s): %w", path, kind, err)
	}

	if state, ok := w.priorWatched[path]; ok {
		state.lastUpload = w.clock()
		w.priorWatched[path] = state
	}
	return nil
}

func (w *Watcher) enumerate() (map[string]fileState, error) {
	found := make(map[string]fileState)
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // transient stat error; skip, not fatal (spec.md §7)
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		found[path] = fileState{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (w *Watcher) projectCandidates(found map[string]fileState) map[string]fileState {
	candidates := make(map[string]fileState)
	for path, state := range found {
		for i := range w.rules {
			r := &w.rules[i]
			if r.matches(path) {
				state.action = r.Action
				candidates[path] = state
				break
			}
		}
	}
	return candidates
}

func (w *Watcher) cacheCopy(srcPath string) (string, error) {
	dstPath := filepath.Join(w.cacheDir, strings.ReplaceAll(uuid.New().String(), "-", "")[:16])

	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return dstPath, nil
}

