// Package include implements the include stack (spec.md §4.4): a
// stack of input sources (file, directory-of-files, in-memory buffer)
// with bounded depth, a single-pending-source invariant, and
// per-frame line/column tracking.
package include

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/lci-cfg/internal/cfgerrors"
	"github.com/standardbeagle/lci-cfg/internal/cfglog"
)

// DefaultMaxDepth is the bound spec.md §3/§4.4 requires (">= 256").
const DefaultMaxDepth = 256

type frameKind int

const (
	frameFile frameKind = iota
	frameBuffer
)

// frame is either an active leaf (a single file's or buffer's bytes
// currently being read) or, for a directory/glob include, a leaf plus
// a queue of still-pending sibling paths that will be swapped in
// without popping the frame (spec.md §3 IncludeFrame / §4.4).
type frame struct {
	kind         frameKind
	name         string // display name of the file currently active, or buffer name
	data         []byte
	pos          int
	line, col    int
	pendingPaths []string // remaining admissible paths, directory/glob frames only
	groupLabel   string   // original directory/glob argument, for diagnostics
}

// Location identifies a position for diagnostics.
type Location struct {
	Line, Column int
	FrameName    string
}

// Stack is the include stack described by spec.md §4.4.
type Stack struct {
	frames      []*frame
	maxDepth    int
	includePath []string // colon-separated search directories
}

// New creates an empty include stack with the default depth bound.
func New(includePath string) *Stack {
	s := &Stack{maxDepth: DefaultMaxDepth}
	s.SetIncludePath(includePath)
	return s
}

// SetMaxDepth overrides the depth bound. internal/cfg applies the tool
// config's max_depth through it, and tests use it to reach the
// exceeded-depth error path cheaply.
func (s *Stack) SetMaxDepth(n int) {
	s.maxDepth = n
}

// SetIncludePath replaces the colon-separated search path used to
// resolve relative includes.
func (s *Stack) SetIncludePath(includePath string) {
	s.includePath = nil
	for _, p := range strings.Split(includePath, ":") {
		if p != "" {
			s.includePath = append(s.includePath, p)
		}
	}
}

// Depth reports the current number of frames on the stack.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// admissibleName reports whether a directory entry name is eligible
// for inclusion per spec.md §3: no leading dot, characters restricted
// to [A-Za-z0-9_.-].
func admissibleName(name string) bool {
	if name == "" || name[0] == '.' {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
			continue
		default:
			return false
		}
	}
	return true
}

func isGlobPattern(path string) bool {
	return strings.ContainsAny(path, "*?[")
}

// resolvePath implements spec.md §4.4's file-include resolution: an
// absolute path is tried verbatim, a relative one is searched in the
// colon-separated include-path.
func (s *Stack) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	for _, dir := range s.includePath {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return "", cfgerrors.NewIncludeError("resolve", path, os.ErrNotExist)
}

// PushFileOrDirectory resolves path (a file, a directory, or a glob
// pattern) and pushes it as a new frame. Depth is checked before the
// push.
func (s *Stack) PushFileOrDirectory(path string) error {
	if len(s.frames)+1 > s.maxDepth {
		return cfgerrors.NewIncludeError("push", path, errDepthExceeded)
	}

	if isGlobPattern(path) {
		return s.pushGlob(path)
	}

	resolved, err := s.resolvePath(path)
	if err != nil {
		return err
	}
	info, statErr := os.Stat(resolved)
	if statErr != nil {
		return cfgerrors.NewIncludeError("stat", resolved, statErr)
	}
	if info.IsDir() {
		return s.pushDirectory(resolved)
	}
	return s.pushSingleFile(resolved)
}

func (s *Stack) pushSingleFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfgerrors.NewIncludeError("read", path, err)
	}
	f := &frame{kind: frameFile, name: path, data: data, line: 1, col: 1}
	s.frames = append(s.frames, f)
	cfglog.Include("pushed file %s (depth=%d)", path, len(s.frames))
	return nil
}

// pushDirectory scans dir, stats candidates concurrently
// (bounded errgroup, per SPEC_FULL.md's domain-stack wiring), filters
// to admissible names, sorts byte-wise, and activates the first entry
// without popping until all entries are exhausted.
func (s *Stack) pushDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return cfgerrors.NewIncludeError("readdir", dir, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() || !admissibleName(e.Name()) {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, e.Name()))
	}

	paths, err := probeReadable(candidates)
	if err != nil {
		return cfgerrors.NewIncludeError("probe", dir, err)
	}
	return s.activateGroup(dir, paths)
}

func (s *Stack) pushGlob(pattern string) error {
	base, cleanPattern := splitGlobBase(pattern)
	base = s.resolveBaseDir(base)
	matches, err := doublestar.Glob(os.DirFS(base), cleanPattern)
	if err != nil {
		return cfgerrors.NewIncludeError("glob", pattern, err)
	}

	var candidates []string
	for _, m := range matches {
		name := filepath.Base(m)
		if !admissibleName(name) {
			continue
		}
		candidates = append(candidates, filepath.Join(base, m))
	}

	paths, err := probeReadable(candidates)
	if err != nil {
		return cfgerrors.NewIncludeError("glob-probe", pattern, err)
	}
	return s.activateGroup(pattern, paths)
}

// splitGlobBase separates the non-glob directory prefix from the
// pattern portion so doublestar.Glob can operate relative to an
// fs.FS rooted at that prefix.
func splitGlobBase(pattern string) (base, rel string) {
	dir := filepath.Dir(pattern)
	for dir != "." && dir != "/" && isGlobPattern(dir) {
		dir = filepath.Dir(dir)
	}
	if dir == "." {
		return ".", pattern
	}
	rel, err := filepath.Rel(dir, pattern)
	if err != nil {
		return ".", pattern
	}
	return dir, rel
}

// resolveBaseDir applies the same include-path search rule as
// resolvePath to a glob's non-glob base directory: absolute bases are
// used verbatim, relative ones are searched in the include-path
// before falling back to the current directory.
func (s *Stack) resolveBaseDir(base string) string {
	if filepath.IsAbs(base) {
		return base
	}
	for _, dir := range s.includePath {
		candidate := filepath.Join(dir, base)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return base
}

// probeReadable concurrently stats each candidate to confirm it exists
// and is a regular file (read permission is not checked here; an
// unreadable file fails later when it is opened), bounded to
// GOMAXPROCS workers, then returns
// the survivors sorted lexicographically (byte-wise) for deterministic
// ordering across filesystems (spec.md §9).
func probeReadable(candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ok := make([]bool, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(maxWorkers())
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			info, err := os.Stat(c)
			if err != nil {
				return nil // unreadable candidates are silently dropped, not fatal
			}
			ok[i] = info.Mode().IsRegular()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for i, c := range candidates {
		if ok[i] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

func maxWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}

// activateGroup pushes one frame for a directory/glob include whose
// admissible entries are paths, opening the first and queuing the
// rest as pendingPaths.
func (s *Stack) activateGroup(groupLabel string, paths []string) error {
	if len(paths) == 0 {
		cfglog.Warn("include group %q matched no admissible files", groupLabel)
		return nil
	}
	first := paths[0]
	data, err := os.ReadFile(first)
	if err != nil {
		return cfgerrors.NewIncludeError("read", first, err)
	}
	f := &frame{
		kind:         frameFile,
		name:         first,
		data:         data,
		line:         1,
		col:          1,
		pendingPaths: paths[1:],
		groupLabel:   groupLabel,
	}
	s.frames = append(s.frames, f)
	cfglog.Include("activated group %q -> %s (%d pending)", groupLabel, first, len(f.pendingPaths))
	return nil
}

// PushBuffer pushes an in-memory buffer frame, e.g. block-generator
// output.
func (s *Stack) PushBuffer(name string, content []byte) error {
	if len(s.frames)+1 > s.maxDepth {
		return cfgerrors.NewIncludeError("push", name, errDepthExceeded)
	}
	s.frames = append(s.frames, &frame{kind: frameBuffer, name: name, data: content, line: 1, col: 1})
	return nil
}

// NextByte returns the next byte of input across the whole stack,
// transparently advancing through pending group paths and popping
// exhausted frames. ok is false once the entire stack is drained.
func (s *Stack) NextByte() (b byte, ok bool, loc Location, err error) {
	for {
		if len(s.frames) == 0 {
			return 0, false, Location{}, nil
		}
		top := s.frames[len(s.frames)-1]
		if top.pos < len(top.data) {
			c := top.data[top.pos]
			top.pos++
			loc = Location{Line: top.line, Column: top.col, FrameName: s.displayName()}
			if c == '\n' {
				top.line++
				top.col = 1
			} else {
				top.col++
			}
			return c, true, loc, nil
		}

		done, advanceErr := s.popOrAdvance()
		if advanceErr != nil {
			return 0, false, Location{}, advanceErr
		}
		if done {
			return 0, false, Location{}, nil
		}
	}
}

// popOrAdvance implements spec.md §4.4's "completing one pending path
// advances to the next without popping until all are exhausted".
func (s *Stack) popOrAdvance() (done bool, err error) {
	top := s.frames[len(s.frames)-1]
	if len(top.pendingPaths) > 0 {
		next := top.pendingPaths[0]
		top.pendingPaths = top.pendingPaths[1:]
		data, readErr := os.ReadFile(next)
		if readErr != nil {
			return false, cfgerrors.NewIncludeError("read", next, readErr)
		}
		top.name = next
		top.data = data
		top.pos = 0
		top.line, top.col = 1, 1
		cfglog.Include("advanced group %q -> %s (%d pending)", top.groupLabel, next, len(top.pendingPaths))
		return false, nil
	}

	s.frames = s.frames[:len(s.frames)-1]
	cfglog.Include("popped frame %q (depth=%d)", top.name, len(s.frames))
	return len(s.frames) == 0, nil
}

// PopOrAdvance is the exported form used by callers (the lexer) that
// need to force completion of the current leaf without reading more
// bytes from it, e.g. after an @include directive line.
func (s *Stack) PopOrAdvance() (done bool, err error) {
	if len(s.frames) == 0 {
		return true, nil
	}
	return s.popOrAdvance()
}

// TopLocation returns the current read position, per spec.md §4.4:
// diagnostics climb the stack from the top downward to find the
// nearest file frame for its display name, falling back to "#buffer".
func (s *Stack) TopLocation() Location {
	if len(s.frames) == 0 {
		return Location{FrameName: "#buffer"}
	}
	top := s.frames[len(s.frames)-1]
	return Location{Line: top.line, Column: top.col, FrameName: s.displayName()}
}

func (s *Stack) displayName() string {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].kind == frameFile {
			return s.frames[i].name
		}
	}
	return "#buffer"
}

// errDepthExceeded is the sentinel underlying error for
// exceeded-include-depth failures.
var errDepthExceeded = depthExceededError{}

type depthExceededError struct{}

func (depthExceededError) Error() string { return "include depth exceeded" }
