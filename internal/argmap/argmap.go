// Package argmap implements the ordered, reference-counted name->value
// map used throughout the configuration front end: lexer globals, block
// argument definitions, and per-invocation block arguments all share
// this type.
package argmap

import (
	"strings"
	"sync"
	"sync/atomic"
)

// ArgMap is an ordered map from normalized names to string values.
// Dashes and underscores are equivalent for lookup purposes, but the
// original spelling is preserved for iteration and error messages.
//
// ArgMap is safe for concurrent reads once shared; callers must not
// mutate an ArgMap (Set) after sharing it across goroutines or parse
// contexts, per the no-mutation-after-sharing rule in spec.md §5.
type ArgMap struct {
	mu     sync.Mutex
	order  []string          // insertion order, original spelling
	values map[string]string // normalized name -> value
	refs   int32
}

// New creates an ArgMap with an initial reference count of one.
func New() *ArgMap {
	return &ArgMap{
		values: make(map[string]string),
		refs:   1,
	}
}

func normalize(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Ref increments the reference count and returns the receiver, so that
// callers can write `shared := am.Ref()`.
func (m *ArgMap) Ref() *ArgMap {
	atomic.AddInt32(&m.refs, 1)
	return m
}

// Unref decrements the reference count. It is the caller's
// responsibility not to use the ArgMap after the count reaches zero;
// ArgMap carries no finalizer, matching the teacher's policy of
// explicit rather than GC-driven lifetime for shared parse state.
func (m *ArgMap) Unref() int32 {
	return atomic.AddInt32(&m.refs, -1)
}

// RefCount returns the current reference count, mainly for tests.
func (m *ArgMap) RefCount() int32 {
	return atomic.LoadInt32(&m.refs)
}

// Set assigns value to name, normalizing name for storage. Re-setting
// an existing name (under any normalization-equivalent spelling)
// overwrites the value in place without disturbing iteration order.
func (m *ArgMap) Set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(name)
	if _, exists := m.values[key]; !exists {
		m.order = append(m.order, name)
	}
	m.values[key] = value
}

// Get returns the value most recently Set under a name
// normalization-equivalent to name.
func (m *ArgMap) Get(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[normalize(name)]
	return v, ok
}

// Len reports the number of distinct (normalized) names held.
func (m *ArgMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// ForEach calls f once per entry in insertion order. f must not call
// back into m.
func (m *ArgMap) ForEach(f func(name, value string)) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()
	for _, name := range names {
		v, ok := m.Get(name)
		if !ok {
			continue
		}
		f(name, v)
	}
}

// Validate checks that every entry in m is present in defs, unless
// defs accepts varargs. It also requires that every mandatory key in
// defs (present with no default, i.e. an empty value) is present in
// m. ctxDescription is used only to build the returned error text.
func (m *ArgMap) Validate(defs *ArgMap, ctxDescription string) error {
	acceptsVarargs := false
	if defs != nil {
		if _, ok := defs.Get("__VARARGS__"); ok {
			acceptsVarargs = true
		}
	}

	var unknown []string
	m.ForEach(func(name, _ string) {
		if defs == nil {
			unknown = append(unknown, name)
			return
		}
		if _, ok := defs.Get(name); !ok && !acceptsVarargs {
			unknown = append(unknown, name)
		}
	})
	if len(unknown) > 0 {
		return &ValidationError{
			Context: ctxDescription,
			Unknown: unknown,
		}
	}

	var missing []string
	if defs != nil {
		defs.ForEach(func(name, def string) {
			if def != "" {
				return // has a default
			}
			if normalize(name) == "__VARARGS__" {
				return // varargs marker, not an argument
			}
			if _, ok := m.Get(name); !ok {
				missing = append(missing, name)
			}
		})
	}
	if len(missing) > 0 {
		return &ValidationError{
			Context: ctxDescription,
			Missing: missing,
		}
	}
	return nil
}

// FormatVarargs returns a space-separated "name(value)" list of
// entries in m that are not present in defs, used to forward unknown
// parameters into generator output as a synthetic __VARARGS__ value.
func (m *ArgMap) FormatVarargs(defs *ArgMap) string {
	var b strings.Builder
	first := true
	m.ForEach(func(name, value string) {
		if defs != nil {
			if _, ok := defs.Get(name); ok {
				return
			}
		}
		if !first {
			b.WriteByte(' ')
		}
		first = false
		b.WriteString(name)
		b.WriteByte('(')
		b.WriteString(value)
		b.WriteByte(')')
	})
	return b.String()
}

// ValidationError reports an ArgMap.Validate failure.
type ValidationError struct {
	Context string
	Unknown []string
	Missing []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("argument validation failed")
	if e.Context != "" {
		b.WriteString(" in ")
		b.WriteString(e.Context)
	}
	if len(e.Unknown) > 0 {
		b.WriteString(": unknown argument(s) ")
		b.WriteString(strings.Join(e.Unknown, ", "))
	}
	if len(e.Missing) > 0 {
		if len(e.Unknown) > 0 {
			b.WriteString(";")
		}
		b.WriteString(" missing mandatory argument(s) ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	return b.String()
}
