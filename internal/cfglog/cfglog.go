// Package cfglog is the ambient logging sink for the configuration
// front end. It deliberately mirrors the teacher's internal/debug
// package rather than adopting a third-party structured logger: a
// settable io.Writer, a build-time enable flag, and small
// component-tagged helpers.
package cfglog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// EnableDebug is a build flag, overridable at build time with
//
//	go build -ldflags "-X github.com/standardbeagle/lci-cfg/internal/cfglog.EnableDebug=true"
var EnableDebug = "false"

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
)

// SetOutput redirects log output. Passing nil disables output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func isEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	v := os.Getenv("LCICFG_DEBUG")
	return v == "1" || v == "true"
}

func writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return output
}

func tagged(component, format string, args ...interface{}) {
	if !isEnabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format+"\n", append([]interface{}{component}, args...)...)
}

// Lex logs lexer-level diagnostics (token dispatch, pragma handling).
func Lex(format string, args ...interface{}) { tagged("LEX", format, args...) }

// Include logs include-stack activity (push/advance/pop).
func Include(format string, args ...interface{}) { tagged("INCLUDE", format, args...) }

// Plugin logs plug-in registry activity (discovery, construction).
func Plugin(format string, args ...interface{}) { tagged("PLUGIN", format, args...) }

// Tree logs config-tree start/stop activity.
func Tree(format string, args ...interface{}) { tagged("TREE", format, args...) }

// Persist logs persist-store activity (alloc/grow/commit).
func Persist(format string, args ...interface{}) { tagged("PERSIST", format, args...) }

// Warn always logs, regardless of the debug flag: obsolete-keyword
// warnings and similar user-visible (but non-fatal) notices go here.
func Warn(format string, args ...interface{}) {
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[WARN] "+format+"\n", args...)
}

// Error always logs, regardless of the debug flag.
func Error(format string, args ...interface{}) {
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[ERROR] "+format+"\n", args...)
}
