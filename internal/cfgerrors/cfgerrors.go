// Package cfgerrors holds the typed error kinds used across the
// configuration front end, following the shape of the teacher's
// internal/errors package: one struct per kind, a New* constructor,
// chainable With* mutators, and Unwrap for errors.Is/As.
package cfgerrors

import (
	"fmt"
	"time"
)

// Kind names an error taxonomy bucket from spec.md §7.
type Kind string

const (
	KindLex      Kind = "lex"
	KindInclude  Kind = "include"
	KindGrammar  Kind = "grammar"
	KindPlugin   Kind = "plugin"
	KindConfig   Kind = "config"
	KindStart    Kind = "start"
	KindPersist  Kind = "persist"
)

// Location identifies a point in an include chain for diagnostics.
type Location struct {
	File        string
	FirstLine   int
	FirstColumn int
	LastLine    int
	LastColumn  int
}

func (l Location) String() string {
	if l.File == "" {
		return "#buffer"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.FirstLine, l.FirstColumn)
}

// LexError reports a malformed literal, unterminated backtick
// reference, disallowed apostrophe-in-apostrophe-string, or unknown
// escape sequence.
type LexError struct {
	Location   Location
	Message    string
	Underlying error
	Timestamp  time.Time
}

func NewLexError(loc Location, message string) *LexError {
	return &LexError{Location: loc, Message: message, Timestamp: time.Now()}
}

func (e *LexError) WithUnderlying(err error) *LexError {
	e.Underlying = err
	return e
}

func (e *LexError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Location, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

func (e *LexError) Unwrap() error { return e.Underlying }

// IncludeError reports a file-not-found, unreadable directory,
// exceeded include depth, or glob failure other than no-match.
type IncludeError struct {
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

func NewIncludeError(op, path string, err error) *IncludeError {
	return &IncludeError{Operation: op, Path: path, Underlying: err, Timestamp: time.Now()}
}

func (e *IncludeError) Error() string {
	return fmt.Sprintf("include %s failed for %q: %v", e.Operation, e.Path, e.Underlying)
}

func (e *IncludeError) Unwrap() error { return e.Underlying }

// GrammarError reports a bad token at a given location, optionally
// annotated with a "did you mean" suggestion.
type GrammarError struct {
	Location   Location
	Token      string
	Message    string
	Suggestion string
	Timestamp  time.Time
}

func NewGrammarError(loc Location, token, message string) *GrammarError {
	return &GrammarError{Location: loc, Token: token, Message: message, Timestamp: time.Now()}
}

func (e *GrammarError) WithSuggestion(name string) *GrammarError {
	e.Suggestion = name
	return e
}

func (e *GrammarError) Error() string {
	msg := fmt.Sprintf("%s: %s (near token %q)", e.Location, e.Message, e.Token)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean `%s`?)", e.Suggestion)
	}
	return msg
}

// PluginError reports an unknown module, a candidate that failed to
// load, or an incompatible version.
type PluginError struct {
	Module     string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

func NewPluginError(op, module string, err error) *PluginError {
	return &PluginError{Operation: op, Module: module, Underlying: err, Timestamp: time.Now()}
}

func (e *PluginError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("plugin %s failed for module %q: %v", e.Operation, e.Module, e.Underlying)
	}
	return fmt.Sprintf("plugin %s failed for module %q", e.Operation, e.Module)
}

func (e *PluginError) Unwrap() error { return e.Underlying }

// ConfigError reports a duplicate object name, a dangling reference,
// or a missing @version.
type ConfigError struct {
	Location  Location
	Field     string
	Message   string
	Timestamp time.Time
}

func NewConfigError(loc Location, field, message string) *ConfigError {
	return &ConfigError{Location: loc, Field: field, Message: message, Timestamp: time.Now()}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: config error for %s: %s", e.Location, e.Field, e.Message)
}

// StartError reports a pipe init failure, carrying the name of the
// node whose Init returned false.
type StartError struct {
	NodeName  string
	Timestamp time.Time
}

func NewStartError(nodeName string) *StartError {
	return &StartError{NodeName: nodeName, Timestamp: time.Now()}
}

func (e *StartError) Error() string {
	return fmt.Sprintf("init failed for node %q", e.NodeName)
}

// PersistError reports a corrupt header/record, unsupported format,
// disk-full-during-grow, or rename-failed-at-commit condition.
type PersistError struct {
	Operation  string
	Path       string
	Underlying error
	Timestamp  time.Time
}

func NewPersistError(op, path string, err error) *PersistError {
	return &PersistError{Operation: op, Path: path, Underlying: err, Timestamp: time.Now()}
}

func (e *PersistError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("persist %s failed for %q: %v", e.Operation, e.Path, e.Underlying)
	}
	return fmt.Sprintf("persist %s failed: %v", e.Operation, e.Underlying)
}

func (e *PersistError) Unwrap() error { return e.Underlying }

// MultiError aggregates several errors, e.g. rollback failures
// encountered while rewinding a partially started ConfigTree.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

func (e *MultiError) Unwrap() []error { return e.Errors }
