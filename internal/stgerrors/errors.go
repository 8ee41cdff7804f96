// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package stgerrors defines the closed set of error kinds the stack
// engine reports. Callers distinguish them with errors.As, never by
// matching on a message string.
package stgerrors

import "fmt"

// Kind is one of the error kinds enumerated in the design: a taxonomy,
// not a set of Go types in its own right.
type Kind string

const (
	NotInitialised           Kind = "not_initialised"
	InvalidName              Kind = "invalid_name"
	NameCollision            Kind = "name_collision"
	UnknownPatch             Kind = "unknown_patch"
	StackInvariantWouldBreak Kind = "stack_invariant_would_break"
	LocalChanges             Kind = "local_changes"
	ApplyFailed              Kind = "apply_failed"
	MergeConflict            Kind = "merge_conflict"
	ConcurrentStackMutation  Kind = "concurrent_stack_mutation"
	UnsafeArchive            Kind = "unsafe_archive"
	UnsupportedStripLevel    Kind = "unsupported_strip_level"
	ExternalToolFailed       Kind = "external_tool_failed"
	Protected                Kind = "protected"
)

// Error is the concrete error type carrying a Kind plus contextual
// payload. It wraps an optional underlying cause for errors.Unwrap.
type Error struct {
	Kind    Kind
	Patch   string // patch name, when applicable
	Step    string // the failing step identifier, for internal errors
	Rejects []string // .rej file paths, for ApplyFailed
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Patch != "" {
		msg += fmt.Sprintf(" (patch %q)", e.Patch)
	}
	if e.Step != "" {
		msg += fmt.Sprintf(" [step %s]", e.Step)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, stgerrors.NotInitialised) work by comparing
// kinds, since Kind values act as sentinels here.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind with an optional cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithPatch attaches a patch name for user-facing messages.
func (e *Error) WithPatch(name string) *Error {
	e.Patch = name
	return e
}

// WithStep attaches the failing step identifier (commit phase bookkeeping).
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// Sentinel returns a zero-value *Error of kind k, suitable as the
// target argument to errors.Is.
func Sentinel(k Kind) *Error { return &Error{Kind: k} }

// ExitCode maps a Kind to the process exit code spec.md §6 assigns:
// 0 success, 1 user error, 2 internal failure, 3 concurrent
// modification.
func (k Kind) ExitCode() int {
	switch k {
	case ConcurrentStackMutation:
		return 3
	case ExternalToolFailed:
		return 2
	default:
		return 1
	}
}
