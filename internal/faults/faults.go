// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

// Package faults defines the error taxonomy shared by every Walvault
// component. Each failure carries a Kind so call sites can handle the
// taxonomy exhaustively instead of matching on error strings.
//
// Propagation policy: TransientIO is retried locally with bounded backoff
// before escalating; every other kind propagates immediately to the caller
// and the alerting path with full context.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindTransientIO marks retryable network/storage hiccups.
	KindTransientIO Kind = "TransientIO"

	// KindCorruption marks checksum or container mismatches. Never
	// retried, always fatal to the artifact involved.
	KindCorruption Kind = "Corruption"

	// KindGap marks a missing log sequence id. Fatal to any restore
	// spanning it.
	KindGap Kind = "Gap"

	// KindBusy marks a concurrent operation already in progress. Callers
	// fail fast and may retry later.
	KindBusy Kind = "Busy"

	// KindPolicyViolation marks requests the available artifacts cannot
	// satisfy, such as a restore target older than every backup.
	KindPolicyViolation Kind = "PolicyViolation"

	// KindValidationFailure marks a staged validation failure and carries
	// the failing stage in the message.
	KindValidationFailure Kind = "ValidationFailure"

	// KindNotFound marks a catalog miss.
	KindNotFound Kind = "NotFound"

	// KindInternal marks unclassified internal failures.
	KindInternal Kind = "Internal"
)

// Error is the tagged error type used across Walvault.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same Kind. This lets
// sentinel errors like ErrBusy match wrapped instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a new tagged error.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new tagged error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for untagged errors.
// A nil error has no kind and returns the empty string.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientIO
}

// Sentinel errors for the common kinds. Compare with errors.Is.
var (
	ErrBusy             = New(KindBusy, "operation already in progress")
	ErrGap              = New(KindGap, "gap in archived log sequence")
	ErrCorruption       = New(KindCorruption, "artifact corrupted")
	ErrNotFound         = New(KindNotFound, "not found")
	ErrNoSuitableBackup = New(KindPolicyViolation, "no backup precedes the recovery target")
	ErrDestinationBusy  = New(KindBusy, "restore destination has active consumers")
)
