// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// package errors
var (
	ErrTimeout         = errors.New("wait timed out")
	ErrSlotInFlight    = errors.New("frame slot is still in flight")
	ErrTooManyObjects  = errors.New("render object count exceeds capacity")
	ErrTransferBusy    = errors.New("immediate submit already in progress")
	ErrUnknownMaterial = errors.New("unknown material")
	ErrUnknownMesh     = errors.New("unknown mesh")
)

// DeviceError is a GPU call that did not report success.
type DeviceError struct {
	Op  string
	Err error
}

// Error implements interface
func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s(): %s", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError wraps err as a failure of the GPU call op.
func NewDeviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Op: op, Err: err}
}

// IsFatal reports whether err is a device failure or an expired wait.
// Both are treated as unrecoverable.
func IsFatal(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) || errors.Is(err, ErrTimeout)
}

// FailurePolicy decides what the frame loop does with a failed frame.
type FailurePolicy int

// Failure policies
const (
	// AbortOnFailure terminates on any fatal error.
	AbortOnFailure FailurePolicy = iota
	// LogAndContinue logs the error and keeps the loop running.
	LogAndContinue
)

// String implements fmt.Stringer
func (p FailurePolicy) String() string {
	switch p {
	case AbortOnFailure:
		return "abort"
	case LogAndContinue:
		return "continue"
	}
	return fmt.Sprintf("FailurePolicy(%d)", int(p))
}

// ParseFailurePolicy parses the policy name used in configuration.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return AbortOnFailure, nil
	case "continue":
		return LogAndContinue, nil
	}
	return AbortOnFailure, fmt.Errorf("unknown failure policy %q", s)
}

// Stop logs err and reports whether the frame loop has to stop.
// Errors that are not fatal never stop the loop.
func (p FailurePolicy) Stop(logger log.FieldLogger, err error) bool {
	if err == nil {
		return false
	}
	fatal := IsFatal(err)
	entry := logger.WithError(err).WithField("fatal", fatal)
	if fatal && p == AbortOnFailure {
		entry.Error("frame failed, aborting")
		return true
	}
	entry.Warn("frame failed")
	return false
}
