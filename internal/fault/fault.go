// Package fault classifies pipeline failures so callers can tell a missing
// tool apart from a destructive command that went wrong.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of a pipeline error.
type Kind string

const (
	// ToolMissing means a required external utility is not installed.
	// Raised by the pre-flight check, before anything destructive runs.
	ToolMissing Kind = "tool_missing"
	// InvalidTarget means a selection is not a usable block device or a
	// required input is unset.
	InvalidTarget Kind = "invalid_target"
	// DestructiveOpFailed means a wipe, partition or format command
	// returned failure. No further mutation is attempted after this.
	DestructiveOpFailed Kind = "destructive_op_failed"
	// DiscoveryMismatch means fewer partitions were found after commit
	// than the plan created.
	DiscoveryMismatch Kind = "discovery_mismatch"
	// RequiredMountFailed means the root or boot mount failed.
	RequiredMountFailed Kind = "required_mount_failed"
	// OptionalMountFailed means a secondary volume mount failed. This is
	// the only recoverable kind: it is reported, never fatal.
	OptionalMountFailed Kind = "optional_mount_failed"
)

// Fatal reports whether an error of this kind aborts the pipeline.
func (k Kind) Fatal() bool {
	return k != OptionalMountFailed
}

// Error is a classified pipeline failure naming the stage and device it
// occurred on.
type Error struct {
	Kind   Kind
	Stage  string
	Device string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Device != "" {
		msg += " on " + e.Device
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error. err may be nil when the kind and stage say
// it all.
func New(kind Kind, stage, device string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Device: device, Err: err}
}

// KindOf returns the Kind carried by err, or "" if err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
