// Package deployerr defines the typed failures raised while deploying a
// controller and its nodes.
//
// Every error type maps onto a containerd/errdefs class so callers can branch
// with errdefs.IsAlreadyExists, errdefs.IsNotFound and friends without
// depending on the concrete types.
package deployerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// ResourceAlreadyExistsError is returned when a managed resource is already
// present and neither reuse nor forced recreation was requested.
type ResourceAlreadyExistsError struct {
	Kind string
	Name string
}

func (e *ResourceAlreadyExistsError) Error() string {
	return fmt.Sprintf("%s '%s' already exists (use --force to recreate or --use-existing to reuse)", e.Kind, e.Name)
}

// Is reports the errdefs class.
func (e *ResourceAlreadyExistsError) Is(target error) bool {
	return target == errdefs.ErrAlreadyExists
}

// PoolNotFoundError is returned when a libvirt storage pool is missing.
type PoolNotFoundError struct {
	Pool string
}

func (e *PoolNotFoundError) Error() string {
	return fmt.Sprintf("storage pool '%s' not found", e.Pool)
}

// Is reports the errdefs class.
func (e *PoolNotFoundError) Is(target error) bool {
	return target == errdefs.ErrNotFound
}

// ClientError is returned when the controller reports failure for an
// operation the caller could not continue without.
type ClientError struct {
	Op      string
	Payload any
}

func (e *ClientError) Error() string {
	if e.Payload == nil {
		return fmt.Sprintf("control plane operation %s failed", e.Op)
	}
	return fmt.Sprintf("control plane operation %s failed: %v", e.Op, e.Payload)
}

// Is reports the errdefs class.
func (e *ClientError) Is(target error) bool {
	return target == errdefs.ErrUnavailable
}

// ConfigError is returned when the deployment document uses an unsupported
// key or value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration for %s: %s", e.Key, e.Reason)
}

// Is reports the errdefs class.
func (e *ConfigError) Is(target error) bool {
	return target == errdefs.ErrInvalidArgument
}

// ValueError is returned when a required value cannot be resolved, such as a
// node group matching a requested UUID.
type ValueError struct {
	What  string
	Value string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("unable to resolve %s %q", e.What, e.Value)
}

// Is reports the errdefs class.
func (e *ValueError) Is(target error) bool {
	return target == errdefs.ErrNotFound
}

// CommandFailedError is returned when an external process exits non-zero.
type CommandFailedError struct {
	Cmd      []string
	ExitCode int
	Stderr   string
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("command '%s' failed with exit code %d", strings.Join(e.Cmd, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Is reports the errdefs class.
func (e *CommandFailedError) Is(target error) bool {
	return target == errdefs.ErrUnknown
}

// ErrCommissioning is returned by strict commissioning when nodes settle in a
// state other than ready.
var ErrCommissioning = fmt.Errorf("nodes failed commissioning: %w", errdefs.ErrFailedPrecondition)

// IsResourceAlreadyExists reports whether err is (or wraps) a
// ResourceAlreadyExistsError.
func IsResourceAlreadyExists(err error) bool {
	var target *ResourceAlreadyExistsError
	return errors.As(err, &target)
}

// IsCommandFailed reports whether err is (or wraps) a CommandFailedError and
// returns it.
func IsCommandFailed(err error) (*CommandFailedError, bool) {
	var target *CommandFailedError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
