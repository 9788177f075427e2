package docker

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	// Network errors
	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")
	ErrNetworkInUse         = errors.New("network has active endpoints")

	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("docker connection failed")
)

// RuntimeError wraps runtime errors with operation context.
type RuntimeError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, volume, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(op, entity, id, message string, err error) *RuntimeError {
	return &RuntimeError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Orchestration Errors
// =============================================================================

// ImageBuildError reports a failed image build for a service.
type ImageBuildError struct {
	Service string
	Err     error
}

func (e *ImageBuildError) Error() string {
	return fmt.Sprintf("image build failed for service %s: %v", e.Service, e.Err)
}

func (e *ImageBuildError) Unwrap() error { return e.Err }

// ContainerStartError reports a service whose container could not be
// created or started.
type ContainerStartError struct {
	Service string
	Err     error
}

func (e *ContainerStartError) Error() string {
	return fmt.Sprintf("container start failed for service %s: %v", e.Service, e.Err)
}

func (e *ContainerStartError) Unwrap() error { return e.Err }

// DependencyNotReadyError names a service that other services depend on
// which did not become ready within the deadline.
type DependencyNotReadyError struct {
	Service string
	Err     error
}

func (e *DependencyNotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dependency %s did not become ready: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("dependency %s did not become ready", e.Service)
}

func (e *DependencyNotReadyError) Unwrap() error { return e.Err }

// TeardownReport aggregates per-resource teardown failures. Teardown is
// best-effort: one unreachable container never prevents cleanup of the
// others, so failures are collected rather than thrown mid-teardown.
type TeardownReport struct {
	Failures []TeardownFailure
}

// TeardownFailure is one failed removal during teardown.
type TeardownFailure struct {
	Resource string // "container", "network", "volume", "image"
	Name     string
	Err      error
}

// Add records a failure.
func (r *TeardownReport) Add(resource, name string, err error) {
	r.Failures = append(r.Failures, TeardownFailure{Resource: resource, Name: name, Err: err})
}

// Empty reports whether teardown completed without failures.
func (r *TeardownReport) Empty() bool {
	return len(r.Failures) == 0
}

// Err returns the aggregate as an error, or nil when teardown was clean.
func (r *TeardownReport) Err() error {
	if r.Empty() {
		return nil
	}
	return r
}

func (r *TeardownReport) Error() string {
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Resource, f.Name, f.Err))
	}
	return fmt.Sprintf("teardown completed with %d failure(s): %s", len(r.Failures), strings.Join(parts, "; "))
}
