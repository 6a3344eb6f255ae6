// Package docker is a thin client for the Docker Engine HTTP API, scoped to
// what session handling needs: inspect, create, stop, remove, and bounded
// command execution inside running containers.
package docker

import (
	"errors"
	"time"
)

var (
	// ErrContainerNotFound means the referenced container does not exist.
	ErrContainerNotFound = errors.New("container not found")
	// ErrContainerNotRunning means the container exists but is stopped.
	ErrContainerNotRunning = errors.New("container not running")
	// ErrRuntimeUnavailable means the engine itself could not be reached.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
)

// ContainerState is the subset of inspect output the service acts on.
type ContainerState struct {
	ID      string
	Name    string
	Image   string
	Running bool
	Status  string
}

// CreateSpec describes a container to provision.
type CreateSpec struct {
	Name            string
	Image           string
	Cmd             []string
	MemoryBytes     int64
	CPUQuota        int64
	CPUPeriod       int64
	PidsLimit       int64
	NetworkDisabled bool
}

// ExecRequest is one shell line to run inside a container.
type ExecRequest struct {
	ContainerID string
	Command     string
	WorkingDir  string
	Env         map[string]string
	Timeout     time.Duration
	// OutputLimit bounds each captured stream in bytes. Zero means the
	// client default.
	OutputLimit int
}

// ExecResult is the outcome of one execution.
type ExecResult struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	// KillFailed is set when a timed-out command could not be force-killed;
	// the process may still be running in the container.
	KillFailed bool
	Duration   time.Duration
}

// Truncated reports whether either stream was cut off.
func (r *ExecResult) Truncated() bool {
	return r.StdoutTruncated || r.StderrTruncated
}
